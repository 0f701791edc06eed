package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"custord/internal/config"
	"custord/internal/escalation"
	"custord/internal/execution"
	"custord/internal/gateway/freqtrade"
	"custord/internal/gateway/notifier"
	"custord/internal/logger"
	"custord/internal/pkg/circuit"
	"custord/internal/pkg/symbol"
	"custord/internal/store"
	"custord/internal/store/jsonfile"
	"custord/internal/store/sqlite"
)

// executorStack 携带执行器以及（启用时）共享给 K 线源的 freqtrade 客户端。
type executorStack struct {
	executor  execution.Executor
	client    *freqtrade.Client
	converter symbol.FreqtradeConverter
}

func openStore(cfg config.StoreConfig, opts ...store.Option) (*store.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		backend, err := sqlite.Open(cfg.SQLitePath, cfg.Strategy, cfg.LockTimeout())
		if err != nil {
			return nil, err
		}
		return store.New(backend, opts...), nil
	case "jsonfile", "":
		backend, err := jsonfile.Open(cfg.Dir, cfg.Strategy, cfg.LockTimeout())
		if err != nil {
			return nil, err
		}
		return store.New(backend, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}

func buildExecutor(cfg config.FreqtradeConfig, converter symbol.FreqtradeConverter) (*executorStack, error) {
	if !cfg.Enabled {
		logger.Warnf("freqtrade 未启用，使用 dry 执行器（按参考价立即成交）")
		return &executorStack{executor: execution.NewDryExecutor(), converter: converter}, nil
	}
	client, err := freqtrade.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init freqtrade client: %w", err)
	}
	cooldown := time.Duration(cfg.BreakerCooldownSeconds) * time.Second
	exec := execution.NewFreqtradeExecutor(client, converter, cfg.BreakerThreshold, cooldown)
	exec.Breaker().SetStateChangeHandler(func(name string, from, to circuit.State) {
		logger.Warnf("[breaker] %s %s -> %s", name, from, to)
	})
	probeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(probeCtx); err != nil {
		logger.Warnf("freqtrade 暂不可达，启动后重试: %v", err)
	}
	logger.Infof("✓ Freqtrade 执行器已启用: %s", cfg.APIURL)
	return &executorStack{executor: exec, client: client, converter: converter}, nil
}

// buildEscalator 在禁用时返回 (nil, nil, nil)。
func buildEscalator(cfg config.EscalationConfig, exec execution.Executor, onResult escalation.ResultFunc) (*escalation.Escalator, *escalation.Journal, error) {
	if !cfg.Enabled {
		logger.Warnf("强制退出升级已禁用：limit 退出不会转为 market")
		return nil, nil, nil
	}
	opts := []escalation.Option{escalation.WithResultFunc(onResult)}
	var journal *escalation.Journal
	if path := strings.TrimSpace(cfg.JournalPath); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, err
		}
		j, err := escalation.OpenJournal(path)
		if err != nil {
			return nil, nil, fmt.Errorf("打开升级日志失败: %w", err)
		}
		journal = j
		opts = append(opts, escalation.WithJournal(j))
	}
	return escalation.New(exec, cfg.Wait(), opts...), journal, nil
}

func newTextNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return notifier.Nop{}
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}
