package app

import (
	"context"
	"fmt"

	"custord/internal/config"
	"custord/internal/escalation"
	"custord/internal/logger"
	"custord/internal/monitor"
	"custord/internal/orders"
	"custord/internal/store"
	apihttp "custord/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动监控循环与 HTTP 服务。
type App struct {
	cfg       *config.Config
	store     *store.Store
	desk      *orders.Desk
	monitor   *monitor.Monitor
	escalator *escalation.Escalator
	http      *apihttp.Server
	closers   []func() error
	Summary   *StartupSummary
}

// NewApp 根据配置构建应用对象（不启动）
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 恢复未完成的升级任务，然后运行监控与 HTTP，直到 ctx 结束。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.monitor == nil {
		return fmt.Errorf("monitor not initialized")
	}
	defer a.shutdown()

	if a.Summary != nil {
		logger.InfoBlock(a.Summary.String())
	}
	if a.escalator != nil {
		n, err := a.escalator.Resume(ctx)
		if err != nil {
			logger.Warnf("恢复升级任务失败: %v", err)
		} else if n > 0 {
			logger.Infof("✓ 已恢复 %d 个未触发的升级任务", n)
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.monitor.Run(ctx)
	})
	return group.Wait()
}

// Desk 暴露订单操作入口（测试与回放工具使用）。
func (a *App) Desk() *orders.Desk {
	if a == nil {
		return nil
	}
	return a.desk
}

// shutdown 先停升级定时器与通知，再关闭存储。
func (a *App) shutdown() {
	if a.escalator != nil {
		a.escalator.Close()
	}
	if a.desk != nil {
		a.desk.Flush()
	}
	closeAll(a.closers)
	a.closers = nil
}
