package app

import (
	"context"
	"fmt"

	"custord/internal/config"
	"custord/internal/escalation"
	"custord/internal/logger"
	"custord/internal/market"
	"custord/internal/metrics"
	"custord/internal/monitor"
	"custord/internal/orders"
	"custord/internal/pkg/symbol"
	"custord/internal/preset"
	"custord/internal/store"
	apihttp "custord/internal/transport/http/api"

	"github.com/shopspring/decimal"
)

type AppBuilder struct {
	cfg *config.Config

	storeFn    func(config.StoreConfig, ...store.Option) (*store.Store, error)
	executorFn func(config.FreqtradeConfig, symbol.FreqtradeConverter) (*executorStack, error)
	feedFn     func(config.MarketConfig, *executorStack) (market.Feed, error)
	httpFn     func(apihttp.ServerConfig) (*apihttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

// WithFeed 替换 K 线来源（测试用）。
func WithFeed(feed market.Feed) AppBuilderOption {
	return func(b *AppBuilder) {
		b.feedFn = func(config.MarketConfig, *executorStack) (market.Feed, error) { return feed, nil }
	}
}

// WithStoreFactory 替换订单存储构造。
func WithStoreFactory(fn func(config.StoreConfig, ...store.Option) (*store.Store, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.storeFn = fn
		}
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		storeFn:    openStore,
		executorFn: buildExecutor,
		feedFn:     buildFeed,
		httpFn:     apihttp.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	var mx *metrics.Metrics
	storeOpts := []store.Option{}
	if cfg.Metrics.Enabled {
		mx = metrics.New()
		storeOpts = append(storeOpts, store.WithObserver(mx))
	}

	st, err := b.storeFn(cfg.Store, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("打开订单存储失败: %w", err)
	}
	closers := []func() error{st.Close}
	fail := func(err error) (*App, error) {
		closeAll(closers)
		return nil, err
	}
	logger.Infof("✓ 订单存储就绪 backend=%s strategy=%s", st.Backend(), cfg.Store.Strategy)

	presets, err := preset.NewRegistry(cfg.Presets.Path)
	if err != nil {
		return fail(fmt.Errorf("加载策略变体失败: %w", err))
	}
	presets.OnChange(func(snap preset.Snapshot) {
		logger.Infof("✓ 策略变体已重新加载 version=%d count=%d", snap.Version, len(snap.Presets))
	})

	converter := symbol.NewFreqtradeConverter(cfg.Freqtrade.StakeCurrency)
	execs, err := b.executorFn(cfg.Freqtrade, converter)
	if err != nil {
		return fail(err)
	}
	feed, err := b.feedFn(cfg.Market, execs)
	if err != nil {
		return fail(err)
	}

	text := newTextNotifier(cfg.Notify)

	// desk 在 escalator 之后构造，回调通过闭包延迟绑定
	var desk *orders.Desk
	esc, journal, err := buildEscalator(cfg.Escalation, execs.executor, func(task escalation.Task, err error) {
		if desk != nil {
			desk.EscalationResult(task, err)
		}
	})
	if err != nil {
		return fail(err)
	}
	if journal != nil {
		closers = append(closers, journal.Close)
	}
	var deskEsc orders.Escalator
	if esc != nil {
		deskEsc = esc
	}

	stake := decimal.NewFromFloat(cfg.Freqtrade.DefaultStake)
	desk = orders.NewDesk(st, presets, execs.executor, deskEsc,
		orders.WithNotifier(text),
		orders.WithMetrics(mx),
		orders.WithDefaultStake(stake),
	)

	mon := monitor.New(monitor.Config{
		EntryInterval:  cfg.Monitor.EntryInterval(),
		Timeframe:      cfg.Monitor.Timeframe,
		CandleOffset:   cfg.Monitor.CandleOffset(),
		CandleLimit:    cfg.Monitor.CandleLimit,
		PriceWindow:    cfg.Monitor.PriceWindow,
		RunImmediately: cfg.Monitor.RunImmediately,
	}, st, feed, desk, monitor.WithMetrics(mx))

	server, err := b.httpFn(apihttp.ServerConfig{
		Addr:      cfg.App.HTTPAddr,
		Desk:      desk,
		Presets:   presets,
		Metrics:   mx,
		Converter: converter,
	})
	if err != nil {
		return fail(fmt.Errorf("构建 HTTP 服务失败: %w", err))
	}

	return &App{
		cfg:       cfg,
		store:     st,
		desk:      desk,
		monitor:   mon,
		escalator: esc,
		http:      server,
		closers:   closers,
		Summary: &StartupSummary{
			Env:         cfg.App.Env,
			HTTPAddr:    server.Addr(),
			Store:       st.Backend(),
			Strategy:    cfg.Store.Strategy,
			Executor:    execs.executor.Name(),
			Feed:        feed.Name(),
			Timeframe:   cfg.Monitor.Timeframe,
			EntryEvery:  cfg.Monitor.EntryInterval(),
			Escalation:  escalationSummary(cfg.Escalation),
			Presets:     presetIDs(presets),
			DefaultKind: preset.DefaultID,
			Stake:       stake.String(),
			Notify:      cfg.Notify.Telegram.Enabled,
			Metrics:     mx != nil,
		},
	}, nil
}

func closeAll(closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Warnf("关闭资源失败: %v", err)
		}
	}
}

func presetIDs(r *preset.Registry) []string {
	list := r.List()
	out := make([]string, 0, len(list))
	for _, p := range list {
		out = append(out, p.ID)
	}
	return out
}

func escalationSummary(cfg config.EscalationConfig) string {
	if !cfg.Enabled {
		return "disabled"
	}
	return fmt.Sprintf("limit→market after %s (journal=%s)", cfg.Wait(), cfg.JournalPath)
}

var _ orders.Escalator = (*escalation.Escalator)(nil)
