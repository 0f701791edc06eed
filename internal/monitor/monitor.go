// Package monitor 是后台监控循环：按 K 线收盘刷新价格并评估入场 / 退出，
// 另以固定周期处理超时取消、入场派发与成交对账。
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"custord/internal/logger"
	"custord/internal/market"
	"custord/internal/metrics"
	"custord/internal/order"
	"custord/internal/orders"
	"custord/internal/scheduler"
	"custord/internal/store"
	"custord/internal/strategy/entry"
	"custord/internal/strategy/exit"

	"golang.org/x/sync/errgroup"
)

// Config 是监控循环的参数。
type Config struct {
	EntryInterval  time.Duration
	Timeframe      string
	CandleOffset   time.Duration
	CandleLimit    int
	PriceWindow    int
	RunImmediately bool
}

func (c Config) withDefaults() Config {
	if c.EntryInterval <= 0 {
		c.EntryInterval = 31 * time.Second
	}
	if c.Timeframe == "" {
		c.Timeframe = "5m"
	}
	if c.PriceWindow <= 0 {
		c.PriceWindow = order.DefaultPriceWindow
	}
	if c.CandleLimit <= 0 {
		c.CandleLimit = c.PriceWindow
	}
	return c
}

type Option func(*Monitor)

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.nowFn = now
		}
	}
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Monitor) { m.metrics = mx }
}

type Monitor struct {
	cfg     Config
	store   *store.Store
	feed    market.Feed
	desk    *orders.Desk
	engine  *exit.Engine
	metrics *metrics.Metrics
	nowFn   func() time.Time
	log     logger.Component

	// mu 保证两个循环发出的变更不会并发。
	mu sync.Mutex
}

func New(cfg Config, st *store.Store, feed market.Feed, desk *orders.Desk, opts ...Option) *Monitor {
	m := &Monitor{
		cfg:    cfg.withDefaults(),
		store:  st,
		feed:   feed,
		desk:   desk,
		engine: exit.NewEngine(),
		nowFn:  time.Now,
		log:    logger.Named("monitor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Run 启动两个循环并阻塞到 ctx 结束。进行中的写入使用脱离取消的 ctx 完成。
func (m *Monitor) Run(ctx context.Context) error {
	interval, ok := scheduler.ParseIntervalDuration(m.cfg.Timeframe)
	if !ok {
		return fmt.Errorf("invalid timeframe %q", m.cfg.Timeframe)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s := scheduler.NewAlignedScheduler("price", interval, m.cfg.CandleOffset)
		s.RunImmediately = m.cfg.RunImmediately
		s.Start(gctx, func(c context.Context) { m.PricePass(c) })
		return nil
	})
	g.Go(func() error {
		s := scheduler.NewFixedScheduler("entry", m.cfg.EntryInterval)
		s.Start(gctx, func(c context.Context) { m.HousekeepingPass(c) })
		return nil
	})
	return g.Wait()
}

// PricePass 拉取每个交易对的已收盘 K 线，追加新价格后评估入场与退出。
func (m *Monitor) PricePass(ctx context.Context) {
	m.pass(ctx, "price", true)
}

// HousekeepingPass 不拉取行情：检查入场超时、派发 PENDING 入场并对账成交。
func (m *Monitor) HousekeepingPass(ctx context.Context) {
	m.pass(ctx, "housekeeping", false)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.desk.Reconcile(context.WithoutCancel(ctx)); err != nil {
		m.log.Warnf("reconcile failed: %v", err)
	}
}

func (m *Monitor) pass(ctx context.Context, kind string, refresh bool) {
	start := time.Now()
	instruments, err := m.store.Instruments(ctx)
	if err != nil {
		// 存储层错误：本轮放弃，下个周期重试
		m.log.Errorf("%s pass: list instruments failed: %v", kind, err)
		m.metrics.IncEvaluationError(classify(err))
		return
	}
	for _, inst := range instruments {
		if ctx.Err() != nil {
			return
		}
		if err := m.processInstrument(ctx, inst, refresh); err != nil {
			m.report(inst, err)
		}
	}
	m.updateGauge(ctx)
	m.metrics.ObservePass(time.Since(start))
}

// processInstrument 在锁外拉行情，在 m.mu 内完成所有写入。
func (m *Monitor) processInstrument(ctx context.Context, inst string, refresh bool) error {
	var candles market.Candles
	if refresh {
		var err error
		candles, err = m.feed.ClosedCandles(ctx, inst, m.cfg.Timeframe, m.cfg.CandleLimit)
		if err != nil {
			return fmt.Errorf("feed %s: %w", m.feed.Name(), err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	wctx := context.WithoutCancel(ctx)

	rec, ok, err := m.store.Get(wctx, inst)
	if err != nil || !ok {
		return err
	}
	fresh := candles.After(rec.LastCandleAt)
	if len(fresh) > 0 {
		rec, err = m.observe(wctx, inst, rec.ID, fresh)
		if err != nil {
			return err
		}
	}

	switch rec.Status {
	case order.StatusWaiting:
		return m.evaluateEntry(wctx, inst, rec)
	case order.StatusPending:
		return m.desk.DispatchEntry(wctx, inst)
	case order.StatusHolding:
		if !refresh {
			return nil
		}
		return m.evaluateExit(wctx, inst, rec)
	}
	return nil
}

func (m *Monitor) observe(ctx context.Context, inst, id string, fresh market.Candles) (order.Record, error) {
	return m.store.Update(ctx, inst, func(r *order.Record) error {
		if r.ID != id {
			return fmt.Errorf("%s replaced during refresh", inst)
		}
		for _, c := range fresh {
			r.ObservePrice(c.Close, m.cfg.PriceWindow)
		}
		last, _ := fresh.Last()
		r.LastCandleAt = last.OpenTime
		return nil
	})
}

// evaluateEntry 在存储锁内对最新记录求值并写回，期间的操作员编辑不会被旧快照覆盖。
func (m *Monitor) evaluateEntry(ctx context.Context, inst string, rec order.Record) error {
	m.metrics.IncEvaluation("entry")
	var res entry.Result
	updated, err := m.store.Update(ctx, inst, func(r *order.Record) error {
		if r.ID != rec.ID || r.Status != order.StatusWaiting {
			return errSkip
		}
		var err error
		res, err = entry.Evaluate(*r, m.nowFn())
		if err != nil {
			return err
		}
		switch res.Verdict {
		case entry.Activate:
			r.Status = order.StatusPending
		case entry.Cancel:
			r.Status = order.StatusCanceled
			r.ExitReason = order.ExitEntryTimeout
		default:
			return errSkip
		}
		return nil
	})
	if errors.Is(err, errSkip) {
		return nil
	}
	if err != nil {
		return err
	}
	m.log.Infof("%s WAITING -> %s (%s)", inst, updated.Status, res.Detail)
	if updated.Status == order.StatusCanceled {
		m.desk.NotifyCanceled(inst, updated)
		return nil
	}
	m.metrics.IncEntryTransition(string(updated.Status))
	return m.desk.DispatchEntry(ctx, inst)
}

// evaluateExit 同样在锁内求值；退出一旦写入不可撤销，必须基于当前参数。
func (m *Monitor) evaluateExit(ctx context.Context, inst string, rec order.Record) error {
	m.metrics.IncEvaluation("exit")
	now := m.nowFn()
	var out exit.Outcome
	updated, err := m.store.Update(ctx, inst, func(r *order.Record) error {
		if r.ID != rec.ID || r.Status != order.StatusHolding {
			return errSkip
		}
		var err error
		out, err = m.engine.Evaluate(*r, exit.Input{Rate: r.CurrentPrice, Closes: r.RecentPrices})
		if err != nil {
			return err
		}
		if out.Action == exit.Hold && !out.Changed {
			return errSkip
		}
		r.Params.TakeProfitHit = out.Record.Params.TakeProfitHit
		r.Params.HighestMA = out.Record.Params.HighestMA
		if out.Action == exit.Exit {
			r.Exit(out.Snapshot.Rate, out.Reason, now)
		}
		return nil
	})
	if errors.Is(err, errSkip) {
		return nil
	}
	if err != nil {
		return err
	}
	if out.Action == exit.Exit {
		m.log.Infof("%s exit %s tier=%s rate=%.8g stop=%.8g pct=%.2f", inst, out.Reason, out.Tier, out.Snapshot.Rate, out.Stop, out.Snapshot.PctDiff)
		m.desk.DispatchExit(ctx, inst, updated)
	}
	return nil
}

func (m *Monitor) report(inst string, err error) {
	class := classify(err)
	m.metrics.IncEvaluationError(class)
	switch class {
	case "insufficient_history":
		m.log.Debugf("%s skipped: %v", inst, err)
	case "store_locked":
		m.log.Warnf("%s skipped, retry next period: %v", inst, err)
	default:
		m.log.Errorf("%s skipped: %v", inst, err)
	}
}

func (m *Monitor) updateGauge(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	active, err := m.store.Read(ctx)
	if err != nil {
		return
	}
	counts := map[string]int{}
	for _, rec := range active {
		counts[string(rec.Status)]++
	}
	m.metrics.SetActiveOrders(counts, []string{
		string(order.StatusWaiting), string(order.StatusPending), string(order.StatusHolding),
	})
}

var errSkip = errors.New("record changed concurrently")

func classify(err error) string {
	switch {
	case errors.Is(err, order.ErrInsufficientPriceHistory):
		return "insufficient_history"
	case errors.Is(err, order.ErrMissingParameter):
		return "missing_parameter"
	case errors.Is(err, order.ErrInvalidCondition):
		return "invalid_condition"
	case errors.Is(err, store.ErrStoreLocked):
		return "store_locked"
	case errors.Is(err, store.ErrCorruptPersistedData):
		return "corrupt_data"
	case errors.Is(err, market.ErrNoCandles):
		return "no_candles"
	default:
		return "other"
	}
}
