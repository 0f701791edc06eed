package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"custord/internal/execution"
	"custord/internal/market"
	"custord/internal/order"
	"custord/internal/orders"
	"custord/internal/preset"
	"custord/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Name() string { return "mock" }

func (m *mockExecutor) PlaceEntry(ctx context.Context, req execution.EntryRequest) (execution.EntryResult, error) {
	args := m.Called(req.Instrument)
	return args.Get(0).(execution.EntryResult), args.Error(1)
}

func (m *mockExecutor) RequestExit(ctx context.Context, tradeID string, orderType execution.OrderType) error {
	return m.Called(tradeID, orderType).Error(0)
}

func (m *mockExecutor) OpenTrades(ctx context.Context) ([]execution.OpenTrade, error) {
	args := m.Called()
	return args.Get(0).([]execution.OpenTrade), args.Error(1)
}

type escalations struct {
	mu  sync.Mutex
	ids []string
}

func (e *escalations) Schedule(ctx context.Context, tradeID, instrument string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, tradeID)
	return true, nil
}

type priceBook struct {
	mu     sync.Mutex
	closes map[string][]float64
	fail   map[string]error
}

func (p *priceBook) set(inst string, closes ...float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes[inst] = append(p.closes[inst], closes...)
}

func (p *priceBook) feed() market.Feed {
	return market.FeedFunc(func(ctx context.Context, inst, tf string, limit int) (market.Candles, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if err := p.fail[inst]; err != nil {
			return nil, err
		}
		closes := p.closes[inst]
		out := make(market.Candles, len(closes))
		for i, c := range closes {
			open := int64(i+1) * 60_000
			out[i] = market.Candle{OpenTime: open, CloseTime: open + 59_999, Close: c}
		}
		if len(out) > limit {
			out = out[len(out)-limit:]
		}
		return out, nil
	})
}

// racingBackend 在第 n 次 Mutate 拿锁前提交一次外部修改，模拟操作员并发编辑。
type racingBackend struct {
	store.Backend

	mu    sync.Mutex
	calls int
	at    int
	edit  func(doc *store.Document) error
}

func (b *racingBackend) editBefore(n int, edit func(doc *store.Document) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls, b.at, b.edit = 0, n, edit
}

func (b *racingBackend) Mutate(ctx context.Context, fn func(doc *store.Document) error) error {
	b.mu.Lock()
	b.calls++
	var edit func(doc *store.Document) error
	if b.edit != nil && b.calls == b.at {
		edit, b.edit = b.edit, nil
	}
	b.mu.Unlock()
	if edit != nil {
		if err := b.Backend.Mutate(ctx, edit); err != nil {
			return err
		}
	}
	return b.Backend.Mutate(ctx, fn)
}

type fixture struct {
	mon   *Monitor
	desk  *orders.Desk
	store *store.Store
	book  *priceBook
	esc   *escalations
	now   time.Time
}

func newFixture(t *testing.T, exec execution.Executor) *fixture {
	t.Helper()
	return newFixtureOn(t, exec, store.NewMemoryBackend())
}

func newFixtureOn(t *testing.T, exec execution.Executor, backend store.Backend) *fixture {
	t.Helper()
	presets, err := preset.NewRegistry("")
	require.NoError(t, err)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	st := store.New(backend, store.WithClock(clock))
	esc := &escalations{}
	desk := orders.NewDesk(st, presets, exec, esc, orders.WithClock(clock))
	book := &priceBook{closes: map[string][]float64{}, fail: map[string]error{}}
	mon := New(Config{Timeframe: "1m", PriceWindow: 100, CandleLimit: 100}, st, book.feed(), desk, WithClock(clock))
	return &fixture{mon: mon, desk: desk, store: st, book: book, esc: esc, now: now}
}

func TestWaitingOrderActivatesAndFillsInDryMode(t *testing.T) {
	f := newFixture(t, execution.NewDryExecutor())
	ctx := context.Background()
	target := 100.0
	_, err := f.desk.Place(ctx, orders.PlaceRequest{
		Instrument: "BTC/USDT",
		Preset:     "stop_loss",
		Overrides:  map[string]any{"loose_stop_loss_pct": 3},
		Condition:  &order.EntryCondition{Kind: order.ConditionUnder, TargetPrice: &target},
	})
	require.NoError(t, err)

	f.book.set("BTC/USDT", 105, 105, 104, 104, 103, 103, 102, 102, 101, 101, 100)
	f.mon.PricePass(ctx)
	rec, _, err := f.store.Get(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, order.StatusWaiting, rec.Status, "100 is not under 100")
	assert.Len(t, rec.RecentPrices, 11)

	f.book.set("BTC/USDT", 99)
	f.mon.PricePass(ctx)
	rec, _, err = f.store.Get(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, order.StatusHolding, rec.Status)
	assert.Equal(t, 99.0, rec.EntryPrice)
	assert.Len(t, rec.RecentPrices, 12, "only the new candle is appended")
	assert.Nil(t, rec.Condition)
}

func TestTimedOutOrderIsCanceled(t *testing.T) {
	f := newFixture(t, &mockExecutor{})
	ctx := context.Background()
	target := 10.0
	past := f.now.Add(-time.Minute)
	_, err := f.desk.Place(ctx, orders.PlaceRequest{
		Instrument: "ETH/USDT",
		Preset:     "stop_loss",
		Overrides:  map[string]any{"loose_stop_loss_pct": 3},
		Condition:  &order.EntryCondition{Kind: order.ConditionCrossesUpward, TargetPrice: &target, TimeoutAt: &past},
	})
	require.NoError(t, err)

	// 价格不足也会按超时取消
	f.mon.HousekeepingPass(ctx)
	_, ok, err := f.store.Get(ctx, "ETH/USDT")
	require.NoError(t, err)
	assert.False(t, ok)
	hist, err := f.desk.History(ctx, "ETH/USDT", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, order.StatusCanceled, hist[0].Record.Status)
	assert.Equal(t, order.ExitEntryTimeout, hist[0].Record.ExitReason)
}

func TestHoldingOrderExitsAndEscalates(t *testing.T) {
	exec := &mockExecutor{}
	f := newFixture(t, exec)
	ctx := context.Background()
	_, err := f.desk.Place(ctx, orders.PlaceRequest{
		Instrument: "SOL/USDT",
		Preset:     "stop_loss",
		Overrides:  map[string]any{"loose_stop_loss_pct": 3},
	})
	require.NoError(t, err)
	_, err = f.desk.ConfirmFill(ctx, "SOL/USDT", orders.Fill{TradeID: "7", OpenRate: 100})
	require.NoError(t, err)

	f.book.set("SOL/USDT", 100, 99, 98)
	f.mon.PricePass(ctx)
	rec, _, err := f.store.Get(ctx, "SOL/USDT")
	require.NoError(t, err)
	assert.Equal(t, order.StatusHolding, rec.Status)
	require.NotNil(t, rec.Params.HighestMA)
	assert.Equal(t, 98.0, *rec.Params.HighestMA, "seeded from the first evaluated rate")

	exec.On("RequestExit", "7", execution.OrderLimit).Return(nil).Once()
	f.book.set("SOL/USDT", 96)
	f.mon.PricePass(ctx)
	exec.AssertExpectations(t)

	_, ok, err := f.store.Get(ctx, "SOL/USDT")
	require.NoError(t, err)
	assert.False(t, ok)
	hist, err := f.desk.History(ctx, "SOL/USDT", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, order.ExitLooseStatic, hist[0].Record.ExitReason)
	assert.Equal(t, 96.0, hist[0].Record.ExitPrice)
	assert.InDelta(t, -4.0, *hist[0].Record.RealizedProfitPct, 1e-9)
	assert.Equal(t, []string{"7"}, f.esc.ids)
}

func TestExitUsesParamsEditedDuringTick(t *testing.T) {
	exec := &mockExecutor{}
	backend := &racingBackend{Backend: store.NewMemoryBackend()}
	f := newFixtureOn(t, exec, backend)
	ctx := context.Background()
	_, err := f.desk.Place(ctx, orders.PlaceRequest{
		Instrument: "ADA/USDT",
		Preset:     "stop_loss",
		Overrides:  map[string]any{"loose_stop_loss_pct": 3},
	})
	require.NoError(t, err)
	_, err = f.desk.ConfirmFill(ctx, "ADA/USDT", orders.Fill{TradeID: "9", OpenRate: 100})
	require.NoError(t, err)
	f.book.set("ADA/USDT", 100, 99, 98)
	f.mon.PricePass(ctx)

	// 第 1 次写入是价格追加，第 2 次是退出评估
	backend.editBefore(2, func(doc *store.Document) error {
		rec := doc.Active["ADA/USDT"]
		rec.Params.LooseStopLossPct = order.Float(10)
		doc.Active["ADA/USDT"] = rec
		return nil
	})
	f.book.set("ADA/USDT", 96)
	f.mon.PricePass(ctx)

	rec, ok, err := f.store.Get(ctx, "ADA/USDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, order.StatusHolding, rec.Status)
	assert.Equal(t, 96.0, rec.CurrentPrice)
	require.NotNil(t, rec.Params.LooseStopLossPct)
	assert.Equal(t, 10.0, *rec.Params.LooseStopLossPct)
	exec.AssertNotCalled(t, "RequestExit", mock.Anything, mock.Anything)
	assert.Empty(t, f.esc.ids)
}

func TestEntryUsesConditionEditedDuringTick(t *testing.T) {
	exec := &mockExecutor{}
	backend := &racingBackend{Backend: store.NewMemoryBackend()}
	f := newFixtureOn(t, exec, backend)
	ctx := context.Background()
	target := 100.0
	_, err := f.desk.Place(ctx, orders.PlaceRequest{
		Instrument: "XRP/USDT",
		Preset:     "stop_loss",
		Overrides:  map[string]any{"loose_stop_loss_pct": 3},
		Condition:  &order.EntryCondition{Kind: order.ConditionUnder, TargetPrice: &target},
	})
	require.NoError(t, err)

	lower := 90.0
	backend.editBefore(2, func(doc *store.Document) error {
		rec := doc.Active["XRP/USDT"]
		rec.Condition.TargetPrice = &lower
		doc.Active["XRP/USDT"] = rec
		return nil
	})
	f.book.set("XRP/USDT", 101, 101, 101, 101, 101, 101, 101, 101, 101, 99)
	f.mon.PricePass(ctx)

	rec, _, err := f.store.Get(ctx, "XRP/USDT")
	require.NoError(t, err)
	assert.Equal(t, order.StatusWaiting, rec.Status)
	require.NotNil(t, rec.Condition)
	assert.Equal(t, 90.0, *rec.Condition.TargetPrice)
	exec.AssertNotCalled(t, "PlaceEntry", mock.Anything)
}

func TestOneInstrumentFailureDoesNotAbortPass(t *testing.T) {
	f := newFixture(t, execution.NewDryExecutor())
	ctx := context.Background()
	target := 50.0
	for _, inst := range []string{"AAA/USDT", "BBB/USDT"} {
		_, err := f.desk.Place(ctx, orders.PlaceRequest{
			Instrument: inst,
			Preset:     "stop_loss",
			Overrides:  map[string]any{"loose_stop_loss_pct": 3},
			Condition:  &order.EntryCondition{Kind: order.ConditionUnder, TargetPrice: &target},
		})
		require.NoError(t, err)
	}
	f.book.fail["AAA/USDT"] = errors.New("exchange down")
	f.book.set("BBB/USDT", 60, 60, 60, 60, 60, 60, 60, 60, 60, 49)

	f.mon.PricePass(ctx)
	a, _, _ := f.store.Get(ctx, "AAA/USDT")
	b, _, _ := f.store.Get(ctx, "BBB/USDT")
	assert.Equal(t, order.StatusWaiting, a.Status)
	assert.Equal(t, order.StatusHolding, b.Status)
}

func TestPendingOrderDispatchedByHousekeeping(t *testing.T) {
	exec := &mockExecutor{}
	f := newFixture(t, exec)
	ctx := context.Background()
	_, err := f.desk.Place(ctx, orders.PlaceRequest{
		Instrument: "DOT/USDT",
		Preset:     "stop_loss",
		Overrides:  map[string]any{"loose_stop_loss_pct": 3},
	})
	require.NoError(t, err)

	exec.On("PlaceEntry", "DOT/USDT").Return(execution.EntryResult{TradeID: "21"}, nil).Once()
	exec.On("OpenTrades").Return([]execution.OpenTrade{{TradeID: "21", Instrument: "DOT/USDT", OpenRate: 5, Filled: true}}, nil).Once()
	f.mon.HousekeepingPass(ctx)
	exec.AssertExpectations(t)

	rec, _, err := f.store.Get(ctx, "DOT/USDT")
	require.NoError(t, err)
	assert.Equal(t, order.StatusHolding, rec.Status)
	assert.Equal(t, "21", rec.TradeID)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, execution.NewDryExecutor())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.mon.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
