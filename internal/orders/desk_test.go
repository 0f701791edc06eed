package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"custord/internal/execution"
	"custord/internal/gateway/notifier"
	"custord/internal/order"
	"custord/internal/pkg/circuit"
	"custord/internal/preset"
	"custord/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Name() string { return "mock" }

func (m *mockExecutor) PlaceEntry(ctx context.Context, req execution.EntryRequest) (execution.EntryResult, error) {
	args := m.Called(req.Instrument, req.Stake.String())
	return args.Get(0).(execution.EntryResult), args.Error(1)
}

func (m *mockExecutor) RequestExit(ctx context.Context, tradeID string, orderType execution.OrderType) error {
	return m.Called(tradeID, orderType).Error(0)
}

func (m *mockExecutor) OpenTrades(ctx context.Context) ([]execution.OpenTrade, error) {
	args := m.Called()
	return args.Get(0).([]execution.OpenTrade), args.Error(1)
}

type fakeEscalator struct {
	mu        sync.Mutex
	scheduled []string
}

func (f *fakeEscalator) Schedule(ctx context.Context, tradeID, instrument string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, tradeID+"@"+instrument)
	return true, nil
}

type fixture struct {
	desk  *Desk
	store *store.Store
	exec  *mockExecutor
	esc   *fakeEscalator
	notes *notifier.Recorder
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	presets, err := preset.NewRegistry("")
	require.NoError(t, err)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	st := store.New(store.NewMemoryBackend(), store.WithClock(clock))
	f := &fixture{store: st, exec: &mockExecutor{}, esc: &fakeEscalator{}, notes: &notifier.Recorder{}, now: now}
	f.desk = NewDesk(st, presets, f.exec, f.esc, WithClock(clock), WithNotifier(f.notes))
	return f
}

func tslOverrides() map[string]any {
	return map[string]any{"loose_stop_loss_pct": 3, "take_profit_pct": 5, "tight_trailing_stop_loss_pct": 2}
}

func TestPlaceCreatesPendingOrWaiting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.desk.Place(ctx, PlaceRequest{Instrument: "btcusdt", Overrides: tslOverrides()})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, rec.Status)
	assert.Equal(t, preset.DefaultID, rec.Preset)
	assert.True(t, rec.StakeAmount.Equal(decimal.NewFromInt(10)))

	target := 100.0
	rec, err = f.desk.Place(ctx, PlaceRequest{
		Instrument: "ETH/USDT",
		Preset:     "stop_loss",
		Overrides:  map[string]any{"loose_stop_loss_pct": 2},
		Condition:  &order.EntryCondition{Kind: order.ConditionUnder, TargetPrice: &target},
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusWaiting, rec.Status)

	_, err = f.desk.Place(ctx, PlaceRequest{Instrument: "BTC/USDT", Overrides: tslOverrides()})
	assert.ErrorIs(t, err, store.ErrInstrumentBusy)

	list, err := f.desk.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "BTC/USDT", list[0].Instrument)

	waiting, err := f.desk.List(ctx, order.StatusWaiting)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, "ETH/USDT", waiting[0].Instrument)
}

func TestEditProtectsRuntimeFieldsAndCancels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := 50.0
	_, err := f.desk.Place(ctx, PlaceRequest{
		Instrument: "SOL/USDT",
		Overrides:  tslOverrides(),
		Condition:  &order.EntryCondition{Kind: order.ConditionCrossesUpward, TargetPrice: &target},
	})
	require.NoError(t, err)

	_, err = f.desk.Edit(ctx, "SOL/USDT", EditRequest{Params: map[string]any{"highest_ma": 1}})
	assert.Error(t, err)

	rec, err := f.desk.Edit(ctx, "SOL/USDT", EditRequest{Params: map[string]any{"take_profit_pct": 7}})
	require.NoError(t, err)
	assert.Equal(t, 7.0, *rec.Params.TakeProfitPct)
	assert.Equal(t, order.StatusWaiting, rec.Status)

	exited := order.StatusExited
	_, err = f.desk.Edit(ctx, "SOL/USDT", EditRequest{Status: &exited})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	canceled := order.StatusCanceled
	rec, err = f.desk.Edit(ctx, "SOL/USDT", EditRequest{Status: &canceled})
	require.NoError(t, err)
	assert.Equal(t, order.ExitCanceled, rec.ExitReason)

	hist, err := f.desk.History(ctx, "sol/usdt", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, order.StatusCanceled, hist[0].Record.Status)
	f.desk.Flush()
	require.Len(t, f.notes.Messages(), 1)
	assert.Contains(t, f.notes.Messages()[0], "SOL/USDT canceled")
}

func TestDispatchEntryOnceAndConfirmFill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.desk.Place(ctx, PlaceRequest{Instrument: "ADA/USDT", Overrides: tslOverrides()})
	require.NoError(t, err)

	f.exec.On("PlaceEntry", "ADA/USDT", "10").Return(execution.EntryResult{TradeID: "11"}, nil).Once()
	require.NoError(t, f.desk.DispatchEntry(ctx, "ADA/USDT"))
	require.NoError(t, f.desk.DispatchEntry(ctx, "ADA/USDT"), "second dispatch is a no-op")
	f.exec.AssertExpectations(t)

	rec, _, err := f.desk.Get(ctx, "ADA/USDT")
	require.NoError(t, err)
	assert.Equal(t, "11", rec.TradeID)
	assert.NotNil(t, rec.EntryRequestedAt)

	f.exec.On("OpenTrades").Return([]execution.OpenTrade{
		{TradeID: "11", Instrument: "ADA/USDT", OpenRate: 0.5, Filled: true},
	}, nil).Once()
	require.NoError(t, f.desk.Reconcile(ctx))
	rec, _, _ = f.desk.Get(ctx, "ADA/USDT")
	assert.Equal(t, order.StatusHolding, rec.Status)
	assert.Equal(t, 0.5, rec.EntryPrice)

	// 重复的成交 webhook 不报错
	again, err := f.desk.ConfirmFill(ctx, "ADA/USDT", Fill{TradeID: "11", OpenRate: 0.5})
	require.NoError(t, err)
	assert.Equal(t, order.StatusHolding, again.Status)
}

func TestDispatchEntryClearsMarkerWhenBreakerOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.desk.Place(ctx, PlaceRequest{Instrument: "XRP/USDT", Overrides: tslOverrides()})
	require.NoError(t, err)

	f.exec.On("PlaceEntry", "XRP/USDT", "10").
		Return(execution.EntryResult{}, fmt.Errorf("wrapped: %w", circuit.ErrOpen)).Once()
	err = f.desk.DispatchEntry(ctx, "XRP/USDT")
	assert.ErrorIs(t, err, circuit.ErrOpen)
	rec, _, _ := f.desk.Get(ctx, "XRP/USDT")
	assert.Nil(t, rec.EntryRequestedAt)

	f.exec.On("PlaceEntry", "XRP/USDT", "10").Return(execution.EntryResult{}, errors.New("timeout")).Once()
	assert.Error(t, f.desk.DispatchEntry(ctx, "XRP/USDT"))
	rec, _, _ = f.desk.Get(ctx, "XRP/USDT")
	assert.NotNil(t, rec.EntryRequestedAt, "ambiguous failure keeps the marker")
}

func TestForceExitSendsLimitThenEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.desk.Place(ctx, PlaceRequest{Instrument: "DOT/USDT", Overrides: tslOverrides()})
	require.NoError(t, err)
	_, err = f.desk.ConfirmFill(ctx, "DOT/USDT", Fill{TradeID: "3", OpenRate: 100})
	require.NoError(t, err)

	f.exec.On("RequestExit", "3", execution.OrderLimit).Return(nil).Once()
	rec, err := f.desk.ForceExit(ctx, "DOT/USDT", 104)
	require.NoError(t, err)
	assert.Equal(t, order.StatusExited, rec.Status)
	assert.Equal(t, order.ExitForce, rec.ExitReason)
	require.NotNil(t, rec.RealizedProfitPct)
	assert.InDelta(t, 4.0, *rec.RealizedProfitPct, 1e-9)
	f.exec.AssertExpectations(t)
	assert.Equal(t, []string{"3@DOT/USDT"}, f.esc.scheduled)

	_, ok, err := f.desk.Get(ctx, "DOT/USDT")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.desk.ForceExit(ctx, "DOT/USDT", 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConfirmFillRejectsNonPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := 1.0
	_, err := f.desk.Place(ctx, PlaceRequest{
		Instrument: "LTC/USDT",
		Overrides:  tslOverrides(),
		Condition:  &order.EntryCondition{Kind: order.ConditionUnder, TargetPrice: &target},
	})
	require.NoError(t, err)
	_, err = f.desk.ConfirmFill(ctx, "LTC/USDT", Fill{TradeID: "1", OpenRate: 1})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	_, err = f.desk.ConfirmFill(ctx, "LTC/USDT", Fill{TradeID: "1"})
	assert.ErrorIs(t, err, order.ErrMissingParameter)
}

func TestDryExecutorFillsImmediately(t *testing.T) {
	presets, err := preset.NewRegistry("")
	require.NoError(t, err)
	st := store.New(store.NewMemoryBackend())
	dry := execution.NewDryExecutor()
	desk := NewDesk(st, presets, dry, nil)
	ctx := context.Background()

	_, err = desk.Place(ctx, PlaceRequest{Instrument: "BNB/USDT", Overrides: tslOverrides()})
	require.NoError(t, err)
	_, err = st.Update(ctx, "BNB/USDT", func(r *order.Record) error {
		r.ObservePrice(300, 100)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, desk.DispatchEntry(ctx, "BNB/USDT"))
	rec, _, err := desk.Get(ctx, "BNB/USDT")
	require.NoError(t, err)
	assert.Equal(t, order.StatusHolding, rec.Status)
	assert.Equal(t, 300.0, rec.EntryPrice)
}
