package order

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	all := []Status{StatusWaiting, StatusPending, StatusHolding, StatusExited, StatusCanceled}

	t.Run("canceled only from waiting", func(t *testing.T) {
		for _, from := range all {
			assert.Equal(t, from == StatusWaiting, CanTransition(from, StatusCanceled), "from %s", from)
		}
	})
	t.Run("exited only from holding", func(t *testing.T) {
		for _, from := range all {
			assert.Equal(t, from == StatusHolding, CanTransition(from, StatusExited), "from %s", from)
		}
	})
	t.Run("no backward moves", func(t *testing.T) {
		assert.False(t, CanTransition(StatusPending, StatusWaiting))
		assert.False(t, CanTransition(StatusHolding, StatusPending))
		assert.False(t, CanTransition(StatusExited, StatusHolding))
		assert.False(t, CanTransition(StatusWaiting, StatusHolding))
	})
	t.Run("in-place edits", func(t *testing.T) {
		assert.True(t, CanTransition(StatusHolding, StatusHolding))
		assert.False(t, CanTransition(StatusExited, StatusExited))
	})
	t.Run("creation", func(t *testing.T) {
		assert.True(t, CanCreateAs(StatusWaiting))
		assert.True(t, CanCreateAs(StatusPending))
		assert.False(t, CanCreateAs(StatusHolding))
	})
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" holding ")
	require.NoError(t, err)
	assert.Equal(t, StatusHolding, s)
	_, err = ParseStatus("SOLD")
	assert.Error(t, err)
}

func TestObservePriceBoundsWindow(t *testing.T) {
	var rec Record
	for i := 1; i <= 7; i++ {
		rec.ObservePrice(float64(i), 5)
	}
	assert.Equal(t, []float64{3, 4, 5, 6, 7}, rec.RecentPrices)
	assert.Equal(t, float64(7), rec.CurrentPrice)
}

func TestParamsValidate(t *testing.T) {
	t.Run("take profit needs both pcts", func(t *testing.T) {
		p := Params{TakeProfit: true, TakeProfitPct: Float(5)}
		err := p.Validate()
		var mp *MissingParameterError
		require.True(t, errors.As(err, &mp))
		assert.Equal(t, FieldTightTrailingStopLossPct, mp.Field)
		assert.ErrorIs(t, err, ErrMissingParameter)
	})
	t.Run("ma reference needs ma settings", func(t *testing.T) {
		p := Params{Reference: ReferenceMA}
		assert.ErrorIs(t, p.Validate(), ErrMissingParameter)
		p.MAType, p.MAPeriod = MATypeHMA, 5
		assert.NoError(t, p.Validate())
	})
	t.Run("loose stop mode", func(t *testing.T) {
		p := Params{LooseStop: LooseStopTrailing}
		assert.ErrorIs(t, p.Validate(), ErrMissingParameter)
		p.LooseStopLossPct = Float(3)
		assert.NoError(t, p.Validate())
		p.LooseStop = "sometimes"
		assert.Error(t, p.Validate())
	})
	t.Run("negative pct", func(t *testing.T) {
		p := Params{LooseStop: LooseStopStatic, LooseStopLossPct: Float(-1)}
		assert.Error(t, p.Validate())
	})
}

func TestParamsWith(t *testing.T) {
	base := Params{TakeProfit: true, TakeProfitPct: Float(5), TightTrailingStopLossPct: Float(2)}

	out, err := base.With(map[string]any{"take_profit_pct": "7.5", "ma_type": "hma", "ma_period": 9})
	require.NoError(t, err)
	assert.Equal(t, 7.5, *out.TakeProfitPct)
	assert.Equal(t, MATypeHMA, out.MAType)
	assert.Equal(t, 9, out.MAPeriod)
	assert.Equal(t, 5.0, *base.TakeProfitPct, "receiver untouched")

	out, err = base.With(map[string]any{"tight_trailing_stop_loss_pct": nil})
	require.NoError(t, err)
	assert.Nil(t, out.TightTrailingStopLossPct)

	_, err = base.With(map[string]any{"moon": 1})
	assert.Error(t, err)
}

func TestParseConditionKind(t *testing.T) {
	for raw, want := range map[string]ConditionKind{
		"CrossesUpward":        ConditionCrossesUpward,
		"price_crosses_upward": ConditionCrossesUpward,
		"under":                ConditionUnder,
		"Reverses-Up":          ConditionReversesUp,
	} {
		got, err := ParseConditionKind(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	_, err := ParseConditionKind("sideways")
	assert.ErrorIs(t, err, ErrInvalidCondition)
}

func TestNewRecordStatusAndValidation(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	stake := decimal.NewFromInt(10)

	pending := NewRecord(stake, Params{}, nil, now)
	assert.Equal(t, StatusPending, pending.Status)
	assert.NotEmpty(t, pending.ID)
	assert.NoError(t, pending.ValidateNew())

	cond := &EntryCondition{Kind: ConditionUnder, TargetPrice: Float(100)}
	waiting := NewRecord(stake, Params{}, cond, now)
	assert.Equal(t, StatusWaiting, waiting.Status)
	assert.NoError(t, waiting.ValidateNew())

	bad := NewRecord(decimal.Zero, Params{}, nil, now)
	assert.Error(t, bad.ValidateNew())

	noTarget := NewRecord(stake, Params{}, &EntryCondition{Kind: ConditionCrossesUpward}, now)
	assert.ErrorIs(t, noTarget.ValidateNew(), ErrInvalidCondition)
}

func TestRecordExitComputesProfit(t *testing.T) {
	rec := Record{Status: StatusHolding, EntryPrice: 100}
	rec.Exit(107.5, ExitTightTrailing, time.Now())
	assert.Equal(t, StatusExited, rec.Status)
	require.NotNil(t, rec.RealizedProfitPct)
	assert.InDelta(t, 7.5, *rec.RealizedProfitPct, 1e-9)
	assert.Equal(t, ExitTightTrailing, rec.ExitReason)
}

func TestRecordCloneIsDeep(t *testing.T) {
	rec := Record{Params: Params{HighestMA: Float(110)}, RecentPrices: []float64{1, 2}}
	cp := rec.Clone()
	*cp.Params.HighestMA = 120
	cp.RecentPrices[0] = 9
	assert.Equal(t, 110.0, *rec.Params.HighestMA)
	assert.Equal(t, 1.0, rec.RecentPrices[0])
}

func TestRecordJSONShape(t *testing.T) {
	rec := NewRecord(decimal.RequireFromString("12.5"), Params{Reference: ReferenceMA, MAType: MATypeEMA, MAPeriod: 14}, nil, time.Unix(0, 0))
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	var back Record
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.StakeAmount.Equal(rec.StakeAmount))
	assert.Equal(t, rec.Params, back.Params)
	assert.Contains(t, string(raw), `"status":"PENDING"`)
}

func TestNormalizeInstrument(t *testing.T) {
	assert.Equal(t, "BTC/USDT", NormalizeInstrument("btcusdt"))
	assert.Equal(t, "ETH/USD", NormalizeInstrument(" eth/usd "))
}
