package execution

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"custord/internal/config"
	"custord/internal/gateway/freqtrade"
	"custord/internal/pkg/circuit"
	"custord/internal/pkg/symbol"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDryExecutorLifecycle(t *testing.T) {
	ctx := context.Background()
	d := NewDryExecutor()

	_, err := d.PlaceEntry(ctx, EntryRequest{Instrument: "BTC/USDT", Stake: decimal.NewFromInt(10)})
	assert.Error(t, err, "needs reference price")

	res, err := d.PlaceEntry(ctx, EntryRequest{Instrument: "BTC/USDT", Stake: decimal.NewFromInt(10), RefPrice: 100})
	require.NoError(t, err)
	assert.True(t, res.Filled)
	assert.Equal(t, 100.0, res.OpenRate)

	open, err := d.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, d.RequestExit(ctx, res.TradeID, OrderLimit))
	require.NoError(t, d.RequestExit(ctx, res.TradeID, OrderMarket), "escalation after limit is accepted")
	assert.ErrorIs(t, d.RequestExit(ctx, "nope", OrderMarket), ErrUnknownTrade)
	assert.Equal(t, []DryExit{{res.TradeID, OrderLimit}, {res.TradeID, OrderMarket}}, d.Exits())

	open, _ = d.OpenTrades(ctx)
	assert.Empty(t, open)
}

func newFreqtradeExecutor(t *testing.T, h http.HandlerFunc) *FreqtradeExecutor {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := freqtrade.NewClient(config.FreqtradeConfig{Enabled: true, APIURL: srv.URL})
	require.NoError(t, err)
	return NewFreqtradeExecutor(client, symbol.NewFreqtradeConverter("USDT"), 2, time.Minute)
}

func TestFreqtradeExecutor(t *testing.T) {
	var exitType string
	e := newFreqtradeExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/forceenter":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "SOL/USDT", body["pair"])
			assert.Equal(t, "long", body["side"])
			_, _ = io.WriteString(w, `{"trade_id": 5}`)
		case "/forceexit":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			exitType, _ = body["ordertype"].(string)
			_, _ = io.WriteString(w, `{}`)
		case "/status":
			_, _ = io.WriteString(w, `[{"trade_id":5,"pair":"SOL/USDT","is_open":true,"open_rate":20,"has_open_orders":false},
				{"trade_id":6,"pair":"ETH/USDT","is_open":true,"open_rate":0,"has_open_orders":true}]`)
		}
	})
	ctx := context.Background()
	res, err := e.PlaceEntry(ctx, EntryRequest{Instrument: "sol/usdt", Stake: decimal.NewFromInt(15)})
	require.NoError(t, err)
	assert.Equal(t, "5", res.TradeID)
	assert.False(t, res.Filled)

	require.NoError(t, e.RequestExit(ctx, "5", OrderMarket))
	assert.Equal(t, "market", exitType)

	trades, err := e.OpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.True(t, trades[0].Filled)
	assert.Equal(t, "SOL/USDT", trades[0].Instrument)
	assert.False(t, trades[1].Filled)
}

func TestFreqtradeExecutorBreaker(t *testing.T) {
	var calls atomic.Int32
	e := newFreqtradeExecutor(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		assert.Error(t, e.RequestExit(ctx, "1", OrderLimit))
	}
	err := e.RequestExit(ctx, "1", OrderMarket)
	assert.ErrorIs(t, err, circuit.ErrOpen)
	assert.EqualValues(t, 2, calls.Load())
}
