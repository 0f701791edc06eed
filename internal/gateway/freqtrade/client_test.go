package freqtrade

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"custord/internal/config"
	"custord/internal/market"
	"custord/internal/pkg/symbol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(config.FreqtradeConfig{Enabled: true, APIURL: srv.URL + "/api/v1", Username: "u", Password: "p"})
	require.NoError(t, err)
	return c
}

func TestNewClientRequiresConfig(t *testing.T) {
	_, err := NewClient(config.FreqtradeConfig{})
	assert.Error(t, err)
	_, err = NewClient(config.FreqtradeConfig{Enabled: true})
	assert.Error(t, err)
}

func TestForceEnterAndExit(t *testing.T) {
	var exitBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "u", user)
		assert.Equal(t, "p", pass)
		switch r.URL.Path {
		case "/api/v1/forceenter":
			var body entryPayload
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "BTC/USDT", body.Pair)
			assert.Equal(t, "long", body.Side)
			assert.Equal(t, 25.0, body.StakeAmount)
			_, _ = io.WriteString(w, `{"trade_id": 42}`)
		case "/api/v1/forceexit":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&exitBody))
			_, _ = io.WriteString(w, `{"result": "ok"}`)
		default:
			http.NotFound(w, r)
		}
	})

	id, err := c.EnterLong(context.Background(), "BTC/USDT", 25, "custord")
	require.NoError(t, err)
	assert.Equal(t, 42, id)

	_, err = c.EnterLong(context.Background(), "BTC/USDT", 0, "")
	assert.Error(t, err)

	require.NoError(t, c.Exit(context.Background(), "42", "market"))
	assert.Equal(t, "42", exitBody["tradeid"])
	assert.Equal(t, "market", exitBody["ordertype"])
}

func TestErrorStatusSurfacesBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail":"pair not in whitelist"}`)
	})
	_, err := c.EnterLong(context.Background(), "X/Y", 10, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pair not in whitelist")
}

func TestOpenPositionsAcceptsBothShapes(t *testing.T) {
	for name, body := range map[string]string{
		"array":    `[{"trade_id":1,"pair":"BTC/USDT","is_open":true,"open_rate":100},{"trade_id":2,"is_open":false},{"trade_id":3,"pair":"ETH/USDT","is_open":true,"open_rate":0,"has_open_orders":true}]`,
		"envelope": `{"trades":[{"trade_id":1,"pair":"BTC/USDT","is_open":true,"open_rate":100},{"trade_id":2,"is_open":false},{"trade_id":3,"pair":"ETH/USDT","is_open":true,"open_rate":0,"has_open_orders":true}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/status", r.URL.Path)
				_, _ = io.WriteString(w, body)
			})
			positions, err := c.OpenPositions(context.Background())
			require.NoError(t, err)
			require.Len(t, positions, 2)
			assert.Equal(t, 1, positions[0].TradeID)
			assert.True(t, positions[0].Filled())
			assert.False(t, positions[1].Filled())
		})
	}
}

func TestOpenPositionsEmptyBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "null")
	})
	positions, err := c.OpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestPingChecksPong(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"pong"}`)
	})
	require.NoError(t, c.Ping(context.Background()))

	bad := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"busy"}`)
	})
	assert.Error(t, bad.Ping(context.Background()))
}

func TestPairCandlesFeed(t *testing.T) {
	old := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/pair_candles", r.URL.Path)
		assert.Equal(t, "ETH/USDT", r.URL.Query().Get("pair"))
		assert.Equal(t, "5m", r.URL.Query().Get("timeframe"))
		_, _ = io.WriteString(w, `{
			"columns": ["date","open","high","low","close","volume","__date_ts"],
			"data": [
				["2024-01-01 00:00:00+00:00", 1, 2, 0.5, 1.5, 10, `+itoa(old.UnixMilli())+`],
				["2024-01-01 00:05:00+00:00", 1.5, 2, 1, "1.8", 12, `+itoa(old.Add(5*time.Minute).UnixMilli())+`]
			]
		}`)
	})
	feed := NewCandleFeed(c, symbol.NewFreqtradeConverter("USDT"))
	candles, err := feed.ClosedCandles(context.Background(), "eth/usdt", "5m", 50)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, []float64{1.5, 1.8}, market.Candles(candles).Closes())
	assert.Equal(t, old.UnixMilli(), candles[0].OpenTime)
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestParsePairCandlesWithoutTimestampColumn(t *testing.T) {
	candles, err := parsePairCandles([]byte(`{"columns":["date","close"],"data":[["2024-01-01 00:00:00",3]]}`))
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), candles[0].OpenTime)

	_, err = parsePairCandles([]byte(`{"columns":["date"],"data":[]}`))
	assert.Error(t, err)
}

func TestParseWebhook(t *testing.T) {
	ev, err := ParseWebhook([]byte(`{"type":"entry_fill","trade_id":"12","pair":"BTC/USDT","open_rate":"101.5"}`))
	require.NoError(t, err)
	assert.True(t, ev.IsEntryFill())
	assert.Equal(t, 12, ev.TradeID)
	assert.Equal(t, 101.5, ev.OpenRate)

	ev, err = ParseWebhook([]byte(`{"type":"exit_fill","trade_id":12,"order_rate":99}`))
	require.NoError(t, err)
	assert.True(t, ev.IsExitFill())
	assert.Equal(t, 99.0, ev.CloseRate)

	_, err = ParseWebhook([]byte(`not json`))
	assert.Error(t, err)
	_, err = ParseWebhook([]byte(`{"trade_id":1}`))
	assert.Error(t, err)
}
