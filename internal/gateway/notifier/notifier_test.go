package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegramRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "42", body["chat_id"])
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.APIBase = srv.URL
	var slept []time.Duration
	tg.sleep = func(d time.Duration) { slept = append(slept, d) }

	require.NoError(t, tg.SendText("hello"))
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestTelegramGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	tg := NewTelegram("T", "1")
	tg.APIBase = srv.URL
	tg.sleep = func(time.Duration) {}
	assert.EqualError(t, tg.SendText("x"), "telegram status=500")
}

func TestTelegramRequiresConfig(t *testing.T) {
	assert.Error(t, NewTelegram("", "1").SendText("x"))
}

func TestMessageRender(t *testing.T) {
	msg := Message{
		Icon:  "🔴",
		Title: "BTC/USDT exited",
		Sections: []Section{
			{Title: "Exit", Fields: []Field{
				{Key: "reason", Value: "tight_trailing_stop_loss"},
				{Key: "pnl", Value: " "},
				{Key: "exit", Value: "107.5"},
			}},
			{Title: "Empty", Fields: []Field{{Key: "x", Value: ""}}},
		},
		Footer: "trade 7",
		At:     time.Date(2024, 1, 2, 11, 4, 5, 0, time.FixedZone("CST", 8*3600)),
	}
	out := msg.Render()
	assert.True(t, strings.HasPrefix(out, "🔴 BTC/USDT exited\n\n```\n[Exit]\n"))
	assert.Contains(t, out, "reason: tight_trailing_stop_loss\nexit: 107.5\n```")
	assert.NotContains(t, out, "pnl")
	assert.NotContains(t, out, "Empty")
	assert.Contains(t, out, "trade 7")
	assert.True(t, strings.HasSuffix(out, "2024-01-02 03:04:05 UTC"))
}

func TestMessageRenderTruncatesOnRuneBoundary(t *testing.T) {
	msg := Message{Title: strings.Repeat("价", maxMessageLen)}
	out := msg.Render()
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.True(t, utf8.ValidString(out))
	assert.LessOrEqual(t, len(out), maxMessageLen+3)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.SendText("a"))
	assert.Equal(t, []string{"a"}, r.Messages())
}
