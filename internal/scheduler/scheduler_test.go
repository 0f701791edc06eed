package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"custord/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"30s": 30 * time.Second,
		"5m":  5 * time.Minute,
		" 1H": time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, ok := ParseIntervalDuration(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "m", "0m", "-5m", "5x", "abc"} {
		_, ok := ParseIntervalDuration(bad)
		assert.False(t, ok, bad)
	}
}

func TestNextTimes(t *testing.T) {
	s := NewAlignedScheduler("test", 5*time.Minute, 5*time.Second)
	now := time.Date(2024, 1, 1, 10, 3, 0, 0, time.UTC)
	nextClose, wakeAt, untilClose, wait := s.nextTimes(now)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC), nextClose)
	assert.Equal(t, nextClose.Add(5*time.Second), wakeAt)
	assert.Equal(t, 2*time.Minute, untilClose)
	assert.Equal(t, 2*time.Minute+5*time.Second, wait)
}

func TestNextFixedTimeAfter(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, anchor.Add(31*time.Second), nextFixedTimeAfter(anchor, 31*time.Second, anchor))
	assert.Equal(t, anchor.Add(93*time.Second), nextFixedTimeAfter(anchor, 31*time.Second, anchor.Add(70*time.Second)))
	assert.Equal(t, anchor, nextFixedTimeAfter(anchor, 31*time.Second, anchor.Add(-time.Second)))
}

func TestFixedSchedulerRunsUntilCanceled(t *testing.T) {
	s := NewFixedScheduler("test", 10*time.Millisecond)
	s.RunImmediately = true
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32
	done := make(chan struct{})
	go func() {
		s.Start(ctx, func(context.Context) {
			if runs.Add(1) >= 3 {
				cancel()
			}
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestDropUnclosed(t *testing.T) {
	interval := 5 * time.Minute
	open := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	klines := market.Candles{
		{OpenTime: open.Add(-interval).UnixMilli()},
		{OpenTime: open.UnixMilli()},
	}
	got := dropUnclosedAt(klines, interval, open.Add(2*time.Minute), DefaultKlineGrace)
	assert.Len(t, got, 1)

	got = dropUnclosedAt(klines, interval, open.Add(interval+DefaultKlineGrace), DefaultKlineGrace)
	assert.Len(t, got, 2)

	assert.Empty(t, dropUnclosedAt(nil, interval, open, 0))
}
