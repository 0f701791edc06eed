package scheduler

import (
	"time"

	"custord/internal/market"
)

const DefaultKlineGrace = 10 * time.Second

// DropUnclosed drops the last element if it is still in-progress.
// Exchanges usually return the current, not-yet-closed candle as the last one.
func DropUnclosed(klines market.Candles, interval time.Duration) market.Candles {
	return dropUnclosedAt(klines, interval, time.Now().UTC(), DefaultKlineGrace)
}

func dropUnclosedAt(klines market.Candles, interval time.Duration, now time.Time, grace time.Duration) market.Candles {
	if len(klines) == 0 || interval <= 0 {
		return klines
	}
	if grace < 0 {
		grace = 0
	}
	last := klines[len(klines)-1]
	if last.OpenTime <= 0 {
		return klines
	}
	closeTimeMs := last.OpenTime + interval.Milliseconds()
	if now.UnixMilli() < closeTimeMs+grace.Milliseconds() {
		return klines[:len(klines)-1]
	}
	return klines
}
