package market

import (
	"context"
	"errors"
)

// ErrNoCandles 表示数据源没有返回任何已收盘 K 线。
var ErrNoCandles = errors.New("no closed candles")

// Feed 返回按时间升序、只包含已收盘的 K 线。
type Feed interface {
	Name() string
	ClosedCandles(ctx context.Context, instrument, timeframe string, limit int) (Candles, error)
}

// FeedFunc 便于测试注入。
type FeedFunc func(ctx context.Context, instrument, timeframe string, limit int) (Candles, error)

func (f FeedFunc) Name() string { return "func" }

func (f FeedFunc) ClosedCandles(ctx context.Context, instrument, timeframe string, limit int) (Candles, error) {
	return f(ctx, instrument, timeframe, limit)
}
