// Package execution 定义订单引擎发出的执行意图（入场 / 退出）以及对应的执行器实现。
package execution

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderLimit  OrderType = "limit"
	OrderMarket OrderType = "market"
)

// ErrUnknownTrade 表示执行端找不到对应交易。
var ErrUnknownTrade = errors.New("unknown trade")

// EntryRequest 是一次入场意图。RefPrice 为引擎最近观察到的价格，仅供模拟执行使用。
type EntryRequest struct {
	Instrument string
	Stake      decimal.Decimal
	RefPrice   float64
	Tag        string
}

// EntryResult 描述执行端受理结果；Filled 为 true 表示已确认成交。
type EntryResult struct {
	TradeID  string
	Filled   bool
	OpenRate float64
}

// OpenTrade 是执行端当前未平仓交易的快照。
type OpenTrade struct {
	TradeID    string
	Instrument string
	OpenRate   float64
	// Filled 为 false 表示入场订单尚未成交。
	Filled bool
}

// Executor 是外部执行接口。
type Executor interface {
	Name() string
	PlaceEntry(ctx context.Context, req EntryRequest) (EntryResult, error)
	RequestExit(ctx context.Context, tradeID string, orderType OrderType) error
	OpenTrades(ctx context.Context) ([]OpenTrade, error)
}
