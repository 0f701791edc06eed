package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"custord/internal/logger"

	"github.com/google/uuid"
)

// DryExecutor 在内存中模拟执行：入场按 RefPrice 立即成交，退出直接平仓。
type DryExecutor struct {
	mu     sync.Mutex
	trades map[string]OpenTrade
	exits  []DryExit
	log    logger.Component
}

// DryExit 记录一次模拟退出请求。
type DryExit struct {
	TradeID   string
	OrderType OrderType
}

func NewDryExecutor() *DryExecutor {
	return &DryExecutor{
		trades: make(map[string]OpenTrade),
		log:    logger.Named("execution.dry"),
	}
}

func (d *DryExecutor) Name() string { return "dry" }

func (d *DryExecutor) PlaceEntry(ctx context.Context, req EntryRequest) (EntryResult, error) {
	if !req.Stake.IsPositive() {
		return EntryResult{}, fmt.Errorf("stake must be > 0")
	}
	if req.RefPrice <= 0 {
		return EntryResult{}, fmt.Errorf("dry entry for %s needs a reference price", req.Instrument)
	}
	id := "dry-" + uuid.NewString()
	d.mu.Lock()
	d.trades[id] = OpenTrade{TradeID: id, Instrument: req.Instrument, OpenRate: req.RefPrice, Filled: true}
	d.mu.Unlock()
	d.log.Infof("[dry] enter %s stake=%s at %.8f trade=%s", req.Instrument, req.Stake, req.RefPrice, id)
	return EntryResult{TradeID: id, Filled: true, OpenRate: req.RefPrice}, nil
}

// RequestExit 对同一交易的重复请求（limit 后再 market）只记录，不报错。
func (d *DryExecutor) RequestExit(ctx context.Context, tradeID string, orderType OrderType) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, open := d.trades[tradeID]
	seen := false
	for _, ex := range d.exits {
		if ex.TradeID == tradeID {
			seen = true
			break
		}
	}
	if !open && !seen {
		return fmt.Errorf("%w: %s", ErrUnknownTrade, tradeID)
	}
	delete(d.trades, tradeID)
	d.exits = append(d.exits, DryExit{TradeID: tradeID, OrderType: orderType})
	d.log.Infof("[dry] exit trade=%s type=%s", tradeID, orderType)
	return nil
}

func (d *DryExecutor) OpenTrades(ctx context.Context) ([]OpenTrade, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]OpenTrade, 0, len(d.trades))
	for _, tr := range d.trades {
		out = append(out, tr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TradeID < out[j].TradeID })
	return out, nil
}

// Exits 返回已记录的退出请求副本。
func (d *DryExecutor) Exits() []DryExit {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]DryExit(nil), d.exits...)
}
