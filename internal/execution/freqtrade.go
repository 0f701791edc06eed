package execution

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"custord/internal/gateway/freqtrade"
	"custord/internal/logger"
	"custord/internal/pkg/circuit"
	"custord/internal/pkg/symbol"
)

// FreqtradeExecutor 通过 freqtrade 的 forceenter / forceexit 执行意图，调用受熔断器保护。
type FreqtradeExecutor struct {
	client    *freqtrade.Client
	converter symbol.FreqtradeConverter
	breaker   *circuit.CircuitBreaker
	log       logger.Component
}

func NewFreqtradeExecutor(client *freqtrade.Client, converter symbol.FreqtradeConverter, threshold int, cooldown time.Duration) *FreqtradeExecutor {
	return &FreqtradeExecutor{
		client:    client,
		converter: converter,
		breaker:   circuit.NewCircuitBreaker("freqtrade", threshold, cooldown),
		log:       logger.Named("execution.freqtrade"),
	}
}

func (e *FreqtradeExecutor) Name() string { return "freqtrade" }

// Breaker 暴露熔断器，便于注册状态回调。
func (e *FreqtradeExecutor) Breaker() *circuit.CircuitBreaker { return e.breaker }

func (e *FreqtradeExecutor) PlaceEntry(ctx context.Context, req EntryRequest) (EntryResult, error) {
	stake, _ := req.Stake.Float64()
	if stake <= 0 {
		return EntryResult{}, fmt.Errorf("stake must be > 0")
	}
	pair := e.converter.ToExchange(req.Instrument)
	tag := strings.TrimSpace(req.Tag)
	if tag == "" {
		tag = "custord"
	}
	var tradeID int
	err := e.breaker.Do(func() error {
		var err error
		tradeID, err = e.client.EnterLong(ctx, pair, stake, tag)
		return err
	})
	if err != nil {
		return EntryResult{}, fmt.Errorf("forceenter %s: %w", pair, err)
	}
	e.log.Infof("forceenter %s stake=%s trade_id=%d", pair, req.Stake, tradeID)
	return EntryResult{TradeID: strconv.Itoa(tradeID)}, nil
}

func (e *FreqtradeExecutor) RequestExit(ctx context.Context, tradeID string, orderType OrderType) error {
	if strings.TrimSpace(tradeID) == "" {
		return fmt.Errorf("%w: empty trade id", ErrUnknownTrade)
	}
	err := e.breaker.Do(func() error {
		return e.client.Exit(ctx, tradeID, string(orderType))
	})
	if err != nil {
		return fmt.Errorf("forceexit trade=%s type=%s: %w", tradeID, orderType, err)
	}
	e.log.Infof("forceexit trade=%s type=%s", tradeID, orderType)
	return nil
}

func (e *FreqtradeExecutor) OpenTrades(ctx context.Context) ([]OpenTrade, error) {
	var positions []freqtrade.Position
	err := e.breaker.Do(func() error {
		var err error
		positions, err = e.client.OpenPositions(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]OpenTrade, 0, len(positions))
	for _, p := range positions {
		out = append(out, OpenTrade{
			TradeID:    strconv.Itoa(p.TradeID),
			Instrument: e.converter.FromExchange(p.Pair),
			OpenRate:   p.OpenRate,
			Filled:     p.Filled(),
		})
	}
	return out, nil
}
