// Package exit 按层级评估 HOLDING 订单是否应当退出：
// 止盈直接卖出 → 止盈后紧追踪止损 → 宽松止损（追踪/静态） → 均线斜率。
package exit

import (
	"errors"
	"fmt"

	"custord/internal/indicator"
	"custord/internal/order"
)

type Action int

const (
	Hold Action = iota
	Exit
)

func (a Action) String() string {
	if a == Exit {
		return "exit"
	}
	return "hold"
}

// Input 是一次评估需要的行情：Rate 为最新价，Closes 为已收盘 K 线收盘价（均线/斜率层使用）。
type Input struct {
	Rate   float64
	Closes []float64
}

// Snapshot 是层级评估共享的中间量。
type Snapshot struct {
	Rate      float64
	Reference float64
	Highest   float64
	PctDiff   float64
	Slope     *float64
}

// Outcome 是一次评估的结果。Record 为更新了 take_profit_hit / highest_ma 的副本，
// 仅在 err == nil 时有效。
type Outcome struct {
	Action   Action
	Reason   order.ExitReason
	Tier     string
	Stop     float64
	Snapshot Snapshot
	Record   order.Record
	// Changed 表示运行时参数发生变化，需要写回。
	Changed bool
}

// Engine 持有有序的层级列表，首个触发的层级胜出。
type Engine struct {
	tiers []Tier
}

// NewEngine 使用默认层级顺序。
func NewEngine() *Engine {
	return &Engine{tiers: DefaultTiers()}
}

// Evaluate 在记录副本上运行层级；参数缺失等错误不会修改原记录。
func (e *Engine) Evaluate(rec order.Record, in Input) (Outcome, error) {
	if rec.Status != order.StatusHolding {
		return Outcome{Action: Hold, Record: rec}, nil
	}
	if rec.EntryPrice <= 0 {
		return Outcome{}, &order.MissingParameterError{Field: order.FieldEntryPrice}
	}
	if in.Rate <= 0 {
		return Outcome{}, fmt.Errorf("%w: no current rate", order.ErrInsufficientPriceHistory)
	}
	next := rec.Clone()
	snap, err := buildSnapshot(next.Params, rec.EntryPrice, in)
	if err != nil {
		return Outcome{}, err
	}
	prevHighest := next.Params.HighestMA
	next.Params.HighestMA = order.Float(snap.Highest)
	prevHit := next.Params.TakeProfitHit

	out := Outcome{Action: Hold, Snapshot: snap}
	for _, tier := range e.tiers {
		if !tier.Enabled(next.Params) {
			continue
		}
		d, err := tier.Evaluate(&next.Params, snap)
		if err != nil {
			return Outcome{}, fmt.Errorf("%s: %w", tier.ID(), err)
		}
		if d.Stop > 0 && out.Stop == 0 {
			out.Stop = d.Stop
		}
		if d.Fire {
			out.Action = Exit
			out.Reason = d.Reason
			out.Tier = tier.ID()
			out.Stop = d.Stop
			break
		}
	}
	out.Changed = prevHighest == nil || *prevHighest != snap.Highest || prevHit != next.Params.TakeProfitHit
	out.Record = next
	return out, nil
}

func buildSnapshot(p order.Params, entry float64, in Input) (Snapshot, error) {
	snap := Snapshot{Rate: in.Rate, Reference: in.Rate}
	if p.UsesMA() {
		kind, period, err := p.MovingAverage()
		if err != nil {
			return Snapshot{}, err
		}
		ma, err := indicator.MovingAverage(in.Closes, indicator.Kind(kind), period)
		if err != nil {
			return Snapshot{}, indicatorErr(err)
		}
		last, ok := indicator.Last(ma)
		if !ok {
			return Snapshot{}, fmt.Errorf("%w: moving average not ready", order.ErrInsufficientPriceHistory)
		}
		if p.EffectiveReference() == order.ReferenceMA {
			snap.Reference = last
		}
		if p.SlopeExit {
			window, err := p.Period(order.FieldSlopePeriod)
			if err != nil {
				return Snapshot{}, err
			}
			slope, err := indicator.Slope(ma, window)
			if err != nil {
				return Snapshot{}, indicatorErr(err)
			}
			if v, ok := indicator.Last(slope); ok {
				snap.Slope = &v
			}
		}
	}
	snap.Highest = snap.Reference
	if p.HighestMA != nil {
		snap.Highest = maxFloat(*p.HighestMA, snap.Reference)
	}
	snap.PctDiff = pctDiff(entry, snap.Reference)
	return snap, nil
}

func indicatorErr(err error) error {
	if errors.Is(err, indicator.ErrNotEnoughData) {
		return fmt.Errorf("%w: %v", order.ErrInsufficientPriceHistory, err)
	}
	return err
}
