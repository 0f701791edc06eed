package exit

import (
	"custord/internal/order"
)

// Decision 是单个层级的输出。Stop 为该层级当前生效的止损价（无则为 0）。
type Decision struct {
	Fire   bool
	Reason order.ExitReason
	Stop   float64
}

// Tier 是退出引擎中的一个独立层级。Evaluate 可以更新运行时参数（如 take_profit_hit）。
type Tier interface {
	ID() string
	Enabled(p order.Params) bool
	Evaluate(p *order.Params, snap Snapshot) (Decision, error)
}

// DefaultTiers 返回固定的评估顺序。
func DefaultTiers() []Tier {
	return []Tier{takeProfitTier{}, looseStopTier{}, slopeTier{}}
}

// takeProfitTier 覆盖两级：止盈达到且紧追踪为 0 时直接卖出；
// 否则打上 take_profit_hit 标记（一经置位不再撤销）并按紧追踪止损评估。
type takeProfitTier struct{}

func (takeProfitTier) ID() string { return "take_profit" }

func (takeProfitTier) Enabled(p order.Params) bool { return p.TakeProfit }

func (takeProfitTier) Evaluate(p *order.Params, snap Snapshot) (Decision, error) {
	tp, err := p.Number(order.FieldTakeProfitPct)
	if err != nil {
		return Decision{}, err
	}
	tight, err := p.Number(order.FieldTightTrailingStopLossPct)
	if err != nil {
		return Decision{}, err
	}
	reached := decimalGT(snap.PctDiff, tp)
	if reached && tight == 0 {
		return Decision{Fire: true, Reason: order.ExitTakeProfit}, nil
	}
	if !reached && !p.TakeProfitHit {
		return Decision{}, nil
	}
	p.TakeProfitHit = true
	stop := trailingStopFor(snap.Highest, tight)
	if priceBreachedStop(snap.Rate, stop) {
		return Decision{Fire: true, Reason: order.ExitTightTrailing, Stop: stop}, nil
	}
	return Decision{Stop: stop}, nil
}

// looseStopTier 只在止盈未激活前生效。
type looseStopTier struct{}

func (looseStopTier) ID() string { return "loose_stop" }

func (looseStopTier) Enabled(p order.Params) bool {
	return p.EffectiveLooseStop() != order.LooseStopNone && !p.TakeProfitHit
}

func (looseStopTier) Evaluate(p *order.Params, snap Snapshot) (Decision, error) {
	loose, err := p.Number(order.FieldLooseStopLossPct)
	if err != nil {
		return Decision{}, err
	}
	switch p.EffectiveLooseStop() {
	case order.LooseStopTrailing:
		stop := trailingStopFor(snap.Highest, loose)
		if priceBreachedStop(snap.Rate, stop) {
			return Decision{Fire: true, Reason: order.ExitLooseTrailing, Stop: stop}, nil
		}
		return Decision{Stop: stop}, nil
	case order.LooseStopStatic:
		if decimalLT(snap.PctDiff, -loose) {
			return Decision{Fire: true, Reason: order.ExitLooseStatic}, nil
		}
	}
	return Decision{}, nil
}

// slopeTier 均线斜率跌破阈值时退出。
type slopeTier struct{}

func (slopeTier) ID() string { return "ma_slope" }

func (slopeTier) Enabled(p order.Params) bool { return p.SlopeExit }

func (slopeTier) Evaluate(p *order.Params, snap Snapshot) (Decision, error) {
	threshold, err := p.Number(order.FieldSlopeThreshold)
	if err != nil {
		return Decision{}, err
	}
	if snap.Slope == nil {
		return Decision{}, nil
	}
	if decimalLT(*snap.Slope, threshold) {
		return Decision{Fire: true, Reason: order.ExitMASlope}, nil
	}
	return Decision{}, nil
}
