// Package entry 判断 WAITING 订单的入场条件是否满足或已超时。
package entry

import (
	"fmt"
	"time"

	"custord/internal/order"

	"github.com/shopspring/decimal"
)

// MinSamples 是评估任何入场条件所需的最少价格样本数。
const MinSamples = 10

type Verdict int

const (
	// NoChange 条件未满足，保持 WAITING。
	NoChange Verdict = iota
	// Activate 条件满足，转为 PENDING。
	Activate
	// Cancel 已超时，转为 CANCELED。
	Cancel
)

func (v Verdict) String() string {
	switch v {
	case Activate:
		return "activate"
	case Cancel:
		return "cancel"
	default:
		return "no_change"
	}
}

// Result 描述一次评估结果；Detail 仅用于日志。
type Result struct {
	Verdict Verdict
	Detail  string
}

// Evaluate 只处理 WAITING 记录。超时与满足同时发生时以超时为准，
// 价格不足或条件非法时若已超时同样取消。
func Evaluate(rec order.Record, now time.Time) (Result, error) {
	if rec.Status != order.StatusWaiting {
		return Result{Verdict: NoChange}, nil
	}
	if rec.Condition == nil {
		return Result{Verdict: NoChange}, fmt.Errorf("%w: WAITING record without condition", order.ErrInvalidCondition)
	}
	cond := *rec.Condition
	ok, detail, err := Satisfied(cond, rec.RecentPrices)
	if cond.TimedOut(now) {
		return Result{Verdict: Cancel, Detail: fmt.Sprintf("timeout_at=%s", cond.TimeoutAt.UTC().Format(time.RFC3339))}, nil
	}
	if err != nil {
		return Result{Verdict: NoChange}, err
	}
	if ok {
		return Result{Verdict: Activate, Detail: detail}, nil
	}
	return Result{Verdict: NoChange, Detail: detail}, nil
}

// Satisfied 在价格序列上检查条件（最新价在末尾）。
func Satisfied(cond order.EntryCondition, prices []float64) (bool, string, error) {
	if err := cond.Validate(); err != nil {
		return false, "", err
	}
	if len(prices) < MinSamples {
		return false, "", fmt.Errorf("%w: have %d samples, need %d", order.ErrInsufficientPriceHistory, len(prices), MinSamples)
	}
	switch cond.Kind {
	case order.ConditionCrossesUpward:
		return crossesUpward(prices, *cond.TargetPrice)
	case order.ConditionUnder:
		return under(prices, *cond.TargetPrice)
	case order.ConditionReversesUp:
		period, pct := cond.ReversalSettings()
		return reversesUp(prices, period, pct)
	}
	return false, "", fmt.Errorf("%w: unknown kind %q", order.ErrInvalidCondition, cond.Kind)
}

func crossesUpward(prices []float64, target float64) (bool, string, error) {
	prev := decimal.NewFromFloat(prices[len(prices)-2])
	cur := decimal.NewFromFloat(prices[len(prices)-1])
	t := decimal.NewFromFloat(target)
	detail := fmt.Sprintf("prev=%s cur=%s target=%s", prev, cur, t)
	return prev.LessThan(t) && t.LessThanOrEqual(cur), detail, nil
}

func under(prices []float64, target float64) (bool, string, error) {
	cur := decimal.NewFromFloat(prices[len(prices)-1])
	t := decimal.NewFromFloat(target)
	return cur.LessThan(t), fmt.Sprintf("cur=%s target=%s", cur, t), nil
}

// reversesUp: 最新价高于近 period 个样本最低价的 (1+pct%)，且高于前一个价格。
func reversesUp(prices []float64, period int, thresholdPct float64) (bool, string, error) {
	if len(prices) < 3 {
		return false, "", nil
	}
	window := prices
	if period > 0 && period < len(prices) {
		window = prices[len(prices)-period:]
	}
	lowest := decimal.NewFromFloat(window[0])
	for _, p := range window[1:] {
		if d := decimal.NewFromFloat(p); d.LessThan(lowest) {
			lowest = d
		}
	}
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(thresholdPct).Div(decimal.NewFromInt(100)))
	threshold := lowest.Mul(factor)
	cur := decimal.NewFromFloat(prices[len(prices)-1])
	prev := decimal.NewFromFloat(prices[len(prices)-2])
	detail := fmt.Sprintf("lowest=%s threshold=%s cur=%s prev=%s", lowest, threshold, cur, prev)
	return cur.GreaterThan(threshold) && cur.GreaterThan(prev), detail, nil
}
