package order

import (
	"fmt"
	"strings"
	"time"
)

// ConditionKind 是入场条件类型。
type ConditionKind string

const (
	ConditionCrossesUpward ConditionKind = "crosses_upward"
	ConditionUnder         ConditionKind = "under"
	ConditionReversesUp    ConditionKind = "reverses_up"
)

const (
	DefaultReversalPeriod       = 14
	DefaultReversalThresholdPct = 0.15
)

// ParseConditionKind 接受 CrossesUpward / crosses_upward / price_crosses_upward 等写法。
func ParseConditionKind(raw string) (ConditionKind, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.TrimPrefix(key, "price_")
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	switch key {
	case "crossesupward":
		return ConditionCrossesUpward, nil
	case "under":
		return ConditionUnder, nil
	case "reversesup":
		return ConditionReversesUp, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidCondition, raw)
	}
}

// EntryCondition 只在 WAITING 状态下存在。
type EntryCondition struct {
	Kind                 ConditionKind `json:"kind"`
	TargetPrice          *float64      `json:"target_price,omitempty"`
	ReversalThresholdPct *float64      `json:"reversal_threshold_pct,omitempty"`
	Period               int           `json:"period,omitempty"`
	TimeoutAt            *time.Time    `json:"timeout_at,omitempty"`
}

// Validate 校验条件类型与阈值。
func (c EntryCondition) Validate() error {
	switch c.Kind {
	case ConditionCrossesUpward, ConditionUnder:
		if c.TargetPrice == nil || *c.TargetPrice <= 0 {
			return fmt.Errorf("%w: %s requires target_price > 0", ErrInvalidCondition, c.Kind)
		}
	case ConditionReversesUp:
		if c.ReversalThresholdPct != nil && *c.ReversalThresholdPct < 0 {
			return fmt.Errorf("%w: reversal_threshold_pct must be >= 0", ErrInvalidCondition)
		}
		if c.Period < 0 {
			return fmt.Errorf("%w: period must be >= 0", ErrInvalidCondition)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCondition, c.Kind)
	}
	return nil
}

// ReversalSettings 返回带默认值的 (period, thresholdPct)。
func (c EntryCondition) ReversalSettings() (int, float64) {
	period := c.Period
	if period <= 0 {
		period = DefaultReversalPeriod
	}
	threshold := DefaultReversalThresholdPct
	if c.ReversalThresholdPct != nil {
		threshold = *c.ReversalThresholdPct
	}
	return period, threshold
}

// TimedOut 表示 now 已到达 timeoutAt。
func (c EntryCondition) TimedOut(now time.Time) bool {
	return c.TimeoutAt != nil && !now.Before(*c.TimeoutAt)
}

func (c EntryCondition) Clone() EntryCondition {
	out := c
	out.TargetPrice = cloneFloat(c.TargetPrice)
	out.ReversalThresholdPct = cloneFloat(c.ReversalThresholdPct)
	if c.TimeoutAt != nil {
		t := *c.TimeoutAt
		out.TimeoutAt = &t
	}
	return out
}
