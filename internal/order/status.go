package order

import (
	"fmt"
	"strings"
)

// Status 是订单生命周期状态。
type Status string

const (
	StatusWaiting  Status = "WAITING"
	StatusPending  Status = "PENDING"
	StatusHolding  Status = "HOLDING"
	StatusExited   Status = "EXITED"
	StatusCanceled Status = "CANCELED"
)

// ParseStatus 大小写不敏感地解析状态。
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return s, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusPending, StatusHolding, StatusExited, StatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal 表示记录应当从 active 迁移到 completed。
func (s Status) Terminal() bool {
	return s == StatusExited || s == StatusCanceled
}

func (s Status) String() string { return string(s) }

// transitions 列出每个状态允许的下一个状态（不含自身）。
var transitions = map[Status][]Status{
	StatusWaiting: {StatusPending, StatusCanceled},
	StatusPending: {StatusHolding},
	StatusHolding: {StatusExited},
}

// CanTransition 判断 from→to 是否合法。非终态允许原地更新（字段编辑）。
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanCreateAs 新建记录只允许 WAITING（带入场条件）或 PENDING。
func CanCreateAs(s Status) bool {
	return s == StatusWaiting || s == StatusPending
}
