package order

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingParameter 决策所需参数缺失，跳过本次 tick。
	ErrMissingParameter = errors.New("missing parameter")
	// ErrInvalidCondition 入场条件类型未知或阈值不合法。
	ErrInvalidCondition = errors.New("invalid entry condition")
	// ErrInsufficientPriceHistory 价格样本不足，暂不可评估（不是故障）。
	ErrInsufficientPriceHistory = errors.New("insufficient price history")
)

// MissingParameterError 指出缺失的具体字段。
type MissingParameterError struct {
	Field Field
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing parameter %s", e.Field)
}

func (e *MissingParameterError) Unwrap() error { return ErrMissingParameter }

func missing(f Field) error { return &MissingParameterError{Field: f} }
