package order

import (
	"fmt"
	"strings"
	"time"

	"custord/internal/pkg/symbol"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultPriceWindow 是 recentPrices 的默认容量。
const DefaultPriceWindow = 100

// DefaultStakeAmount 是未指定投入金额时的默认值（计价货币）。
const DefaultStakeAmount = 10

func DefaultStake() decimal.Decimal { return decimal.NewFromInt(DefaultStakeAmount) }

// ExitReason 是退出引擎或操作员给出的退出原因。
type ExitReason string

const (
	ExitTakeProfit    ExitReason = "auto_sell_at_take_profit"
	ExitTightTrailing ExitReason = "tight_trailing_stop_loss"
	ExitLooseTrailing ExitReason = "loose_stop_loss_trailing"
	ExitLooseStatic   ExitReason = "loose_stop_loss_static"
	ExitMASlope       ExitReason = "ma_slope_exit"
	ExitForce         ExitReason = "force_exit"
	ExitEntryTimeout  ExitReason = "entry_condition_timeout"
	ExitReplaced      ExitReason = "replaced"
	ExitCanceled      ExitReason = "operator_cancel"
)

// Record 是单个交易对的订单状态。只能通过 store 的更新接口修改。
type Record struct {
	ID          string          `json:"id"`
	Status      Status          `json:"status"`
	Preset      string          `json:"preset,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	StakeAmount decimal.Decimal `json:"stake_amount"`
	Params      Params          `json:"params"`

	Condition *EntryCondition `json:"entry_condition,omitempty"`

	CurrentPrice      float64    `json:"current_price,omitempty"`
	RecentPrices      []float64  `json:"recent_prices,omitempty"`
	LastCandleAt      int64      `json:"last_candle_at,omitempty"`
	EntryPrice        float64    `json:"entry_price,omitempty"`
	ExitPrice         float64    `json:"exit_price,omitempty"`
	RealizedProfitPct *float64   `json:"realized_profit_pct,omitempty"`
	ExitReason        ExitReason `json:"exit_reason,omitempty"`

	TradeID          string     `json:"trade_id,omitempty"`
	EntryRequestedAt *time.Time `json:"entry_requested_at,omitempty"`
	FilledAt         *time.Time `json:"filled_at,omitempty"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
}

// NewRecord 构造新订单：有入场条件为 WAITING，否则为 PENDING。
func NewRecord(stake decimal.Decimal, params Params, cond *EntryCondition, now time.Time) Record {
	status := StatusPending
	if cond != nil {
		status = StatusWaiting
		c := cond.Clone()
		cond = &c
	}
	return Record{
		ID:          uuid.NewString(),
		Status:      status,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
		StakeAmount: stake,
		Params:      params.Clone(),
		Condition:   cond,
	}
}

// ValidateNew 用于创建时的整体校验。
func (r Record) ValidateNew() error {
	if !CanCreateAs(r.Status) {
		return fmt.Errorf("order must be created as WAITING or PENDING, got %s", r.Status)
	}
	if !r.StakeAmount.IsPositive() {
		return fmt.Errorf("stake_amount must be > 0")
	}
	if r.Status == StatusWaiting {
		if r.Condition == nil {
			return fmt.Errorf("%w: WAITING order requires an entry condition", ErrInvalidCondition)
		}
		if err := r.Condition.Validate(); err != nil {
			return err
		}
	} else if r.Condition != nil {
		return fmt.Errorf("%w: entry condition only allowed on WAITING orders", ErrInvalidCondition)
	}
	return r.Params.Validate()
}

// ObservePrice 更新当前价并写入有界滑动窗口（最新在尾部）。
func (r *Record) ObservePrice(price float64, capacity int) {
	if capacity <= 0 {
		capacity = DefaultPriceWindow
	}
	r.CurrentPrice = price
	r.RecentPrices = append(r.RecentPrices, price)
	if over := len(r.RecentPrices) - capacity; over > 0 {
		trimmed := make([]float64, capacity)
		copy(trimmed, r.RecentPrices[over:])
		r.RecentPrices = trimmed
	}
}

// Exit 标记退出并计算已实现收益率（1 = 1%）。
func (r *Record) Exit(price float64, reason ExitReason, now time.Time) {
	r.ExitPrice = price
	r.ExitReason = reason
	if r.EntryPrice > 0 && price > 0 {
		pct := PctChange(r.EntryPrice, price)
		r.RealizedProfitPct = &pct
	}
	r.Status = StatusExited
	t := now.UTC()
	r.ClosedAt = &t
}

// PctChange 返回 (to-from)/from*100，以 decimal 计算避免浮点误差。
func PctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	base := decimal.NewFromFloat(from)
	pct, _ := decimal.NewFromFloat(to).Sub(base).Div(base).Mul(decimal.NewFromInt(100)).Float64()
	return pct
}

// Clone 深拷贝记录。
func (r Record) Clone() Record {
	out := r
	out.Params = r.Params.Clone()
	if r.Condition != nil {
		c := r.Condition.Clone()
		out.Condition = &c
	}
	if r.RecentPrices != nil {
		out.RecentPrices = append([]float64(nil), r.RecentPrices...)
	}
	out.RealizedProfitPct = cloneFloat(r.RealizedProfitPct)
	out.EntryRequestedAt = cloneTime(r.EntryRequestedAt)
	out.FilledAt = cloneTime(r.FilledAt)
	out.ClosedAt = cloneTime(r.ClosedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// HistoryEntry 是 completed 分区中的一条记录，同一交易对可重复出现。
type HistoryEntry struct {
	Instrument string `json:"instrument"`
	Record     Record `json:"record"`
}

// NormalizeInstrument 统一交易对写法，例如 "btcusdt" / "btc/usdt" → "BTC/USDT"。
func NormalizeInstrument(raw string) string {
	if norm := symbol.Normalize(raw); norm != "" {
		return norm
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}
