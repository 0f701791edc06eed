package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"custord/internal/order"
	"custord/internal/pkg/symbol"
	"custord/internal/store"

	"github.com/shopspring/decimal"
)

// PlaceRequest 是下单请求。Condition 为空时直接进入 PENDING。
type PlaceRequest struct {
	Instrument string
	Preset     string
	Overrides  map[string]any
	Stake      *decimal.Decimal
	Condition  *order.EntryCondition
}

// Place 按变体与覆盖项创建订单。同一交易对已有非 WAITING 订单时返回 ErrInstrumentBusy。
func (d *Desk) Place(ctx context.Context, req PlaceRequest) (order.Record, error) {
	inst := order.NormalizeInstrument(req.Instrument)
	if inst == "" {
		return order.Record{}, fmt.Errorf("%w: instrument is required", ErrInvalidRequest)
	}
	if !symbol.IsValid(inst) {
		return order.Record{}, fmt.Errorf("%w: unrecognized instrument %q", ErrInvalidRequest, req.Instrument)
	}
	presetID, params, err := d.presets.Resolve(req.Preset, req.Overrides)
	if err != nil {
		return order.Record{}, invalid(err)
	}
	stake := d.defaultStake
	if req.Stake != nil {
		stake = *req.Stake
	}
	if req.Condition != nil {
		if err := req.Condition.Validate(); err != nil {
			return order.Record{}, invalid(err)
		}
	}
	rec := order.NewRecord(stake, params, req.Condition, d.now())
	rec.Preset = presetID
	if err := d.store.Upsert(ctx, inst, rec); err != nil {
		return order.Record{}, fmt.Errorf("place %s: %w", inst, err)
	}
	d.log.Infof("placed %s preset=%s status=%s stake=%s", inst, presetID, rec.Status, stake)
	saved, ok, err := d.store.Get(ctx, inst)
	if err != nil {
		return order.Record{}, err
	}
	if !ok {
		return order.Record{}, fmt.Errorf("%w: %s vanished after place", store.ErrNotFound, inst)
	}
	return saved, nil
}

// EditRequest 只修改给出的字段。Status 仅支持 WAITING→PENDING / WAITING→CANCELED。
type EditRequest struct {
	Params    map[string]any
	Stake     *decimal.Decimal
	Condition *order.EntryCondition
	Status    *order.Status
}

// Edit 修改参数；take_profit_hit / highest_ma 由引擎维护，不可编辑。
func (d *Desk) Edit(ctx context.Context, instrument string, req EditRequest) (order.Record, error) {
	for key := range req.Params {
		if order.Field(strings.ToLower(strings.TrimSpace(key))).IsRuntime() {
			return order.Record{}, fmt.Errorf("%w: %s is maintained by the exit engine", ErrInvalidRequest, key)
		}
	}
	if req.Status != nil {
		switch *req.Status {
		case order.StatusPending, order.StatusCanceled:
		default:
			return order.Record{}, fmt.Errorf("%w: edit cannot move an order to %s", store.ErrInvalidTransition, *req.Status)
		}
	}
	inst := order.NormalizeInstrument(instrument)
	now := d.now()
	rec, err := d.store.Update(ctx, inst, func(rec *order.Record) error {
		if len(req.Params) > 0 {
			params, err := rec.Params.With(req.Params)
			if err != nil {
				return invalid(err)
			}
			// 运行时字段保持不变
			params.TakeProfitHit = rec.Params.TakeProfitHit
			params.HighestMA = rec.Params.HighestMA
			if err := params.Validate(); err != nil {
				return invalid(err)
			}
			rec.Params = params
		}
		if req.Stake != nil {
			if !req.Stake.IsPositive() {
				return fmt.Errorf("%w: stake_amount must be > 0", ErrInvalidRequest)
			}
			if rec.EntryRequestedAt != nil {
				return fmt.Errorf("%w: stake cannot change after the entry was requested", ErrInvalidRequest)
			}
			rec.StakeAmount = *req.Stake
		}
		if req.Condition != nil {
			if rec.Status != order.StatusWaiting {
				return fmt.Errorf("%w: %w: entry condition only applies to WAITING orders", ErrInvalidRequest, order.ErrInvalidCondition)
			}
			if err := req.Condition.Validate(); err != nil {
				return invalid(err)
			}
			c := req.Condition.Clone()
			rec.Condition = &c
		}
		if req.Status != nil && *req.Status != rec.Status {
			rec.Status = *req.Status
			if rec.Status == order.StatusCanceled {
				rec.ExitReason = order.ExitCanceled
				rec.ClosedAt = &now
			}
		}
		return nil
	})
	if err != nil {
		return order.Record{}, fmt.Errorf("edit %s: %w", inst, err)
	}
	if rec.Status == order.StatusCanceled {
		d.metrics.IncEntryTransition(string(order.StatusCanceled))
		d.notifyAsync(canceledMessage(inst, rec, d.now()))
	}
	return rec, nil
}

// Fill 是外部确认的入场成交。
type Fill struct {
	TradeID  string
	OpenRate float64
	At       time.Time
}

// ConfirmFill 把 PENDING 订单转为 HOLDING。已是 HOLDING 且 trade 相同时视为重复确认。
func (d *Desk) ConfirmFill(ctx context.Context, instrument string, fill Fill) (order.Record, error) {
	if fill.OpenRate <= 0 {
		return order.Record{}, invalid(&order.MissingParameterError{Field: order.FieldEntryPrice})
	}
	inst := order.NormalizeInstrument(instrument)
	at := fill.At
	if at.IsZero() {
		at = d.now()
	}
	at = at.UTC()
	duplicate := false
	rec, err := d.store.Update(ctx, inst, func(rec *order.Record) error {
		if rec.Status == order.StatusHolding && fill.TradeID != "" && rec.TradeID == fill.TradeID {
			duplicate = true
			return errNoop
		}
		if rec.Status != order.StatusPending {
			return fmt.Errorf("%w: fill for %s order", store.ErrInvalidTransition, rec.Status)
		}
		if rec.TradeID != "" && fill.TradeID != "" && rec.TradeID != fill.TradeID {
			return fmt.Errorf("%w: fill trade %s does not match requested trade %s", ErrInvalidRequest, fill.TradeID, rec.TradeID)
		}
		if fill.TradeID != "" {
			rec.TradeID = fill.TradeID
		}
		rec.Status = order.StatusHolding
		rec.EntryPrice = fill.OpenRate
		rec.FilledAt = &at
		return nil
	})
	if duplicate {
		cur, _, gerr := d.store.Get(ctx, inst)
		return cur, gerr
	}
	if err != nil {
		return order.Record{}, fmt.Errorf("confirm fill %s: %w", inst, err)
	}
	d.log.Infof("%s filled trade=%s at %.8f", inst, rec.TradeID, rec.EntryPrice)
	return rec, nil
}

// ForceExit 由操作员触发退出：按给定价格（缺省为最新价）记为 EXITED，然后发出 limit 退出并排期升级。
func (d *Desk) ForceExit(ctx context.Context, instrument string, price float64) (order.Record, error) {
	inst := order.NormalizeInstrument(instrument)
	now := d.now()
	rec, err := d.store.Update(ctx, inst, func(rec *order.Record) error {
		if rec.Status != order.StatusHolding {
			return fmt.Errorf("%w: force exit requires HOLDING, got %s", store.ErrInvalidTransition, rec.Status)
		}
		exitPrice := price
		if exitPrice <= 0 {
			exitPrice = rec.CurrentPrice
		}
		if exitPrice <= 0 {
			exitPrice = rec.EntryPrice
		}
		rec.Exit(exitPrice, order.ExitForce, now)
		return nil
	})
	if err != nil {
		return order.Record{}, fmt.Errorf("force exit %s: %w", inst, err)
	}
	d.DispatchExit(ctx, inst, rec)
	return rec, nil
}

var (
	// ErrInvalidRequest 表示操作员输入不合法（参数、条件、金额）。
	ErrInvalidRequest = errors.New("invalid request")
	// errNoop 让 Update 放弃写入而不视为失败。
	errNoop = errors.New("no-op")
)

func invalid(err error) error {
	if err == nil || errors.Is(err, ErrInvalidRequest) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
}
