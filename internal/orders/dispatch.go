package orders

import (
	"context"
	"errors"
	"fmt"

	"custord/internal/escalation"
	"custord/internal/execution"
	"custord/internal/order"
	"custord/internal/pkg/circuit"
)

// DispatchEntry 为 PENDING 订单发出一次入场意图；entry_requested_at 保证只发一次。
// 熔断器打开时请求未发出，清除标记以便下一轮重试。
func (d *Desk) DispatchEntry(ctx context.Context, instrument string) error {
	inst := order.NormalizeInstrument(instrument)
	now := d.now()
	rec, err := d.store.Update(ctx, inst, func(rec *order.Record) error {
		if rec.Status != order.StatusPending || rec.EntryRequestedAt != nil {
			return errNoop
		}
		rec.EntryRequestedAt = &now
		return nil
	})
	if errors.Is(err, errNoop) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark entry %s: %w", inst, err)
	}
	res, err := d.exec.PlaceEntry(ctx, execution.EntryRequest{
		Instrument: inst,
		Stake:      rec.StakeAmount,
		RefPrice:   rec.CurrentPrice,
		Tag:        "custord",
	})
	if err != nil {
		if errors.Is(err, circuit.ErrOpen) {
			if _, uerr := d.store.Update(ctx, inst, func(r *order.Record) error {
				if r.ID != rec.ID || r.Status != order.StatusPending {
					return errNoop
				}
				r.EntryRequestedAt = nil
				return nil
			}); uerr != nil && !errors.Is(uerr, errNoop) {
				d.log.Warnf("clear entry marker %s failed: %v", inst, uerr)
			}
		}
		return fmt.Errorf("place entry %s via %s: %w", inst, d.exec.Name(), err)
	}
	d.log.Infof("entry requested %s stake=%s trade=%s via %s", inst, rec.StakeAmount, res.TradeID, d.exec.Name())
	if res.Filled {
		_, err := d.ConfirmFill(ctx, inst, Fill{TradeID: res.TradeID, OpenRate: res.OpenRate})
		return err
	}
	if res.TradeID == "" {
		return nil
	}
	_, err = d.store.Update(ctx, inst, func(r *order.Record) error {
		if r.ID != rec.ID || r.Status != order.StatusPending {
			return errNoop
		}
		r.TradeID = res.TradeID
		return nil
	})
	if err != nil && !errors.Is(err, errNoop) {
		return fmt.Errorf("record trade id %s: %w", inst, err)
	}
	return nil
}

// DispatchExit 在记录已持久化为 EXITED 后调用：先发 limit 退出，再排期 market 升级。
// 失败只记录日志，不回滚 EXITED。
func (d *Desk) DispatchExit(ctx context.Context, instrument string, rec order.Record) {
	d.metrics.IncExit(string(rec.ExitReason))
	d.notifyAsync(exitMessage(instrument, rec, d.now()))
	if rec.TradeID == "" {
		d.log.Warnf("%s exited (%s) without a trade id; nothing to send", instrument, rec.ExitReason)
		return
	}
	if err := d.exec.RequestExit(ctx, rec.TradeID, execution.OrderLimit); err != nil {
		d.log.Errorf("limit exit %s trade=%s failed: %v", instrument, rec.TradeID, err)
	}
	if d.escalator == nil {
		return
	}
	if _, err := d.escalator.Schedule(ctx, rec.TradeID, instrument); err != nil {
		d.log.Errorf("schedule escalation %s trade=%s failed: %v", instrument, rec.TradeID, err)
	}
}

// EscalationResult 作为 escalation.ResultFunc 使用。
func (d *Desk) EscalationResult(task escalation.Task, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	d.metrics.IncEscalation(result)
	d.notifyAsync(escalationMessage(task, err, d.now()))
}

// Reconcile 用执行端的未平仓交易确认 PENDING 订单的成交。
func (d *Desk) Reconcile(ctx context.Context) error {
	pending, err := d.List(ctx, order.StatusPending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	trades, err := d.exec.OpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("open trades via %s: %w", d.exec.Name(), err)
	}
	var errs []error
	for _, p := range pending {
		if p.Record.EntryRequestedAt == nil {
			continue
		}
		tr, ok := matchTrade(p, trades)
		if !ok || !tr.Filled {
			continue
		}
		if _, err := d.ConfirmFill(ctx, p.Instrument, Fill{TradeID: tr.TradeID, OpenRate: tr.OpenRate}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func matchTrade(p Entry, trades []execution.OpenTrade) (execution.OpenTrade, bool) {
	for _, tr := range trades {
		if p.Record.TradeID != "" {
			if tr.TradeID == p.Record.TradeID {
				return tr, true
			}
			continue
		}
		if tr.Instrument == p.Instrument {
			return tr, true
		}
	}
	return execution.OpenTrade{}, false
}
