package orders

import (
	"fmt"
	"time"

	"custord/internal/escalation"
	"custord/internal/gateway/notifier"
	"custord/internal/order"
)

func exitMessage(inst string, rec order.Record, now time.Time) notifier.Message {
	fields := []notifier.Field{
		{Key: "reason", Value: string(rec.ExitReason)},
		{Key: "entry", Value: fmt.Sprintf("%.8g", rec.EntryPrice)},
		{Key: "exit", Value: fmt.Sprintf("%.8g", rec.ExitPrice)},
	}
	icon := "🟢"
	if rec.RealizedProfitPct != nil {
		fields = append(fields, notifier.Field{Key: "pnl", Value: fmt.Sprintf("%.2f%%", *rec.RealizedProfitPct)})
		if *rec.RealizedProfitPct < 0 {
			icon = "🔴"
		}
	}
	return notifier.Message{
		Icon:     icon,
		Title:    inst + " exited",
		Sections: []notifier.Section{{Title: "Exit", Fields: fields}},
		Footer:   tradeFooter(rec.TradeID),
		At:       now,
	}
}

func canceledMessage(inst string, rec order.Record, now time.Time) notifier.Message {
	last := ""
	if rec.CurrentPrice > 0 {
		last = fmt.Sprintf("%.8g", rec.CurrentPrice)
	}
	return notifier.Message{
		Icon:  "⚪",
		Title: inst + " canceled",
		Sections: []notifier.Section{{
			Title: "Entry",
			Fields: []notifier.Field{
				{Key: "reason", Value: string(rec.ExitReason)},
				{Key: "last price", Value: last},
			},
		}},
		At: now,
	}
}

func escalationMessage(task escalation.Task, err error, now time.Time) notifier.Message {
	field := notifier.Field{Value: "market exit requested"}
	icon := "⏫"
	if err != nil {
		field = notifier.Field{Key: "market exit failed", Value: err.Error()}
		icon = "⚠️"
	}
	return notifier.Message{
		Icon:     icon,
		Title:    task.Instrument + " escalated",
		Sections: []notifier.Section{{Fields: []notifier.Field{field}}},
		Footer:   tradeFooter(task.TradeID),
		At:       now,
	}
}

// NotifyCanceled 供监控循环在超时取消后调用。
func (d *Desk) NotifyCanceled(inst string, rec order.Record) {
	d.metrics.IncEntryTransition(string(order.StatusCanceled))
	d.notifyAsync(canceledMessage(inst, rec, d.now()))
}

func tradeFooter(id string) string {
	if id == "" {
		return ""
	}
	return "trade " + id
}

func (d *Desk) notifyAsync(msg notifier.Message) {
	text := msg.Render()
	d.notifyWG.Add(1)
	go func() {
		defer d.notifyWG.Done()
		if err := d.notifier.SendText(text); err != nil {
			d.log.Warnf("notify failed: %v", err)
		}
	}()
}
