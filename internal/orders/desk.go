// Package orders 是操作员与监控循环共用的订单入口：下单、编辑、成交确认、强制退出，
// 以及把状态变化转成执行意图（入场 / limit 退出 + market 升级）。
package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"custord/internal/execution"
	"custord/internal/gateway/notifier"
	"custord/internal/logger"
	"custord/internal/metrics"
	"custord/internal/order"
	"custord/internal/store"

	"github.com/shopspring/decimal"
)

// Resolver 把变体 ID 与覆盖项解析为参数。
type Resolver interface {
	Resolve(id string, overrides map[string]any) (string, order.Params, error)
}

// Escalator 在 limit 退出后排期 market 升级。
type Escalator interface {
	Schedule(ctx context.Context, tradeID, instrument string) (bool, error)
}

type Option func(*Desk)

func WithClock(now func() time.Time) Option {
	return func(d *Desk) {
		if now != nil {
			d.nowFn = now
		}
	}
}

func WithNotifier(n notifier.TextNotifier) Option {
	return func(d *Desk) {
		if n != nil {
			d.notifier = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Desk) { d.metrics = m }
}

// WithDefaultStake 覆盖未指定投入金额时的默认值。
func WithDefaultStake(stake decimal.Decimal) Option {
	return func(d *Desk) {
		if stake.IsPositive() {
			d.defaultStake = stake
		}
	}
}

type Desk struct {
	store     *store.Store
	presets   Resolver
	exec      execution.Executor
	escalator Escalator
	notifier  notifier.TextNotifier
	metrics   *metrics.Metrics

	defaultStake decimal.Decimal
	nowFn        func() time.Time
	log          logger.Component

	notifyWG sync.WaitGroup
}

func NewDesk(st *store.Store, presets Resolver, exec execution.Executor, esc Escalator, opts ...Option) *Desk {
	d := &Desk{
		store:        st,
		presets:      presets,
		exec:         exec,
		escalator:    esc,
		notifier:     notifier.Nop{},
		defaultStake: order.DefaultStake(),
		nowFn:        time.Now,
		log:          logger.Named("orders"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Get 返回交易对当前的 active 记录。
func (d *Desk) Get(ctx context.Context, instrument string) (order.Record, bool, error) {
	return d.store.Get(ctx, instrument)
}

// Entry 是带交易对的记录，用于列表输出。
type Entry struct {
	Instrument string       `json:"instrument"`
	Record     order.Record `json:"record"`
}

// List 返回 active 记录，可按状态过滤，按交易对排序。
func (d *Desk) List(ctx context.Context, statuses ...order.Status) ([]Entry, error) {
	active, err := d.store.Read(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[order.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	out := make([]Entry, 0, len(active))
	for inst, rec := range active {
		if len(want) > 0 && !want[rec.Status] {
			continue
		}
		out = append(out, Entry{Instrument: inst, Record: rec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out, nil
}

// History 返回历史日志；instrument 非空时只返回该交易对，limit>0 时只返回最近 limit 条。
func (d *Desk) History(ctx context.Context, instrument string, limit int) ([]order.HistoryEntry, error) {
	all, err := d.store.ReadCompleted(ctx)
	if err != nil {
		return nil, err
	}
	var out []order.HistoryEntry
	if instrument == "" {
		out = all
	} else {
		inst := order.NormalizeInstrument(instrument)
		for _, h := range all {
			if h.Instrument == inst {
				out = append(out, h)
			}
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Flush 等待尚未发送完的通知。
func (d *Desk) Flush() {
	d.notifyWG.Wait()
}

func (d *Desk) now() time.Time { return d.nowFn().UTC() }
