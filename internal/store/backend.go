package store

import (
	"context"

	"custord/internal/logger"
	"custord/internal/order"
)

// Document 是一个策略实例的完整持久化内容：active 映射 + completed 追加日志。
type Document struct {
	Active    map[string]order.Record
	Completed []order.HistoryEntry
}

// NewDocument 返回空文档。
func NewDocument() Document {
	return Document{Active: map[string]order.Record{}}
}

// Backend 是持久化引擎。Mutate 必须在排他锁内完成“读-改-写”，
// fn 返回错误时不得写入任何内容。
type Backend interface {
	Name() string
	// Load 返回最近一次完整写入的快照（共享锁或无锁）。
	Load(ctx context.Context) (Document, error)
	Mutate(ctx context.Context, fn func(doc *Document) error) error
	Close() error
}

// reconcile 修复迁移中途崩溃留下的痕迹：completed 里已有的记录 ID 不应再出现在 active。
func (d *Document) reconcile(log logger.Component) bool {
	if d.Active == nil {
		d.Active = map[string]order.Record{}
	}
	if len(d.Active) == 0 || len(d.Completed) == 0 {
		return false
	}
	done := make(map[string]struct{}, len(d.Completed))
	for _, entry := range d.Completed {
		if entry.Record.ID != "" {
			done[entry.Record.ID] = struct{}{}
		}
	}
	changed := false
	for inst, rec := range d.Active {
		if _, ok := done[rec.ID]; ok && rec.ID != "" {
			log.Warnf("drop %s id=%s from active: already in completed log", inst, rec.ID)
			delete(d.Active, inst)
			changed = true
		}
	}
	return changed
}

func (d Document) clone() Document {
	out := Document{
		Active:    make(map[string]order.Record, len(d.Active)),
		Completed: make([]order.HistoryEntry, len(d.Completed)),
	}
	for k, v := range d.Active {
		out.Active[k] = v.Clone()
	}
	for i, e := range d.Completed {
		out.Completed[i] = order.HistoryEntry{Instrument: e.Instrument, Record: e.Record.Clone()}
	}
	return out
}
