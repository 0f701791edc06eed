package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"custord/internal/logger"
	"custord/internal/order"

	"github.com/google/uuid"
)

// Observer 接收存储层事件（指标）。
type Observer interface {
	StoreLockTimeout(op string)
}

// Store 是订单存储的唯一变更入口：所有写操作都是锁内的原子读-改-写，
// 终态记录在同一临界区内从 active 迁移到 completed。
type Store struct {
	backend  Backend
	nowFn    func() time.Time
	observer Observer
	log      logger.Component
}

type Option func(*Store)

func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		nowFn:   time.Now,
		log:     logger.Named("store"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Backend 返回底层引擎名称。
func (s *Store) Backend() string { return s.backend.Name() }

func (s *Store) Close() error { return s.backend.Close() }

// Read 返回 active 分区快照；文件不存在视为空。
func (s *Store) Read(ctx context.Context) (map[string]order.Record, error) {
	doc, err := s.load(ctx, "read")
	if err != nil {
		return nil, err
	}
	return doc.Active, nil
}

// Instruments 返回按字母序排列的 active 交易对。
func (s *Store) Instruments(ctx context.Context) ([]string, error) {
	active, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(active))
	for inst := range active {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out, nil
}

// Get 返回单个交易对的 active 记录。
func (s *Store) Get(ctx context.Context, instrument string) (order.Record, bool, error) {
	active, err := s.Read(ctx)
	if err != nil {
		return order.Record{}, false, err
	}
	rec, ok := active[order.NormalizeInstrument(instrument)]
	return rec, ok, nil
}

// ReadCompleted 返回历史日志（按追加顺序）。
func (s *Store) ReadCompleted(ctx context.Context) ([]order.HistoryEntry, error) {
	doc, err := s.load(ctx, "read_completed")
	if err != nil {
		return nil, err
	}
	return doc.Completed, nil
}

// Upsert 写入/替换记录，并应用生命周期校验与 active→completed 迁移。
func (s *Store) Upsert(ctx context.Context, instrument string, rec order.Record) error {
	instrument = order.NormalizeInstrument(instrument)
	if instrument == "" {
		return fmt.Errorf("instrument is required")
	}
	next := rec.Clone()
	return s.mutate(ctx, "upsert", func(doc *Document) error {
		return s.apply(doc, instrument, next)
	})
}

// Update 在锁内取出当前记录交给 fn 修改，再按 Upsert 的规则写回。
// fn 返回错误时不写入。
func (s *Store) Update(ctx context.Context, instrument string, fn func(rec *order.Record) error) (order.Record, error) {
	instrument = order.NormalizeInstrument(instrument)
	var out order.Record
	err := s.mutate(ctx, "update", func(doc *Document) error {
		cur, ok := doc.Active[instrument]
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, instrument)
		}
		next := cur.Clone()
		if err := fn(&next); err != nil {
			return err
		}
		if err := s.apply(doc, instrument, next); err != nil {
			return err
		}
		if rec, ok := doc.Active[instrument]; ok {
			out = rec.Clone()
		} else {
			out = doc.Completed[len(doc.Completed)-1].Record.Clone()
		}
		return nil
	})
	if err != nil {
		return order.Record{}, err
	}
	return out, nil
}

// AppendCompleted 追加一条终态记录。active 中同 ID 的记录走与 Update 相同的迁移校验；
// 否则只接受从未进入过 completed 的记录。
func (s *Store) AppendCompleted(ctx context.Context, instrument string, rec order.Record) error {
	instrument = order.NormalizeInstrument(instrument)
	if !rec.Status.Terminal() {
		return fmt.Errorf("%w: completed log only accepts EXITED/CANCELED, got %s", ErrInvalidTransition, rec.Status)
	}
	next := rec.Clone()
	return s.mutate(ctx, "append_completed", func(doc *Document) error {
		if cur, ok := doc.Active[instrument]; ok && next.ID != "" && cur.ID == next.ID {
			return s.apply(doc, instrument, next)
		}
		if next.ID == "" {
			next.ID = uuid.NewString()
		}
		for inst, cur := range doc.Active {
			if cur.ID == next.ID {
				return fmt.Errorf("%w: record %s is active under %s", ErrInvalidTransition, next.ID, inst)
			}
		}
		for _, h := range doc.Completed {
			if h.Record.ID == next.ID {
				return fmt.Errorf("%w: record %s already completed", ErrInvalidTransition, next.ID)
			}
		}
		now := s.nowFn().UTC()
		next.UpdatedAt = now
		if next.ClosedAt == nil {
			next.ClosedAt = &now
		}
		next.Condition = nil
		doc.Completed = append(doc.Completed, order.HistoryEntry{Instrument: instrument, Record: next})
		return nil
	})
}

func (s *Store) apply(doc *Document, instrument string, next order.Record) error {
	if !next.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next.Status)
	}
	now := s.nowFn().UTC()
	cur, exists := doc.Active[instrument]
	switch {
	case !exists || (next.ID != "" && next.ID != cur.ID):
		if exists && cur.Status != order.StatusWaiting {
			return fmt.Errorf("%w: %s is %s", ErrInstrumentBusy, instrument, cur.Status)
		}
		if !order.CanCreateAs(next.Status) {
			return fmt.Errorf("%w: cannot create %s as %s", ErrInvalidTransition, instrument, next.Status)
		}
		if next.ID == "" {
			next.ID = uuid.NewString()
		}
		if next.CreatedAt.IsZero() {
			next.CreatedAt = now
		}
		if err := next.ValidateNew(); err != nil {
			return err
		}
		if exists {
			s.log.Infof("replace %s: %s(id=%s) -> %s(id=%s)", instrument, cur.Status, cur.ID, next.Status, next.ID)
			replaced := cur.Clone()
			replaced.Status = order.StatusCanceled
			replaced.ExitReason = order.ExitReplaced
			replaced.UpdatedAt = now
			replaced.ClosedAt = &now
			doc.Completed = append(doc.Completed, order.HistoryEntry{Instrument: instrument, Record: replaced})
		}
	default:
		next.ID = cur.ID
		if !order.CanTransition(cur.Status, next.Status) {
			return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, instrument, cur.Status, next.Status)
		}
		if cur.Status == order.StatusHolding {
			keepHighest(&next, cur)
		}
		if cur.Status != next.Status {
			s.log.Infof("%s id=%s %s -> %s", instrument, next.ID, cur.Status, next.Status)
		}
	}
	if next.Status != order.StatusWaiting {
		next.Condition = nil
	}
	next.UpdatedAt = now
	if next.Status.Terminal() {
		if next.ClosedAt == nil {
			next.ClosedAt = &now
		}
		delete(doc.Active, instrument)
		doc.Completed = append(doc.Completed, order.HistoryEntry{Instrument: instrument, Record: next})
		return nil
	}
	if doc.Active == nil {
		doc.Active = map[string]order.Record{}
	}
	doc.Active[instrument] = next
	return nil
}

// keepHighest 保证持仓期间 highestMa 不下降。
func keepHighest(next *order.Record, cur order.Record) {
	if cur.Params.HighestMA == nil {
		return
	}
	prev := *cur.Params.HighestMA
	if next.Params.HighestMA == nil || *next.Params.HighestMA < prev {
		next.Params.HighestMA = order.Float(prev)
	}
}

func (s *Store) load(ctx context.Context, op string) (Document, error) {
	doc, err := s.backend.Load(ctx)
	if err != nil {
		s.observe(op, err)
		return Document{}, err
	}
	doc.reconcile(s.log)
	return doc, nil
}

func (s *Store) mutate(ctx context.Context, op string, fn func(doc *Document) error) error {
	err := s.backend.Mutate(ctx, func(doc *Document) error {
		doc.reconcile(s.log)
		return fn(doc)
	})
	s.observe(op, err)
	return err
}

func (s *Store) observe(op string, err error) {
	if err == nil || s.observer == nil {
		return
	}
	if isLocked(err) {
		s.observer.StoreLockTimeout(op)
	}
}
