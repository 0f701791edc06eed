// Package sqlite 用 gorm + sqlite 实现 store.Backend，适合多个进程共享同一数据库文件。
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"custord/internal/logger"
	"custord/internal/order"
	"custord/internal/store"
	"custord/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type Backend struct {
	db          *gorm.DB
	strategy    string
	sem         chan struct{}
	lockTimeout time.Duration
	log         logger.Component
}

// Open 打开（或创建）数据库文件并迁移表结构。
func Open(path, strategy string, lockTimeout time.Duration) (*Backend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if lockTimeout <= 0 {
		lockTimeout = 10 * time.Second
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate", path, lockTimeout.Milliseconds())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	return NewFromDB(db, strategy, lockTimeout)
}

func NewFromDB(db *gorm.DB, strategy string, lockTimeout time.Duration) (*Backend, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	strategy = strings.TrimSpace(strategy)
	if strategy == "" {
		return nil, fmt.Errorf("strategy cannot be empty")
	}
	if err := db.AutoMigrate(&model.ActiveOrderModel{}, &model.CompletedOrderModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}
	if lockTimeout <= 0 {
		lockTimeout = 10 * time.Second
	}
	return &Backend{
		db:          db,
		strategy:    strategy,
		sem:         make(chan struct{}, 1),
		lockTimeout: lockTimeout,
		log:         logger.Named("store.sqlite"),
	}, nil
}

func (b *Backend) Name() string { return "sqlite" }

func (b *Backend) Close() error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (b *Backend) Load(ctx context.Context) (store.Document, error) {
	release, err := b.acquire(ctx)
	if err != nil {
		return store.Document{}, err
	}
	defer release()
	doc, _, err := b.read(b.db.WithContext(ctx))
	return doc, b.mapErr(err)
}

// Mutate 在单个事务里读取、修改并按差异写回：active 行删改，completed 只追加新条目。
func (b *Backend) Mutate(ctx context.Context, fn func(doc *store.Document) error) error {
	release, err := b.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	err = b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, before, err := b.read(tx)
		if err != nil {
			return err
		}
		if err := fn(&doc); err != nil {
			return err
		}
		return b.write(tx, doc, before)
	})
	return b.mapErr(err)
}

type snapshot struct {
	active    map[string][]byte
	completed int
}

func (b *Backend) read(tx *gorm.DB) (store.Document, snapshot, error) {
	doc := store.NewDocument()
	snap := snapshot{active: make(map[string][]byte)}

	var rows []model.ActiveOrderModel
	if err := tx.Where("strategy = ?", b.strategy).Order("instrument").Find(&rows).Error; err != nil {
		return doc, snap, err
	}
	for _, row := range rows {
		var rec order.Record
		if err := json.Unmarshal(row.Body, &rec); err != nil {
			b.log.Errorf("%v; skipping row", store.CorruptionError("active_orders/"+row.Instrument, err))
			continue
		}
		doc.Active[row.Instrument] = rec
		snap.active[row.Instrument] = row.Body
	}

	var done []model.CompletedOrderModel
	if err := tx.Where("strategy = ?", b.strategy).Order("seq").Find(&done).Error; err != nil {
		return doc, snap, err
	}
	for _, row := range done {
		var rec order.Record
		if err := json.Unmarshal(row.Body, &rec); err != nil {
			b.log.Errorf("%v; skipping row", store.CorruptionError(fmt.Sprintf("completed_orders/%d", row.Seq), err))
			continue
		}
		doc.Completed = append(doc.Completed, order.HistoryEntry{Instrument: row.Instrument, Record: rec})
	}
	snap.completed = len(doc.Completed)
	return doc, snap, nil
}

func (b *Backend) write(tx *gorm.DB, doc store.Document, before snapshot) error {
	if len(doc.Completed) < before.completed {
		return fmt.Errorf("completed log is append-only: %d entries before, %d after", before.completed, len(doc.Completed))
	}
	for _, entry := range doc.Completed[before.completed:] {
		body, err := json.Marshal(entry.Record)
		if err != nil {
			return err
		}
		row := model.CompletedOrderModel{
			Strategy:   b.strategy,
			Instrument: entry.Instrument,
			RecordID:   entry.Record.ID,
			Status:     string(entry.Record.Status),
			Body:       datatypes.JSON(body),
			ClosedAt:   entry.Record.ClosedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}

	for instrument := range before.active {
		if _, ok := doc.Active[instrument]; ok {
			continue
		}
		if err := tx.Where("strategy = ? AND instrument = ?", b.strategy, instrument).
			Delete(&model.ActiveOrderModel{}).Error; err != nil {
			return err
		}
	}
	for instrument, rec := range doc.Active {
		body, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if prev, ok := before.active[instrument]; ok && string(prev) == string(body) {
			continue
		}
		row := model.ActiveOrderModel{
			Strategy:   b.strategy,
			Instrument: instrument,
			RecordID:   rec.ID,
			Status:     string(rec.Status),
			Body:       datatypes.JSON(body),
			UpdatedAt:  rec.UpdatedAt,
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "strategy"}, {Name: "instrument"}},
			DoUpdates: clause.AssignmentColumns([]string{"record_id", "status", "body", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) acquire(ctx context.Context) (func(), error) {
	start := time.Now()
	timer := time.NewTimer(b.lockTimeout)
	defer timer.Stop()
	select {
	case b.sem <- struct{}{}:
		return func() { <-b.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, store.LockedError("sqlite:"+b.strategy, time.Since(start))
	}
}

// mapErr 把 sqlite 的 busy/locked 错误统一为 store.ErrStoreLocked。
func (b *Backend) mapErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy") {
		return fmt.Errorf("%w: %v", store.ErrStoreLocked, err)
	}
	return err
}
