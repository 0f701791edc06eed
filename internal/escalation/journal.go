package escalation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// 任务状态。
const (
	StatusScheduled = "scheduled"
	StatusFired     = "fired"
	StatusFailed    = "failed"
)

// Entry 是 journal 中的一行。
type Entry struct {
	ID         string
	TradeID    string
	Instrument string
	DueAt      time.Time
	Status     string
	Error      string
	UpdatedAt  time.Time
}

// Journal 用 sqlite 记录已排期 / 已触发的升级任务，进程重启后可恢复未触发的任务。
type Journal struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func OpenJournal(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("journal path 不能为空")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, path: path}, nil
}

func ensureSchema(db *sql.DB) error {
	stmt := `
	CREATE TABLE IF NOT EXISTS escalations (
		id TEXT NOT NULL,
		trade_id TEXT PRIMARY KEY,
		instrument TEXT,
		due_at INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations(status);
	`
	_, err := db.Exec(stmt)
	return err
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func (j *Journal) handle() (*sql.DB, error) {
	j.mu.Lock()
	db := j.db
	j.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("journal 未初始化")
	}
	return db, nil
}

// Record 写入一条 scheduled 任务；同一 trade_id 已存在时保持原记录不变，返回 false。
func (j *Journal) Record(ctx context.Context, task Task, now time.Time) (bool, error) {
	db, err := j.handle()
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO escalations(id, trade_id, instrument, due_at, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(trade_id) DO NOTHING;
	`, uuid.NewString(), task.TradeID, nullIfEmpty(task.Instrument), task.DueAt.UnixMilli(), StatusScheduled, now.UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Finish 把任务标记为 fired 或 failed。
func (j *Journal) Finish(ctx context.Context, tradeID string, cause error, now time.Time) error {
	db, err := j.handle()
	if err != nil {
		return err
	}
	status := StatusFired
	var msg any
	if cause != nil {
		status = StatusFailed
		msg = cause.Error()
	}
	_, err = db.ExecContext(ctx, `
		UPDATE escalations SET status = ?, error = ?, updated_at = ? WHERE trade_id = ?;
	`, status, msg, now.UnixMilli(), tradeID)
	return err
}

// Scheduled 返回尚未触发的任务，按 due_at 升序。
func (j *Journal) Scheduled(ctx context.Context) ([]Task, error) {
	db, err := j.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT trade_id, instrument, due_at FROM escalations
		WHERE status = ? ORDER BY due_at ASC, trade_id ASC`, StatusScheduled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		var (
			task       Task
			instrument sql.NullString
			due        int64
		)
		if err := rows.Scan(&task.TradeID, &instrument, &due); err != nil {
			return nil, err
		}
		task.Instrument = instrument.String
		task.DueAt = time.UnixMilli(due)
		out = append(out, task)
	}
	return out, rows.Err()
}

// Entries 返回最近的记录，供检查接口使用。
func (j *Journal) Entries(ctx context.Context, limit int) ([]Entry, error) {
	db, err := j.handle()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, trade_id, instrument, due_at, status, error, updated_at FROM escalations
		ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var (
			e          Entry
			instrument sql.NullString
			errMsg     sql.NullString
			due        int64
			updated    int64
		)
		if err := rows.Scan(&e.ID, &e.TradeID, &instrument, &due, &e.Status, &errMsg, &updated); err != nil {
			return nil, err
		}
		e.Instrument = instrument.String
		e.Error = errMsg.String
		e.DueAt = time.UnixMilli(due)
		e.UpdatedAt = time.UnixMilli(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
