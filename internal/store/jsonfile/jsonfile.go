// Package jsonfile 把每个策略实例持久化为两份 JSON 文档：
// <strategy>_orders.json（active 映射）与 <strategy>_completed.json（completed 日志）。
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"custord/internal/logger"
	"custord/internal/order"
	"custord/internal/store"

	"github.com/gofrs/flock"
)

const (
	defaultLockTimeout = 10 * time.Second
	lockRetryDelay     = 25 * time.Millisecond
)

// Backend 基于文件锁 + 临时文件原子 rename 实现 store.Backend。
type Backend struct {
	activePath    string
	completedPath string
	lockPath      string

	lock        *flock.Flock
	sem         chan struct{}
	lockTimeout time.Duration
	nowFn       func() time.Time
	log         logger.Component
}

// Open 在 dir 下为 strategy 准备存储文件（目录不存在时创建）。
func Open(dir, strategy string, lockTimeout time.Duration) (*Backend, error) {
	dir = strings.TrimSpace(dir)
	strategy = strings.TrimSpace(strategy)
	if dir == "" || strategy == "" {
		return nil, fmt.Errorf("jsonfile store requires dir and strategy")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	active := filepath.Join(dir, strategy+"_orders.json")
	return &Backend{
		activePath:    active,
		completedPath: filepath.Join(dir, strategy+"_completed.json"),
		lockPath:      active + ".lock",
		lock:          flock.New(active + ".lock"),
		sem:           make(chan struct{}, 1),
		lockTimeout:   lockTimeout,
		nowFn:         time.Now,
		log:           logger.Named("store.jsonfile"),
	}, nil
}

func (b *Backend) Name() string { return "jsonfile" }

// Paths 返回 active / completed 文件路径。
func (b *Backend) Paths() (string, string) { return b.activePath, b.completedPath }

func (b *Backend) Close() error { return b.lock.Close() }

// Load 在共享锁下读取两份文档；损坏内容按空处理并记录日志。
func (b *Backend) Load(ctx context.Context) (store.Document, error) {
	release, err := b.acquire(ctx, false)
	if err != nil {
		return store.Document{}, err
	}
	defer release()
	doc, _, err := b.read(false)
	return doc, err
}

// Mutate 在排他锁下读-改-写。先写 completed 再写 active，
// 中途崩溃时由 store 层按记录 ID 去重修复。
func (b *Backend) Mutate(ctx context.Context, fn func(doc *store.Document) error) error {
	release, err := b.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer release()

	doc, raw, err := b.read(true)
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	completed, err := marshal(doc.Completed)
	if err != nil {
		return err
	}
	if !bytes.Equal(completed, raw.completed) {
		if err := writeAtomic(b.completedPath, completed); err != nil {
			return fmt.Errorf("write %s: %w", filepath.Base(b.completedPath), err)
		}
	}
	active, err := marshal(doc.Active)
	if err != nil {
		return err
	}
	if !bytes.Equal(active, raw.active) {
		if err := writeAtomic(b.activePath, active); err != nil {
			return fmt.Errorf("write %s: %w", filepath.Base(b.activePath), err)
		}
	}
	return nil
}

// acquire 先拿进程内信号量，再拿跨进程文件锁，总等待不超过 lockTimeout。
func (b *Backend) acquire(ctx context.Context, exclusive bool) (func(), error) {
	start := b.nowFn()
	waitCtx, cancel := context.WithTimeout(ctx, b.lockTimeout)
	defer cancel()

	select {
	case b.sem <- struct{}{}:
	case <-waitCtx.Done():
		return nil, b.lockErr(ctx, start)
	}
	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = b.lock.TryLockContext(waitCtx, lockRetryDelay)
	} else {
		ok, err = b.lock.TryRLockContext(waitCtx, lockRetryDelay)
	}
	if err != nil || !ok {
		<-b.sem
		if waitCtx.Err() != nil {
			return nil, b.lockErr(ctx, start)
		}
		return nil, fmt.Errorf("acquire %s: %w", filepath.Base(b.lockPath), err)
	}
	return func() {
		if err := b.lock.Unlock(); err != nil {
			b.log.Errorf("unlock %s failed: %v", b.lockPath, err)
		}
		<-b.sem
	}, nil
}

func (b *Backend) lockErr(ctx context.Context, start time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.LockedError(filepath.Base(b.lockPath), b.nowFn().Sub(start))
}

type rawDocs struct {
	active    []byte
	completed []byte
}

func (b *Backend) read(backup bool) (store.Document, rawDocs, error) {
	doc := store.NewDocument()
	var raw rawDocs

	data, err := readFile(b.activePath)
	if err != nil {
		return doc, raw, err
	}
	raw.active = data
	if len(bytes.TrimSpace(data)) > 0 {
		var active map[string]order.Record
		if err := json.Unmarshal(data, &active); err != nil {
			b.corrupt(b.activePath, data, err, backup)
			raw.active = nil
		} else if active != nil {
			doc.Active = active
		}
	}

	data, err = readFile(b.completedPath)
	if err != nil {
		return doc, raw, err
	}
	raw.completed = data
	if len(bytes.TrimSpace(data)) > 0 {
		var completed []order.HistoryEntry
		if err := json.Unmarshal(data, &completed); err != nil {
			b.corrupt(b.completedPath, data, err, backup)
			raw.completed = nil
		} else {
			doc.Completed = completed
		}
	}
	return doc, raw, nil
}

// corrupt 记录损坏；写路径上把原内容备份为 .corrupt-<ts> 以便人工恢复。
func (b *Backend) corrupt(path string, data []byte, cause error, backup bool) {
	b.log.Errorf("%v; treating as empty", store.CorruptionError(filepath.Base(path), cause))
	if !backup {
		return
	}
	dst := fmt.Sprintf("%s.corrupt-%d", path, b.nowFn().UnixNano())
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		b.log.Errorf("backup corrupt file %s failed: %v", path, err)
		return
	}
	b.log.Warnf("corrupt content of %s saved to %s", filepath.Base(path), filepath.Base(dst))
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

func marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// writeAtomic 写临时文件 + fsync + rename，读者永远看不到半截文件。
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
