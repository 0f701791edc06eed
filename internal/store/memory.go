package store

import (
	"context"
	"sync"
)

// MemoryBackend 是进程内实现，用于 dry-run 与测试。
type MemoryBackend struct {
	mu  sync.RWMutex
	doc Document
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{doc: NewDocument()}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Load(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.clone(), nil
}

func (m *MemoryBackend) Mutate(ctx context.Context, fn func(doc *Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	work := m.doc.clone()
	if err := fn(&work); err != nil {
		return err
	}
	m.doc = work
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
