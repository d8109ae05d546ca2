package repository

import (
	"context"
	"sync"
	"time"

	"github.com/docedit/docedit/internal/document"
)

// MemoryRepo is an in-memory repository used by default in development and by
// unit tests. Stored documents are never handed out directly; callers get copies.
type MemoryRepo struct {
	mu    sync.RWMutex
	store map[string]*document.Document
	now   func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{store: make(map[string]*document.Document), now: document.Now}
}

func (m *MemoryRepo) Create(_ context.Context, d *document.Document) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := clone(d)
	document.Stamp(doc, m.now())
	m.store[doc.ID] = doc
	return clone(doc), nil
}

func (m *MemoryRepo) Get(_ context.Context, id string) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.store[id]; ok {
		return clone(d), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryRepo) List(_ context.Context) ([]*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*document.Document, 0, len(m.store))
	for _, d := range m.store {
		out = append(out, clone(d))
	}
	sortByUpdatedDesc(out)
	return out, nil
}

func (m *MemoryRepo) Update(_ context.Context, id string, p document.Patch) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Apply(d, m.now())
	return clone(d), nil
}

func (m *MemoryRepo) Delete(_ context.Context, id string) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.store[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.store, id)
	return d, nil
}
