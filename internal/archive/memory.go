package archive

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/parley/internal/session"
	"github.com/MrWong99/parley/internal/transcript"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory [Store]. All methods are safe for concurrent use.
type MemStore struct {
	mu      sync.RWMutex
	results map[string]session.Result
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{results: make(map[string]session.Result)}
}

// Save stores a copy of r, replacing any earlier result with the same ID.
func (m *MemStore) Save(_ context.Context, r session.Result) error {
	if r.ID == "" {
		return errors.New("archive: save: empty id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[r.ID] = clone(r)
	return nil
}

// Get returns a copy of the stored result.
func (m *MemStore) Get(_ context.Context, id string) (session.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.results[id]
	if !ok {
		return session.Result{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(r), nil
}

// List returns summaries ordered by end time, newest first.
func (m *MemStore) List(_ context.Context, limit int) ([]Summary, error) {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, Summarize(r))
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Summary) int { return b.EndedAt.Compare(a.EndedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping always succeeds.
func (m *MemStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemStore) Close() error { return nil }

func clone(r session.Result) session.Result {
	r.Entries = append([]transcript.Entry(nil), r.Entries...)
	if r.Report != nil {
		rep := *r.Report
		rep.Strengths = slices.Clone(rep.Strengths)
		rep.Improvements = slices.Clone(rep.Improvements)
		r.Report = &rep
	}
	return r
}
