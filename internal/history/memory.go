// Package history stores rebuild run records: in PostgreSQL when configured,
// otherwise in a bounded in-memory ring.
package history

import (
	"context"
	"sync"

	"github.com/brownbaglunch/webhook/internal/rebuild"
)

// MemoryStore keeps the most recent runs in memory.
type MemoryStore struct {
	mu   sync.RWMutex
	size int
	runs []rebuild.Run // oldest first
}

func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = 50
	}
	return &MemoryStore{size: size}
}

// Save inserts run or replaces the record with the same ID.
func (s *MemoryStore) Save(ctx context.Context, run rebuild.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = run.Clone()
			return nil
		}
	}
	s.runs = append(s.runs, run.Clone())
	if len(s.runs) > s.size {
		s.runs = s.runs[len(s.runs)-s.size:]
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *MemoryStore) Recent(ctx context.Context, limit int) ([]rebuild.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.runs) {
		limit = len(s.runs)
	}
	out := make([]rebuild.Run, 0, limit)
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.runs[i].Clone())
	}
	return out, nil
}
