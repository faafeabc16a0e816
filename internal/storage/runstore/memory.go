package runstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewMemoryStore creates a new in-memory run store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*Run),
	}
}

// Create stores a new run
func (s *MemoryStore) Create(ctx context.Context, run *Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s: %w", run.ID, ErrExists)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// Get retrieves a run by ID
func (s *MemoryStore) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return run.Clone(), nil
}

// Update replaces an existing run
func (s *MemoryStore) Update(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.ID]; !exists {
		return fmt.Errorf("run %s: %w", run.ID, ErrNotFound)
	}
	s.runs[run.ID] = run.Clone()
	return nil
}

// List returns runs matching the filter, newest first
func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*Run, error) {
	s.mu.RLock()
	result := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		if filter.matches(run) {
			result = append(result, run.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// Delete removes a run from the store
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; !exists {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	delete(s.runs, id)
	return nil
}

// Cleanup removes finished runs whose finish time is older than olderThan
func (s *MemoryStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	for id, run := range s.runs {
		if run.Status.Terminal() && run.retainedSince().Before(cutoff) {
			delete(s.runs, id)
			deleted++
		}
	}
	return deleted, nil
}

// Stats returns run counts per status
func (s *MemoryStore) Stats() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]int{"total_runs": len(s.runs)}
	for _, run := range s.runs {
		stats[string(run.Status)]++
	}
	return stats
}

// Close implements Store
func (s *MemoryStore) Close() error { return nil }
