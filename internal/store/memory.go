package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowline-dev/flowline/pkg/models"
)

// Memory is an in-memory Store used by tests and single-process setups
// that do not need durability across restarts.
type Memory struct {
	mu      sync.RWMutex
	records map[models.PipelineKey]*Record
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[models.PipelineKey]*Record)}
}

// Create inserts a new record with version 1.
func (m *Memory) Create(ctx context.Context, state *models.PipelineState) (*Record, error) {
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := state.Key()
	if _, ok := m.records[key]; ok {
		return nil, fmt.Errorf("create %s: %w", key, ErrAlreadyExists)
	}

	rec := &Record{State: *state.Clone(), Version: 1, UpdatedAt: time.Now()}
	m.records[key] = rec
	return copyRecord(rec), nil
}

// Get returns a copy of the record for a key.
func (m *Memory) Get(ctx context.Context, key models.PipelineKey) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return copyRecord(rec), nil
}

// Update overwrites the record under the optimistic-version guard.
func (m *Memory) Update(ctx context.Context, state *models.PipelineState, expectedVersion int64) (*Record, error) {
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := state.Key()
	rec, ok := m.records[key]
	if !ok {
		return nil, fmt.Errorf("update %s: %w", key, ErrNotFound)
	}
	if rec.Version != expectedVersion {
		return nil, fmt.Errorf("update %s: stored version %d, expected %d: %w",
			key, rec.Version, expectedVersion, ErrVersionConflict)
	}

	next := &Record{State: *state.Clone(), Version: expectedVersion + 1, UpdatedAt: time.Now()}
	m.records[key] = next
	return copyRecord(next), nil
}

// ListActive returns copies of all non-complete, non-errored records.
func (m *Memory) ListActive(ctx context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, rec := range m.records {
		if rec.State.Active() {
			out = append(out, *copyRecord(rec))
		}
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

func copyRecord(rec *Record) *Record {
	return &Record{State: *rec.State.Clone(), Version: rec.Version, UpdatedAt: rec.UpdatedAt}
}

var _ Store = (*Memory)(nil)
