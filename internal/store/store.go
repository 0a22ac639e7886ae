// Package store provides durable keyed storage for pipeline states with
// optimistic-version concurrency control. The version guard is the
// subsystem's sole concurrency-control discipline: every writer reads a
// record, mutates a copy, and writes it back conditioned on the version
// it read.
package store

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/flowline-dev/flowline/pkg/models"
)

var (
	// ErrNotFound indicates no record exists for the key.
	ErrNotFound = errors.New("pipeline state not found")
	// ErrAlreadyExists indicates a record was already created for the key.
	ErrAlreadyExists = errors.New("pipeline state already exists")
	// ErrVersionConflict indicates the stored version changed since the
	// caller's read. The caller retries from a fresh read.
	ErrVersionConflict = errors.New("pipeline state version conflict")
)

// Record is a versioned pipeline state as held by a store. Version starts
// at 1 on create and increments by 1 on every successful update.
type Record struct {
	State     models.PipelineState
	Version   int64
	UpdatedAt time.Time
}

// Store is durable keyed storage for one PipelineState per (project,
// issue) pair. Implementations must hand out copies: a caller mutating a
// returned Record must never affect stored data.
type Store interface {
	io.Closer

	// Create inserts a new record with version 1. Returns
	// ErrAlreadyExists when the key is taken.
	Create(ctx context.Context, state *models.PipelineState) (*Record, error)

	// Get returns the record for a key, or ErrNotFound.
	Get(ctx context.Context, key models.PipelineKey) (*Record, error)

	// Update overwrites the record if its stored version still equals
	// expectedVersion, returning the new record. Returns
	// ErrVersionConflict when the version moved, ErrNotFound when the
	// record vanished.
	Update(ctx context.Context, state *models.PipelineState, expectedVersion int64) (*Record, error)

	// ListActive returns every record whose pipeline is neither complete
	// nor errored.
	ListActive(ctx context.Context) ([]Record, error)
}
