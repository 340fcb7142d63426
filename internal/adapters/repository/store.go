// Package repository persists calculation records.
package repository

import (
	"context"

	"github.com/okian/calcstore/internal/domain/calculation"
)

// Calculation is the record shape returned by every store.
type Calculation = calculation.Calculation

// Store provides create/read/list/delete access to calculation records.
type Store interface {
	// Create inserts a record and returns it with its id and timestamps.
	Create(ctx context.Context, number1, number2, sum float64) (Calculation, error)

	// ListRecent returns up to limit records, most recently created first.
	// An empty store yields an empty, non-nil slice.
	ListRecent(ctx context.Context, limit int) ([]Calculation, error)

	// GetByID returns ErrNotFound for unknown or malformed ids.
	GetByID(ctx context.Context, id string) (Calculation, error)

	// DeleteByID removes the record and returns it. ErrNotFound as GetByID.
	DeleteByID(ctx context.Context, id string) (Calculation, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
