package repository

import (
	"context"
	"slices"
	"sync"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore is an in-process Store. It keeps records in insertion order
// and issues ObjectID-style ids so id handling matches MongoStore.
type MemoryStore struct {
	mu       sync.RWMutex
	records  []Calculation
	index    map[string]int
	settings settings
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		index:    make(map[string]int),
		settings: newSettings(opts),
	}
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, number1, number2, sum float64) (Calculation, error) {
	if err := ctx.Err(); err != nil {
		return Calculation{}, storageError("insert", err)
	}
	now := s.settings.timestamp()
	c := Calculation{
		ID:        primitive.NewObjectID().Hex(),
		Number1:   number1,
		Number2:   number2,
		Sum:       sum,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[c.ID] = len(s.records)
	s.records = append(s.records, c)
	return c, nil
}

// ListRecent implements Store. Insertion order breaks createdAt ties, newest first.
func (s *MemoryStore) ListRecent(ctx context.Context, limit int) ([]Calculation, error) {
	if limit < 1 {
		return nil, ErrInvalidLimit
	}
	if err := ctx.Err(); err != nil {
		return nil, storageError("find", err)
	}

	s.mu.RLock()
	out := make([]Calculation, len(s.records))
	for i, c := range s.records {
		out[len(out)-1-i] = c
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Calculation) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out[:min(limit, len(out))], nil
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(ctx context.Context, id string) (Calculation, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Calculation{}, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return Calculation{}, storageError("find_one", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[oid.Hex()]
	if !ok {
		return Calculation{}, ErrNotFound
	}
	return s.records[i], nil
}

// DeleteByID implements Store.
func (s *MemoryStore) DeleteByID(ctx context.Context, id string) (Calculation, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return Calculation{}, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return Calculation{}, storageError("find_one_and_delete", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[oid.Hex()]
	if !ok {
		return Calculation{}, ErrNotFound
	}
	c := s.records[i]
	s.records = append(s.records[:i], s.records[i+1:]...)
	delete(s.index, c.ID)
	for j := i; j < len(s.records); j++ {
		s.index[s.records[j].ID] = j
	}
	return c, nil
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// Ping implements Store; memory is always reachable.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}
