package memory

import (
	"context"
	"sort"
	"sync"

	"yield-router/internal/domain"
	"yield-router/internal/storage"
)

// RateObservationStore is an in-memory implementation of storage.RateObservationStore.
type RateObservationStore struct {
	mu   sync.RWMutex
	data map[obsKey]*domain.RateObservation
}

type obsKey struct {
	poolID      domain.PoolID
	timestampMs int64
}

// NewRateObservationStore creates a new in-memory rate observation store.
func NewRateObservationStore() *RateObservationStore {
	return &RateObservationStore{
		data: make(map[obsKey]*domain.RateObservation),
	}
}

// InsertBulk adds multiple observations. Fails entire batch on duplicate
// (pool_id, timestamp_ms); nothing is inserted on failure.
func (s *RateObservationStore) InsertBulk(_ context.Context, points []*domain.RateObservation) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before touching the map (all-or-nothing).
	seen := make(map[obsKey]struct{}, len(points))
	for _, p := range points {
		if p == nil || p.PoolID == "" {
			return storage.ErrInvalidInput
		}
		k := obsKey{p.PoolID, p.TimestampMs}
		if _, dup := seen[k]; dup {
			return storage.ErrDuplicateKey
		}
		if _, dup := s.data[k]; dup {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, p := range points {
		pCopy := *p
		s.data[obsKey{p.PoolID, p.TimestampMs}] = &pCopy
	}
	return nil
}

// GetByPool retrieves all observations for a pool, ordered by timestamp ASC.
func (s *RateObservationStore) GetByPool(_ context.Context, poolID domain.PoolID) ([]*domain.RateObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RateObservation
	for _, p := range s.data {
		if p.PoolID == poolID {
			pCopy := *p
			result = append(result, &pCopy)
		}
	}

	sortObservations(result)
	return result, nil
}

// GetByTimeRange retrieves observations for a pool within [start, end] (inclusive).
func (s *RateObservationStore) GetByTimeRange(_ context.Context, poolID domain.PoolID, start, end int64) ([]*domain.RateObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.RateObservation
	for _, p := range s.data {
		if p.PoolID == poolID && p.TimestampMs >= start && p.TimestampMs <= end {
			pCopy := *p
			result = append(result, &pCopy)
		}
	}

	sortObservations(result)
	return result, nil
}

func sortObservations(points []*domain.RateObservation) {
	sort.Slice(points, func(i, j int) bool {
		return points[i].TimestampMs < points[j].TimestampMs
	})
}

// Verify interface compliance at compile time.
var _ storage.RateObservationStore = (*RateObservationStore)(nil)
