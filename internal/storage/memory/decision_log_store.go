package memory

import (
	"context"
	"sort"
	"sync"

	"yield-router/internal/domain"
	"yield-router/internal/storage"
)

// DecisionLogStore is an in-memory implementation of storage.DecisionLogStore.
type DecisionLogStore struct {
	mu   sync.RWMutex
	data map[string]*domain.DecisionRecord // keyed by record_id
}

// NewDecisionLogStore creates a new in-memory decision log store.
func NewDecisionLogStore() *DecisionLogStore {
	return &DecisionLogStore{
		data: make(map[string]*domain.DecisionRecord),
	}
}

// Append adds a new record. Returns ErrDuplicateKey if record_id exists.
func (s *DecisionLogStore) Append(_ context.Context, rec *domain.DecisionRecord) error {
	if rec == nil || rec.RecordID == "" || rec.Kind == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[rec.RecordID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	recCopy := *rec
	s.data[rec.RecordID] = &recCopy
	return nil
}

// GetByPool retrieves all records touching a pool, ordered by timestamp ASC.
func (s *DecisionLogStore) GetByPool(_ context.Context, poolID domain.PoolID) ([]*domain.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DecisionRecord
	for _, rec := range s.data {
		if rec.PoolID == poolID || rec.Counterparty == poolID {
			recCopy := *rec
			result = append(result, &recCopy)
		}
	}

	sortRecords(result)
	return result, nil
}

// GetByKind retrieves all records of a given kind, ordered by timestamp ASC.
func (s *DecisionLogStore) GetByKind(_ context.Context, kind domain.DecisionKind) ([]*domain.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DecisionRecord
	for _, rec := range s.data {
		if rec.Kind == kind {
			recCopy := *rec
			result = append(result, &recCopy)
		}
	}

	sortRecords(result)
	return result, nil
}

// GetAll retrieves all records, ordered by timestamp ASC.
func (s *DecisionLogStore) GetAll(_ context.Context) ([]*domain.DecisionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.DecisionRecord, 0, len(s.data))
	for _, rec := range s.data {
		recCopy := *rec
		result = append(result, &recCopy)
	}

	sortRecords(result)
	return result, nil
}

// sortRecords orders by timestamp ASC, record_id ASC for stability.
func sortRecords(recs []*domain.DecisionRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Timestamp != recs[j].Timestamp {
			return recs[i].Timestamp < recs[j].Timestamp
		}
		return recs[i].RecordID < recs[j].RecordID
	})
}

// Verify interface compliance at compile time.
var _ storage.DecisionLogStore = (*DecisionLogStore)(nil)
