package storage

import (
	"context"

	"yield-router/internal/domain"
)

// DecisionLogStore provides access to the append-only decision journal.
// The journal is the authoritative external record of every allocation
// decision and settlement the router makes.
type DecisionLogStore interface {
	// Append adds a new record. Returns ErrDuplicateKey if record_id exists.
	Append(ctx context.Context, rec *domain.DecisionRecord) error

	// GetByPool retrieves all records touching a pool (as primary or
	// counterparty), ordered by timestamp ASC.
	GetByPool(ctx context.Context, poolID domain.PoolID) ([]*domain.DecisionRecord, error)

	// GetByKind retrieves all records of a given kind, ordered by timestamp ASC.
	GetByKind(ctx context.Context, kind domain.DecisionKind) ([]*domain.DecisionRecord, error)

	// GetAll retrieves all records, ordered by timestamp ASC.
	GetAll(ctx context.Context) ([]*domain.DecisionRecord, error)
}

// RateObservationStore provides access to rate_observations storage.
type RateObservationStore interface {
	// InsertBulk adds multiple observations. Fails entire batch on
	// duplicate (pool_id, timestamp_ms).
	InsertBulk(ctx context.Context, points []*domain.RateObservation) error

	// GetByPool retrieves all observations for a pool, ordered by timestamp ASC.
	GetByPool(ctx context.Context, poolID domain.PoolID) ([]*domain.RateObservation, error)

	// GetByTimeRange retrieves observations for a pool within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, poolID domain.PoolID, start, end int64) ([]*domain.RateObservation, error)
}
