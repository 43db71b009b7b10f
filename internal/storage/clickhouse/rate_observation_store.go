package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"yield-router/internal/domain"
	"yield-router/internal/storage"
)

// RateObservationStore implements storage.RateObservationStore using ClickHouse.
type RateObservationStore struct {
	conn *Conn
}

// NewRateObservationStore creates a new RateObservationStore.
func NewRateObservationStore(conn *Conn) *RateObservationStore {
	return &RateObservationStore{conn: conn}
}

// Compile-time interface check.
var _ storage.RateObservationStore = (*RateObservationStore)(nil)

// InsertBulk adds multiple points. Fails entire batch on duplicate
// (pool_id, timestamp_ms). ClickHouse MergeTree does not enforce
// uniqueness, so duplicates are checked explicitly before the insert.
func (s *RateObservationStore) InsertBulk(ctx context.Context, points []*domain.RateObservation) error {
	if len(points) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	type key struct {
		poolID      domain.PoolID
		timestampMs int64
	}
	seen := make(map[key]struct{})
	for _, p := range points {
		if p == nil || p.PoolID == "" {
			return storage.ErrInvalidInput
		}
		k := key{p.PoolID, p.TimestampMs}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	// Check for duplicates against existing DB rows
	for _, p := range points {
		exists, err := s.exists(ctx, p.PoolID, p.TimestampMs)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO rate_observations (
			pool_id, domain_id, timestamp_ms, rate, liquidity
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			string(p.PoolID), uint64(p.Domain), uint64(p.TimestampMs),
			p.Rate, p.Liquidity,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByPool retrieves all observations for a pool, ordered by timestamp ASC.
func (s *RateObservationStore) GetByPool(ctx context.Context, poolID domain.PoolID) ([]*domain.RateObservation, error) {
	query := `
		SELECT pool_id, domain_id, timestamp_ms, rate, liquidity
		FROM rate_observations
		WHERE pool_id = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, string(poolID))
	if err != nil {
		return nil, fmt.Errorf("query by pool id: %w", err)
	}
	defer rows.Close()

	return scanRateObservations(rows)
}

// GetByTimeRange retrieves observations for a pool within [start, end] (inclusive).
func (s *RateObservationStore) GetByTimeRange(ctx context.Context, poolID domain.PoolID, start, end int64) ([]*domain.RateObservation, error) {
	query := `
		SELECT pool_id, domain_id, timestamp_ms, rate, liquidity
		FROM rate_observations
		WHERE pool_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, string(poolID), uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanRateObservations(rows)
}

// exists checks if an observation with the given key exists.
func (s *RateObservationStore) exists(ctx context.Context, poolID domain.PoolID, timestampMs int64) (bool, error) {
	query := `
		SELECT count(*) FROM rate_observations
		WHERE pool_id = ? AND timestamp_ms = ?
	`

	var count uint64
	err := s.conn.QueryRow(ctx, query, string(poolID), uint64(timestampMs)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanRateObservations scans multiple rows.
func scanRateObservations(rows driver.Rows) ([]*domain.RateObservation, error) {
	var points []*domain.RateObservation

	for rows.Next() {
		var p domain.RateObservation
		var poolID string
		var domainID, timestampMs uint64

		err := rows.Scan(&poolID, &domainID, &timestampMs, &p.Rate, &p.Liquidity)
		if err != nil {
			return nil, fmt.Errorf("scan rate observation row: %w", err)
		}

		p.PoolID = domain.PoolID(poolID)
		p.Domain = domain.DomainID(domainID)
		p.TimestampMs = int64(timestampMs)
		points = append(points, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rate observation rows: %w", err)
	}

	return points, nil
}
