package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"yield-router/internal/domain"
	"yield-router/internal/storage"
)

// DecisionLogStore implements storage.DecisionLogStore using PostgreSQL.
type DecisionLogStore struct {
	pool *Pool
}

// NewDecisionLogStore creates a new DecisionLogStore.
func NewDecisionLogStore(pool *Pool) *DecisionLogStore {
	return &DecisionLogStore{pool: pool}
}

// Compile-time interface check.
var _ storage.DecisionLogStore = (*DecisionLogStore)(nil)

// Append adds a new record. Returns ErrDuplicateKey if record_id exists.
func (s *DecisionLogStore) Append(ctx context.Context, rec *domain.DecisionRecord) error {
	if rec == nil || rec.RecordID == "" || rec.Kind == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO decision_log (
			record_id, kind, pool_id, counterparty, domain_id, amount, detail, ts
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	_, err := s.pool.Exec(ctx, query,
		rec.RecordID, string(rec.Kind), string(rec.PoolID), string(rec.Counterparty),
		int64(rec.Domain), rec.Amount, rec.Detail, rec.Timestamp,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert decision record: %w", err)
	}
	return nil
}

// GetByPool retrieves all records touching a pool, as primary or
// counterparty, ordered by timestamp ASC.
func (s *DecisionLogStore) GetByPool(ctx context.Context, poolID domain.PoolID) ([]*domain.DecisionRecord, error) {
	query := `
		SELECT record_id, kind, pool_id, counterparty, domain_id, amount, detail, ts
		FROM decision_log
		WHERE pool_id = $1 OR counterparty = $1
		ORDER BY ts ASC, record_id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(poolID))
	if err != nil {
		return nil, fmt.Errorf("get decision records by pool: %w", err)
	}
	defer rows.Close()

	return scanDecisionRecords(rows)
}

// GetByKind retrieves all records of a given kind, ordered by timestamp ASC.
func (s *DecisionLogStore) GetByKind(ctx context.Context, kind domain.DecisionKind) ([]*domain.DecisionRecord, error) {
	query := `
		SELECT record_id, kind, pool_id, counterparty, domain_id, amount, detail, ts
		FROM decision_log
		WHERE kind = $1
		ORDER BY ts ASC, record_id ASC
	`

	rows, err := s.pool.Query(ctx, query, string(kind))
	if err != nil {
		return nil, fmt.Errorf("get decision records by kind: %w", err)
	}
	defer rows.Close()

	return scanDecisionRecords(rows)
}

// GetAll retrieves all records, ordered by timestamp ASC.
func (s *DecisionLogStore) GetAll(ctx context.Context) ([]*domain.DecisionRecord, error) {
	query := `
		SELECT record_id, kind, pool_id, counterparty, domain_id, amount, detail, ts
		FROM decision_log
		ORDER BY ts ASC, record_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all decision records: %w", err)
	}
	defer rows.Close()

	return scanDecisionRecords(rows)
}

// scanDecisionRecords scans rows into a slice of DecisionRecord.
func scanDecisionRecords(rows pgx.Rows) ([]*domain.DecisionRecord, error) {
	var recs []*domain.DecisionRecord

	for rows.Next() {
		var (
			rec          domain.DecisionRecord
			kind         string
			poolID       string
			counterparty string
			domainID     int64
		)

		err := rows.Scan(
			&rec.RecordID, &kind, &poolID, &counterparty,
			&domainID, &rec.Amount, &rec.Detail, &rec.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan decision record row: %w", err)
		}

		rec.Kind = domain.DecisionKind(kind)
		rec.PoolID = domain.PoolID(poolID)
		rec.Counterparty = domain.PoolID(counterparty)
		rec.Domain = domain.DomainID(domainID)
		recs = append(recs, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decision record rows: %w", err)
	}

	return recs, nil
}
