package memory

import (
	"context"
	"errors"
	"testing"

	"yield-router/internal/domain"
	"yield-router/internal/storage"
)

func TestDecisionLogStore_AppendAndGet(t *testing.T) {
	store := NewDecisionLogStore()
	ctx := context.Background()

	rec := &domain.DecisionRecord{
		RecordID:  "rec1",
		Kind:      domain.DecisionFundsPushed,
		PoolID:    "pool-a",
		Domain:    3,
		Amount:    "1000",
		Timestamp: 1000,
	}

	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := store.GetByPool(ctx, "pool-a")
	if err != nil {
		t.Fatalf("GetByPool failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(got))
	}
	if got[0].Amount != "1000" {
		t.Errorf("Amount mismatch: got %s, want 1000", got[0].Amount)
	}
}

func TestDecisionLogStore_DuplicateKey(t *testing.T) {
	store := NewDecisionLogStore()
	ctx := context.Background()

	rec := &domain.DecisionRecord{RecordID: "rec1", Kind: domain.DecisionFundsRecalled}

	if err := store.Append(ctx, rec); err != nil {
		t.Fatalf("First append failed: %v", err)
	}

	err := store.Append(ctx, rec)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestDecisionLogStore_InvalidInput(t *testing.T) {
	store := NewDecisionLogStore()
	ctx := context.Background()

	if err := store.Append(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for nil, got %v", err)
	}

	err := store.Append(ctx, &domain.DecisionRecord{RecordID: ""})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for empty ID, got %v", err)
	}
}

func TestDecisionLogStore_GetByPoolIncludesCounterparty(t *testing.T) {
	store := NewDecisionLogStore()
	ctx := context.Background()

	recs := []*domain.DecisionRecord{
		{RecordID: "r1", Kind: domain.DecisionFundsRecalled, PoolID: "pool-a", Counterparty: "pool-b", Timestamp: 1000},
		{RecordID: "r2", Kind: domain.DecisionFundsPushed, PoolID: "pool-b", Timestamp: 2000},
		{RecordID: "r3", Kind: domain.DecisionFundsPushed, PoolID: "pool-c", Timestamp: 3000},
	}
	for _, r := range recs {
		if err := store.Append(ctx, r); err != nil {
			t.Fatalf("Append %s failed: %v", r.RecordID, err)
		}
	}

	got, err := store.GetByPool(ctx, "pool-b")
	if err != nil {
		t.Fatalf("GetByPool failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 records for pool-b, got %d", len(got))
	}
	if got[0].RecordID != "r1" || got[1].RecordID != "r2" {
		t.Errorf("Records not ordered by timestamp: %s, %s", got[0].RecordID, got[1].RecordID)
	}
}

func TestDecisionLogStore_GetByKind(t *testing.T) {
	store := NewDecisionLogStore()
	ctx := context.Background()

	recs := []*domain.DecisionRecord{
		{RecordID: "r1", Kind: domain.DecisionStopLossTriggered, PoolID: "pool-a", Timestamp: 1000},
		{RecordID: "r2", Kind: domain.DecisionFundsPushed, PoolID: "pool-b", Timestamp: 2000},
		{RecordID: "r3", Kind: domain.DecisionStopLossTriggered, PoolID: "pool-c", Timestamp: 3000},
	}
	for _, r := range recs {
		if err := store.Append(ctx, r); err != nil {
			t.Fatalf("Append %s failed: %v", r.RecordID, err)
		}
	}

	got, err := store.GetByKind(ctx, domain.DecisionStopLossTriggered)
	if err != nil {
		t.Fatalf("GetByKind failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Expected 2 stop-loss records, got %d", len(got))
	}

	all, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 records total, got %d", len(all))
	}
}
