package idhash

import "testing"

func TestComputeRecordID_Deterministic(t *testing.T) {
	a := ComputeRecordID("FUNDS_PUSHED", "pool-a", "pool-b", "1000", 1700000000000, 7)
	b := ComputeRecordID("FUNDS_PUSHED", "pool-a", "pool-b", "1000", 1700000000000, 7)

	if a != b {
		t.Errorf("Same inputs produced different IDs: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("Expected 64-char hex hash, got %d chars", len(a))
	}
}

func TestComputeRecordID_DistinctInputs(t *testing.T) {
	base := ComputeRecordID("FUNDS_PUSHED", "pool-a", "pool-b", "1000", 1700000000000, 7)

	variants := []string{
		ComputeRecordID("FUNDS_RECALLED", "pool-a", "pool-b", "1000", 1700000000000, 7),
		ComputeRecordID("FUNDS_PUSHED", "pool-a", "pool-c", "1000", 1700000000000, 7),
		ComputeRecordID("FUNDS_PUSHED", "pool-a", "pool-b", "1001", 1700000000000, 7),
		ComputeRecordID("FUNDS_PUSHED", "pool-a", "pool-b", "1000", 1700000000001, 7),
		ComputeRecordID("FUNDS_PUSHED", "pool-a", "pool-b", "1000", 1700000000000, 8),
	}

	for i, v := range variants {
		if v == base {
			t.Errorf("Variant %d collided with base ID", i)
		}
	}
}

func TestComputeTransferID_Deterministic(t *testing.T) {
	a := ComputeTransferID(42, "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", "500", 1700000000000)
	b := ComputeTransferID(42, "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin", "500", 1700000000000)

	if a != b {
		t.Errorf("Same inputs produced different IDs: %s vs %s", a, b)
	}
}
