package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeRecordID computes a deterministic journal record ID using SHA256.
// Formula: SHA256(kind|pool_id|counterparty|amount|timestamp_ms|seq)
// Returns hex-encoded hash (64 characters).
func ComputeRecordID(
	kind string,
	poolID string,
	counterparty string,
	amount string,
	timestampMs int64,
	seq uint64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%s|%d|%d",
		kind,
		poolID,
		counterparty,
		amount,
		timestampMs,
		seq,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeTransferID computes a deterministic ID for one cross-domain
// transfer leg. Formula: SHA256(source_domain|executor|amount|timestamp_ms)
func ComputeTransferID(
	sourceDomain uint64,
	executor string,
	amount string,
	timestampMs int64,
) string {
	data := fmt.Sprintf("%d|%s|%s|%d",
		sourceDomain,
		executor,
		amount,
		timestampMs,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
