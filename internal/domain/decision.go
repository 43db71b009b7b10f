package domain

// DecisionKind labels one entry in the decision journal.
type DecisionKind string

const (
	DecisionPoolRegistered      DecisionKind = "POOL_REGISTERED"
	DecisionPoolUpdated         DecisionKind = "POOL_UPDATED"
	DecisionStrategyActivated   DecisionKind = "STRATEGY_ACTIVATED"
	DecisionStrategyDeactivated DecisionKind = "STRATEGY_DEACTIVATED"
	DecisionStopLossTriggered   DecisionKind = "STOP_LOSS_TRIGGERED"
	DecisionPoolReactivated     DecisionKind = "POOL_REACTIVATED"
	DecisionRebalanceScheduled  DecisionKind = "REBALANCE_SCHEDULED"
	DecisionEmergencyRebalance  DecisionKind = "EMERGENCY_REBALANCE"
	DecisionAllocationStranded  DecisionKind = "ALLOCATION_STRANDED"
	DecisionPendingOverwritten  DecisionKind = "PENDING_OVERWRITTEN"
	DecisionFundsRecalled       DecisionKind = "FUNDS_RECALLED"
	DecisionFundsPushed         DecisionKind = "FUNDS_PUSHED"
	DecisionFundsReceived       DecisionKind = "FUNDS_RECEIVED"
)

// DecisionRecord is one append-only entry in the decision journal.
// The sequence of records is sufficient to reconstruct the full history
// of allocation decisions and settlements from the outside.
type DecisionRecord struct {
	RecordID     string // deterministic hash, see idhash
	Kind         DecisionKind
	PoolID       PoolID // primary pool, empty for global transitions
	Counterparty PoolID // destination pool for rebalances, if any
	Domain       DomainID
	Amount       string // decimal string, empty when not applicable
	Detail       string
	Timestamp    int64 // Unix timestamp in milliseconds
}
