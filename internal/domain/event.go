package domain

import "github.com/holiman/uint256"

// EventKind discriminates the inbound observation event union.
type EventKind string

const (
	EventRateUpdated         EventKind = "RATE_UPDATED"
	EventCapitalDeposited    EventKind = "CAPITAL_DEPOSITED"
	EventStrategyActivated   EventKind = "STRATEGY_ACTIVATED"
	EventStrategyDeactivated EventKind = "STRATEGY_DEACTIVATED"
)

// Event is the single inbound observation type consumed by the engine.
// Exactly the fields for the given Kind are populated; the rest are zero.
type Event struct {
	Kind      EventKind
	Timestamp int64 // Unix timestamp in milliseconds

	// RATE_UPDATED
	Domain         DomainID
	PoolAddress    Address
	Rate           *uint256.Int // Ray-scaled
	LiquidityIndex *uint256.Int

	// CAPITAL_DEPOSITED
	Amount    *uint256.Int
	Depositor Address
}
