package domain

// RateObservation is one persisted rate/liquidity sample for a pool.
// Values are decimal strings because Ray-scaled integers exceed uint64.
type RateObservation struct {
	PoolID      PoolID
	Domain      DomainID
	TimestampMs int64
	Rate        string
	Liquidity   string
}
