package domain

import "github.com/holiman/uint256"

// PoolID identifies a yield pool across the whole system.
type PoolID string

// DomainID identifies an independent execution domain ("chain").
type DomainID uint64

// Address is a base58-encoded account address on some domain.
type Address string

// PoolState is the engine's view of one registered pool.
// Created once at registration and mutated by observations for the
// lifetime of the process; there is no deletion path.
type PoolState struct {
	PoolID      PoolID
	DomainID    DomainID
	PoolAddress Address

	CurrentRate        *uint256.Int // Ray-scaled yield rate
	LastUpdateTime     int64        // Unix timestamp in milliseconds
	AvailableLiquidity *uint256.Int
	Allocation         *uint256.Int

	IsActive bool

	// StopLossRate and ReactivationRate bound the hysteresis band.
	// ReactivationRate = StopLossRate + buffer, fixed at registration.
	StopLossRate     *uint256.Int
	ReactivationRate *uint256.Int
}

// PoolConfig is the directory's record for one pool.
type PoolConfig struct {
	PoolID   PoolID
	DomainID DomainID
	Executor Address
	Adapter  Address
	Active   bool
}
