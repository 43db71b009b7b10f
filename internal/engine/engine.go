// Package engine implements the allocation and risk engine. It consumes
// a serial stream of observations (rate updates, deposits, strategy
// on/off signals) and emits rebalance and push intents to the
// coordinator through an IntentSink. One event is fully handled before
// the next begins.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"yield-router/internal/domain"
	"yield-router/internal/idhash"
	"yield-router/internal/observability"
	"yield-router/internal/storage"
)

var (
	// ErrDuplicatePool is returned when registering an already known pool ID.
	ErrDuplicatePool = errors.New("pool id already registered")

	// ErrNoEligiblePools is returned when strategy activation finds no
	// pool with a positive score. The only hard failure in the
	// observation path; everything else is a defensive no-op.
	ErrNoEligiblePools = errors.New("no eligible pools for activation")
)

// IntentSink receives the engine's outbound intents. The coordinator is
// the production implementation.
type IntentSink interface {
	// Rebalance asks for amount to be recalled from src and, once
	// arrived, forwarded to dst.
	Rebalance(ctx context.Context, src, dst domain.PoolID, amount *uint256.Int) error

	// PushFunds asks for locally held capital to be deposited into pool.
	PushFunds(ctx context.Context, pool domain.PoolID, amount *uint256.Int, gasBudget uint64) error
}

// Params holds the engine's risk and rebalance tuning.
type Params struct {
	// HysteresisBuffer (Ray) is added to a pool's stop-loss rate to form
	// its reactivation rate, fixed at registration.
	HysteresisBuffer *uint256.Int

	// MinYieldDelta (Ray) is the minimum rate improvement required before
	// an opportunistic rebalance fires.
	MinYieldDelta *uint256.Int

	// MinLiquidityBuffer is the liquidity a pool must offer to be a
	// rebalance destination.
	MinLiquidityBuffer *uint256.Int

	// RebalanceFractionBps is the share of the worst pool's allocation
	// moved per opportunistic rebalance.
	RebalanceFractionBps uint64

	// CooldownMs is the minimum spacing between opportunistic rebalances.
	CooldownMs int64

	// PushGasBudget is forwarded with deposit instructions.
	PushGasBudget uint64
}

// DefaultParams returns conservative defaults: 0.5% hysteresis, 0.5%
// minimum yield delta, 20% rebalance fraction, 1h cooldown.
func DefaultParams() Params {
	return Params{
		HysteresisBuffer:     domain.RayBps(50),
		MinYieldDelta:        domain.RayBps(50),
		MinLiquidityBuffer:   uint256.NewInt(0),
		RebalanceFractionBps: 2_000,
		CooldownMs:           3_600_000,
		PushGasBudget:        200_000,
	}
}

// Options configures an Engine.
type Options struct {
	Params  Params
	Sink    IntentSink
	Journal storage.DecisionLogStore
	Logger  *log.Logger

	// Now overrides the wall clock in tests. Unix milliseconds.
	Now func() int64
}

type addrKey struct {
	dom  domain.DomainID
	addr domain.Address
}

// Engine is the owned aggregate of all engine state: pools, frozen
// weights, idle balance and the global strategy flag. Constructed once at
// deployment, process lifetime, no teardown.
type Engine struct {
	mu sync.Mutex

	params  Params
	sink    IntentSink
	journal storage.DecisionLogStore
	logger  *log.Logger
	now     func() int64

	pools  map[domain.PoolID]*domain.PoolState
	order  []domain.PoolID // registration order, fixes weight iteration
	byAddr map[addrKey]domain.PoolID

	strategyActive  bool
	weights         []weightEntry // frozen at activation, nil when inactive
	idle            *uint256.Int
	lastRebalanceMs int64

	seq uint64
}

// weightEntry is one pool's share of the frozen weight set, Ray-scaled.
type weightEntry struct {
	pool   domain.PoolID
	weight *uint256.Int
}

// New creates an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[engine] ", log.LstdFlags)
	}
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Engine{
		params:  opts.Params,
		sink:    opts.Sink,
		journal: opts.Journal,
		logger:  logger,
		now:     now,
		pools:   make(map[domain.PoolID]*domain.PoolState),
		byAddr:  make(map[addrKey]domain.PoolID),
		idle:    new(uint256.Int),
	}
}

// RegisterPool adds a pool to the engine's book. Fails on duplicate IDs;
// a pool registered with a rate already below its stop-loss starts
// deactivated.
func (e *Engine) RegisterPool(ctx context.Context, id domain.PoolID, dom domain.DomainID, poolAddr domain.Address,
	initialLiquidity, initialAllocation, initialRate, stopLossRate *uint256.Int) error {

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.pools[id]; exists {
		return ErrDuplicatePool
	}

	reactivation := new(uint256.Int).Add(stopLossRate, e.params.HysteresisBuffer)
	active := !initialRate.Lt(stopLossRate)

	e.pools[id] = &domain.PoolState{
		PoolID:             id,
		DomainID:           dom,
		PoolAddress:        poolAddr,
		CurrentRate:        initialRate.Clone(),
		LastUpdateTime:     e.now(),
		AvailableLiquidity: initialLiquidity.Clone(),
		Allocation:         initialAllocation.Clone(),
		IsActive:           active,
		StopLossRate:       stopLossRate.Clone(),
		ReactivationRate:   reactivation,
	}
	e.order = append(e.order, id)
	e.byAddr[addrKey{dom, poolAddr}] = id

	detail := ""
	if !active {
		detail = "deactivated at registration: rate below stop-loss"
	}
	e.appendLocked(ctx, domain.DecisionPoolRegistered, id, "", dom, initialAllocation.Dec(), detail)
	return nil
}

// HandleEvent dispatches one inbound observation. Events of an unknown
// kind are skipped.
func (e *Engine) HandleEvent(ctx context.Context, ev *domain.Event) error {
	switch ev.Kind {
	case domain.EventRateUpdated:
		e.observeRateUpdate(ctx, ev)
		return nil
	case domain.EventCapitalDeposited:
		e.observeCapitalDeposited(ctx, ev)
		return nil
	case domain.EventStrategyActivated:
		return e.observeStrategyActivated(ctx)
	case domain.EventStrategyDeactivated:
		e.observeStrategyDeactivated(ctx)
		return nil
	default:
		e.logger.Printf("skipping event of unknown kind %q", ev.Kind)
		return nil
	}
}

// observeRateUpdate refreshes one pool's rate and liquidity, applies the
// stop-loss / reactivation state machine, then considers an opportunistic
// rebalance.
func (e *Engine) observeRateUpdate(ctx context.Context, ev *domain.Event) {
	if ev.Rate == nil || ev.LiquidityIndex == nil {
		e.logger.Printf("skipping malformed rate update for %s on domain %d", ev.PoolAddress, ev.Domain)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id, known := e.byAddr[addrKey{ev.Domain, ev.PoolAddress}]
	if !known {
		// Routine: observations can race registration.
		return
	}
	p := e.pools[id]

	p.CurrentRate = ev.Rate.Clone()
	p.AvailableLiquidity = ev.LiquidityIndex.Clone()
	p.LastUpdateTime = e.eventTime(ev)
	observability.RecordRateUpdate()

	if p.IsActive && p.CurrentRate.Lt(p.StopLossRate) {
		p.IsActive = false
		e.appendLocked(ctx, domain.DecisionStopLossTriggered, id, "", p.DomainID, p.Allocation.Dec(),
			fmt.Sprintf("rate %s below stop-loss %s", p.CurrentRate.Dec(), p.StopLossRate.Dec()))
		observability.RecordStopLoss()
		e.emergencyExitLocked(ctx, p)
	} else if !p.IsActive && p.CurrentRate.Gt(p.ReactivationRate) {
		// Hysteresis: rates inside (stopLoss, stopLoss+buffer] stay off.
		p.IsActive = true
		e.appendLocked(ctx, domain.DecisionPoolReactivated, id, "", p.DomainID, "",
			fmt.Sprintf("rate %s above reactivation %s", p.CurrentRate.Dec(), p.ReactivationRate.Dec()))
	}

	if e.strategyActive && p.IsActive {
		e.opportunisticRebalanceLocked(ctx, e.eventTime(ev))
	}
}

// observeCapitalDeposited adds to the idle balance and, when the
// strategy is live with a frozen weight set, deploys it immediately.
func (e *Engine) observeCapitalDeposited(ctx context.Context, ev *domain.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.Amount == nil || ev.Amount.IsZero() {
		return
	}
	e.idle.Add(e.idle, ev.Amount)
	observability.SetIdleBalance(e.idle)

	if e.strategyActive && len(e.weights) > 0 {
		e.distributeIdleLocked(ctx)
	}
}

// observeStrategyDeactivated is authoritative and unconditional: it
// zeroes every allocation and discards the frozen weights without
// reconciling in-flight recalls.
func (e *Engine) observeStrategyDeactivated(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.strategyActive = false
	e.weights = nil
	for _, id := range e.order {
		e.pools[id].Allocation = new(uint256.Int)
	}
	e.appendLocked(ctx, domain.DecisionStrategyDeactivated, "", "", 0, "", "")
	observability.SetStrategyActive(false)
}

// StrategyActive reports the global strategy flag.
func (e *Engine) StrategyActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strategyActive
}

// IdleBalance returns the undeployed idle balance.
func (e *Engine) IdleBalance() *uint256.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idle.Clone()
}

// PoolSnapshot returns a copy of one pool's state.
func (e *Engine) PoolSnapshot(id domain.PoolID) (*domain.PoolState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, exists := e.pools[id]
	if !exists {
		return nil, false
	}
	snap := *p
	snap.CurrentRate = p.CurrentRate.Clone()
	snap.AvailableLiquidity = p.AvailableLiquidity.Clone()
	snap.Allocation = p.Allocation.Clone()
	snap.StopLossRate = p.StopLossRate.Clone()
	snap.ReactivationRate = p.ReactivationRate.Clone()
	return &snap, true
}

// ResolvePool maps a (domain, pool address) pair to its registered ID.
func (e *Engine) ResolvePool(dom domain.DomainID, addr domain.Address) (domain.PoolID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.byAddr[addrKey{dom, addr}]
	return id, ok
}

// PoolIDs returns all registered pool IDs in registration order.
func (e *Engine) PoolIDs() []domain.PoolID {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]domain.PoolID, len(e.order))
	copy(ids, e.order)
	return ids
}

func (e *Engine) eventTime(ev *domain.Event) int64 {
	if ev.Timestamp > 0 {
		return ev.Timestamp
	}
	return e.now()
}

// appendLocked journals one decision record. Journal failures are logged
// and never fail the observation path. Caller holds e.mu.
func (e *Engine) appendLocked(ctx context.Context, kind domain.DecisionKind, pool, counterparty domain.PoolID, dom domain.DomainID, amount, detail string) {
	e.seq++
	ts := e.now()
	rec := &domain.DecisionRecord{
		RecordID:     idhash.ComputeRecordID(string(kind), string(pool), string(counterparty), amount, ts, e.seq),
		Kind:         kind,
		PoolID:       pool,
		Counterparty: counterparty,
		Domain:       dom,
		Amount:       amount,
		Detail:       detail,
		Timestamp:    ts,
	}
	if err := e.journal.Append(ctx, rec); err != nil {
		e.logger.Printf("journal append %s failed: %v", kind, err)
	}
}
