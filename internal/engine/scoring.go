package engine

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"yield-router/internal/domain"
	"yield-router/internal/observability"
)

// observeStrategyActivated scores every active pool, freezes the weight
// set and deploys the idle balance. Activating an already active
// strategy is a no-op. Weights stay frozen until the next deactivation
// cycle regardless of later rate or liquidity changes.
func (e *Engine) observeStrategyActivated(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.strategyActive {
		return nil
	}

	type scored struct {
		pool  domain.PoolID
		score *uint256.Int
	}
	var eligible []scored
	totalScore := new(uint256.Int)
	for _, id := range e.order {
		p := e.pools[id]
		if !p.IsActive {
			continue
		}
		score := domain.RayMul(p.CurrentRate, p.AvailableLiquidity)
		if score.IsZero() {
			continue
		}
		eligible = append(eligible, scored{id, score})
		totalScore.Add(totalScore, score)
	}
	if len(eligible) == 0 {
		return ErrNoEligiblePools
	}

	e.weights = make([]weightEntry, 0, len(eligible))
	for _, s := range eligible {
		e.weights = append(e.weights, weightEntry{
			pool:   s.pool,
			weight: domain.RayDiv(s.score, totalScore),
		})
	}
	e.strategyActive = true
	e.appendLocked(ctx, domain.DecisionStrategyActivated, "", "", 0, "",
		fmt.Sprintf("%d eligible pools", len(eligible)))
	observability.SetStrategyActive(true)

	if !e.idle.IsZero() {
		e.distributeIdleLocked(ctx)
	}
	return nil
}

// distributeIdleLocked splits the idle balance across the frozen weight
// set. Every pool but the last gets idle*weight/Ray; the last gets the
// exact remainder so the pre-cap shares always sum to the idle balance.
// Each share is then capped at the pool's available liquidity, and a
// capped shortfall stays idle rather than being redistributed.
// Caller holds e.mu.
func (e *Engine) distributeIdleLocked(ctx context.Context) {
	if e.idle.IsZero() || len(e.weights) == 0 {
		return
	}

	total := e.idle.Clone()
	allotted := new(uint256.Int) // pre-cap running sum
	pushed := new(uint256.Int)

	for i, w := range e.weights {
		var share *uint256.Int
		if i == len(e.weights)-1 {
			share = new(uint256.Int).Sub(total, allotted)
		} else {
			share = domain.RayMul(total, w.weight)
		}
		allotted.Add(allotted, share)

		p := e.pools[w.pool]
		share = domain.MinAmount(share, p.AvailableLiquidity)
		if share.IsZero() {
			continue
		}

		if err := e.sink.PushFunds(ctx, w.pool, share, e.params.PushGasBudget); err != nil {
			e.logger.Printf("push of %s to %s failed: %v", share.Dec(), w.pool, err)
			continue
		}
		p.Allocation = new(uint256.Int).Add(p.Allocation, share)
		pushed.Add(pushed, share)
	}

	e.idle.Sub(e.idle, pushed)
	observability.SetIdleBalance(e.idle)
}

// emergencyExitLocked moves a stop-lossed pool's full allocation to the
// best remaining pool, bypassing the cooldown. With no viable
// destination the allocation stays where it is and is reported as
// stranded. Caller holds e.mu.
func (e *Engine) emergencyExitLocked(ctx context.Context, failing *domain.PoolState) {
	if failing.Allocation.IsZero() {
		return
	}

	best := e.bestDestinationLocked(failing.PoolID)
	if best == nil {
		e.appendLocked(ctx, domain.DecisionAllocationStranded, failing.PoolID, "", failing.DomainID,
			failing.Allocation.Dec(), "no eligible destination")
		observability.RecordStranded()
		return
	}

	amount := failing.Allocation.Clone()
	if err := e.sink.Rebalance(ctx, failing.PoolID, best.PoolID, amount); err != nil {
		e.logger.Printf("emergency rebalance %s -> %s failed: %v", failing.PoolID, best.PoolID, err)
		e.appendLocked(ctx, domain.DecisionAllocationStranded, failing.PoolID, "", failing.DomainID,
			amount.Dec(), "rebalance intent rejected")
		observability.RecordStranded()
		return
	}

	best.Allocation = new(uint256.Int).Add(best.Allocation, amount)
	failing.Allocation = new(uint256.Int)
	e.appendLocked(ctx, domain.DecisionEmergencyRebalance, failing.PoolID, best.PoolID, failing.DomainID,
		amount.Dec(), "")
	observability.RecordEmergencyRebalance()
}

// opportunisticRebalanceLocked moves a fraction of the worst pool's
// allocation to the best pool when the yield spread clears the minimum
// delta and the cooldown has elapsed. Caller holds e.mu.
func (e *Engine) opportunisticRebalanceLocked(ctx context.Context, nowMs int64) {
	if nowMs < e.lastRebalanceMs+e.params.CooldownMs {
		return
	}

	best := e.bestDestinationLocked("")
	worst := e.worstFundedLocked()
	if best == nil || worst == nil || best.PoolID == worst.PoolID {
		return
	}

	// Rebalance only when bestRate > worstRate + minYieldDelta.
	threshold := new(uint256.Int).Add(worst.CurrentRate, e.params.MinYieldDelta)
	if !best.CurrentRate.Gt(threshold) {
		return
	}

	amount := domain.MinAmount(
		domain.BpsOf(worst.Allocation, e.params.RebalanceFractionBps),
		best.AvailableLiquidity,
	)
	if amount.IsZero() {
		return
	}

	if err := e.sink.Rebalance(ctx, worst.PoolID, best.PoolID, amount); err != nil {
		e.logger.Printf("rebalance %s -> %s failed: %v", worst.PoolID, best.PoolID, err)
		return
	}

	worst.Allocation = new(uint256.Int).Sub(worst.Allocation, amount)
	best.Allocation = new(uint256.Int).Add(best.Allocation, amount)
	e.lastRebalanceMs = nowMs
	e.appendLocked(ctx, domain.DecisionRebalanceScheduled, worst.PoolID, best.PoolID, worst.DomainID,
		amount.Dec(), fmt.Sprintf("spread %s over %s", best.CurrentRate.Dec(), worst.CurrentRate.Dec()))
	observability.RecordRebalance()
}

// bestDestinationLocked returns the active pool with the highest rate
// that offers at least the minimum liquidity buffer, excluding skip.
// Ties go to the earlier-registered pool. Caller holds e.mu.
func (e *Engine) bestDestinationLocked(skip domain.PoolID) *domain.PoolState {
	var best *domain.PoolState
	for _, id := range e.order {
		if id == skip {
			continue
		}
		p := e.pools[id]
		if !p.IsActive || p.AvailableLiquidity.Lt(e.params.MinLiquidityBuffer) {
			continue
		}
		if best == nil || p.CurrentRate.Gt(best.CurrentRate) {
			best = p
		}
	}
	return best
}

// worstFundedLocked returns the active pool with the lowest rate among
// those holding a nonzero allocation. Caller holds e.mu.
func (e *Engine) worstFundedLocked() *domain.PoolState {
	var worst *domain.PoolState
	for _, id := range e.order {
		p := e.pools[id]
		if !p.IsActive || p.Allocation.IsZero() {
			continue
		}
		if worst == nil || p.CurrentRate.Lt(worst.CurrentRate) {
			worst = p
		}
	}
	return worst
}
