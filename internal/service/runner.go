// Package service wires the observation stream to the engine and
// coordinator. The runner consumes one event at a time, so every event
// is fully applied before the next is looked at.
package service

import (
	"context"
	"errors"
	"log"
	"os"

	"yield-router/internal/coordinator"
	"yield-router/internal/domain"
	"yield-router/internal/engine"
	"yield-router/internal/storage"
)

// Options configures a Runner.
type Options struct {
	Engine      *engine.Engine
	Coordinator *coordinator.Coordinator

	// Observations, when set, receives every rate update for the
	// timeseries history. Persistence is best-effort and never blocks
	// the decision path.
	Observations storage.RateObservationStore

	// RecallGasBudget is forwarded with shutdown recalls.
	RecallGasBudget uint64

	Logger *log.Logger
}

// Runner drives the event loop.
type Runner struct {
	engine *engine.Engine
	coord  *coordinator.Coordinator
	obs    storage.RateObservationStore
	gas    uint64
	logger *log.Logger
}

// New creates a Runner.
func New(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[service] ", log.LstdFlags)
	}
	return &Runner{
		engine: opts.Engine,
		coord:  opts.Coordinator,
		obs:    opts.Observations,
		gas:    opts.RecallGasBudget,
		logger: logger,
	}
}

// Run consumes events until the channel closes or the context ends.
func (r *Runner) Run(ctx context.Context, events <-chan *domain.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.Handle(ctx, ev)
		}
	}
}

// Handle applies one event end to end.
func (r *Runner) Handle(ctx context.Context, ev *domain.Event) {
	switch ev.Kind {
	case domain.EventRateUpdated:
		r.recordObservation(ctx, ev)
		if err := r.engine.HandleEvent(ctx, ev); err != nil {
			r.logger.Printf("rate update failed: %v", err)
		}

	case domain.EventCapitalDeposited:
		if err := r.engine.HandleEvent(ctx, ev); err != nil {
			r.logger.Printf("deposit failed: %v", err)
		}

	case domain.EventStrategyActivated:
		// The coordinator goes live first so the engine's distribution
		// pushes are accepted.
		r.coord.Activate()
		if err := r.engine.HandleEvent(ctx, ev); err != nil {
			if errors.Is(err, engine.ErrNoEligiblePools) {
				r.coord.Deactivate()
			}
			r.logger.Printf("activation failed: %v", err)
		}

	case domain.EventStrategyDeactivated:
		// The engine zeroes its book, then every pool is recalled.
		if err := r.engine.HandleEvent(ctx, ev); err != nil {
			r.logger.Printf("deactivation failed: %v", err)
		}
		r.coord.DeactivateAll(ctx, r.gas)

	default:
		r.logger.Printf("skipping event of unknown kind %q", ev.Kind)
	}
}

// recordObservation persists one rate point for the timeseries history.
func (r *Runner) recordObservation(ctx context.Context, ev *domain.Event) {
	if r.obs == nil {
		return
	}
	poolID, known := r.engine.ResolvePool(ev.Domain, ev.PoolAddress)
	if !known {
		return
	}
	point := &domain.RateObservation{
		PoolID:      poolID,
		Domain:      ev.Domain,
		TimestampMs: ev.Timestamp,
		Rate:        ev.Rate.Dec(),
		Liquidity:   ev.LiquidityIndex.Dec(),
	}
	if err := r.obs.InsertBulk(ctx, []*domain.RateObservation{point}); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		r.logger.Printf("observation insert failed: %v", err)
	}
}
