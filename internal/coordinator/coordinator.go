// Package coordinator tracks in-flight cross-domain fund movements on the
// home domain. It issues the recall phase of a rebalance immediately and
// defers the push phase until the recalled capital observably arrives,
// so a push is never issued against capital that is merely expected.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"yield-router/internal/directory"
	"yield-router/internal/domain"
	"yield-router/internal/idhash"
	"yield-router/internal/observability"
	"yield-router/internal/relay"
	"yield-router/internal/storage"
)

var (
	// ErrStrategyInactive is returned when an intent is issued while the
	// coordinator is idle.
	ErrStrategyInactive = errors.New("strategy not active")

	// ErrSameSourceDest is returned for a rebalance intent whose source
	// and destination are the same pool.
	ErrSameSourceDest = errors.New("rebalance source equals destination")

	// ErrInvalidProvenance is returned when an arrival's sender is not a
	// registered executor for the reported domain.
	ErrInvalidProvenance = errors.New("arrival sender is not a registered executor")

	// ErrUnexpectedEnvelope is returned when a non-return envelope reaches
	// the arrival handler.
	ErrUnexpectedEnvelope = errors.New("unexpected envelope kind")
)

// Options configures a Coordinator.
type Options struct {
	Directory directory.Directory
	Relay     relay.Relay
	Journal   storage.DecisionLogStore

	// HomeDomain is the domain this coordinator lives on; HomeAddress is
	// the sender stamped on its outbound envelopes.
	HomeDomain  domain.DomainID
	HomeAddress domain.Address

	Logger *log.Logger

	// Now overrides the wall clock in tests. Unix milliseconds.
	Now func() int64
}

// Coordinator owns the pending-rebalance map and the remote-balance
// ledger. All operations run to completion before the next begins.
type Coordinator struct {
	mu sync.Mutex

	dir      directory.Directory
	relay    relay.Relay
	journal  storage.DecisionLogStore
	home     domain.DomainID
	homeAddr domain.Address
	logger   *log.Logger
	now      func() int64

	active bool

	// pending maps source pool to the destination owed its recalled
	// capital. At most one outstanding destination per source;
	// a newer intent overwrites the older one (last-intent-wins).
	pending map[domain.PoolID]domain.PoolID

	ledger *RemoteLedger

	seq uint64
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[coordinator] ", log.LstdFlags)
	}
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Coordinator{
		dir:      opts.Directory,
		relay:    opts.Relay,
		journal:  opts.Journal,
		home:     opts.HomeDomain,
		homeAddr: opts.HomeAddress,
		logger:   logger,
		now:      now,
		pending:  make(map[domain.PoolID]domain.PoolID),
		ledger:   NewRemoteLedger(),
	}
}

// Activate marks the strategy live so intents are accepted.
func (c *Coordinator) Activate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = true
}

// Deactivate marks the strategy idle without recalling anything. Used to
// roll back an activation that failed downstream; orderly shutdown goes
// through DeactivateAll.
func (c *Coordinator) Deactivate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
}

// Active reports whether the strategy is live.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Ledger exposes the remote-balance ledger (read-side).
func (c *Coordinator) Ledger() *RemoteLedger {
	return c.ledger
}

// PendingDestination returns the destination currently owed capital
// recalled from src, if any.
func (c *Coordinator) PendingDestination(src domain.PoolID) (domain.PoolID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	dst, ok := c.pending[src]
	return dst, ok
}

// Rebalance records the pending destination for src and sends the recall
// (withdraw) instruction to the source domain's executor. No local
// accounting moves yet: the funds are not in hand.
func (c *Coordinator) Rebalance(ctx context.Context, src, dst domain.PoolID, amount *uint256.Int) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return ErrStrategyInactive
	}
	if src == dst {
		c.mu.Unlock()
		return ErrSameSourceDest
	}
	prev, existed := c.pending[src]
	if existed {
		c.logger.Printf("pending rebalance %s -> %s overwritten by new destination %s", src, prev, dst)
		c.appendLocked(ctx, domain.DecisionPendingOverwritten, src, prev, 0, "", fmt.Sprintf("new destination %s", dst))
		observability.RecordPendingOverwrite()
	}
	// Recorded before the send: the arrival may be observed at any point
	// after the recall leaves, including before Send returns.
	c.pending[src] = dst
	c.mu.Unlock()

	if err := c.sendRecall(ctx, src, amount); err != nil {
		// A failed send must not leave a dangling destination. The entry
		// is restored only if the arrival has not already consumed it.
		c.mu.Lock()
		if cur, ok := c.pending[src]; ok && cur == dst {
			if existed {
				c.pending[src] = prev
			} else {
				delete(c.pending, src)
			}
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.appendLocked(ctx, domain.DecisionFundsRecalled, src, dst, c.home, amountString(amount), "rebalance recall")
	c.mu.Unlock()
	observability.RecordRecall()
	return nil
}

// PushFunds sends a deposit instruction plus the underlying asset to the
// pool's executor and credits the domain's remote balance.
func (c *Coordinator) PushFunds(ctx context.Context, pool domain.PoolID, amount *uint256.Int, gasBudget uint64) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return ErrStrategyInactive
	}
	c.mu.Unlock()

	return c.push(ctx, pool, amount, gasBudget, "direct push")
}

// OnCapitalArrived settles a confirmed return transfer. The ledger update
// always happens, even after strategy deactivation: recalled capital must
// be accounted for whether or not the strategy is still running. If the
// resolved source pool has a pending destination, the arrived amount is
// forwarded to it immediately; this capital is locally held, so the push
// is safe.
func (c *Coordinator) OnCapitalArrived(ctx context.Context, env *relay.Envelope) error {
	if env.Kind != relay.KindReturn {
		return fmt.Errorf("%w: %s", ErrUnexpectedEnvelope, env.Kind)
	}
	if !c.dir.IsValidExecutor(env.SourceDomain, env.Sender) {
		observability.RecordRejectedArrival()
		return fmt.Errorf("%w: domain %d sender %s", ErrInvalidProvenance, env.SourceDomain, env.Sender)
	}

	amount := env.Funds
	if amount == nil {
		amount = new(uint256.Int)
	}

	removed := c.ledger.Debit(env.SourceDomain, amount)
	observability.RecordArrival()
	observability.SetRemoteTotal(c.ledger.Total())

	c.mu.Lock()
	c.appendLocked(ctx, domain.DecisionFundsReceived, "", "", env.SourceDomain, amountString(amount),
		fmt.Sprintf("ledger debit %s", removed.Dec()))

	srcPool, resolved := c.dir.PoolByExecutor(env.SourceDomain, env.Sender)
	if !resolved {
		c.mu.Unlock()
		return nil
	}

	dst, hasPending := c.pending[srcPool]
	if !hasPending {
		c.mu.Unlock()
		return nil
	}
	delete(c.pending, srcPool)
	c.mu.Unlock()

	// Auto-forward the full arrived amount to the owed destination.
	return c.push(ctx, dst, amount, 0, fmt.Sprintf("auto-forward from %s", srcPool))
}

// DeactivateAll issues a maximum-amount recall for every known pool,
// fire-and-forget, then marks the strategy idle. Recalls issued here have
// no push destination: the capital is meant to come home and stay.
func (c *Coordinator) DeactivateAll(ctx context.Context, gasBudget uint64) {
	for _, id := range c.dir.AllIDs() {
		if err := c.sendRecall(ctx, id, domain.AmountMax); err != nil {
			c.logger.Printf("recall %s failed: %v", id, err)
			continue
		}
		c.mu.Lock()
		c.appendLocked(ctx, domain.DecisionFundsRecalled, id, "", c.home, "max", "shutdown recall")
		c.mu.Unlock()
		observability.RecordRecall()
	}

	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

// sendRecall sends a withdraw instruction to the pool's executor.
func (c *Coordinator) sendRecall(ctx context.Context, pool domain.PoolID, amount *uint256.Int) error {
	cfg, err := c.dir.GetConfig(pool)
	if err != nil {
		return fmt.Errorf("recall %s: %w", pool, err)
	}

	env := &relay.Envelope{
		TransferID:   idhash.ComputeTransferID(uint64(cfg.DomainID), string(cfg.Executor), amountString(amount), c.now()),
		Kind:         relay.KindInstruction,
		SourceDomain: c.home,
		DestDomain:   cfg.DomainID,
		Sender:       c.homeAddr,
		Instruction: &domain.Instruction{
			Adapter: cfg.Adapter,
			Action:  domain.ActionWithdraw,
			Amount:  amount.Clone(),
		},
	}
	if err := c.relay.Send(ctx, env); err != nil {
		observability.RecordRelaySendFailure("recall")
		return fmt.Errorf("send recall for %s: %w", pool, err)
	}
	return nil
}

// push sends a deposit instruction with funds and credits the ledger.
func (c *Coordinator) push(ctx context.Context, pool domain.PoolID, amount *uint256.Int, gasBudget uint64, detail string) error {
	cfg, err := c.dir.GetConfig(pool)
	if err != nil {
		return fmt.Errorf("push to %s: %w", pool, err)
	}

	env := &relay.Envelope{
		TransferID:   idhash.ComputeTransferID(uint64(cfg.DomainID), string(cfg.Executor), amountString(amount), c.now()),
		Kind:         relay.KindInstruction,
		SourceDomain: c.home,
		DestDomain:   cfg.DomainID,
		Sender:       c.homeAddr,
		GasBudget:    gasBudget,
		Instruction: &domain.Instruction{
			Adapter: cfg.Adapter,
			Action:  domain.ActionDeposit,
			Amount:  amount.Clone(),
		},
		Funds: amount.Clone(),
	}
	if err := c.relay.Send(ctx, env); err != nil {
		observability.RecordRelaySendFailure("push")
		return fmt.Errorf("send push to %s: %w", pool, err)
	}

	c.ledger.Credit(cfg.DomainID, amount)
	observability.RecordPush()
	observability.SetRemoteTotal(c.ledger.Total())

	c.mu.Lock()
	c.appendLocked(ctx, domain.DecisionFundsPushed, pool, "", cfg.DomainID, amountString(amount), detail)
	c.mu.Unlock()
	return nil
}

// appendLocked journals one decision record. Journal failures are logged
// and do not fail the settlement path. Caller holds c.mu.
func (c *Coordinator) appendLocked(ctx context.Context, kind domain.DecisionKind, pool, counterparty domain.PoolID, dom domain.DomainID, amount, detail string) {
	c.seq++
	ts := c.now()
	rec := &domain.DecisionRecord{
		RecordID:     idhash.ComputeRecordID(string(kind), string(pool), string(counterparty), amount, ts, c.seq),
		Kind:         kind,
		PoolID:       pool,
		Counterparty: counterparty,
		Domain:       dom,
		Amount:       amount,
		Detail:       detail,
		Timestamp:    ts,
	}
	if err := c.journal.Append(ctx, rec); err != nil {
		c.logger.Printf("journal append %s failed: %v", kind, err)
	}
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	if domain.IsMaxAmount(v) {
		return "max"
	}
	return v.Dec()
}
