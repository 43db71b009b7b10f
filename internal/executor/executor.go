// Package executor implements the remote-domain side of the settlement
// loop: it applies deposit and withdraw instructions to a pool adapter
// and originates the return transfers that carry recalled capital home.
package executor

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
	"yield-router/internal/relay"
)

var (
	// ErrUnauthorizedSender is returned when an instruction does not come
	// from the home coordinator.
	ErrUnauthorizedSender = errors.New("instruction sender is not the home coordinator")

	// ErrUnknownAdapter is returned when the instruction targets an
	// adapter this executor does not manage.
	ErrUnknownAdapter = errors.New("unknown adapter address")

	// ErrUnexpectedKind is returned for non-instruction envelopes.
	ErrUnexpectedKind = errors.New("unexpected envelope kind")
)

// Options configures an Executor.
type Options struct {
	// Domain and Address identify this executor on its chain; Address is
	// the sender stamped on return transfers and checked as provenance by
	// the coordinator.
	Domain  domain.DomainID
	Address domain.Address

	// HomeDomain and HomeAddress identify the coordinator that is allowed
	// to instruct this executor and that receives returned capital.
	HomeDomain  domain.DomainID
	HomeAddress domain.Address

	Relay  relay.Relay
	Logger *log.Logger

	// Now overrides the wall clock in tests. Unix milliseconds.
	Now func() int64
}

// Executor applies instructions to the adapters it manages, one envelope
// at a time. Delivery is at-least-once, so a duplicated withdraw finds a
// drained adapter and returns a zero-value transfer rather than failing.
type Executor struct {
	mu sync.Mutex

	dom      domain.DomainID
	addr     domain.Address
	home     domain.DomainID
	homeAddr domain.Address
	relay    relay.Relay
	logger   *log.Logger
	now      func() int64

	adapters map[domain.Address]YieldAdapter
}

// New creates an Executor.
func New(opts Options) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[executor] ", log.LstdFlags)
	}
	now := opts.Now
	if now == nil {
		now = func() int64 { return time.Now().UnixMilli() }
	}
	return &Executor{
		dom:      opts.Domain,
		addr:     opts.Address,
		home:     opts.HomeDomain,
		homeAddr: opts.HomeAddress,
		relay:    opts.Relay,
		logger:   logger,
		now:      now,
		adapters: make(map[domain.Address]YieldAdapter),
	}
}

// Manage binds an adapter address to its implementation.
func (e *Executor) Manage(addr domain.Address, adapter YieldAdapter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adapters[addr] = adapter
}

// AdapterBalance returns the managed adapter's balance, for inspection.
func (e *Executor) AdapterBalance(addr domain.Address) (*uint256.Int, bool) {
	e.mu.Lock()
	adapter, ok := e.adapters[addr]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	return adapter.Balance(), true
}

// HandleEnvelope processes one delivered instruction. Registered as the
// relay handler for this executor's domain.
func (e *Executor) HandleEnvelope(ctx context.Context, env *relay.Envelope) error {
	if env.Kind != relay.KindInstruction || env.Instruction == nil {
		return fmt.Errorf("%w: %s", ErrUnexpectedKind, env.Kind)
	}
	if env.Sender != e.homeAddr || env.SourceDomain != e.home {
		return fmt.Errorf("%w: domain %d sender %s", ErrUnauthorizedSender, env.SourceDomain, env.Sender)
	}

	e.mu.Lock()
	adapter, ok := e.adapters[env.Instruction.Adapter]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAdapter, env.Instruction.Adapter)
	}

	switch env.Instruction.Action {
	case domain.ActionDeposit:
		return e.deposit(adapter, env)
	case domain.ActionWithdraw:
		return e.withdraw(ctx, adapter, env)
	default:
		return fmt.Errorf("unknown instruction action %q", env.Instruction.Action)
	}
}

func (e *Executor) deposit(adapter YieldAdapter, env *relay.Envelope) error {
	amount := env.Funds
	if amount == nil || amount.IsZero() {
		return nil
	}
	if err := adapter.Deposit(amount); err != nil {
		return fmt.Errorf("deposit %s into %s: %w", amount.Dec(), env.Instruction.Adapter, err)
	}
	e.logger.Printf("deposited %s into %s (transfer %s)", amount.Dec(), env.Instruction.Adapter, env.TransferID)
	return nil
}

// withdraw pulls funds from the adapter and originates the return
// transfer. The reported amount is what was actually withdrawn, which
// the coordinator uses to reconcile its remote ledger.
func (e *Executor) withdraw(ctx context.Context, adapter YieldAdapter, env *relay.Envelope) error {
	requested := env.Instruction.Amount
	if requested == nil {
		requested = new(uint256.Int)
	}

	withdrawn, err := adapter.Withdraw(requested)
	if err != nil {
		return fmt.Errorf("withdraw %s from %s: %w", requested.Dec(), env.Instruction.Adapter, err)
	}

	ret := &relay.Envelope{
		TransferID:   idhash.ComputeTransferID(uint64(e.dom), string(e.addr), withdrawn.Dec(), e.now()),
		Kind:         relay.KindReturn,
		SourceDomain: e.dom,
		DestDomain:   e.home,
		Sender:       e.addr,
		Funds:        withdrawn,
	}
	if err := e.relay.Send(ctx, ret); err != nil {
		return fmt.Errorf("send return of %s: %w", withdrawn.Dec(), err)
	}
	e.logger.Printf("returned %s home from %s (transfer %s)", withdrawn.Dec(), env.Instruction.Adapter, ret.TransferID)
	return nil
}
