// Package relay models the cross-domain message transport consumed by the
// coordinator and executors. Delivery is at-least-once and unordered;
// the only synchronous failure a sender can observe is an unpaid fee.
package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"yield-router/internal/domain"
)

var (
	// ErrInsufficientFee is returned when the sending domain's native
	// balance cannot cover the per-message fee. Hard failure, not retried.
	ErrInsufficientFee = errors.New("insufficient native balance for relay fee")

	// ErrNoRoute is returned when no handler is registered for the
	// destination domain.
	ErrNoRoute = errors.New("no route to destination domain")
)

// EnvelopeKind discriminates the two message shapes on the wire.
type EnvelopeKind string

const (
	// KindInstruction carries a deposit/withdraw instruction to a remote
	// executor. DEPOSIT envelopes also carry Funds.
	KindInstruction EnvelopeKind = "INSTRUCTION"

	// KindReturn carries recalled funds home plus the reported amount.
	KindReturn EnvelopeKind = "RETURN"
)

// Envelope is one opaque cross-domain message.
type Envelope struct {
	TransferID   string          `json:"transfer_id"`
	Kind         EnvelopeKind    `json:"kind"`
	SourceDomain domain.DomainID `json:"source_domain"`
	DestDomain   domain.DomainID `json:"dest_domain"`
	Sender       domain.Address  `json:"sender"`

	// GasBudget is the execution budget forwarded with an instruction.
	GasBudget uint64 `json:"gas_budget,omitempty"`

	// Instruction is set for KindInstruction envelopes.
	Instruction *domain.Instruction `json:"instruction,omitempty"`

	// Funds is the asset value moved with the message: the deposit amount
	// for DEPOSIT instructions, the returned amount for KindReturn.
	Funds *uint256.Int `json:"funds,omitempty"`
}

// Relay sends envelopes between domains, fire-and-forget.
type Relay interface {
	// Send queues env for at-least-once delivery and charges the sending
	// domain's fee balance. A successful return says nothing about
	// delivery; a lost message is undetectable by design.
	Send(ctx context.Context, env *Envelope) error
}

// FeeVault tracks pre-funded native balances per domain and charges a
// flat per-message fee.
type FeeVault struct {
	mu       sync.Mutex
	fee      *uint256.Int
	balances map[domain.DomainID]*uint256.Int
}

// NewFeeVault creates a vault charging fee per message.
func NewFeeVault(fee *uint256.Int) *FeeVault {
	return &FeeVault{
		fee:      fee.Clone(),
		balances: make(map[domain.DomainID]*uint256.Int),
	}
}

// Fund adds native balance for a domain.
func (v *FeeVault) Fund(dom domain.DomainID, amount *uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	bal, exists := v.balances[dom]
	if !exists {
		bal = new(uint256.Int)
		v.balances[dom] = bal
	}
	bal.Add(bal, amount)
}

// Charge deducts one message fee from the domain's balance.
// Returns ErrInsufficientFee without any deduction if it cannot pay.
func (v *FeeVault) Charge(dom domain.DomainID) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	bal, exists := v.balances[dom]
	if !exists || bal.Lt(v.fee) {
		return ErrInsufficientFee
	}
	bal.Sub(bal, v.fee)
	return nil
}

// Balance returns the current native balance for a domain.
func (v *FeeVault) Balance(dom domain.DomainID) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()

	bal, exists := v.balances[dom]
	if !exists {
		return new(uint256.Int)
	}
	return bal.Clone()
}
