package executor

import (
	"sync"

	"github.com/holiman/uint256"

	"yield-router/internal/domain"
)

// YieldAdapter abstracts the pool-specific deposit/withdraw surface an
// executor drives on its domain.
type YieldAdapter interface {
	// Deposit moves amount into the pool.
	Deposit(amount *uint256.Int) error

	// Withdraw removes up to amount from the pool and returns what was
	// actually withdrawn. Withdrawing more than the balance drains it.
	Withdraw(amount *uint256.Int) (*uint256.Int, error)

	// Balance returns the current position held in the pool.
	Balance() *uint256.Int
}

// VaultAdapter is a value-store YieldAdapter backed by a single balance.
// Used by the simulator and tests in place of a real pool integration.
type VaultAdapter struct {
	mu      sync.Mutex
	balance *uint256.Int
}

// NewVaultAdapter creates a vault with a zero balance.
func NewVaultAdapter() *VaultAdapter {
	return &VaultAdapter{balance: new(uint256.Int)}
}

// Deposit adds amount to the vault balance.
func (v *VaultAdapter) Deposit(amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance.Add(v.balance, amount)
	return nil
}

// Withdraw removes up to amount and returns what was removed.
func (v *VaultAdapter) Withdraw(amount *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := domain.MinAmount(amount, v.balance)
	v.balance.Sub(v.balance, out)
	return out, nil
}

// Balance returns the current vault balance.
func (v *VaultAdapter) Balance() *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balance.Clone()
}

// Accrue adds simulated yield to the vault balance.
func (v *VaultAdapter) Accrue(amount *uint256.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balance.Add(v.balance, amount)
}

// Verify interface compliance at compile time.
var _ YieldAdapter = (*VaultAdapter)(nil)
