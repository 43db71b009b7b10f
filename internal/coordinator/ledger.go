package coordinator

import (
	"sync"

	"github.com/holiman/uint256"

	"yield-router/internal/domain"
)

// RemoteLedger is the coordinator's optimistic belief of how much capital
// sits on each remote domain, plus the aggregate across all of them.
// Pushes credit it; confirmed arrivals debit it, floored at zero.
type RemoteLedger struct {
	mu       sync.Mutex
	balances map[domain.DomainID]*uint256.Int
	total    *uint256.Int
}

// NewRemoteLedger creates an empty ledger.
func NewRemoteLedger() *RemoteLedger {
	return &RemoteLedger{
		balances: make(map[domain.DomainID]*uint256.Int),
		total:    new(uint256.Int),
	}
}

// Credit records capital pushed to a domain.
func (l *RemoteLedger) Credit(dom domain.DomainID, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, exists := l.balances[dom]
	if !exists {
		bal = new(uint256.Int)
		l.balances[dom] = bal
	}
	bal.Add(bal, amount)
	l.total.Add(l.total, amount)
}

// Debit records capital that arrived home from a domain and returns the
// amount actually removed from the ledger. An arrival reporting more than
// the tracked balance means "at least fully reconciled": the entry floors
// at zero and never underflows, even under double delivery.
func (l *RemoteLedger) Debit(dom domain.DomainID, amount *uint256.Int) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, exists := l.balances[dom]
	if !exists {
		return new(uint256.Int)
	}

	removed := amount.Clone()
	if bal.Lt(removed) {
		removed.Set(bal)
	}
	bal.Sub(bal, removed)
	l.total.Sub(l.total, removed)
	return removed
}

// Balance returns the tracked balance for a domain.
func (l *RemoteLedger) Balance(dom domain.DomainID) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal, exists := l.balances[dom]
	if !exists {
		return new(uint256.Int)
	}
	return bal.Clone()
}

// Total returns the aggregate tracked across all domains, used for global
// total managed assets.
func (l *RemoteLedger) Total() *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total.Clone()
}
