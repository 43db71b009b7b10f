// Package directory holds the authoritative pool directory: the mapping
// from pool ID to domain, executor and adapter addresses. The engine and
// coordinator consume it read-only; only the administrative manager
// mutates it.
package directory

import (
	"errors"
	"sync"

	"yield-router/internal/domain"
)

var (
	// ErrDuplicatePool is returned when registering an already known pool ID.
	ErrDuplicatePool = errors.New("pool id already registered")

	// ErrUnknownPool is returned when a pool ID is not in the directory.
	ErrUnknownPool = errors.New("unknown pool id")

	// ErrInvalidAddress is returned for addresses that are not canonical
	// base58-encoded ed25519 public keys.
	ErrInvalidAddress = errors.New("invalid executor address")
)

// Directory is the read-only view consumed by the engine and coordinator.
// Implementations are eventually consistent; callers never cache more than
// current-call data.
type Directory interface {
	// GetConfig returns the directory record for a pool.
	// Returns ErrUnknownPool if the pool is not registered.
	GetConfig(poolID domain.PoolID) (*domain.PoolConfig, error)

	// AllIDs returns all registered pool IDs in registration order.
	AllIDs() []domain.PoolID

	// IsValidExecutor reports whether addr is a registered executor for
	// the given domain.
	IsValidExecutor(dom domain.DomainID, addr domain.Address) bool

	// PoolByExecutor resolves the pool served by an executor on a domain.
	PoolByExecutor(dom domain.DomainID, addr domain.Address) (domain.PoolID, bool)
}

// Manager is the in-memory administrative implementation of Directory.
type Manager struct {
	mu    sync.RWMutex
	pools map[domain.PoolID]*domain.PoolConfig
	order []domain.PoolID

	// executors maps domain -> executor address set
	executors map[domain.DomainID]map[domain.Address]struct{}
}

// NewManager creates an empty directory manager.
func NewManager() *Manager {
	return &Manager{
		pools:     make(map[domain.PoolID]*domain.PoolConfig),
		executors: make(map[domain.DomainID]map[domain.Address]struct{}),
	}
}

// Register adds a pool record. The executor address must be a canonical
// ed25519 public key; returns ErrDuplicatePool if the ID exists.
func (m *Manager) Register(cfg domain.PoolConfig) error {
	if err := ValidateAddress(cfg.Executor); err != nil {
		return err
	}
	if err := ValidateAddress(cfg.Adapter); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pools[cfg.PoolID]; exists {
		return ErrDuplicatePool
	}

	cfgCopy := cfg
	m.pools[cfg.PoolID] = &cfgCopy
	m.order = append(m.order, cfg.PoolID)

	if m.executors[cfg.DomainID] == nil {
		m.executors[cfg.DomainID] = make(map[domain.Address]struct{})
	}
	m.executors[cfg.DomainID][cfg.Executor] = struct{}{}

	return nil
}

// SetActive flips the directory active flag for a pool.
func (m *Manager) SetActive(poolID domain.PoolID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, exists := m.pools[poolID]
	if !exists {
		return ErrUnknownPool
	}
	cfg.Active = active
	return nil
}

// GetConfig returns a copy of the directory record for a pool.
func (m *Manager) GetConfig(poolID domain.PoolID) (*domain.PoolConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, exists := m.pools[poolID]
	if !exists {
		return nil, ErrUnknownPool
	}

	cfgCopy := *cfg
	return &cfgCopy, nil
}

// AllIDs returns all registered pool IDs in registration order.
func (m *Manager) AllIDs() []domain.PoolID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]domain.PoolID, len(m.order))
	copy(ids, m.order)
	return ids
}

// IsValidExecutor reports whether addr is a registered executor for dom.
func (m *Manager) IsValidExecutor(dom domain.DomainID, addr domain.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set, exists := m.executors[dom]
	if !exists {
		return false
	}
	_, ok := set[addr]
	return ok
}

// PoolByExecutor resolves the pool served by an executor on a domain.
func (m *Manager) PoolByExecutor(dom domain.DomainID, addr domain.Address) (domain.PoolID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, id := range m.order {
		cfg := m.pools[id]
		if cfg.DomainID == dom && cfg.Executor == addr {
			return id, true
		}
	}
	return "", false
}

// Verify interface compliance at compile time.
var _ Directory = (*Manager)(nil)
