package coordinator

import (
	"sync"

	"github.com/presale-coordinator/internal/types"
)

// Manager holds one coordinator per wallet session. Coordinators are
// created lazily on first use and live until the process exits; the
// per-wallet processed sets are what keep terminal side effects
// exactly-once across a session's whole lifetime.
type Manager struct {
	factory func(wallet string) (*Coordinator, error)

	mu       sync.RWMutex
	sessions map[string]*Coordinator
}

// NewManager creates a session manager. The factory builds a coordinator
// for a wallet on first use.
func NewManager(factory func(wallet string) (*Coordinator, error)) *Manager {
	return &Manager{
		factory:  factory,
		sessions: make(map[string]*Coordinator),
	}
}

// Session returns the wallet's coordinator, creating it if needed
func (m *Manager) Session(wallet string) (*Coordinator, error) {
	m.mu.RLock()
	coord, ok := m.sessions[wallet]
	m.mu.RUnlock()
	if ok {
		return coord, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if coord, ok := m.sessions[wallet]; ok {
		return coord, nil
	}

	coord, err := m.factory(wallet)
	if err != nil {
		return nil, err
	}
	m.sessions[wallet] = coord
	return coord, nil
}

// Lookup returns the wallet's coordinator without creating one
func (m *Manager) Lookup(wallet string) (*Coordinator, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coord, ok := m.sessions[wallet]
	return coord, ok
}

// Watching returns the sessions that currently track an unresolved
// transaction, keyed by wallet. The receipt watcher polls exactly these.
func (m *Manager) Watching() map[string]*Coordinator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	watching := make(map[string]*Coordinator)
	for wallet, coord := range m.sessions {
		state := coord.State()
		if state.Record != nil && !state.Status.Terminal() {
			watching[wallet] = coord
		}
	}
	return watching
}

// PendingRecord returns the session's tracked transaction record when the
// attempt is still unresolved
func (c *Coordinator) PendingRecord() (types.TransactionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Record == nil || c.state.Status.Terminal() {
		return types.TransactionRecord{}, false
	}
	return *c.state.Record, true
}
