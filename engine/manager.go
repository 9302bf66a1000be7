package engine

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/xptea/TaskPilot/domain"
)

// Manager hands out one engine per open board and routes authoritative
// snapshots to it.
type Manager struct {
	store  Store
	logger *log.Logger

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewManager(store Store, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Manager{
		store:   store,
		logger:  logger,
		engines: make(map[string]*Engine),
	}
}

// Get returns the engine for a board, loading its columns on first use.
func (m *Manager) Get(ctx context.Context, boardID, userID string) (*Engine, error) {
	m.mu.Lock()
	if eng, ok := m.engines[boardID]; ok {
		m.mu.Unlock()
		return eng, nil
	}
	m.mu.Unlock()

	cols, err := m.store.FetchColumns(ctx, boardID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if eng, ok := m.engines[boardID]; ok {
		// Lost the race to another session; its engine wins.
		return eng, nil
	}
	eng := New(boardID, userID, cols, m.store, m.logger)
	m.engines[boardID] = eng
	return eng, nil
}

// Peek returns the board's engine if one is open, without loading.
func (m *Manager) Peek(boardID string) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	eng, ok := m.engines[boardID]
	return eng, ok
}

// ApplySnapshot routes an authoritative snapshot to the board's engine, if
// any is open. Snapshots for closed boards are dropped.
func (m *Manager) ApplySnapshot(boardID string, cols domain.Columns) {
	if eng, ok := m.Peek(boardID); ok {
		eng.ApplySnapshot(cols)
	}
}

// Evict drops a board's engine, ending its session.
func (m *Manager) Evict(boardID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.engines, boardID)
}
