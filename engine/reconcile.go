package engine

import (
	"github.com/xptea/TaskPilot/domain"
)

// ApplySnapshot replaces the engine's state with an authoritative store
// snapshot. Full replacement, never a merge: columns and cards absent from
// the snapshot disappear locally, including optimistic ones whose persist
// failed.
func (e *Engine) ApplySnapshot(cols domain.Columns) {
	sorted := cols.Sorted()
	e.mu.Lock()
	e.cols = sorted
	e.mu.Unlock()
}
