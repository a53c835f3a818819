// Package history keeps a bounded undo stack of scene snapshots.
package history

import (
	"fmt"
	"sync"

	"cutout/internal/logging"
	"cutout/internal/metrics"

	"go.uber.org/zap"
)

// Capacity is the number of snapshots kept.
const Capacity = 10

// Snapshotter serializes and restores the full scene.
type Snapshotter interface {
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// Manager is an undo-only history. The newest snapshot is the current state.
type Manager struct {
	mu        sync.Mutex
	scene     Snapshotter
	stack     [][]byte
	restoring bool
}

// New creates an empty history over scene.
func New(scene Snapshotter) *Manager {
	return &Manager{scene: scene}
}

// Push records the current scene. Calls made while an undo is restoring
// the scene are ignored.
func (m *Manager) Push() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.restoring {
		return nil
	}

	data, err := m.scene.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot scene: %w", err)
	}
	m.stack = append(m.stack, data)
	if len(m.stack) > Capacity {
		m.stack = append(m.stack[:0:0], m.stack[len(m.stack)-Capacity:]...)
	}
	metrics.SetHistoryDepth(len(m.stack))
	return nil
}

// Undo drops the current snapshot and restores the previous one. It
// returns the restored snapshot, or false when there is nothing to undo.
// A failed restore leaves the stack as it was.
func (m *Manager) Undo() ([]byte, bool, error) {
	m.mu.Lock()
	if len(m.stack) <= 1 || m.restoring {
		m.mu.Unlock()
		return nil, false, nil
	}
	current := m.stack[len(m.stack)-1]
	m.stack = m.stack[:len(m.stack)-1]
	top := m.stack[len(m.stack)-1]
	depth := len(m.stack)
	m.restoring = true
	m.mu.Unlock()
	metrics.SetHistoryDepth(depth)

	// The scene may emit mutation events while restoring; Push ignores them.
	err := m.scene.Restore(top)

	m.mu.Lock()
	m.restoring = false
	if err != nil {
		m.stack = append(m.stack, current)
		depth = len(m.stack)
	}
	m.mu.Unlock()
	if err != nil {
		metrics.SetHistoryDepth(depth)
		return nil, false, fmt.Errorf("restore snapshot: %w", err)
	}
	logging.Logger.Debug("undo", zap.Int("depth", depth))
	return top, true, nil
}

// Restoring reports whether an undo is currently rewriting the scene.
func (m *Manager) Restoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restoring
}

// Len returns the number of snapshots held.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}

// Snapshots returns the stack, oldest first.
func (m *Manager) Snapshots() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.stack))
	copy(out, m.stack)
	return out
}

// Restore replaces the stack, keeping at most the newest Capacity entries.
// The scene itself is not touched.
func (m *Manager) Restore(stack [][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(stack) > Capacity {
		stack = stack[len(stack)-Capacity:]
	}
	m.stack = append([][]byte(nil), stack...)
	metrics.SetHistoryDepth(len(m.stack))
}
