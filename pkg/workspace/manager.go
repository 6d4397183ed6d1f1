package workspace

import (
	"container/list"
	"path/filepath"
	"sync"

	cairnerrors "github.com/codeready-toolchain/cairn/pkg/errors"
)

// DefaultMaxCacheSize bounds how many agent overlays the Manager keeps
// open at once before evicting the least-recently-used entry.
const DefaultMaxCacheSize = 64

// Manager tracks open workspace Pairs for live agents, bounded by an
// LRU eviction policy so a long-running orchestrator never accumulates
// unbounded open file handles across thousands of completed agents.
// Grounded on the teacher's guarded-map registries (pkg/queue/pool.go's
// activeSessions map) with container/list added for the eviction order
// spec §4.4 requires and the teacher's own registries never needed.
type Manager struct {
	mu         sync.Mutex
	stableRoot string
	maxSize    int
	order      *list.List // front = most recently used
	entries    map[string]*list.Element
}

type cacheEntry struct {
	agentID string
	pair    *Pair
}

// NewManager builds a Manager rooted at stableRoot (the shared,
// read-mostly workspace every agent overlays). maxSize <= 0 uses
// DefaultMaxCacheSize.
func NewManager(stableRoot string, maxSize int) *Manager {
	if maxSize <= 0 {
		maxSize = DefaultMaxCacheSize
	}
	return &Manager{
		stableRoot: stableRoot,
		maxSize:    maxSize,
		order:      list.New(),
		entries:    make(map[string]*list.Element),
	}
}

// Open returns the Pair for agentID, creating its overlay directory
// under overlayRoot/agentID if this is the first open, and marking it
// most-recently-used. If opening the new overlay would exceed the
// cache's bound, the least-recently-used entry is closed and evicted
// first.
func (m *Manager) Open(agentID, overlayRoot string) (*Pair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[agentID]; ok {
		m.order.MoveToFront(el)
		return el.Value.(*cacheEntry).pair, nil
	}

	if m.order.Len() >= m.maxSize {
		m.evictOldestLocked()
	}

	pair, err := NewPair(m.stableRoot, filepath.Join(overlayRoot, agentID))
	if err != nil {
		return nil, err
	}

	el := m.order.PushFront(&cacheEntry{agentID: agentID, pair: pair})
	m.entries[agentID] = el
	return pair, nil
}

// Touch marks agentID most-recently-used without opening it, used by
// long-lived operations that access an already-open overlay repeatedly.
func (m *Manager) Touch(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.entries[agentID]; ok {
		m.order.MoveToFront(el)
	}
}

// Close closes and evicts agentID's overlay immediately, used once an
// agent reaches a terminal state and its workspace has been merged or
// discarded.
func (m *Manager) Close(agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.entries[agentID]
	if !ok {
		return nil
	}
	return m.removeLocked(el)
}

// CloseAll closes every tracked overlay, used during orchestrator
// shutdown.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for m.order.Len() > 0 {
		el := m.order.Front()
		if err := m.removeLocked(el); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StableRoot returns the shared stable workspace root every overlay
// sits atop.
func (m *Manager) StableRoot() string {
	return m.stableRoot
}

// Len reports how many overlays are currently tracked.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *Manager) evictOldestLocked() {
	el := m.order.Back()
	if el == nil {
		return
	}
	_ = m.removeLocked(el) // best-effort: a slow Close must not block new opens
}

func (m *Manager) removeLocked(el *list.Element) error {
	entry := el.Value.(*cacheEntry)
	m.order.Remove(el)
	delete(m.entries, entry.agentID)
	if err := entry.pair.Close(); err != nil {
		return cairnerrors.Fatal("WORKSPACE_CLOSE_FAILED", "close overlay for agent "+entry.agentID, err)
	}
	return nil
}
