// Package persist provides concrete §6.4 persistence backends: an
// in-memory map for tests and ephemeral embeddings, and a sqlite-backed
// store for durable sessions. Both implement engine.Backend.
package persist

import (
	"sync"

	engine "github.com/reactive-dataflow/engine"
)

// MemoryBackend is an engine.Backend over a guarded map, grounded on the
// teacher's ServiceRepository read/write-lock idiom but without any
// on-disk durability: state is lost on process exit.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[engine.PersistenceId][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[engine.PersistenceId][]byte)}
}

func (m *MemoryBackend) Save(id engine.PersistenceId, blob []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(blob))
	copy(cp, blob)
	m.blobs[id] = cp
}

func (m *MemoryBackend) Load(id engine.PersistenceId) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[id]
	if !ok {
		return nil, false
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, true
}
