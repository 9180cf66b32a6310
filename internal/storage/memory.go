package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps documents in process memory. Intended for tests and ephemeral runs.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[Key][]byte // namespace -> key -> body
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]map[Key][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, ns Namespace, key Key) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	body, ok := m.docs[ns.String()][key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), body...), true, nil
}

func (m *MemoryStore) Save(_ context.Context, ns Namespace, key Key, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	nsDocs, ok := m.docs[ns.String()]
	if !ok {
		nsDocs = make(map[Key][]byte)
		m.docs[ns.String()] = nsDocs
	}
	nsDocs[key] = append([]byte(nil), data...)
	return nil
}

// LoadAll returns every document saved for ns.
func (m *MemoryStore) LoadAll(_ context.Context, ns Namespace) (map[Key][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[Key][]byte, len(m.docs[ns.String()]))
	for k, v := range m.docs[ns.String()] {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}
