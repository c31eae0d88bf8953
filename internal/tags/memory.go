package tags

import (
	"context"
	"sync"
)

// MemoryBackend keeps tags in process memory. Contents are lost on restart.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string][]string
}

// NewMemoryBackend creates an empty memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]string)}
}

func (m *MemoryBackend) Load(_ context.Context) (map[string][]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]string, len(m.data))
	for id, list := range m.data {
		out[id] = append([]string(nil), list...)
	}
	return out, nil
}

func (m *MemoryBackend) Save(_ context.Context, conversationID string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(tags) == 0 {
		delete(m.data, conversationID)
		return nil
	}
	m.data[conversationID] = append([]string(nil), tags...)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
