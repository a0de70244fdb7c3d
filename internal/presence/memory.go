package presence

import (
	"context"
	"sync"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

// MemoryRecorder keeps presence in process. Suitable for a single node.
type MemoryRecorder struct {
	mu    sync.RWMutex
	nodes map[string]map[string]struct{} // user ID -> node IDs
}

var _ Recorder = (*MemoryRecorder)(nil)

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{nodes: make(map[string]map[string]struct{})}
}

func (m *MemoryRecorder) SetOnline(_ context.Context, userID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nodes[userID] == nil {
		m.nodes[userID] = make(map[string]struct{})
	}
	m.nodes[userID][nodeID] = struct{}{}
	return nil
}

func (m *MemoryRecorder) SetOffline(_ context.Context, userID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes[userID], nodeID)
	if len(m.nodes[userID]) == 0 {
		delete(m.nodes, userID)
	}
	return nil
}

func (m *MemoryRecorder) Status(_ context.Context, userID string) (model.PresenceStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.nodes[userID]) > 0 {
		return model.PresenceOnline, nil
	}
	return model.PresenceOffline, nil
}
