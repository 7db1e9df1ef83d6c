package blackboard

import (
	"context"
	"sync"
)

// SnapshotStore persists context snapshots independently of the active
// table, so dropping an active context never loses its saved history.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, s *Snapshot) error
	// LoadSnapshot returns nil, nil when nothing was saved for the id.
	LoadSnapshot(ctx context.Context, executionID string) (*Snapshot, error)
	DeleteSnapshot(ctx context.Context, executionID string) error
	CountSnapshots(ctx context.Context) (int, error)
	ClearSnapshots(ctx context.Context) error
}

// MemorySnapshotStore keeps snapshots in process memory.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMemorySnapshotStore creates an empty in-memory store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string]*Snapshot)}
}

func (m *MemorySnapshotStore) SaveSnapshot(_ context.Context, s *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Data = CloneFields(s.Data)
	m.snapshots[s.ExecutionID] = &cp
	return nil
}

func (m *MemorySnapshotStore) LoadSnapshot(_ context.Context, executionID string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[executionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.Data = CloneFields(s.Data)
	return &cp, nil
}

func (m *MemorySnapshotStore) DeleteSnapshot(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, executionID)
	return nil
}

func (m *MemorySnapshotStore) CountSnapshots(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snapshots), nil
}

func (m *MemorySnapshotStore) ClearSnapshots(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = make(map[string]*Snapshot)
	return nil
}
