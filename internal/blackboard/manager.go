package blackboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrContextNotFound       = errors.New("context not found")
	ErrParentContextNotFound = errors.New("parent context not found")
	ErrDuplicateContext      = errors.New("context already exists")
)

// Stats summarizes the manager's tables.
type Stats struct {
	ActiveContexts    int `json:"activeContexts"`
	PersistedContexts int `json:"persistedContexts"`
}

// Manager owns the active contexts of concurrently running executions and
// saves/loads them through a SnapshotStore.
type Manager struct {
	mu     sync.RWMutex
	active map[string]*AgentContext
	store  SnapshotStore
	policy Policy
	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy sets the policy used by Merge.
func WithPolicy(p Policy) Option {
	return func(m *Manager) { m.policy = p.Normalize() }
}

// NewManager creates a context manager. A nil store keeps snapshots in memory.
func NewManager(store SnapshotStore, logger *zap.Logger, opts ...Option) *Manager {
	if store == nil {
		store = NewMemorySnapshotStore()
	}
	m := &Manager{
		active: make(map[string]*AgentContext),
		store:  store,
		policy: DefaultPolicy(),
		logger: logger,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Policy returns the manager's merge policy.
func (m *Manager) Policy() Policy { return m.policy }

// Create registers a new context seeded from initial. It fails with
// ErrDuplicateContext when the id is already active.
func (m *Manager) Create(executionID string, initial *Fields) (*AgentContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[executionID]; ok {
		return nil, fmt.Errorf("create %s: %w", executionID, ErrDuplicateContext)
	}
	c := newAgentContext(executionID, "")
	if initial != nil {
		for p := initial.Oldest(); p != nil; p = p.Next() {
			c.data.Set(p.Key, p.Value.Clone())
		}
	}
	m.active[executionID] = c
	m.logger.Debug("context created", zap.String("execution", executionID), zap.Int("keys", c.data.Len()))
	return c, nil
}

// Get returns the active context for executionID.
func (m *Manager) Get(executionID string) (*AgentContext, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.active[executionID]
	return c, ok
}

func (m *Manager) getOrCreate(executionID string) *AgentContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.active[executionID]
	if !ok {
		c = newAgentContext(executionID, "")
		m.active[executionID] = c
	}
	return c
}

// Update sets every key of data on the context, creating it if absent.
// An empty patch leaves the snapshot untouched.
func (m *Manager) Update(executionID string, data *Fields) *AgentContext {
	c := m.getOrCreate(executionID)
	if data == nil || data.Len() == 0 {
		return c
	}
	c.apply(func(d *Fields) {
		for p := data.Oldest(); p != nil; p = p.Next() {
			d.Set(p.Key, p.Value.Clone())
		}
	})
	return c
}

// Merge folds parallel branch outputs into the context with the manager's policy.
func (m *Manager) Merge(executionID string, outputs []Value) *AgentContext {
	return m.MergeWith(executionID, outputs, m.policy)
}

// MergeWith folds outputs in order: null and non-map outputs contribute no
// keys, every key of a map output is merged with MergeValues against the
// current value. The raw outputs are recorded under KeyParallelOutputs.
func (m *Manager) MergeWith(executionID string, outputs []Value, p Policy) *AgentContext {
	c := m.getOrCreate(executionID)
	raw := make([]Value, len(outputs))
	c.apply(func(d *Fields) {
		for i, out := range outputs {
			raw[i] = out.Clone()
			if out.Kind() != KindMap {
				continue
			}
			for pair := out.Fields().Oldest(); pair != nil; pair = pair.Next() {
				if existing, ok := d.Get(pair.Key); ok {
					d.Set(pair.Key, MergeValues(existing, pair.Value, p))
					continue
				}
				d.Set(pair.Key, pair.Value.Clone())
			}
		}
		d.Set(KeyParallelOutputs, Array(raw...))
	})
	return c
}

// Save writes the active context to the snapshot store.
func (m *Manager) Save(ctx context.Context, executionID string) error {
	c, ok := m.Get(executionID)
	if !ok {
		return fmt.Errorf("save %s: %w", executionID, ErrContextNotFound)
	}
	if err := m.store.SaveSnapshot(ctx, c.Snapshot()); err != nil {
		return fmt.Errorf("save %s: %w", executionID, err)
	}
	return nil
}

// Load rehydrates an active context from its saved snapshot, replacing any
// active entry. It returns nil, false when nothing was saved.
func (m *Manager) Load(ctx context.Context, executionID string) (*AgentContext, bool, error) {
	s, err := m.store.LoadSnapshot(ctx, executionID)
	if err != nil {
		return nil, false, fmt.Errorf("load %s: %w", executionID, err)
	}
	if s == nil {
		return nil, false, nil
	}
	c := restore(s)
	m.mu.Lock()
	m.active[executionID] = c
	m.mu.Unlock()
	return c, true, nil
}

// Persisted reads a saved snapshot without activating it.
func (m *Manager) Persisted(ctx context.Context, executionID string) (*Snapshot, error) {
	s, err := m.store.LoadSnapshot(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("read persisted %s: %w", executionID, err)
	}
	return s, nil
}

// Archive saves the context and drops it from the active table.
func (m *Manager) Archive(ctx context.Context, executionID string) error {
	if err := m.Save(ctx, executionID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.active, executionID)
	m.mu.Unlock()
	return nil
}

// Delete removes the context from both tables.
func (m *Manager) Delete(ctx context.Context, executionID string) error {
	m.mu.Lock()
	delete(m.active, executionID)
	m.mu.Unlock()
	if err := m.store.DeleteSnapshot(ctx, executionID); err != nil {
		return fmt.Errorf("delete %s: %w", executionID, err)
	}
	return nil
}

// Clear wipes both tables.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.active = make(map[string]*AgentContext)
	m.mu.Unlock()
	return m.store.ClearSnapshots(ctx)
}

// GetSnapshot returns the serialized active context, or nil.
func (m *Manager) GetSnapshot(executionID string) *Snapshot {
	c, ok := m.Get(executionID)
	if !ok {
		return nil
	}
	return c.Snapshot()
}

// CreateChild seeds a new context with a copy of the parent's current data
// and a back-reference under KeyParentExecutionID. Later writes to either
// side are never visible to the other.
func (m *Manager) CreateChild(parentExecutionID, childExecutionID string) (*AgentContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.active[parentExecutionID]
	if !ok {
		return nil, fmt.Errorf("create child of %s: %w", parentExecutionID, ErrParentContextNotFound)
	}
	if _, ok := m.active[childExecutionID]; ok {
		return nil, fmt.Errorf("create child %s: %w", childExecutionID, ErrDuplicateContext)
	}
	snap := parent.Snapshot()
	child := newAgentContext(childExecutionID, parentExecutionID)
	child.data = snap.Data
	child.data.Set(KeyParentExecutionID, Scalar(parentExecutionID))
	m.active[childExecutionID] = child
	return child, nil
}

// ActiveContexts lists active execution ids in sorted order.
func (m *Manager) ActiveContexts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats counts active and persisted contexts.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	active := len(m.active)
	m.mu.RUnlock()
	persisted, err := m.store.CountSnapshots(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count persisted contexts: %w", err)
	}
	return Stats{ActiveContexts: active, PersistedContexts: persisted}, nil
}
