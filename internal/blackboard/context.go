package blackboard

import (
	"sync"
	"time"
)

// Reserved keys written by the manager itself.
const (
	KeyParallelOutputs   = "_parallelOutputs"
	KeyParentExecutionID = "_parentExecutionId"
)

// AgentContext is the shared key/value state of one execution. All access
// goes through its own lock so concurrent branches serialize their writes.
type AgentContext struct {
	executionID       string
	parentExecutionID string
	createdAt         time.Time

	mu        sync.RWMutex
	data      *Fields
	updatedAt time.Time
}

func newAgentContext(executionID, parentExecutionID string) *AgentContext {
	now := time.Now()
	return &AgentContext{
		executionID:       executionID,
		parentExecutionID: parentExecutionID,
		createdAt:         now,
		updatedAt:         now,
		data:              NewFields(),
	}
}

// ExecutionID returns the owning execution.
func (c *AgentContext) ExecutionID() string { return c.executionID }

// ParentExecutionID returns the lineage link, if any. It never changes.
func (c *AgentContext) ParentExecutionID() string { return c.parentExecutionID }

// Get returns a copy of the value under key.
func (c *AgentContext) Get(key string) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data.Get(key)
	if !ok {
		return Null, false
	}
	return v.Clone(), true
}

// Set stores a copy of v under key.
func (c *AgentContext) Set(key string, v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data.Set(key, v.Clone())
	c.updatedAt = time.Now()
}

// Delete removes key.
func (c *AgentContext) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data.Delete(key); ok {
		c.updatedAt = time.Now()
	}
}

// Keys lists keys in insertion order.
func (c *AgentContext) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, c.data.Len())
	for p := c.data.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// Len returns the number of keys.
func (c *AgentContext) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Len()
}

// apply runs fn with the write lock held.
func (c *AgentContext) apply(fn func(data *Fields)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.data)
	c.updatedAt = time.Now()
}

// Snapshot returns a detached serialized copy of the context.
func (c *AgentContext) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Snapshot{
		ExecutionID:       c.executionID,
		ParentExecutionID: c.parentExecutionID,
		Data:              CloneFields(c.data),
		CreatedAt:         c.createdAt,
		UpdatedAt:         c.updatedAt,
	}
}

// Snapshot is the serialized form of an AgentContext.
type Snapshot struct {
	ExecutionID       string    `json:"executionId"`
	ParentExecutionID string    `json:"parentExecutionId,omitempty"`
	Data              *Fields   `json:"data"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Value returns the snapshot data as a map value.
func (s *Snapshot) Value() Value {
	if s == nil {
		return Null
	}
	return Map(CloneFields(s.Data))
}

// Get reads one key from the snapshot.
func (s *Snapshot) Get(key string) (Value, bool) {
	if s == nil || s.Data == nil {
		return Null, false
	}
	return s.Data.Get(key)
}

func restore(s *Snapshot) *AgentContext {
	c := &AgentContext{
		executionID:       s.ExecutionID,
		parentExecutionID: s.ParentExecutionID,
		createdAt:         s.CreatedAt,
		updatedAt:         s.UpdatedAt,
		data:              CloneFields(s.Data),
	}
	if c.createdAt.IsZero() {
		c.createdAt = time.Now()
		c.updatedAt = c.createdAt
	}
	return c
}
