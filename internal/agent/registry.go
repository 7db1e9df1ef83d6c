package agent

import (
	"encoding/json"
	"fmt"
	"iter"
	"sync"

	"go.uber.org/zap"
)

// Registry tracks the agents participating in a process or execution,
// indexed by id and by role. Role buckets keep insertion order.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]Agent
	order  []string
	byRole map[Role][]Agent
	logger *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		byID:   make(map[string]Agent),
		byRole: make(map[Role][]Agent),
		logger: logger,
	}
}

// Register adds a. Re-registering an id requires Remove first.
func (r *Registry) Register(a Agent) error {
	if a == nil || a.ID() == "" {
		return fmt.Errorf("register: %w: missing id", ErrInvalidAgent)
	}
	role := a.Role()
	if err := role.Validate(); err != nil {
		return fmt.Errorf("register %s: %w: %v", a.ID(), ErrInvalidAgent, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[a.ID()]; ok {
		return fmt.Errorf("register %s: %w", a.ID(), ErrDuplicateAgent)
	}
	r.byID[a.ID()] = a
	r.order = append(r.order, a.ID())
	if role != "" {
		r.byRole[role] = append(r.byRole[role], a)
	}
	r.logger.Info("registered agent", zap.String("id", a.ID()), zap.String("role", string(role)))
	return nil
}

// Get returns an agent by id.
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	return a, ok
}

// ByRole returns the agents registered with role, oldest first.
func (r *Registry) ByRole(role Role) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bucket := r.byRole[role]
	out := make([]Agent, len(bucket))
	copy(out, bucket)
	return out
}

// Remove unregisters id and prunes its role bucket, dropping the bucket
// once empty.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	if role := a.Role(); role != "" {
		bucket := r.byRole[role]
		for i, b := range bucket {
			if b.ID() == id {
				bucket = append(bucket[:i:i], bucket[i+1:]...)
				break
			}
		}
		if len(bucket) == 0 {
			delete(r.byRole, role)
		} else {
			r.byRole[role] = bucket
		}
	}
	return true
}

// Roles lists the non-empty role buckets.
func (r *Registry) Roles() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]Role, 0, len(r.byRole))
	for role := range r.byRole {
		roles = append(roles, role)
	}
	return roles
}

// List returns all agents in registration order.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Find lazily yields agents matching pred, in registration order.
func (r *Registry) Find(pred func(Agent) bool) iter.Seq[Agent] {
	return func(yield func(Agent) bool) {
		for _, a := range r.List() {
			if pred(a) && !yield(a) {
				return
			}
		}
	}
}

// Clear resets both indices.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = make(map[string]Agent)
	r.byRole = make(map[Role][]Agent)
	r.order = nil
}

// MarshalJSON serializes every agent with its own json.Marshaler when it
// has one, otherwise as an id/role descriptor.
func (r *Registry) MarshalJSON() ([]byte, error) {
	agents := r.List()
	out := make([]json.RawMessage, 0, len(agents))
	for _, a := range agents {
		var (
			b   []byte
			err error
		)
		if m, ok := a.(json.Marshaler); ok {
			b, err = m.MarshalJSON()
		} else {
			b, err = jsonDescriptor(a)
		}
		if err != nil {
			return nil, fmt.Errorf("marshal agent %s: %w", a.ID(), err)
		}
		out = append(out, b)
	}
	return json.Marshal(out)
}

type descriptor struct {
	ID   string `json:"id"`
	Role Role   `json:"role,omitempty"`
}

func jsonDescriptor(a Agent) ([]byte, error) {
	return json.Marshal(descriptor{ID: a.ID(), Role: a.Role()})
}
