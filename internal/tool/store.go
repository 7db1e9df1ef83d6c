package tool

import (
	"context"
	"sort"
	"sync"
)

// Store persists tools and assignments. GetTool returns nil, nil for an
// unknown id.
type Store interface {
	CreateTool(ctx context.Context, t *Tool) error
	GetTool(ctx context.Context, id string) (*Tool, error)
	UpdateTool(ctx context.Context, t *Tool) error
	DeleteTool(ctx context.Context, id string) error
	ListToolsByBot(ctx context.Context, botID string) ([]*Tool, error)
	UpsertAssignment(ctx context.Context, a *Assignment) error
	DeleteAssignment(ctx context.Context, agentID, toolID string) error
	ListAssignmentsByAgent(ctx context.Context, agentID string) ([]*Assignment, error)
}

type assignmentKey struct{ agentID, toolID string }

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu          sync.RWMutex
	tools       map[string]*Tool
	assignments map[assignmentKey]*Assignment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tools:       make(map[string]*Tool),
		assignments: make(map[assignmentKey]*Assignment),
	}
}

func (s *MemoryStore) CreateTool(_ context.Context, t *Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[t.ID] = t.clone()
	return nil
}

func (s *MemoryStore) GetTool(_ context.Context, id string) (*Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tools[id]
	if !ok {
		return nil, nil
	}
	return t.clone(), nil
}

func (s *MemoryStore) UpdateTool(_ context.Context, t *Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tools[t.ID]; !ok {
		return ErrToolNotFound
	}
	s.tools[t.ID] = t.clone()
	return nil
}

// DeleteTool removes the tool and its assignments.
func (s *MemoryStore) DeleteTool(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tools, id)
	for k := range s.assignments {
		if k.toolID == id {
			delete(s.assignments, k)
		}
	}
	return nil
}

func (s *MemoryStore) ListToolsByBot(_ context.Context, botID string) ([]*Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Tool
	for _, t := range s.tools {
		if t.BotID == botID {
			out = append(out, t.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) UpsertAssignment(_ context.Context, a *Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := assignmentKey{a.AgentID, a.ToolID}
	cp := *a
	if prev, ok := s.assignments[k]; ok {
		cp.CreatedAt = prev.CreatedAt
	}
	s.assignments[k] = &cp
	return nil
}

func (s *MemoryStore) DeleteAssignment(_ context.Context, agentID, toolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assignments, assignmentKey{agentID, toolID})
	return nil
}

func (s *MemoryStore) ListAssignmentsByAgent(_ context.Context, agentID string) ([]*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Assignment
	for k, a := range s.assignments {
		if k.agentID == agentID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}
