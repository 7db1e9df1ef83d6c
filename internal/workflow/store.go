package workflow

import (
	"context"
	"sort"
	"sync"
)

// Store persists workflow definitions and executions. Getters return
// nil, nil for unknown ids.
type Store interface {
	CreateWorkflow(ctx context.Context, d *Definition) error
	GetWorkflow(ctx context.Context, id string) (*Definition, error)
	ListWorkflows(ctx context.Context) ([]*Definition, error)
	CreateExecution(ctx context.Context, e *Execution) error
	UpdateExecution(ctx context.Context, e *Execution) error
	GetExecution(ctx context.Context, id string) (*Execution, error)
	ListExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*Execution, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu         sync.RWMutex
	workflows  map[string]*Definition
	executions map[string]*Execution
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]*Definition),
		executions: make(map[string]*Execution),
	}
}

func (s *MemoryStore) CreateWorkflow(_ context.Context, d *Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.workflows[d.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.workflows[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) ListWorkflows(_ context.Context) ([]*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Definition, 0, len(s.workflows))
	for _, d := range s.workflows {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CreateExecution(_ context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[e.ID] = e.clone()
	return nil
}

func (s *MemoryStore) UpdateExecution(_ context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[e.ID]; !ok {
		return ErrExecutionNotFound
	}
	s.executions[e.ID] = e.clone()
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, nil
	}
	return e.clone(), nil
}

func (s *MemoryStore) ListExecutionsByWorkflow(_ context.Context, workflowID string) ([]*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Execution
	for _, e := range s.executions {
		if e.WorkflowID == workflowID {
			out = append(out, e.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
