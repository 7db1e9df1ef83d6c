package bus

import (
	"context"
	"sync"
)

// Store is the persisted message log. Results are ordered oldest first.
type Store interface {
	CreateMessage(ctx context.Context, msg *Message) error
	FindMessagesByExecution(ctx context.Context, executionID string) ([]*Message, error)
	FindMessagesByRecipient(ctx context.Context, executionID, toAgentID string) ([]*Message, error)
	CountMessagesByExecution(ctx context.Context, executionID string) (int, error)
	DeleteMessagesByExecution(ctx context.Context, executionID string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]*Message
}

// NewMemoryStore creates an empty in-memory message log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]*Message)}
}

func (s *MemoryStore) CreateMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[msg.ExecutionID] = append(s.logs[msg.ExecutionID], msg)
	return nil
}

func (s *MemoryStore) FindMessagesByExecution(_ context.Context, executionID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[executionID]
	out := make([]*Message, len(log))
	copy(out, log)
	return out, nil
}

func (s *MemoryStore) FindMessagesByRecipient(_ context.Context, executionID, toAgentID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Message
	for _, m := range s.logs[executionID] {
		if m.ToAgentID == toAgentID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) CountMessagesByExecution(_ context.Context, executionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[executionID]), nil
}

func (s *MemoryStore) DeleteMessagesByExecution(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, executionID)
	return nil
}
