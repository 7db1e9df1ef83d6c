package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrResponseTimeout = errors.New("response timeout")
	ErrPersistence     = errors.New("message persistence failed")
)

// Handler is invoked synchronously from Send for every delivered message.
type Handler func(msg *Message)

// SubscriptionID identifies one registered Handler.
type SubscriptionID uint64

type subscriber struct {
	id      SubscriptionID
	handler Handler
}

// MessageBus connects the agents of a single execution. Every send is
// persisted once, queued locally, then handed to the recipient's handlers in
// subscription order before Send returns. Delivery is at-most-once.
type MessageBus struct {
	executionID string
	store       Store
	logger      *zap.Logger

	mu      sync.Mutex
	queue   []*Message
	subs    map[string][]subscriber
	agents  []string // subscribed agent ids, first-subscription order
	nextSub SubscriptionID
}

// New creates the bus for executionID.
func New(executionID string, store Store, logger *zap.Logger) *MessageBus {
	return &MessageBus{
		executionID: executionID,
		store:       store,
		logger:      logger.With(zap.String("execution", executionID)),
		subs:        make(map[string][]subscriber),
	}
}

// ExecutionID returns the execution this bus belongs to.
func (b *MessageBus) ExecutionID() string { return b.executionID }

// Send persists a message and notifies the recipient's handlers. If toID is
// Broadcast, every subscribed agent other than fromID is notified once.
// A store failure is returned wrapped in ErrPersistence and nothing is delivered.
func (b *MessageBus) Send(ctx context.Context, fromID, toID string, typ MessageType, content any, meta Metadata) (*Message, error) {
	if err := typ.Validate(); err != nil {
		return nil, err
	}
	if toID == "" {
		return nil, fmt.Errorf("recipient is required")
	}
	msg := &Message{
		ID:          uuid.New().String(),
		ExecutionID: b.executionID,
		FromAgentID: fromID,
		ToAgentID:   toID,
		Type:        typ,
		Content:     content,
		Metadata:    meta,
		Timestamp:   time.Now().UTC(),
	}
	if err := b.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	b.mu.Lock()
	b.queue = append(b.queue, msg)
	handlers := b.recipientsLocked(msg)
	b.mu.Unlock()

	b.logger.Debug("message sent",
		zap.String("from", fromID),
		zap.String("to", toID),
		zap.String("type", string(typ)),
		zap.Int("handlers", len(handlers)))

	for _, h := range handlers {
		b.deliver(h, msg)
	}
	return msg, nil
}

func (b *MessageBus) recipientsLocked(msg *Message) []Handler {
	var out []Handler
	if !msg.IsBroadcast() {
		for _, s := range b.subs[msg.ToAgentID] {
			out = append(out, s.handler)
		}
		return out
	}
	for _, agentID := range b.agents {
		if agentID == msg.FromAgentID {
			continue
		}
		for _, s := range b.subs[agentID] {
			out = append(out, s.handler)
		}
	}
	return out
}

func (b *MessageBus) deliver(h Handler, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked",
				zap.String("message", msg.ID),
				zap.Any("panic", r))
		}
	}()
	h(msg)
}

// Broadcast sends to every subscriber except fromID.
func (b *MessageBus) Broadcast(ctx context.Context, fromID string, typ MessageType, content any) (*Message, error) {
	return b.Send(ctx, fromID, Broadcast, typ, content, Metadata{"broadcast": true})
}

// Receive reads messages addressed to toID from the persisted log. The
// recipient field of f is ignored.
func (b *MessageBus) Receive(ctx context.Context, toID string, f Filter) ([]*Message, error) {
	msgs, err := b.store.FindMessagesByRecipient(ctx, b.executionID, toID)
	if err != nil {
		return nil, fmt.Errorf("receive for %s: %w", toID, err)
	}
	f.ToAgentID = ""
	return f.Apply(msgs), nil
}

// History reads the execution's whole message log.
func (b *MessageBus) History(ctx context.Context, f Filter) ([]*Message, error) {
	return History(ctx, b.store, b.executionID, f)
}

// History reads an execution's message log straight from a store, without
// a live bus.
func History(ctx context.Context, store Store, executionID string, f Filter) ([]*Message, error) {
	msgs, err := store.FindMessagesByExecution(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", executionID, err)
	}
	return f.Apply(msgs), nil
}

// Subscribe registers h for messages addressed to agentID. An agent may hold
// several subscriptions; all of them fire.
func (b *MessageBus) Subscribe(agentID string, h Handler) SubscriptionID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSub++
	id := b.nextSub
	if _, ok := b.subs[agentID]; !ok {
		b.agents = append(b.agents, agentID)
	}
	b.subs[agentID] = append(b.subs[agentID], subscriber{id: id, handler: h})
	return id
}

// Unsubscribe removes one subscription. Unknown agents or ids are ignored.
func (b *MessageBus) Unsubscribe(agentID string, id SubscriptionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list, ok := b.subs[agentID]
	if !ok {
		return
	}
	for i, s := range list {
		if s.id != id {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		break
	}
	if len(list) > 0 {
		b.subs[agentID] = list
		return
	}
	delete(b.subs, agentID)
	for i, a := range b.agents {
		if a == agentID {
			b.agents = append(b.agents[:i:i], b.agents[i+1:]...)
			break
		}
	}
}

// SubscriberCount returns the number of live subscriptions for agentID.
func (b *MessageBus) SubscriberCount(agentID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[agentID])
}

// Request sends a request to toID and waits for the first response-typed
// message from toID addressed back to fromID. The temporary subscription is
// removed on every exit path.
func (b *MessageBus) Request(ctx context.Context, fromID, toID string, content any, timeout time.Duration) (*Message, error) {
	replies := make(chan *Message, 1)
	sub := b.Subscribe(fromID, func(m *Message) {
		if m.Type != TypeResponse || m.FromAgentID != toID || m.ToAgentID != fromID {
			return
		}
		select {
		case replies <- m:
		default:
		}
	})
	defer b.Unsubscribe(fromID, sub)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	if _, err := b.Send(ctx, fromID, toID, TypeRequest, content, nil); err != nil {
		return nil, err
	}

	select {
	case m := <-replies:
		return m, nil
	case <-timer.C:
		return nil, fmt.Errorf("request %s -> %s after %s: %w", fromID, toID, timeout, ErrResponseTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reply answers req with a response-typed message back to its sender.
func (b *MessageBus) Reply(ctx context.Context, req *Message, content any) (*Message, error) {
	return b.Send(ctx, req.ToAgentID, req.FromAgentID, TypeResponse, content, Metadata{"inReplyTo": req.ID})
}

// MessageCount returns the size of the execution's persisted log.
func (b *MessageBus) MessageCount(ctx context.Context) (int, error) {
	n, err := b.store.CountMessagesByExecution(ctx, b.executionID)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// Queue returns a copy of the local in-memory queue.
func (b *MessageBus) Queue() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Message, len(b.queue))
	copy(out, b.queue)
	return out
}

// ClearQueue drops the local queue. Persisted messages are untouched.
func (b *MessageBus) ClearQueue() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = nil
}

// ClearSubscribers drops every subscription.
func (b *MessageBus) ClearSubscribers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string][]subscriber)
	b.agents = nil
}

// Close tears down local state at the end of an execution.
func (b *MessageBus) Close() {
	b.ClearSubscribers()
	b.ClearQueue()
}
