package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBus(t *testing.T) (*MessageBus, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return New("exec-1", store, zap.NewNop()), store
}

type recorder struct {
	mu   sync.Mutex
	msgs []*Message
}

func (r *recorder) handle(m *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestSendPersistsAndNotifiesInOrder(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBus(t)

	var order []string
	b.Subscribe("reviewer", func(m *Message) { order = append(order, "first:"+m.Content.(string)) })
	b.Subscribe("reviewer", func(m *Message) { order = append(order, "second:"+m.Content.(string)) })

	msg, err := b.Send(ctx, "writer", "reviewer", TypeData, "draft", Metadata{"priority": 1})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", msg.ExecutionID)
	assert.NotEmpty(t, msg.ID)

	// handlers ran before Send returned
	assert.Equal(t, []string{"first:draft", "second:draft"}, order)

	n, err := store.CountMessagesByExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, b.Queue(), 1)
}

func TestSendRejectsInvalidType(t *testing.T) {
	b, _ := newTestBus(t)
	_, err := b.Send(context.Background(), "a", "b", "", "x", nil)
	require.Error(t, err)
	_, err = b.Send(context.Background(), "a", "b", "has space", "x", nil)
	require.Error(t, err)
}

type failingStore struct{ *MemoryStore }

func (failingStore) CreateMessage(context.Context, *Message) error {
	return errors.New("disk full")
}

func TestSendPersistenceFailure(t *testing.T) {
	b := New("exec-1", failingStore{NewMemoryStore()}, zap.NewNop())
	var rec recorder
	b.Subscribe("b", rec.handle)

	_, err := b.Send(context.Background(), "a", "b", TypeData, "x", nil)
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, 0, rec.len())
	assert.Empty(t, b.Queue())
}

func TestBroadcastSkipsSender(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	var one, two, three recorder
	b.Subscribe("1", one.handle)
	b.Subscribe("2", two.handle)
	b.Subscribe("3", three.handle)

	msg, err := b.Broadcast(ctx, "1", TypeAnnouncement, "hello")
	require.NoError(t, err)
	assert.Equal(t, Broadcast, msg.ToAgentID)
	assert.Equal(t, true, msg.Metadata["broadcast"])

	assert.Equal(t, 0, one.len())
	assert.Equal(t, 1, two.len())
	assert.Equal(t, 1, three.len())
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	var rec recorder
	id := b.Subscribe("a", rec.handle)
	b.Unsubscribe("a", id)
	b.Unsubscribe("a", id)
	b.Unsubscribe("unknown", 42)

	_, err := b.Send(ctx, "x", "a", TypeData, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.len())
	assert.Equal(t, 0, b.SubscriberCount("a"))
}

func TestReceiveFilters(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	_, err := b.Send(ctx, "w", "r", TypeData, 1, nil)
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	mid := time.Now().UTC()
	_, err = b.Send(ctx, "x", "r", TypeData, 2, nil)
	require.NoError(t, err)
	_, err = b.Send(ctx, "w", "r", TypeError, 3, nil)
	require.NoError(t, err)
	_, err = b.Send(ctx, "w", "other", TypeData, 4, nil)
	require.NoError(t, err)

	all, err := b.Receive(ctx, "r", Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 1, all[0].Content)

	data, err := b.Receive(ctx, "r", Filter{Type: TypeData})
	require.NoError(t, err)
	assert.Len(t, data, 2)

	fromW, err := b.Receive(ctx, "r", Filter{FromAgentID: "w"})
	require.NoError(t, err)
	assert.Len(t, fromW, 2)

	since, err := b.Receive(ctx, "r", Filter{Since: mid})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	limited, err := b.Receive(ctx, "r", Filter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, 1, limited[0].Content)
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)
	for _, to := range []string{"a", "b", "a"} {
		_, err := b.Send(ctx, "s", to, TypeData, to, nil)
		require.NoError(t, err)
	}

	all, err := b.History(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	toA, err := b.History(ctx, Filter{ToAgentID: "a"})
	require.NoError(t, err)
	assert.Len(t, toA, 2)

	n, err := b.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRequestResolves(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	b.Subscribe("responder", func(m *Message) {
		if m.Type != TypeRequest {
			return
		}
		req := m
		go func() {
			time.Sleep(50 * time.Millisecond)
			_, _ = b.Reply(ctx, req, "pong")
		}()
	})

	resp, err := b.Request(ctx, "asker", "responder", "ping", 500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, TypeResponse, resp.Type)
	assert.Equal(t, "pong", resp.Content)
	assert.Equal(t, 0, b.SubscriberCount("asker"))
}

func TestRequestSynchronousReply(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)
	b.Subscribe("responder", func(m *Message) {
		if m.Type == TypeRequest {
			_, _ = b.Reply(ctx, m, "now")
		}
	})

	resp, err := b.Request(ctx, "asker", "responder", "ping", 100*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "now", resp.Content)
}

func TestRequestTimeout(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBus(t)

	// a response from the wrong agent does not satisfy the request
	b.Subscribe("responder", func(m *Message) {
		if m.Type == TypeRequest {
			_, _ = b.Send(ctx, "impostor", "asker", TypeResponse, "nope", nil)
		}
	})

	start := time.Now()
	_, err := b.Request(ctx, "asker", "responder", "ping", 100*time.Millisecond)
	require.ErrorIs(t, err, ErrResponseTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 0, b.SubscriberCount("asker"))
}

func TestRequestManyTimeoutsDoNotLeak(t *testing.T) {
	b, _ := newTestBus(t)
	for i := 0; i < 20; i++ {
		_, err := b.Request(context.Background(), "asker", "silent", i, time.Millisecond)
		require.ErrorIs(t, err, ErrResponseTimeout)
	}
	assert.Equal(t, 0, b.SubscriberCount("asker"))
}

func TestHandlerPanicDoesNotBreakSend(t *testing.T) {
	b, _ := newTestBus(t)
	var rec recorder
	b.Subscribe("a", func(*Message) { panic("boom") })
	b.Subscribe("a", rec.handle)

	_, err := b.Send(context.Background(), "x", "a", TypeData, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.len())
}

func TestClearLocalState(t *testing.T) {
	ctx := context.Background()
	b, store := newTestBus(t)
	var rec recorder
	b.Subscribe("a", rec.handle)
	_, err := b.Send(ctx, "x", "a", TypeData, 1, nil)
	require.NoError(t, err)

	b.Close()
	assert.Empty(t, b.Queue())
	assert.Equal(t, 0, b.SubscriberCount("a"))

	n, err := store.CountMessagesByExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
