package tool

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T) (*Registry, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewRegistry(store, zap.NewNop()), store
}

func mustRegister(t *testing.T, r *Registry, spec *Tool) *Tool {
	t.Helper()
	tool, err := r.Register(context.Background(), spec)
	require.NoError(t, err)
	return tool
}

func TestRegisterValidates(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Register(ctx, &Tool{Type: "http"})
	require.ErrorIs(t, err, ErrInvalidTool)
	_, err = r.Register(ctx, &Tool{Name: "x"})
	require.ErrorIs(t, err, ErrInvalidTool)
	_, err = r.Register(ctx, &Tool{Name: "x", Type: "http", InputSchema: json.RawMessage(`{broken`)})
	require.ErrorIs(t, err, ErrInvalidTool)

	tool := mustRegister(t, r, &Tool{BotID: "bot", Name: "search", Type: "http", IsActive: true})
	assert.NotEmpty(t, tool.ID)
	assert.False(t, tool.CreatedAt.IsZero())
}

func TestGetPopulatesCache(t *testing.T) {
	r, store := newTestRegistry(t)
	ctx := context.Background()
	require.NoError(t, store.CreateTool(ctx, &Tool{ID: "t1", Name: "a", Type: "http"}))

	assert.Equal(t, 0, r.Cached())
	got, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, r.Cached())

	missing, err := r.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpdateRefreshesCache(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	tool := mustRegister(t, r, &Tool{Name: "a", Type: "http", IsActive: true})

	tool.Description = "new"
	tool.IsActive = false
	updated, err := r.Update(ctx, tool)
	require.NoError(t, err)
	assert.Equal(t, "new", updated.Description)
	assert.Equal(t, tool.CreatedAt, updated.CreatedAt)

	got, err := r.Get(ctx, tool.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Description)
	assert.False(t, got.IsActive)
	assert.Equal(t, 1, r.Cached())

	_, err = r.Update(ctx, &Tool{ID: "ghost", Name: "g", Type: "http"})
	require.ErrorIs(t, err, ErrToolNotFound)
}

func TestReturnedToolsAreCopies(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	tool := mustRegister(t, r, &Tool{Name: "a", Type: "http"})

	got, err := r.Get(ctx, tool.ID)
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := r.Get(ctx, tool.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Name)
}

func TestDeleteDropsCacheAndAssignments(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	tool := mustRegister(t, r, &Tool{Name: "a", Type: "http", IsActive: true})
	_, err := r.AssignToAgent(ctx, "writer", tool.ID, true, 1)
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, tool.ID))
	got, err := r.Get(ctx, tool.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assigned, err := r.GetByAgent(ctx, "writer")
	require.NoError(t, err)
	assert.Empty(t, assigned)
}

func TestGetByBotActiveOnly(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustRegister(t, r, &Tool{BotID: "b1", Name: "on", Type: "http", IsActive: true})
	mustRegister(t, r, &Tool{BotID: "b1", Name: "off", Type: "http"})
	mustRegister(t, r, &Tool{BotID: "b2", Name: "other", Type: "http", IsActive: true})

	tools, err := r.GetByBot(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "on", tools[0].Name)
}

func TestGetByAgentPriorityOrderAndUpsert(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	low := mustRegister(t, r, &Tool{Name: "low", Type: "http", IsActive: true})
	high := mustRegister(t, r, &Tool{Name: "high", Type: "http", IsActive: true})
	tie := mustRegister(t, r, &Tool{Name: "alpha", Type: "http", IsActive: true})

	_, err := r.AssignToAgent(ctx, "w", low.ID, true, 1)
	require.NoError(t, err)
	_, err = r.AssignToAgent(ctx, "w", high.ID, true, 10)
	require.NoError(t, err)
	_, err = r.AssignToAgent(ctx, "w", tie.ID, false, 1)
	require.NoError(t, err)

	assigned, err := r.GetByAgent(ctx, "w")
	require.NoError(t, err)
	require.Len(t, assigned, 3)
	assert.Equal(t, []string{"high", "alpha", "low"}, []string{assigned[0].Name, assigned[1].Name, assigned[2].Name})
	assert.False(t, assigned[1].IsEnabled)

	// re-assigning the same pair updates rather than duplicates
	_, err = r.AssignToAgent(ctx, "w", low.ID, true, 99)
	require.NoError(t, err)
	assigned, err = r.GetByAgent(ctx, "w")
	require.NoError(t, err)
	require.Len(t, assigned, 3)
	assert.Equal(t, "low", assigned[0].Name)

	require.NoError(t, r.RemoveFromAgent(ctx, "w", low.ID))
	require.NoError(t, r.RemoveFromAgent(ctx, "w", "unknown"))
	assigned, err = r.GetByAgent(ctx, "w")
	require.NoError(t, err)
	assert.Len(t, assigned, 2)

	_, err = r.AssignToAgent(ctx, "w", "ghost", true, 0)
	require.ErrorIs(t, err, ErrToolNotFound)
}

func TestConcurrentReadsDuringUpdate(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	tool := mustRegister(t, r, &Tool{Name: "a", Type: "http", Description: "v0"})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				got, err := r.Get(ctx, tool.ID)
				if assert.NoError(t, err) && assert.NotNil(t, got) {
					assert.Equal(t, "a", got.Name)
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		next := *tool
		next.Description = "v" + string(rune('a'+i))
		_, err := r.Update(ctx, &next)
		require.NoError(t, err)
	}
	wg.Wait()
}

// stallingStore pauses the next GetTool after it has read the record.
type stallingStore struct {
	*MemoryStore
	stall  atomic.Bool
	read   chan struct{}
	resume chan struct{}
}

func (s *stallingStore) GetTool(ctx context.Context, id string) (*Tool, error) {
	t, err := s.MemoryStore.GetTool(ctx, id)
	if s.stall.CompareAndSwap(true, false) {
		close(s.read)
		<-s.resume
	}
	return t, err
}

func TestColdGetDoesNotOverwriteRefresh(t *testing.T) {
	store := &stallingStore{MemoryStore: NewMemoryStore(), read: make(chan struct{}), resume: make(chan struct{})}
	r := NewRegistry(store, zap.NewNop())
	ctx := context.Background()
	tool := mustRegister(t, r, &Tool{BotID: "bot", Name: "search", Type: "http", IsActive: true})
	r.cache.Del(tool.ID)

	store.stall.Store(true)
	got := make(chan *Tool, 1)
	go func() {
		stale, err := r.Get(ctx, tool.ID)
		assert.NoError(t, err)
		got <- stale
	}()
	<-store.read

	next := *tool
	next.Name = "lookup"
	_, err := r.Update(ctx, &next)
	require.NoError(t, err)
	close(store.resume)

	assert.Equal(t, "lookup", (<-got).Name)
	cached, err := r.Get(ctx, tool.ID)
	require.NoError(t, err)
	assert.Equal(t, "lookup", cached.Name)
}
