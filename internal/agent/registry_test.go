package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fn(id string, role Role) *Func {
	return &Func{AgentID: id, AgentRole: role, Fn: func(context.Context, *Call) (*Output, error) {
		return &Output{}, nil
	}}
}

func ids(agents []Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.ID()
	}
	return out
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	require.ErrorIs(t, r.Register(nil), ErrInvalidAgent)
	require.ErrorIs(t, r.Register((*Func)(nil)), ErrInvalidAgent)
	require.ErrorIs(t, r.Register((*LLMAgent)(nil)), ErrInvalidAgent)
	require.ErrorIs(t, r.Register(fn("", RoleWriter)), ErrInvalidAgent)
	require.ErrorIs(t, r.Register(fn("w", "bad role")), ErrInvalidAgent)

	require.NoError(t, r.Register(fn("w", RoleWriter)))
	require.ErrorIs(t, r.Register(fn("w", RoleReviewer)), ErrDuplicateAgent)

	got, ok := r.Get("w")
	require.True(t, ok)
	assert.Equal(t, RoleWriter, got.Role())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestByRoleKeepsInsertionOrder(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(fn("w1", RoleWriter)))
	require.NoError(t, r.Register(fn("rv", RoleReviewer)))
	require.NoError(t, r.Register(fn("w2", RoleWriter)))
	require.NoError(t, r.Register(fn("loner", "")))

	assert.Equal(t, []string{"w1", "w2"}, ids(r.ByRole(RoleWriter)))
	assert.Empty(t, r.ByRole(RoleEditor))
	assert.Len(t, r.Roles(), 2)
	assert.Equal(t, 4, r.Len())
	assert.Equal(t, []string{"w1", "rv", "w2", "loner"}, ids(r.List()))

	// mutating the returned slice leaves the index alone
	bucket := r.ByRole(RoleWriter)
	bucket[0] = nil
	assert.Equal(t, []string{"w1", "w2"}, ids(r.ByRole(RoleWriter)))
}

func TestRemovePrunesRoleBuckets(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(fn("w1", RoleWriter)))
	require.NoError(t, r.Register(fn("w2", RoleWriter)))
	require.NoError(t, r.Register(fn("rv", RoleReviewer)))

	assert.True(t, r.Remove("w1"))
	assert.False(t, r.Remove("w1"))
	assert.Equal(t, []string{"w2"}, ids(r.ByRole(RoleWriter)))

	assert.True(t, r.Remove("rv"))
	assert.NotContains(t, r.Roles(), RoleReviewer)

	// re-registration after removal is allowed
	require.NoError(t, r.Register(fn("w1", RoleEditor)))
	assert.Equal(t, []string{"w1"}, ids(r.ByRole(RoleEditor)))
	assert.Equal(t, []string{"w2"}, ids(r.ByRole(RoleWriter)))
}

func TestFindIsLazy(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, r.Register(fn(id, RoleWriter)))
	}

	calls := 0
	var got []string
	for a := range r.Find(func(Agent) bool { calls++; return true }) {
		got = append(got, a.ID())
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 2, calls)
}

func TestClear(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(fn("a", RoleWriter)))
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.ByRole(RoleWriter))
	assert.Empty(t, r.Roles())
}

type opaque struct{ id string }

func (o opaque) ID() string { return o.id }
func (o opaque) Role() Role { return "" }
func (o opaque) Execute(context.Context, *Call) (*Output, error) {
	return nil, errors.New("unused")
}

func TestRegistryMarshalJSON(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(fn("w", RoleWriter)))
	require.NoError(t, r.Register(opaque{id: "plain"}))
	require.NoError(t, r.Register(NewLLMAgent(Persona{ID: "llm", Role: RoleReviewer, Model: "m"}, nil, nil, zap.NewNop())))

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 3)
	assert.Equal(t, map[string]any{"id": "w", "role": "writer"}, got[0])
	assert.Equal(t, map[string]any{"id": "plain"}, got[1])
	assert.Equal(t, "m", got[2]["model"])
}
