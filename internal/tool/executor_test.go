package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/blackboard"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/bus"
)

func newTestExecutor(t *testing.T) (*Executor, *Registry) {
	t.Helper()
	r, _ := newTestRegistry(t)
	return NewExecutor(r, zap.NewNop()), r
}

func TestExecuteChecks(t *testing.T) {
	ctx := context.Background()
	e, r := newTestExecutor(t)
	e.RegisterHandler("echo", func(_ context.Context, _ *Tool, inv *Invocation) (any, error) {
		return json.RawMessage(inv.Arguments), nil
	})

	schema := json.RawMessage(`{"type":"object","required":["q"]}`)
	echo := mustRegister(t, r, &Tool{Name: "echo", Type: "echo", IsActive: true, InputSchema: schema})
	off := mustRegister(t, r, &Tool{Name: "off", Type: "echo", IsActive: true})
	inactive := mustRegister(t, r, &Tool{Name: "inactive", Type: "echo"})
	orphan := mustRegister(t, r, &Tool{Name: "orphan", Type: "unknown", IsActive: true})
	for _, tl := range []*Tool{echo, inactive, orphan} {
		_, err := r.AssignToAgent(ctx, "w", tl.ID, true, 0)
		require.NoError(t, err)
	}
	_, err := r.AssignToAgent(ctx, "w", off.ID, false, 0)
	require.NoError(t, err)

	out, err := e.Execute(ctx, Invocation{AgentID: "w", Tool: "echo", Arguments: json.RawMessage(`{"q":"go"}`)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"q":"go"}`, string(out))

	// by id as well as by name
	_, err = e.Execute(ctx, Invocation{AgentID: "w", Tool: echo.ID, Arguments: json.RawMessage(`{"q":1}`)})
	require.NoError(t, err)

	_, err = e.Execute(ctx, Invocation{AgentID: "w", Tool: "echo", Arguments: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrInvalidArguments)
	_, err = e.Execute(ctx, Invocation{AgentID: "w", Tool: "echo", Arguments: json.RawMessage(`[1]`)})
	require.ErrorIs(t, err, ErrInvalidArguments)

	_, err = e.Execute(ctx, Invocation{AgentID: "w", Tool: "off"})
	require.ErrorIs(t, err, ErrToolDisabled)
	_, err = e.Execute(ctx, Invocation{AgentID: "w", Tool: "inactive"})
	require.ErrorIs(t, err, ErrToolDisabled)
	_, err = e.Execute(ctx, Invocation{AgentID: "w", Tool: "orphan"})
	require.ErrorIs(t, err, ErrNoHandler)
	_, err = e.Execute(ctx, Invocation{AgentID: "other", Tool: "echo"})
	require.ErrorIs(t, err, ErrToolNotFound)
}

func TestExecuteHandlerError(t *testing.T) {
	ctx := context.Background()
	e, r := newTestExecutor(t)
	boom := errors.New("boom")
	e.RegisterHandler("fail", func(context.Context, *Tool, *Invocation) (any, error) { return nil, boom })
	tl := mustRegister(t, r, &Tool{Name: "f", Type: "fail", IsActive: true})
	_, err := r.AssignToAgent(ctx, "w", tl.ID, true, 0)
	require.NoError(t, err)

	_, err = e.Invoke(ctx, "w", "e1", "f", "")
	require.ErrorIs(t, err, boom)
}

func TestDefinitionsSkipUnusable(t *testing.T) {
	ctx := context.Background()
	e, r := newTestExecutor(t)
	a := mustRegister(t, r, &Tool{Name: "a", Description: "does a", Type: "x", IsActive: true, InputSchema: json.RawMessage(`{"type":"object"}`)})
	b := mustRegister(t, r, &Tool{Name: "b", Type: "x", IsActive: true})
	c := mustRegister(t, r, &Tool{Name: "c", Type: "x", IsActive: true})
	_, _ = r.AssignToAgent(ctx, "w", a.ID, true, 5)
	_, _ = r.AssignToAgent(ctx, "w", b.ID, true, 1)
	_, _ = r.AssignToAgent(ctx, "w", c.ID, false, 9)

	defs, err := e.Definitions(ctx, "w")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "a", defs[0].Function.Name)
	assert.Equal(t, "does a", defs[0].Function.Description)
	assert.Equal(t, "function", defs[1].Type)
}

func TestBuiltins(t *testing.T) {
	ctx := context.Background()
	e, r := newTestExecutor(t)
	contexts := blackboard.NewManager(nil, zap.NewNop())
	b := bus.New("e1", bus.NewMemoryStore(), zap.NewNop())
	RegisterBuiltins(e, contexts, func(id string) (*bus.MessageBus, bool) { return b, id == "e1" })

	_, err := contexts.Create("e1", nil)
	require.NoError(t, err)

	read := mustRegister(t, r, &Tool{Name: "read", Type: TypeContextRead, IsActive: true})
	write := mustRegister(t, r, &Tool{Name: "write", Type: TypeContextWrite, IsActive: true, Configuration: json.RawMessage(`{"keys":["draft"]}`)})
	send := mustRegister(t, r, &Tool{Name: "send", Type: TypeSendMessage, IsActive: true})
	for _, tl := range []*Tool{read, write, send} {
		_, err := r.AssignToAgent(ctx, "w", tl.ID, true, 0)
		require.NoError(t, err)
	}

	_, err = e.Invoke(ctx, "w", "e1", "write", `{"key":"draft","value":{"title":"T"}}`)
	require.NoError(t, err)
	_, err = e.Invoke(ctx, "w", "e1", "write", `{"key":"secret","value":1}`)
	require.ErrorIs(t, err, ErrInvalidArguments)

	out, err := e.Invoke(ctx, "w", "e1", "read", `{"key":"draft"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"T"}`, out)

	out, err = e.Invoke(ctx, "w", "e1", "read", `{}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"draft":{"title":"T"}}`, out)

	var got []*bus.Message
	b.Subscribe("rv", func(m *bus.Message) { got = append(got, m) })
	out, err = e.Invoke(ctx, "w", "e1", "send", `{"to":"rv","content":{"ok":true}}`)
	require.NoError(t, err)
	assert.Contains(t, out, "messageId")
	require.Len(t, got, 1)
	assert.Equal(t, "w", got[0].FromAgentID)
	assert.Equal(t, bus.TypeData, got[0].Type)
	assert.Equal(t, map[string]any{"ok": true}, got[0].Content)

	_, err = e.Invoke(ctx, "w", "missing", "send", `{"to":"rv"}`)
	require.Error(t, err)
}
