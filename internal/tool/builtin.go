package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/tidwall/gjson"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/blackboard"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/bus"
)

// Builtin tool types.
const (
	TypeContextRead  = "context_read"
	TypeContextWrite = "context_write"
	TypeSendMessage  = "send_message"
)

// BusLookup finds the live bus of an execution.
type BusLookup func(executionID string) (*bus.MessageBus, bool)

// RegisterBuiltins installs the blackboard and messaging tool types.
//
// context_read and context_write honour an optional "keys" allow-list in the
// tool configuration.
func RegisterBuiltins(e *Executor, contexts *blackboard.Manager, buses BusLookup) {
	e.RegisterHandler(TypeContextRead, func(_ context.Context, t *Tool, inv *Invocation) (any, error) {
		snap := contexts.GetSnapshot(inv.ExecutionID)
		if snap == nil {
			return nil, fmt.Errorf("%w: %s", blackboard.ErrContextNotFound, inv.ExecutionID)
		}
		key := gjson.GetBytes(inv.Arguments, "key").String()
		if key == "" {
			return snap.Data, nil
		}
		if !keyAllowed(t, key) {
			return nil, fmt.Errorf("%w: key %q is not readable", ErrInvalidArguments, key)
		}
		v, ok := snap.Get(key)
		if !ok {
			return nil, nil
		}
		return v, nil
	})

	e.RegisterHandler(TypeContextWrite, func(_ context.Context, t *Tool, inv *Invocation) (any, error) {
		key := gjson.GetBytes(inv.Arguments, "key").String()
		if key == "" {
			return nil, fmt.Errorf("%w: key is required", ErrInvalidArguments)
		}
		if !keyAllowed(t, key) {
			return nil, fmt.Errorf("%w: key %q is not writable", ErrInvalidArguments, key)
		}
		var v blackboard.Value
		if raw := gjson.GetBytes(inv.Arguments, "value").Raw; raw != "" {
			if err := json.Unmarshal([]byte(raw), &v); err != nil {
				return nil, fmt.Errorf("%w: value: %v", ErrInvalidArguments, err)
			}
		}
		patch := blackboard.NewFields()
		patch.Set(key, v)
		contexts.Update(inv.ExecutionID, patch)
		return map[string]any{"written": key}, nil
	})

	e.RegisterHandler(TypeSendMessage, func(ctx context.Context, _ *Tool, inv *Invocation) (any, error) {
		b, ok := buses(inv.ExecutionID)
		if !ok {
			return nil, fmt.Errorf("no message bus for execution %s", inv.ExecutionID)
		}
		args := gjson.ParseBytes(inv.Arguments)
		to := args.Get("to").String()
		if to == "" {
			return nil, fmt.Errorf("%w: to is required", ErrInvalidArguments)
		}
		typ := bus.MessageType(args.Get("type").String())
		if typ == "" {
			typ = bus.TypeData
		}
		msg, err := b.Send(ctx, inv.AgentID, to, typ, args.Get("content").Value(), nil)
		if err != nil {
			return nil, err
		}
		return map[string]any{"messageId": msg.ID}, nil
	})
}

func keyAllowed(t *Tool, key string) bool {
	allowed := gjson.GetBytes(t.Configuration, "keys")
	if !allowed.IsArray() {
		return true
	}
	var keys []string
	for _, k := range allowed.Array() {
		keys = append(keys, k.String())
	}
	return slices.Contains(keys, key)
}
