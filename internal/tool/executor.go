package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/provider"
)

// Invocation is one agent's request to run a tool. Tool matches either the
// tool id or its name.
type Invocation struct {
	AgentID     string          `json:"agentId"`
	ExecutionID string          `json:"executionId"`
	Tool        string          `json:"tool"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
}

// Handler runs one tool type.
type Handler func(ctx context.Context, t *Tool, inv *Invocation) (any, error)

// Executor dispatches invocations to the handler registered for the tool's
// type, after checking the agent may use the tool.
type Executor struct {
	registry *Registry
	logger   *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewExecutor(registry *Registry, logger *zap.Logger) *Executor {
	return &Executor{
		registry: registry,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler installs h for toolType, replacing any previous handler.
func (e *Executor) RegisterHandler(toolType string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[toolType] = h
}

// Types lists the tool types with a handler.
func (e *Executor) Types() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.handlers))
	for t := range e.handlers {
		out = append(out, t)
	}
	return out
}

func (e *Executor) resolve(ctx context.Context, agentID, ref string) (*AssignedTool, error) {
	assigned, err := e.registry.GetByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	for i := range assigned {
		if assigned[i].ID == ref || assigned[i].Name == ref {
			return &assigned[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s is not assigned to %s", ErrToolNotFound, ref, agentID)
}

// Execute runs inv and returns the handler's result as JSON.
func (e *Executor) Execute(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	at, err := e.resolve(ctx, inv.AgentID, inv.Tool)
	if err != nil {
		return nil, err
	}
	if !at.IsEnabled || !at.IsActive {
		return nil, fmt.Errorf("%w: %s for %s", ErrToolDisabled, at.Name, inv.AgentID)
	}

	e.mu.RLock()
	h, ok := e.handlers[at.Type]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, at.Type)
	}

	if len(inv.Arguments) == 0 {
		inv.Arguments = json.RawMessage(`{}`)
	}
	if err := checkArguments(at.Tool, inv.Arguments); err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := h(ctx, at.Tool, &inv)
	if err != nil {
		e.logger.Warn("tool failed",
			zap.String("tool", at.Name),
			zap.String("agent", inv.AgentID),
			zap.String("execution", inv.ExecutionID),
			zap.Error(err))
		return nil, fmt.Errorf("execute %s: %w", at.Name, err)
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", at.Name, err)
	}
	e.logger.Debug("tool executed",
		zap.String("tool", at.Name),
		zap.String("agent", inv.AgentID),
		zap.Duration("took", time.Since(start)))
	return out, nil
}

// checkArguments requires a JSON object carrying every field the input
// schema lists under "required".
func checkArguments(t *Tool, args json.RawMessage) error {
	parsed := gjson.ParseBytes(args)
	if !gjson.ValidBytes(args) || !parsed.IsObject() {
		return fmt.Errorf("%w: %s: arguments must be a JSON object", ErrInvalidArguments, t.Name)
	}
	if len(t.InputSchema) == 0 {
		return nil
	}
	for _, field := range gjson.GetBytes(t.InputSchema, "required").Array() {
		if !parsed.Get(gjson.Escape(field.String())).Exists() {
			return fmt.Errorf("%w: %s: missing %q", ErrInvalidArguments, t.Name, field.String())
		}
	}
	return nil
}

// Definitions returns the function definitions of the agent's usable tools.
func (e *Executor) Definitions(ctx context.Context, agentID string) ([]provider.Tool, error) {
	assigned, err := e.registry.GetByAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	var defs []provider.Tool
	for _, at := range assigned {
		if !at.IsEnabled || !at.IsActive {
			continue
		}
		var params any = map[string]any{"type": "object", "properties": map[string]any{}}
		if len(at.InputSchema) > 0 {
			params = at.InputSchema
		}
		defs = append(defs, provider.Tool{
			Type: "function",
			Function: provider.ToolFunction{
				Name:        at.Name,
				Description: at.Description,
				Parameters:  params,
			},
		})
	}
	return defs, nil
}

// Invoke runs a tool by name on behalf of a model tool call.
func (e *Executor) Invoke(ctx context.Context, agentID, executionID, name, args string) (string, error) {
	out, err := e.Execute(ctx, Invocation{
		AgentID:     agentID,
		ExecutionID: executionID,
		Tool:        name,
		Arguments:   json.RawMessage(args),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
