package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrToolDisabled     = errors.New("tool disabled")
	ErrNoHandler        = errors.New("no handler for tool type")
	ErrInvalidArguments = errors.New("invalid tool arguments")
	ErrInvalidTool      = errors.New("invalid tool")
)

// Tool is a capability owned by a bot that agents may be assigned.
type Tool struct {
	ID            string          `json:"id"`
	BotID         string          `json:"botId"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Type          string          `json:"toolType"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
	InputSchema   json.RawMessage `json:"inputSchema,omitempty"`
	OutputSchema  json.RawMessage `json:"outputSchema,omitempty"`
	IsActive      bool            `json:"isActive"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func (t *Tool) validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTool)
	}
	if t.Type == "" {
		return fmt.Errorf("%w: %s: toolType is required", ErrInvalidTool, t.Name)
	}
	for field, raw := range map[string]json.RawMessage{
		"configuration": t.Configuration,
		"inputSchema":   t.InputSchema,
		"outputSchema":  t.OutputSchema,
	} {
		if len(raw) > 0 && !json.Valid(raw) {
			return fmt.Errorf("%w: %s: %s is not valid JSON", ErrInvalidTool, t.Name, field)
		}
	}
	return nil
}

func (t *Tool) clone() *Tool {
	cp := *t
	cp.Configuration = append(json.RawMessage(nil), t.Configuration...)
	cp.InputSchema = append(json.RawMessage(nil), t.InputSchema...)
	cp.OutputSchema = append(json.RawMessage(nil), t.OutputSchema...)
	return &cp
}

// Assignment links a tool to an agent. Unique per (AgentID, ToolID).
type Assignment struct {
	AgentID   string    `json:"agentId"`
	ToolID    string    `json:"toolId"`
	IsEnabled bool      `json:"isEnabled"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"createdAt"`
}

// AssignedTool is a tool joined with one agent's assignment.
type AssignedTool struct {
	*Tool
	IsEnabled bool `json:"isEnabled"`
	Priority  int  `json:"priority"`
}
