package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/blackboard"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/bus"
)

var (
	ErrInvalidAgent   = errors.New("invalid agent")
	ErrDuplicateAgent = errors.New("duplicate agent")
	ErrAgentNotFound  = errors.New("agent not found")
	ErrAgentExecution = errors.New("agent execution failed")
	ErrOutputParse    = errors.New("agent output could not be parsed")
)

// Role is a free-form lookup tag. Plugins may add roles, so it is a
// validated string rather than a closed set. The empty role is allowed and
// keeps an agent out of every role bucket.
type Role string

const (
	RoleWriter     Role = "writer"
	RoleReviewer   Role = "reviewer"
	RoleEditor     Role = "editor"
	RoleResearcher Role = "researcher"
	RoleRouter     Role = "router"
)

// Validate rejects roles containing whitespace.
func (r Role) Validate() error {
	if strings.ContainsAny(string(r), " \t\r\n") {
		return fmt.Errorf("role %q contains whitespace", string(r))
	}
	return nil
}

// Call is everything an agent sees for one step of an execution.
type Call struct {
	ExecutionID string
	Input       blackboard.Value
	// Context is a detached snapshot of the blackboard taken before the step.
	Context *blackboard.Snapshot
	// Bus lets the agent message its peers; nil outside an execution.
	Bus *bus.MessageBus
}

// Output is an agent's structured result plus the raw model text.
type Output struct {
	Value blackboard.Value `json:"output"`
	Raw   string           `json:"raw,omitempty"`
}

// Agent is the contract the workflow engine drives.
type Agent interface {
	ID() string
	Role() Role
	Execute(ctx context.Context, call *Call) (*Output, error)
}

// PromptBuilder is implemented by agents that render a prompt from input and context.
type PromptBuilder interface {
	BuildPrompt(call *Call) string
}

// OutputParser is implemented by agents that validate raw model output.
type OutputParser interface {
	ParseOutput(raw string) (blackboard.Value, error)
}

// Func adapts a plain function to the Agent interface.
type Func struct {
	AgentID   string
	AgentRole Role
	Fn        func(ctx context.Context, call *Call) (*Output, error)
}

// ID returns "" on a nil receiver so the registry rejects it.
func (f *Func) ID() string {
	if f == nil {
		return ""
	}
	return f.AgentID
}

func (f *Func) Role() Role {
	if f == nil {
		return ""
	}
	return f.AgentRole
}

func (f *Func) Execute(ctx context.Context, call *Call) (*Output, error) {
	return f.Fn(ctx, call)
}

// MarshalJSON describes the agent by id and role.
func (f *Func) MarshalJSON() ([]byte, error) {
	return jsonDescriptor(f)
}
