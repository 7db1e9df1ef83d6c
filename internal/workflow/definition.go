package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/blackboard"
	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/bus"
)

var (
	ErrInvalidDefinition = errors.New("invalid workflow definition")
	ErrCyclicFlow        = errors.New("workflow flow contains a cycle")
	ErrWorkflowNotFound  = errors.New("workflow not found")
)

// Type defines how the agents of a workflow execute.
type Type string

const (
	TypeSequential  Type = "sequential"
	TypeParallel    Type = "parallel"
	TypeConditional Type = "conditional"
)

// End is the transition target that finishes a conditional workflow.
const End = "$end"

// Branch failure policies for parallel workflows.
const (
	BranchFailureNull = "null" // record null for the branch and keep joining
	BranchFailureFail = "fail" // fail the whole execution
)

// AgentSpec is one entry of a workflow's agent list.
type AgentSpec struct {
	AgentID     string `json:"agentId"`
	Optional    bool   `json:"optional,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

// Condition guards a transition. A bare Path tests the truthiness of the
// value at that gjson path in the step output. MessageType matches when the
// step's agent sent a message of that type during the step. All set fields
// must hold; an empty condition always holds.
type Condition struct {
	Path        string `json:"path,omitempty"`
	Equals      any    `json:"equals,omitempty"`
	Exists      *bool  `json:"exists,omitempty"`
	MessageType string `json:"messageType,omitempty"`
}

// Transition moves a conditional workflow from one agent to the next.
type Transition struct {
	From string     `json:"from"`
	To   string     `json:"to"`
	When *Condition `json:"when,omitempty"`
}

// FlowConfig holds the transition and branch rules of a workflow.
type FlowConfig struct {
	Transitions   []Transition `json:"transitions,omitempty"`
	BranchFailure string       `json:"branchFailure,omitempty"`
}

// Definition is a stored workflow.
type Definition struct {
	ID           string      `json:"id"`
	BotID        string      `json:"botId,omitempty"`
	Name         string      `json:"name"`
	Type         Type        `json:"workflowType"`
	Agents       []AgentSpec `json:"agentsConfig"`
	Flow         FlowConfig  `json:"flowConfig"`
	EntryAgentID string      `json:"entryAgentId,omitempty"`
	IsDefault    bool        `json:"isDefault"`
	IsActive     bool        `json:"isActive"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

func (d *Definition) spec(agentID string) (AgentSpec, bool) {
	for _, a := range d.Agents {
		if a.AgentID == agentID {
			return a, true
		}
	}
	return AgentSpec{}, false
}

// Entry returns the first agent of a conditional workflow.
func (d *Definition) Entry() string {
	if d.EntryAgentID != "" {
		return d.EntryAgentID
	}
	if len(d.Agents) > 0 {
		return d.Agents[0].AgentID
	}
	return ""
}

// Validate checks the definition is runnable. Conditional flows must be acyclic.
func (d *Definition) Validate() error {
	switch d.Type {
	case TypeSequential, TypeParallel, TypeConditional:
	default:
		return fmt.Errorf("%w: unknown workflow type %q", ErrInvalidDefinition, d.Type)
	}
	if len(d.Agents) == 0 {
		return fmt.Errorf("%w: no agents configured", ErrInvalidDefinition)
	}
	seen := make(map[string]bool, len(d.Agents))
	for i, a := range d.Agents {
		if a.AgentID == "" {
			return fmt.Errorf("%w: agent %d has no id", ErrInvalidDefinition, i)
		}
		if seen[a.AgentID] {
			return fmt.Errorf("%w: agent %s listed twice", ErrInvalidDefinition, a.AgentID)
		}
		seen[a.AgentID] = true
	}
	switch d.Flow.BranchFailure {
	case "", BranchFailureNull, BranchFailureFail:
	default:
		return fmt.Errorf("%w: unknown branch failure policy %q", ErrInvalidDefinition, d.Flow.BranchFailure)
	}
	if d.Type != TypeConditional {
		return nil
	}

	if !seen[d.Entry()] {
		return fmt.Errorf("%w: entry agent %s is not configured", ErrInvalidDefinition, d.Entry())
	}
	for _, t := range d.Flow.Transitions {
		if !seen[t.From] {
			return fmt.Errorf("%w: transition from unknown agent %s", ErrInvalidDefinition, t.From)
		}
		if t.To != End && !seen[t.To] {
			return fmt.Errorf("%w: transition to unknown agent %s", ErrInvalidDefinition, t.To)
		}
	}
	return d.checkAcyclic()
}

func (d *Definition) checkAcyclic() error {
	edges := make(map[string][]string)
	for _, t := range d.Flow.Transitions {
		if t.To != End {
			edges[t.From] = append(edges[t.From], t.To)
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int)
	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("%w: %v", ErrCyclicFlow, append(path, id))
		case done:
			return nil
		}
		state[id] = visiting
		for _, next := range edges[id] {
			if err := visit(next, append(path, id)); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for _, a := range d.Agents {
		if err := visit(a.AgentID, nil); err != nil {
			return err
		}
	}
	return nil
}

// next picks the first transition out of from whose condition holds. No
// match ends the flow.
func (f FlowConfig) next(from string, output blackboard.Value, sent []*bus.Message) (string, error) {
	var doc []byte
	for _, t := range f.Transitions {
		if t.From != from {
			continue
		}
		if t.When == nil {
			return t.To, nil
		}
		if doc == nil {
			var err error
			if doc, err = json.Marshal(output); err != nil {
				return "", fmt.Errorf("encode output of %s: %w", from, err)
			}
		}
		if t.When.holds(doc, sent) {
			return t.To, nil
		}
	}
	return End, nil
}

func (c *Condition) holds(doc []byte, sent []*bus.Message) bool {
	if c.Path != "" {
		res := gjson.GetBytes(doc, c.Path)
		switch {
		case c.Exists != nil:
			if res.Exists() != *c.Exists {
				return false
			}
		case c.Equals != nil:
			if !res.Exists() || !blackboard.From(res.Value()).Equal(blackboard.From(c.Equals)) {
				return false
			}
		default:
			if !res.Bool() {
				return false
			}
		}
	}
	if c.MessageType != "" {
		for _, m := range sent {
			if string(m.Type) == c.MessageType {
				return true
			}
		}
		return false
	}
	return true
}
