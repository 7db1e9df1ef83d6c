package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/blackboard"
)

var (
	ErrInvalidTransition = errors.New("invalid execution status transition")
	ErrExecutionNotFound = errors.New("execution not found")
	ErrJoinTimeout       = errors.New("parallel join timed out")
	ErrStepLimit         = errors.New("conditional step limit exceeded")
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var validTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition returns nil if from → to is legal.
func CanTransition(from, to Status) error {
	for _, s := range validTransitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %q → %q", ErrInvalidTransition, from, to)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepStatus is the outcome of one agent step.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepRecord tracks one agent invocation within an execution.
type StepRecord struct {
	AgentID   string           `json:"agentId"`
	Status    StepStatus       `json:"status"`
	Optional  bool             `json:"optional,omitempty"`
	Output    blackboard.Value `json:"output"`
	Error     string           `json:"error,omitempty"`
	StartedAt time.Time        `json:"startedAt"`
	Duration  time.Duration    `json:"duration"`
}

// Execution is one run of a workflow.
type Execution struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflowId"`
	Status      Status           `json:"status"`
	Input       blackboard.Value `json:"input"`
	Output      blackboard.Value `json:"output"`
	Error       string           `json:"error,omitempty"`
	Steps       []StepRecord     `json:"steps"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

func (e *Execution) clone() *Execution {
	cp := *e
	cp.Steps = append([]StepRecord(nil), e.Steps...)
	return &cp
}

// transition moves e to status, stamping the lifecycle timestamps.
func (e *Execution) transition(to Status) error {
	if err := CanTransition(e.Status, to); err != nil {
		return fmt.Errorf("execution %s: %w", e.ID, err)
	}
	now := time.Now().UTC()
	switch {
	case to == StatusRunning:
		e.StartedAt = &now
	case to.Terminal():
		e.CompletedAt = &now
	}
	e.Status = to
	return nil
}
