package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/workflow"
)

const workflowColumns = `id, bot_id, name, workflow_type, agents_config, flow_config, entry_agent_id, is_default, is_active, created_at, updated_at`

// CreateWorkflow inserts a workflow definition.
func (s *Store) CreateWorkflow(ctx context.Context, d *workflow.Definition) error {
	agents, err := json.Marshal(d.Agents)
	if err != nil {
		return fmt.Errorf("marshal agents config: %w", err)
	}
	flow, err := json.Marshal(d.Flow)
	if err != nil {
		return fmt.Errorf("marshal flow config: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO workflows (`+workflowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.BotID, d.Name, string(d.Type), agents, flow, d.EntryAgentID,
		d.IsDefault, d.IsActive, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return wrap("create workflow "+d.Name, err)
	}
	return nil
}

// GetWorkflow returns a definition by id, or nil.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Definition, error) {
	d, err := scanWorkflow(s.db.QueryRow(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id))
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get workflow "+id, err)
	}
	return d, nil
}

// ListWorkflows returns every definition, oldest first.
func (s *Store) ListWorkflows(ctx context.Context) ([]*workflow.Definition, error) {
	rows, err := s.db.Query(ctx, `SELECT `+workflowColumns+` FROM workflows ORDER BY created_at`)
	if err != nil {
		return nil, wrap("list workflows", err)
	}
	defer rows.Close()

	var out []*workflow.Definition
	for rows.Next() {
		d, err := scanWorkflow(rows)
		if err != nil {
			return nil, wrap("scan workflow", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate workflows", err)
	}
	return out, nil
}

func scanWorkflow(row pgx.Row) (*workflow.Definition, error) {
	var (
		d            workflow.Definition
		typ          string
		agents, flow []byte
	)
	if err := row.Scan(&d.ID, &d.BotID, &d.Name, &typ, &agents, &flow, &d.EntryAgentID,
		&d.IsDefault, &d.IsActive, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Type = workflow.Type(typ)
	if err := json.Unmarshal(agents, &d.Agents); err != nil {
		return nil, fmt.Errorf("decode agents config: %w", err)
	}
	if err := json.Unmarshal(flow, &d.Flow); err != nil {
		return nil, fmt.Errorf("decode flow config: %w", err)
	}
	d.CreatedAt, d.UpdatedAt = d.CreatedAt.UTC(), d.UpdatedAt.UTC()
	return &d, nil
}

const executionColumns = `id, workflow_id, status, input, output, error, steps, created_at, started_at, completed_at`

func executionArgs(e *workflow.Execution) ([]any, error) {
	input, err := json.Marshal(e.Input)
	if err != nil {
		return nil, fmt.Errorf("marshal execution input: %w", err)
	}
	output, err := json.Marshal(e.Output)
	if err != nil {
		return nil, fmt.Errorf("marshal execution output: %w", err)
	}
	steps, err := json.Marshal(e.Steps)
	if err != nil {
		return nil, fmt.Errorf("marshal execution steps: %w", err)
	}
	return []any{e.ID, e.WorkflowID, string(e.Status), input, output, e.Error, steps,
		e.CreatedAt, e.StartedAt, e.CompletedAt}, nil
}

// CreateExecution inserts an execution record.
func (s *Store) CreateExecution(ctx context.Context, e *workflow.Execution) error {
	args, err := executionArgs(e)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO workflow_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, args...)
	if err != nil {
		return wrap("create execution "+e.ID, err)
	}
	return nil
}

// UpdateExecution overwrites the mutable state of an execution.
func (s *Store) UpdateExecution(ctx context.Context, e *workflow.Execution) error {
	args, err := executionArgs(e)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE workflow_executions SET
			workflow_id = $2, status = $3, input = $4, output = $5, error = $6,
			steps = $7, created_at = $8, started_at = $9, completed_at = $10
		WHERE id = $1`, args...)
	if err != nil {
		return wrap("update execution "+e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return workflow.ErrExecutionNotFound
	}
	return nil
}

// GetExecution returns an execution by id, or nil.
func (s *Store) GetExecution(ctx context.Context, id string) (*workflow.Execution, error) {
	e, err := scanExecution(s.db.QueryRow(ctx, `SELECT `+executionColumns+` FROM workflow_executions WHERE id = $1`, id))
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get execution "+id, err)
	}
	return e, nil
}

// ListExecutionsByWorkflow returns a workflow's executions, oldest first.
func (s *Store) ListExecutionsByWorkflow(ctx context.Context, workflowID string) ([]*workflow.Execution, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+executionColumns+` FROM workflow_executions
		WHERE workflow_id = $1 ORDER BY created_at`, workflowID)
	if err != nil {
		return nil, wrap("list executions", err)
	}
	defer rows.Close()

	var out []*workflow.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, wrap("scan execution", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate executions", err)
	}
	return out, nil
}

func scanExecution(row pgx.Row) (*workflow.Execution, error) {
	var (
		e                    workflow.Execution
		status               string
		input, output, steps []byte
	)
	if err := row.Scan(&e.ID, &e.WorkflowID, &status, &input, &output, &e.Error, &steps,
		&e.CreatedAt, &e.StartedAt, &e.CompletedAt); err != nil {
		return nil, err
	}
	e.Status = workflow.Status(status)
	for _, f := range []struct {
		raw []byte
		dst any
	}{{input, &e.Input}, {output, &e.Output}, {steps, &e.Steps}} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("decode execution %s: %w", e.ID, err)
		}
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}
