package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/tool"
)

const toolColumns = `id, bot_id, name, description, tool_type, configuration, input_schema, output_schema, is_active, created_at, updated_at`

func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// CreateTool inserts a tool.
func (s *Store) CreateTool(ctx context.Context, t *tool.Tool) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tools (`+toolColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.BotID, t.Name, t.Description, t.Type,
		nullJSON(t.Configuration), nullJSON(t.InputSchema), nullJSON(t.OutputSchema),
		t.IsActive, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return wrap("create tool "+t.Name, err)
	}
	return nil
}

// GetTool returns a tool by id, or nil.
func (s *Store) GetTool(ctx context.Context, id string) (*tool.Tool, error) {
	t, err := scanTool(s.db.QueryRow(ctx, `SELECT `+toolColumns+` FROM tools WHERE id = $1`, id))
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get tool "+id, err)
	}
	return t, nil
}

// UpdateTool overwrites every mutable column of a tool.
func (s *Store) UpdateTool(ctx context.Context, t *tool.Tool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE tools SET
			bot_id = $2, name = $3, description = $4, tool_type = $5,
			configuration = $6, input_schema = $7, output_schema = $8,
			is_active = $9, updated_at = $10
		WHERE id = $1`,
		t.ID, t.BotID, t.Name, t.Description, t.Type,
		nullJSON(t.Configuration), nullJSON(t.InputSchema), nullJSON(t.OutputSchema),
		t.IsActive, t.UpdatedAt,
	)
	if err != nil {
		return wrap("update tool "+t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return tool.ErrToolNotFound
	}
	return nil
}

// DeleteTool removes a tool; assignments cascade.
func (s *Store) DeleteTool(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM tools WHERE id = $1`, id); err != nil {
		return wrap("delete tool "+id, err)
	}
	return nil
}

// ListToolsByBot returns a bot's tools ordered by name.
func (s *Store) ListToolsByBot(ctx context.Context, botID string) ([]*tool.Tool, error) {
	rows, err := s.db.Query(ctx, `SELECT `+toolColumns+` FROM tools WHERE bot_id = $1 ORDER BY name`, botID)
	if err != nil {
		return nil, wrap("list tools", err)
	}
	defer rows.Close()

	var out []*tool.Tool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, wrap("scan tool", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate tools", err)
	}
	return out, nil
}

func scanTool(row pgx.Row) (*tool.Tool, error) {
	var (
		t                  tool.Tool
		cfg, input, output []byte
	)
	if err := row.Scan(&t.ID, &t.BotID, &t.Name, &t.Description, &t.Type,
		&cfg, &input, &output, &t.IsActive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Configuration, t.InputSchema, t.OutputSchema = cfg, input, output
	t.CreatedAt, t.UpdatedAt = t.CreatedAt.UTC(), t.UpdatedAt.UTC()
	return &t, nil
}

// UpsertAssignment inserts or updates the (agent, tool) assignment.
func (s *Store) UpsertAssignment(ctx context.Context, a *tool.Assignment) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO agent_tools (agent_id, tool_id, is_enabled, priority, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id, tool_id) DO UPDATE SET
			is_enabled = EXCLUDED.is_enabled,
			priority = EXCLUDED.priority`,
		a.AgentID, a.ToolID, a.IsEnabled, a.Priority, a.CreatedAt,
	)
	if err != nil {
		return wrap("assign tool "+a.ToolID, err)
	}
	return nil
}

func (s *Store) DeleteAssignment(ctx context.Context, agentID, toolID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM agent_tools WHERE agent_id = $1 AND tool_id = $2`, agentID, toolID)
	if err != nil {
		return wrap("unassign tool "+toolID, err)
	}
	return nil
}

// ListAssignmentsByAgent returns an agent's assignments, highest priority first.
func (s *Store) ListAssignmentsByAgent(ctx context.Context, agentID string) ([]*tool.Assignment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT agent_id, tool_id, is_enabled, priority, created_at
		FROM agent_tools WHERE agent_id = $1
		ORDER BY priority DESC`, agentID)
	if err != nil {
		return nil, wrap("list assignments", err)
	}
	defer rows.Close()

	var out []*tool.Assignment
	for rows.Next() {
		var a tool.Assignment
		if err := rows.Scan(&a.AgentID, &a.ToolID, &a.IsEnabled, &a.Priority, &a.CreatedAt); err != nil {
			return nil, wrap("scan assignment", err)
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate assignments", err)
	}
	return out, nil
}
