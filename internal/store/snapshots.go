package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/blackboard"
)

// SaveSnapshot upserts a persisted context.
func (s *Store) SaveSnapshot(ctx context.Context, snap *blackboard.Snapshot) error {
	data, err := json.Marshal(snap.Data)
	if err != nil {
		return fmt.Errorf("marshal context %s: %w", snap.ExecutionID, err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agent_contexts (execution_id, parent_execution_id, data, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)
		ON CONFLICT (execution_id) DO UPDATE SET
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		snap.ExecutionID, snap.ParentExecutionID, data, snap.CreatedAt, snap.UpdatedAt,
	)
	if err != nil {
		return wrap("save context "+snap.ExecutionID, err)
	}
	return nil
}

// LoadSnapshot reads a persisted context, or nil if none was saved.
func (s *Store) LoadSnapshot(ctx context.Context, executionID string) (*blackboard.Snapshot, error) {
	var (
		snap blackboard.Snapshot
		data []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT execution_id, COALESCE(parent_execution_id, ''), data, created_at, updated_at
		FROM agent_contexts WHERE execution_id = $1`, executionID,
	).Scan(&snap.ExecutionID, &snap.ParentExecutionID, &data, &snap.CreatedAt, &snap.UpdatedAt)
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("load context "+executionID, err)
	}
	snap.Data = blackboard.NewFields()
	if err := snap.Data.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("decode context %s: %w", executionID, err)
	}
	snap.CreatedAt, snap.UpdatedAt = snap.CreatedAt.UTC(), snap.UpdatedAt.UTC()
	return &snap, nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, executionID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM agent_contexts WHERE execution_id = $1`, executionID); err != nil {
		return wrap("delete context "+executionID, err)
	}
	return nil
}

func (s *Store) CountSnapshots(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM agent_contexts`).Scan(&n); err != nil {
		return 0, wrap("count contexts", err)
	}
	return n, nil
}

func (s *Store) ClearSnapshots(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM agent_contexts`); err != nil {
		return wrap("clear contexts", err)
	}
	return nil
}
