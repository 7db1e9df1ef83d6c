package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rasad8686/BotBuilder-Platform-sub019/internal/bus"
)

const messageColumns = `id, execution_id, from_agent_id, to_agent_id, message_type, content, metadata, created_at`

// CreateMessage appends a message to the execution log.
func (s *Store) CreateMessage(ctx context.Context, msg *bus.Message) error {
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return fmt.Errorf("marshal message content: %w", err)
	}
	var meta []byte
	if len(msg.Metadata) > 0 {
		if meta, err = json.Marshal(msg.Metadata); err != nil {
			return fmt.Errorf("marshal message metadata: %w", err)
		}
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO agent_messages (`+messageColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.ExecutionID, msg.FromAgentID, msg.ToAgentID,
		string(msg.Type), content, meta, msg.Timestamp,
	)
	if err != nil {
		return wrap("create message "+msg.ID, err)
	}
	return nil
}

// FindMessagesByExecution returns an execution's log oldest first.
func (s *Store) FindMessagesByExecution(ctx context.Context, executionID string) ([]*bus.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM agent_messages
		WHERE execution_id = $1
		ORDER BY seq ASC`, executionID)
	if err != nil {
		return nil, wrap("find messages", err)
	}
	return scanMessages(rows)
}

// FindMessagesByRecipient returns the messages addressed to toAgentID, oldest first.
func (s *Store) FindMessagesByRecipient(ctx context.Context, executionID, toAgentID string) ([]*bus.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM agent_messages
		WHERE execution_id = $1 AND to_agent_id = $2
		ORDER BY seq ASC`, executionID, toAgentID)
	if err != nil {
		return nil, wrap("find messages", err)
	}
	return scanMessages(rows)
}

// CountMessagesByExecution returns the size of an execution's log.
func (s *Store) CountMessagesByExecution(ctx context.Context, executionID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM agent_messages WHERE execution_id = $1`, executionID).Scan(&n)
	if err != nil {
		return 0, wrap("count messages", err)
	}
	return n, nil
}

// DeleteMessagesByExecution drops an execution's log.
func (s *Store) DeleteMessagesByExecution(ctx context.Context, executionID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM agent_messages WHERE execution_id = $1`, executionID); err != nil {
		return wrap("delete messages", err)
	}
	return nil
}

func scanMessages(rows pgx.Rows) ([]*bus.Message, error) {
	defer rows.Close()
	var out []*bus.Message
	for rows.Next() {
		var (
			m             bus.Message
			typ           string
			content, meta []byte
		)
		if err := rows.Scan(&m.ID, &m.ExecutionID, &m.FromAgentID, &m.ToAgentID, &typ, &content, &meta, &m.Timestamp); err != nil {
			return nil, wrap("scan message", err)
		}
		m.Type = bus.MessageType(typ)
		if len(content) > 0 {
			if err := json.Unmarshal(content, &m.Content); err != nil {
				return nil, fmt.Errorf("decode message %s content: %w", m.ID, err)
			}
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &m.Metadata); err != nil {
				return nil, fmt.Errorf("decode message %s metadata: %w", m.ID, err)
			}
		}
		m.Timestamp = m.Timestamp.UTC()
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate messages", err)
	}
	return out, nil
}
