package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamPrefix = "botbuilder:messages:"

// RedisStore keeps each execution's message log in its own Redis Stream,
// so stream order is the persisted order.
type RedisStore struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, logger: logger}, nil
}

// Client exposes the underlying connection for sibling stores.
func (s *RedisStore) Client() *redis.Client { return s.rdb }

func (s *RedisStore) CreateMessage(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	stream := streamPrefix + msg.ExecutionID
	_, err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("append to %s: %w", stream, err)
	}

	s.logger.Debug("persisted message",
		zap.String("execution", msg.ExecutionID),
		zap.String("from", msg.FromAgentID),
		zap.String("to", msg.ToAgentID),
		zap.String("type", string(msg.Type)))
	return nil
}

func (s *RedisStore) FindMessagesByExecution(ctx context.Context, executionID string) ([]*Message, error) {
	entries, err := s.rdb.XRange(ctx, streamPrefix+executionID, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read stream %s: %w", executionID, err)
	}
	msgs := make([]*Message, 0, len(entries))
	for _, e := range entries {
		data, ok := e.Values["data"].(string)
		if !ok {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			s.logger.Warn("skipping undecodable message", zap.String("entry", e.ID), zap.Error(err))
			continue
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

func (s *RedisStore) FindMessagesByRecipient(ctx context.Context, executionID, toAgentID string) ([]*Message, error) {
	all, err := s.FindMessagesByExecution(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return Filter{ToAgentID: toAgentID}.Apply(all), nil
}

func (s *RedisStore) CountMessagesByExecution(ctx context.Context, executionID string) (int, error) {
	n, err := s.rdb.XLen(ctx, streamPrefix+executionID).Result()
	if err != nil {
		return 0, fmt.Errorf("count stream %s: %w", executionID, err)
	}
	return int(n), nil
}

func (s *RedisStore) DeleteMessagesByExecution(ctx context.Context, executionID string) error {
	if err := s.rdb.Del(ctx, streamPrefix+executionID).Err(); err != nil {
		return fmt.Errorf("delete stream %s: %w", executionID, err)
	}
	return nil
}

// Close shuts down the Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
