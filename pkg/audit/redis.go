package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	redisKey = "airlock:trigger_audit"

	// The redis backend keeps a capped list of recent decisions, not the
	// full history; it exists for dashboards, not for compliance.
	redisMaxRecords = 1000
)

// RedisStore implements Store as a capped list of recent records.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore parses the redis URL and verifies connectivity.
func NewRedisStore(ctx context.Context, logger *slog.Logger, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	err = client.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.InfoContext(ctx, "Audit Redis store initialized")

	return &RedisStore{
		client: client,
		logger: logger.With("component", "audit_redis_store"),
	}, nil
}

func (s *RedisStore) Append(ctx context.Context, record *Record) error {
	stamp(record)

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, redisKey, payload)
	pipe.LTrim(ctx, redisKey, 0, redisMaxRecords-1)

	_, err = pipe.Exec(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to append audit record", "record_id", record.ID, "error", err)

		return fmt.Errorf("failed to append audit record: %w", err)
	}

	return nil
}

func (s *RedisStore) Recent(ctx context.Context, limit int) ([]*Record, error) {
	lines, err := s.client.LRange(ctx, redisKey, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit records: %w", err)
	}

	records := make([]*Record, 0, len(lines))

	for _, line := range lines {
		var record Record

		err := json.Unmarshal([]byte(line), &record)
		if err != nil {
			return nil, fmt.Errorf("corrupt audit record: %w", err)
		}

		records = append(records, &record)
	}

	return records, nil
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
