package auditlog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream used when none is configured.
const DefaultStream = "records:audit"

// defaultMaxLen caps the stream approximately.
const defaultMaxLen = 100_000

// RedisSink publishes entries to a Redis stream so other services can follow
// record changes.
type RedisSink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisSink connects to url and verifies the connection.
func NewRedisSink(url, stream string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisSinkWithClient(client, stream), nil
}

func NewRedisSinkWithClient(client redis.UniversalClient, stream string) *RedisSink {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: defaultMaxLen}
}

func (s *RedisSink) Record(ctx context.Context, e Entry) error {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"at":         e.Time.UTC().Format(time.RFC3339Nano),
			"request_id": e.RequestID,
			"subject":    e.Subject,
			"fallback":   strconv.FormatBool(e.Fallback),
			"entity":     e.Entity,
			"operation":  e.Operation,
			"record_id":  e.RecordID,
			"method":     e.Method,
			"path":       e.Path,
			"status":     strconv.Itoa(e.Status),
			"remote_ip":  e.RemoteIP,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish audit entry: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
