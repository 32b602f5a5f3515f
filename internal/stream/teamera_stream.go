// Package stream appends JSON records to capped Redis streams.
package stream

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	StreamAudit = "teamera:audit"

	defaultMaxLen  = 100000
	publishTimeout = 2 * time.Second
)

type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
}

// RedisStream writes to streams trimmed to roughly maxLen entries.
type RedisStream struct {
	client streamClient
	maxLen int64
}

func NewRedisStream(client *redis.Client, maxLen int64) *RedisStream {
	return newRedisStream(client, maxLen)
}

func newRedisStream(client streamClient, maxLen int64) *RedisStream {
	if maxLen <= 0 {
		maxLen = defaultMaxLen
	}
	return &RedisStream{client: client, maxLen: maxLen}
}

// Publish stores data under the "data" field and returns the entry id.
func (s *RedisStream) Publish(ctx context.Context, stream string, data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{"data": string(raw)},
		MaxLen: s.maxLen,
		Approx: true,
	}).Result()
}

// Recent returns the data of the newest n entries, newest first.
func (s *RedisStream) Recent(ctx context.Context, stream string, n int64) ([]json.RawMessage, error) {
	msgs, err := s.client.XRevRangeN(ctx, stream, "+", "-", n).Result()
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		if data, ok := m.Values["data"].(string); ok {
			out = append(out, json.RawMessage(data))
		}
	}
	return out, nil
}

// AuditLog publishes audit entries to StreamAudit.
type AuditLog struct {
	stream *RedisStream
}

func NewAuditLog(s *RedisStream) *AuditLog {
	return &AuditLog{stream: s}
}

func (a *AuditLog) Publish(ctx context.Context, entry any) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	_, err := a.stream.Publish(ctx, StreamAudit, entry)
	return err
}

func (a *AuditLog) Recent(ctx context.Context, n int64) ([]json.RawMessage, error) {
	return a.stream.Recent(ctx, StreamAudit, n)
}
