// internal/audit/redis.go
package audit

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"loan-navigator/internal/models"
)

// RedisSink appends events to a Redis stream. The stream is capped with an
// approximate MAXLEN so the trail survives restarts without unbounded growth.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisSink(client *redis.Client, stream string, maxLen int64) *RedisSink {
	return &RedisSink{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

func (s *RedisSink) Append(ctx context.Context, event models.AuditEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// Ordered slice form keeps the entry layout deterministic.
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: []interface{}{
			"request_id", event.RequestID,
			"seq", event.Seq,
			"stage", event.Stage,
			"event", string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	return s.client.XAdd(ctx, args).Err()
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
