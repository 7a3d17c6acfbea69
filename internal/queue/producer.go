package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeadLetter is a message that exhausted its delivery attempts.
type DeadLetter struct {
	EventID    int64
	DeliveryID string
	Repository string
	Rule       string
	ChannelID  string
	Message    string
	Attempts   int
	Error      string
	FailedAt   time.Time
}

type Producer interface {
	Enqueue(ctx context.Context, msg DeadLetter) error
	Close() error
}

type redisProducer struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *slog.Logger
}

// NewRedisProducer appends dead letters to a capped Redis stream so an operator
// can inspect and replay them.
func NewRedisProducer(client *redis.Client, stream string, maxLen int64, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg DeadLetter) error {
	if msg.FailedAt.IsZero() {
		msg.FailedAt = time.Now().UTC()
	}

	fields := map[string]any{
		"event_id":    msg.EventID,
		"delivery_id": msg.DeliveryID,
		"repository":  msg.Repository,
		"rule":        msg.Rule,
		"channel_id":  msg.ChannelID,
		"message":     msg.Message,
		"attempts":    msg.Attempts,
		"error":       msg.Error,
		"failed_at":   msg.FailedAt.Format(time.RFC3339Nano),
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd dead letter (stream=%s): %w", p.stream, err)
	}

	p.logger.WarnContext(ctx, "delivery sent to dead letter stream",
		"dlq_stream", p.stream,
		"channel_id", msg.ChannelID,
		"attempts", msg.Attempts,
		"final_error", msg.Error)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
