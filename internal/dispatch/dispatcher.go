package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/defnot001/biomebot/common/logger"
	"github.com/defnot001/biomebot/internal/metrics"
	"github.com/defnot001/biomebot/internal/queue"
)

type Status string

const (
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Message is one outbound post plus the context needed to report a failure.
type Message struct {
	ChannelID  string
	Text       string
	Rule       string
	EventID    int64
	DeliveryID string
	Repository string
}

type Result struct {
	ChannelID string
	Status    Status
	Attempts  int
	Err       error
}

func (r Result) Delivered() bool {
	return r.Status == StatusDelivered
}

type Config struct {
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:  4,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  30 * time.Second,
	}
}

// Dispatcher delivers messages to a Sink, retrying transient failures with
// exponential backoff. A failed delivery is logged, counted and optionally
// dead-lettered; it is never returned as a fatal error.
type Dispatcher struct {
	sink       Sink
	cfg        Config
	deadLetter queue.Producer
	logger     *slog.Logger
}

func New(sink Sink, cfg Config, deadLetter queue.Producer, logger *slog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sink:       sink,
		cfg:        cfg,
		deadLetter: deadLetter,
		logger:     logger,
	}
}

// Deliver posts msg, retrying up to MaxRetries times. Waiting between attempts
// only suspends the calling goroutine and stops early when ctx is done.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) Result {
	span := logger.StartSpan(ctx, "dispatch.deliver",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("biomebot.channel_id", msg.ChannelID),
			attribute.String("biomebot.rule", msg.Rule),
		))
	defer span.End()
	ctx = span.Context()

	result := Result{ChannelID: msg.ChannelID}
	maxAttempts := d.cfg.MaxRetries + 1
	defer func() {
		span.SetAttributes(attribute.Int("biomebot.attempts", result.Attempts))
		span.RecordError(result.Err)
	}()

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		metrics.DispatchAttemptsTotal.WithLabelValues(msg.ChannelID).Inc()

		err = d.post(ctx, msg)
		if err == nil {
			result.Status = StatusDelivered
			metrics.DispatchDeliveredTotal.WithLabelValues(msg.ChannelID).Inc()
			d.logger.InfoContext(ctx, "message delivered",
				"channel_id", msg.ChannelID,
				"rule", msg.Rule,
				"attempts", attempt)
			return result
		}

		if IsPermanent(err) || attempt == maxAttempts {
			break
		}

		delay := d.backoff(attempt)
		d.logger.WarnContext(ctx, "delivery failed, retrying",
			"error", err,
			"channel_id", msg.ChannelID,
			"attempt", attempt,
			"retry_in_ms", delay.Milliseconds())

		if waitErr := wait(ctx, delay); waitErr != nil {
			err = fmt.Errorf("retry wait interrupted: %w (last error: %v)", waitErr, err)
			break
		}
	}

	result.Status = StatusFailed
	result.Err = err
	d.fail(ctx, msg, result)
	return result
}

// DeliverAll delivers every message concurrently; there is no ordering between
// channels and one failure does not stop the others.
func (d *Dispatcher) DeliverAll(ctx context.Context, msgs []Message) []Result {
	results := make([]Result, len(msgs))
	var g errgroup.Group
	for i, msg := range msgs {
		g.Go(func() error {
			results[i] = d.Deliver(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) fail(ctx context.Context, msg Message, result Result) {
	reason := "exhausted"
	if IsPermanent(result.Err) {
		reason = "permanent"
	} else if ctx.Err() != nil {
		reason = "cancelled"
	}
	metrics.DispatchFailuresTotal.WithLabelValues(msg.ChannelID, reason).Inc()

	d.logger.ErrorContext(ctx, "delivery failed",
		"error", result.Err,
		"channel_id", msg.ChannelID,
		"rule", msg.Rule,
		"attempts", result.Attempts,
		"reason", reason)

	if d.deadLetter == nil {
		return
	}
	// The dead letter must be written even if ctx was what stopped us.
	dlqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.deadLetter.Enqueue(dlqCtx, queue.DeadLetter{
		EventID:    msg.EventID,
		DeliveryID: msg.DeliveryID,
		Repository: msg.Repository,
		Rule:       msg.Rule,
		ChannelID:  msg.ChannelID,
		Message:    msg.Text,
		Attempts:   result.Attempts,
		Error:      result.Err.Error(),
	}); err != nil {
		d.logger.ErrorContext(ctx, "failed to dead-letter delivery", "error", err, "channel_id", msg.ChannelID)
	}
}

// post calls the sink, turning a panic into a permanent failure so that a broken
// sink cannot take the process down from a delivery goroutine.
func (d *Dispatcher) post(ctx context.Context, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PipelineErrorsTotal.Inc()
			d.logger.ErrorContext(ctx, "panic in sink",
				"panic", r,
				"channel_id", msg.ChannelID,
				"stack", string(debug.Stack()))
			err = Permanent(fmt.Errorf("sink panicked: %v", r))
		}
	}()
	return d.sink.Post(ctx, msg.ChannelID, msg.Text)
}

// backoff returns BackoffBase * 2^(attempt-1), capped at BackoffMax.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.BackoffMax || delay <= 0 {
			return d.cfg.BackoffMax
		}
	}
	return min(delay, d.cfg.BackoffMax)
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
