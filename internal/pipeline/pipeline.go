// Package pipeline runs accepted webhook events through classification, routing,
// the dedup gate and dispatch. The HTTP handler hands events over with Submit and
// acknowledges GitHub without waiting for any of it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/defnot001/biomebot/common/id"
	"github.com/defnot001/biomebot/common/logger"
	"github.com/defnot001/biomebot/internal/dedup"
	"github.com/defnot001/biomebot/internal/dispatch"
	"github.com/defnot001/biomebot/internal/domain"
	"github.com/defnot001/biomebot/internal/metrics"
	"github.com/defnot001/biomebot/internal/routing"
)

const DefaultWorkers = 16

// ErrClosed is returned by Submit once the pipeline stopped accepting events.
var ErrClosed = errors.New("pipeline closed")

type Classifier interface {
	Classify(actor domain.Actor) domain.Classification
}

type Router interface {
	Route(ev domain.Event, class domain.Classification) routing.Decision
}

type Deliverer interface {
	DeliverAll(ctx context.Context, msgs []dispatch.Message) []dispatch.Result
}

type Config struct {
	// Workers bounds how many events are processed at once.
	Workers int
}

// Outcome describes what happened to one event.
type Outcome struct {
	Classification domain.Classification
	Routed         int
	Suppressed     int
	Results        []dispatch.Result
}

type Pipeline struct {
	classifier Classifier
	router     Router
	dedup      dedup.Store
	deliverer  Deliverer
	logger     *slog.Logger
	newID      func() int64

	slots chan struct{}
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func New(cfg Config, classifier Classifier, router Router, store dedup.Store, deliverer Deliverer, logger *slog.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		classifier: classifier,
		router:     router,
		dedup:      store,
		deliverer:  deliverer,
		logger:     logger,
		newID:      id.New,
		slots:      make(chan struct{}, cfg.Workers),
	}
}

// Submit accepts ev for asynchronous processing and returns immediately.
// Processing is detached from ctx cancellation but keeps its values, so the
// request's log fields and trace follow the event.
func (p *Pipeline) Submit(ctx context.Context, ev domain.Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	if ev.ID == 0 {
		ev.ID = p.newID()
	}

	p.wg.Add(1)
	go p.run(context.WithoutCancel(ctx), ev)
	return nil
}

// Close stops accepting new events. Events already submitted keep running.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Wait blocks until every submitted event finished or ctx is done.
func (p *Pipeline) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight events: %w", ctx.Err())
	}
}

func (p *Pipeline) run(ctx context.Context, ev domain.Event) {
	defer p.wg.Done()

	p.slots <- struct{}{}
	defer func() { <-p.slots }()

	metrics.PipelineInFlight.Inc()
	defer metrics.PipelineInFlight.Dec()

	defer func() {
		if r := recover(); r != nil {
			metrics.PipelineErrorsTotal.Inc()
			p.logger.ErrorContext(ctx, "panic while processing event",
				"event_id", ev.ID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	p.Process(ctx, ev)
}

// Process handles one event synchronously. Routing decides the deliveries, the
// dedup gate drops repeated alerts, and everything left is dispatched. A gated
// delivery is recorded before it is sent, so concurrent redeliveries of the same
// alert cannot both go out.
func (p *Pipeline) Process(ctx context.Context, ev domain.Event) Outcome {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventID:    logger.Ptr(ev.ID),
		DeliveryID: logger.Ptr(ev.DeliveryID),
		EventKind:  logger.Ptr(string(ev.Kind)),
		Repository: logger.Ptr(ev.Repository),
		Component:  "biomebot.pipeline",
	})

	span := logger.StartLinkedSpan(ctx, ctx, "pipeline.process_event",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.Int64("biomebot.event_id", ev.ID),
			attribute.String("biomebot.event_kind", string(ev.Kind)),
			attribute.String("github.repository", ev.Repository),
		))
	defer span.End()
	ctx = span.Context()

	var outcome Outcome
	outcome.Classification = p.classifier.Classify(ev.Actor)
	decision := p.router.Route(ev, outcome.Classification)

	msgs := make([]dispatch.Message, 0, len(decision.Deliveries))
	for _, d := range decision.Deliveries {
		if d.DedupKey != nil && !p.firstSeen(ctx, d) {
			outcome.Suppressed++
			metrics.DuplicatesSuppressedTotal.WithLabelValues(string(d.Rule)).Inc()
			continue
		}

		metrics.EventsRoutedTotal.WithLabelValues(string(d.Rule)).Inc()
		msgs = append(msgs, dispatch.Message{
			ChannelID:  d.ChannelID,
			Text:       d.Message,
			Rule:       string(d.Rule),
			EventID:    ev.ID,
			DeliveryID: ev.DeliveryID,
			Repository: ev.Repository,
		})
	}
	outcome.Routed = len(msgs)

	span.SetAttributes(
		attribute.String("biomebot.classification", string(outcome.Classification)),
		attribute.Int("biomebot.routed", outcome.Routed),
		attribute.Int("biomebot.suppressed", outcome.Suppressed),
	)

	if len(msgs) == 0 {
		p.logger.DebugContext(ctx, "event produced no deliveries",
			"actor", ev.Actor.Login,
			"classification", outcome.Classification,
			"suppressed", outcome.Suppressed)
		return outcome
	}

	outcome.Results = p.deliverer.DeliverAll(ctx, msgs)
	for _, r := range outcome.Results {
		if !r.Delivered() {
			span.RecordError(r.Err)
		}
	}

	p.logger.InfoContext(ctx, "event processed",
		"actor", ev.Actor.Login,
		"classification", outcome.Classification,
		"routed", outcome.Routed,
		"suppressed", outcome.Suppressed)
	return outcome
}

// firstSeen consults the dedup store. A store failure lets the delivery through:
// a duplicate alert is preferred over a lost one.
func (p *Pipeline) firstSeen(ctx context.Context, d routing.Delivery) bool {
	result, err := p.dedup.CheckAndRecord(ctx, *d.DedupKey)
	if err != nil {
		metrics.DedupErrorsTotal.Inc()
		p.logger.WarnContext(ctx, "dedup check failed, delivering anyway",
			"error", err,
			"rule", d.Rule,
			"dedup_key", d.DedupKey.String())
		return true
	}
	if result == dedup.DuplicateWithinWindow {
		p.logger.InfoContext(ctx, "duplicate alert suppressed",
			"rule", d.Rule,
			"dedup_key", d.DedupKey.String())
		return false
	}
	return true
}
