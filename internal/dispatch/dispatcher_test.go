package dispatch_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/defnot001/biomebot/internal/dispatch"
	"github.com/defnot001/biomebot/internal/metrics"
	"github.com/defnot001/biomebot/internal/queue"
)

type scriptedSink struct {
	mu     sync.Mutex
	errs   map[string][]error // per channel, consumed in order; nil means success
	posted map[string][]string
	calls  map[string]int
}

func newScriptedSink() *scriptedSink {
	return &scriptedSink{
		errs:   map[string][]error{},
		posted: map[string][]string{},
		calls:  map[string]int{},
	}
}

func (s *scriptedSink) Post(_ context.Context, channelID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[channelID]++
	if pending := s.errs[channelID]; len(pending) > 0 {
		err := pending[0]
		s.errs[channelID] = pending[1:]
		if err != nil {
			return err
		}
	}
	s.posted[channelID] = append(s.posted[channelID], text)
	return nil
}

func (s *scriptedSink) Calls(channelID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[channelID]
}

type fakeDeadLetters struct {
	mu      sync.Mutex
	letters []queue.DeadLetter
}

func (f *fakeDeadLetters) Enqueue(_ context.Context, msg queue.DeadLetter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.letters = append(f.letters, msg)
	return nil
}

func (f *fakeDeadLetters) Close() error { return nil }

type panickingSink struct{}

func (panickingSink) Post(context.Context, string, string) error {
	panic("sink exploded")
}

var errTransient = errors.New("connection reset by peer")

var _ = Describe("Dispatcher", func() {
	var (
		ctx  context.Context
		sink *scriptedSink
		dlq  *fakeDeadLetters
		buf  *bytes.Buffer
		d    *dispatch.Dispatcher
	)

	msg := func(channel string) dispatch.Message {
		return dispatch.Message{ChannelID: channel, Text: "hello", Rule: "activity", EventID: 7, DeliveryID: "d-1", Repository: "biomejs/biome"}
	}

	BeforeEach(func() {
		ctx = context.Background()
		sink = newScriptedSink()
		dlq = &fakeDeadLetters{}
		buf = &bytes.Buffer{}
		d = dispatch.New(sink, dispatch.Config{MaxRetries: 3, BackoffBase: time.Millisecond, BackoffMax: 4 * time.Millisecond}, dlq, slog.New(slog.NewJSONHandler(buf, nil)))
	})

	It("delivers on the first attempt", func() {
		res := d.Deliver(ctx, msg("a"))
		Expect(res.Delivered()).To(BeTrue())
		Expect(res.Attempts).To(Equal(1))
		Expect(sink.posted["a"]).To(Equal([]string{"hello"}))
	})

	It("retries transient failures until the post succeeds", func() {
		sink.errs["a"] = []error{errTransient, errTransient}
		res := d.Deliver(ctx, msg("a"))
		Expect(res.Delivered()).To(BeTrue())
		Expect(res.Attempts).To(Equal(3))
		Expect(dlq.letters).To(BeEmpty())
		Expect(buf.String()).To(ContainSubstring("delivery failed, retrying"))
	})

	It("does not retry permanent failures", func() {
		sink.errs["a"] = []error{dispatch.Permanent(errors.New("missing access"))}
		res := d.Deliver(ctx, msg("a"))
		Expect(res.Delivered()).To(BeFalse())
		Expect(res.Attempts).To(Equal(1))
		Expect(dispatch.IsPermanent(res.Err)).To(BeTrue())
		Expect(dlq.letters).To(HaveLen(1))
	})

	It("records a client span per delivery", func() {
		recorder := tracetest.NewSpanRecorder()
		previous := otel.GetTracerProvider()
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
		DeferCleanup(func() { otel.SetTracerProvider(previous) })

		sink.errs["b"] = []error{dispatch.Permanent(errors.New("unknown channel"))}
		d.DeliverAll(ctx, []dispatch.Message{msg("a"), msg("b")})

		spans := recorder.Ended()
		Expect(spans).To(HaveLen(2))
		byChannel := map[string]sdktrace.ReadOnlySpan{}
		for _, span := range spans {
			Expect(span.Name()).To(Equal("dispatch.deliver"))
			for _, kv := range span.Attributes() {
				if kv.Key == "biomebot.channel_id" {
					byChannel[kv.Value.AsString()] = span
				}
			}
		}
		Expect(byChannel["a"].Status().Code).NotTo(Equal(codes.Error))
		Expect(byChannel["a"].Attributes()).To(ContainElement(attribute.Int("biomebot.attempts", 1)))
		Expect(byChannel["b"].Status().Code).To(Equal(codes.Error))
	})

	It("turns a panicking sink into a failed, dead-lettered delivery", func() {
		d = dispatch.New(panickingSink{}, dispatch.Config{MaxRetries: 3, BackoffBase: time.Millisecond}, dlq, slog.New(slog.NewJSONHandler(buf, nil)))
		before := testutil.ToFloat64(metrics.PipelineErrorsTotal)

		results := d.DeliverAll(ctx, []dispatch.Message{msg("a"), msg("b")})

		Expect(results).To(HaveLen(2))
		for _, res := range results {
			Expect(res.Delivered()).To(BeFalse())
			Expect(res.Attempts).To(Equal(1))
			Expect(dispatch.IsPermanent(res.Err)).To(BeTrue())
			Expect(res.Err).To(MatchError(ContainSubstring("sink exploded")))
		}
		Expect(dlq.letters).To(HaveLen(2))
		Expect(testutil.ToFloat64(metrics.PipelineErrorsTotal)).To(Equal(before + 2))
		Expect(buf.String()).To(ContainSubstring("panic in sink"))
	})

	It("gives up after the configured retries and dead-letters the message", func() {
		sink.errs["a"] = []error{errTransient, errTransient, errTransient, errTransient, errTransient}
		res := d.Deliver(ctx, msg("a"))

		Expect(res.Status).To(Equal(dispatch.StatusFailed))
		Expect(res.Attempts).To(Equal(4))
		Expect(res.Err).To(MatchError(errTransient))
		Expect(sink.Calls("a")).To(Equal(4))

		Expect(dlq.letters).To(HaveLen(1))
		letter := dlq.letters[0]
		Expect(letter.ChannelID).To(Equal("a"))
		Expect(letter.EventID).To(Equal(int64(7)))
		Expect(letter.Attempts).To(Equal(4))
		Expect(letter.Error).To(ContainSubstring("connection reset"))
		Expect(buf.String()).To(ContainSubstring(`"reason":"exhausted"`))
	})

	It("stops waiting when the context is cancelled", func() {
		d = dispatch.New(sink, dispatch.Config{MaxRetries: 5, BackoffBase: time.Hour, BackoffMax: time.Hour}, nil, slog.New(slog.NewJSONHandler(buf, nil)))
		sink.errs["a"] = []error{errTransient}

		cctx, cancel := context.WithCancel(ctx)
		time.AfterFunc(10*time.Millisecond, cancel)

		start := time.Now()
		res := d.Deliver(cctx, msg("a"))
		Expect(time.Since(start)).To(BeNumerically("<", 5*time.Second))
		Expect(res.Delivered()).To(BeFalse())
		Expect(res.Attempts).To(Equal(1))
		Expect(res.Err).To(MatchError(context.Canceled))
	})

	It("delivers to several channels independently", func() {
		sink.errs["bad"] = []error{dispatch.Permanent(errors.New("unknown channel"))}
		results := d.DeliverAll(ctx, []dispatch.Message{msg("good"), msg("bad")})

		Expect(results).To(HaveLen(2))
		Expect(results[0].ChannelID).To(Equal("good"))
		Expect(results[0].Delivered()).To(BeTrue())
		Expect(results[1].ChannelID).To(Equal("bad"))
		Expect(results[1].Delivered()).To(BeFalse())
	})

	It("doubles the backoff up to the cap", func() {
		d = dispatch.New(sink, dispatch.Config{BackoffBase: 500 * time.Millisecond, BackoffMax: 3 * time.Second}, nil, nil)
		Expect(d.Backoff(1)).To(Equal(500 * time.Millisecond))
		Expect(d.Backoff(2)).To(Equal(time.Second))
		Expect(d.Backoff(3)).To(Equal(2 * time.Second))
		Expect(d.Backoff(4)).To(Equal(3 * time.Second))
		Expect(d.Backoff(60)).To(Equal(3 * time.Second))
	})
})
