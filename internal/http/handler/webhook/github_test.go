package webhook_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/defnot001/biomebot/internal/domain"
	"github.com/defnot001/biomebot/internal/http/handler/webhook"
	"github.com/defnot001/biomebot/internal/mapper"
	"github.com/defnot001/biomebot/internal/metrics"
	"github.com/defnot001/biomebot/internal/pipeline"
	inbound "github.com/defnot001/biomebot/internal/webhook"
)

const secret = "It's a Secret to Everybody"

type countingMapper struct {
	inner mapper.EventMapper
	calls int
}

func (m *countingMapper) Map(ctx context.Context, req inbound.InboundRequest) (domain.Event, error) {
	m.calls++
	return m.inner.Map(ctx, req)
}

type fakeSubmitter struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (f *fakeSubmitter) Submit(_ context.Context, ev domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSubmitter) Events() []domain.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Event(nil), f.events...)
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

const labeledPayload = `{
	"action": "labeled",
	"issue": {
		"id": 5001,
		"number": 12,
		"title": "Lint rule for unused imports",
		"html_url": "https://github.com/biomejs/biome/issues/12",
		"labels": [{"name": "good first issue"}]
	},
	"label": {"name": "good first issue"},
	"repository": {"full_name": "biomejs/biome"},
	"sender": {"id": 7, "login": "ematipico", "type": "User"}
}`

var _ = Describe("GitHubWebhookHandler", func() {
	var (
		router    *gin.Engine
		mapped    *countingMapper
		submitter *fakeSubmitter
	)

	send := func(eventType string, body []byte, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/github", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-GitHub-Event", eventType)
		req.Header.Set("X-GitHub-Delivery", "72d3162e-cc78-11e3-81ab-4c9367dc0958")
		if signature != "" {
			req.Header.Set("X-Hub-Signature-256", signature)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		slog.SetDefault(slog.New(slog.DiscardHandler))

		mapped = &countingMapper{inner: mapper.NewGitHubEventMapper()}
		submitter = &fakeSubmitter{}
		handler := webhook.NewGitHubWebhookHandler(inbound.NewVerifier(secret), mapped, submitter)

		router = gin.New()
		router.POST("/github", handler.HandleEvent)
	})

	It("accepts a correctly signed event", func() {
		body := []byte(labeledPayload)

		rec := send("issues", body, sign(body))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`{"status":"ok"}`))
		events := submitter.Events()
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(domain.KindIssueLabeled))
		Expect(events[0].DeliveryID).To(Equal("72d3162e-cc78-11e3-81ab-4c9367dc0958"))
		Expect(events[0].Issue.Label).To(Equal("good first issue"))
	})

	DescribeTable("rejects bad signatures before parsing",
		func(signature string) {
			rec := send("issues", []byte(labeledPayload), signature)

			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(mapped.calls).To(BeZero())
			Expect(submitter.Events()).To(BeEmpty())
		},
		Entry("missing header", ""),
		Entry("wrong digest", "sha256=0000000000000000000000000000000000000000000000000000000000000000"),
		Entry("sha1 header", "sha1=a6a5d6a5d6a5d6a5d6a5d6a5d6a5d6a5d6a5d6a5"),
		Entry("signature over another body", sign([]byte(`{}`))),
	)

	It("rejects a malformed known event with 400", func() {
		body := []byte(`{"action": "labeled", "issue": {"id": 1, "number": 1}}`)

		rec := send("issues", body, sign(body))

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(submitter.Events()).To(BeEmpty())
	})

	It("rejects invalid json for a known event with 400", func() {
		body := []byte(`{"action": `)

		rec := send("issues", body, sign(body))

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("acknowledges unsupported events without submitting them", func() {
		body := []byte(`{"zen": "Design for failure.", "hook_id": 1}`)

		rec := send("ping", body, sign(body))

		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(mapped.calls).To(Equal(1))
		Expect(submitter.Events()).To(BeEmpty())
	})

	DescribeTable("acknowledges events the pipeline refuses",
		func(submitErr error) {
			submitter.err = submitErr
			before := testutil.ToFloat64(metrics.WebhooksReceivedTotal.WithLabelValues("issues", "dropped"))
			body := []byte(labeledPayload)

			rec := send("issues", body, sign(body))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"status":"ok"}`))
			Expect(testutil.ToFloat64(metrics.WebhooksReceivedTotal.WithLabelValues("issues", "dropped"))).To(Equal(before + 1))
		},
		Entry("while shutting down", pipeline.ErrClosed),
		Entry("on any other error", errors.New("boom")),
	)

	It("rejects payloads above the size limit", func() {
		body := bytes.Repeat([]byte("a"), webhook.MaxPayloadBytes+1)

		rec := send("issues", body, sign(body))

		Expect(rec.Code).To(Equal(http.StatusRequestEntityTooLarge))
		Expect(mapped.calls).To(BeZero())
	})
})
