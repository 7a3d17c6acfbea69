package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/defnot001/biomebot/common/logger"
	"github.com/defnot001/biomebot/internal/domain"
	"github.com/defnot001/biomebot/internal/mapper"
	"github.com/defnot001/biomebot/internal/metrics"
	inbound "github.com/defnot001/biomebot/internal/webhook"
)

// MaxPayloadBytes is GitHub's cap on webhook payloads.
const MaxPayloadBytes = 25 << 20

const (
	outcomeAccepted     = "accepted"
	outcomeIgnored      = "ignored"
	outcomeUnauthorized = "unauthorized"
	outcomeMalformed    = "malformed"
	outcomeTooLarge     = "too_large"
	outcomeDropped      = "dropped"
)

type SignatureChecker interface {
	Check(req inbound.InboundRequest) error
}

type Submitter interface {
	Submit(ctx context.Context, ev domain.Event) error
}

type GitHubWebhookHandler struct {
	verifier  SignatureChecker
	mapper    mapper.EventMapper
	submitter Submitter
}

func NewGitHubWebhookHandler(verifier SignatureChecker, mapper mapper.EventMapper, submitter Submitter) *GitHubWebhookHandler {
	return &GitHubWebhookHandler{
		verifier:  verifier,
		mapper:    mapper,
		submitter: submitter,
	}
}

// HandleEvent verifies, parses and hands a delivery to the pipeline. GitHub gets its
// answer as soon as the event is accepted; routing and dispatch outcomes never
// change the response.
func (h *GitHubWebhookHandler) HandleEvent(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.WebhooksReceivedTotal.WithLabelValues("unknown", outcomeTooLarge).Inc()
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
			return
		}
		metrics.WebhooksReceivedTotal.WithLabelValues("unknown", outcomeMalformed).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	req := inbound.NewInboundRequest(c.Request.Header, body)
	ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{
		DeliveryID: logger.Ptr(req.DeliveryID),
		EventType:  logger.Ptr(req.EventType),
		Component:  "biomebot.http",
	})

	if err := h.verifier.Check(req); err != nil {
		// The event type header is attacker controlled until the signature checks out.
		metrics.WebhooksReceivedTotal.WithLabelValues("unknown", outcomeUnauthorized).Inc()
		slog.WarnContext(ctx, "webhook signature rejected", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ev, err := h.mapper.Map(ctx, req)
	if err != nil {
		metrics.WebhooksReceivedTotal.WithLabelValues(req.EventType, outcomeMalformed).Inc()
		if errors.Is(err, mapper.ErrMalformedPayload) {
			slog.WarnContext(ctx, "malformed webhook payload", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
			return
		}
		slog.ErrorContext(ctx, "failed to map webhook", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventKind:  logger.Ptr(string(ev.Kind)),
		Repository: logger.Ptr(ev.Repository),
	})

	if ev.Kind == domain.KindOther {
		metrics.WebhooksReceivedTotal.WithLabelValues(req.EventType, outcomeIgnored).Inc()
		slog.DebugContext(ctx, "unsupported webhook event ignored", "action", ev.Action)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	// Only a bad signature or payload earns a non-200.
	if err := h.submitter.Submit(ctx, ev); err != nil {
		metrics.WebhooksReceivedTotal.WithLabelValues(req.EventType, outcomeDropped).Inc()
		slog.WarnContext(ctx, "webhook dropped, pipeline not accepting events", "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	metrics.WebhooksReceivedTotal.WithLabelValues(req.EventType, outcomeAccepted).Inc()
	slog.InfoContext(ctx, "webhook accepted",
		"action", ev.Action,
		"actor", ev.Actor.Login)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
