package mapper

import (
	"context"
	"errors"

	"github.com/defnot001/biomebot/internal/domain"
	"github.com/defnot001/biomebot/internal/webhook"
)

// ErrMalformedPayload is returned when a known event type cannot be decoded or lacks
// required fields. Redelivering such a payload will not fix it, so callers drop it.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// EventMapper decodes a verified delivery into a typed event.
// Unsupported event types map to domain.KindOther without error.
type EventMapper interface {
	Map(ctx context.Context, req webhook.InboundRequest) (domain.Event, error)
}
