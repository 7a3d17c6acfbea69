package webhook

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
)

const signaturePrefix = "sha256="

var ErrInvalidSignature = errors.New("invalid webhook signature")

// InboundRequest is the raw webhook delivery. It only lives for the duration of one request.
type InboundRequest struct {
	Body       []byte
	Signature  string
	EventType  string
	DeliveryID string
}

// NewInboundRequest collects the GitHub delivery headers alongside the raw body.
func NewInboundRequest(header http.Header, body []byte) InboundRequest {
	return InboundRequest{
		Body:       body,
		Signature:  header.Get(github.SHA256SignatureHeader),
		EventType:  header.Get(github.EventTypeHeader),
		DeliveryID: header.Get(github.DeliveryIDHeader),
	}
}

// Verifier checks the HMAC-SHA256 signature GitHub attaches to every delivery.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify recomputes the keyed hash over body and compares it with the header value
// in constant time. Missing, malformed or non-sha256 headers are simply invalid.
func (v *Verifier) Verify(body []byte, signature string) bool {
	if v == nil || len(v.secret) == 0 {
		return false
	}

	signature = strings.TrimSpace(signature)
	if !strings.HasPrefix(signature, signaturePrefix) || len(signature) == len(signaturePrefix) {
		return false
	}

	return github.ValidateSignature(signature, body, v.secret) == nil
}

// Check is Verify for an InboundRequest, reporting ErrInvalidSignature on mismatch.
func (v *Verifier) Check(req InboundRequest) error {
	if !v.Verify(req.Body, req.Signature) {
		return ErrInvalidSignature
	}
	return nil
}
