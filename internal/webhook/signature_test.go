package webhook_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/defnot001/biomebot/internal/webhook"
)

func sign(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

var _ = Describe("Verifier", func() {
	const secret = "It's a Secret to Everybody"
	const body = "Hello, World!"

	var verifier *webhook.Verifier

	BeforeEach(func() {
		verifier = webhook.NewVerifier(secret)
	})

	It("accepts the signature github documents for its test vector", func() {
		sig := "sha256=757107ea0eb2509fc211221cce984b8a37570b6d7586c22c46f4379c8b043e17"
		Expect(sign(secret, body)).To(Equal(sig))
		Expect(verifier.Verify([]byte(body), sig)).To(BeTrue())
	})

	It("rejects a body that was tampered with", func() {
		Expect(verifier.Verify([]byte(body+" "), sign(secret, body))).To(BeFalse())
	})

	It("rejects a signature made with another secret", func() {
		Expect(verifier.Verify([]byte(body), sign("other", body))).To(BeFalse())
	})

	DescribeTable("treats malformed headers as invalid",
		func(header string) {
			Expect(verifier.Verify([]byte(body), header)).To(BeFalse())
		},
		Entry("empty", ""),
		Entry("prefix only", "sha256="),
		Entry("missing prefix", "757107ea0eb2509fc211221cce984b8a37570b6d7586c22c46f4379c8b043e17"),
		Entry("not hex", "sha256=zzzz"),
		Entry("truncated", "sha256=757107ea"),
		Entry("sha1 header", "sha1=0a4d55a8d778e5022fab701977c5d840bbc486d0"),
	)

	It("never validates when no secret is configured", func() {
		empty := webhook.NewVerifier("")
		Expect(empty.Verify([]byte(body), sign("", body))).To(BeFalse())
	})

	It("reports ErrInvalidSignature from Check", func() {
		header := http.Header{}
		header.Set("X-Hub-Signature-256", "sha256=00")
		header.Set("X-GitHub-Event", "push")
		header.Set("X-GitHub-Delivery", "d-1")
		req := webhook.NewInboundRequest(header, []byte(body))

		Expect(req.EventType).To(Equal("push"))
		Expect(req.DeliveryID).To(Equal("d-1"))
		Expect(verifier.Check(req)).To(MatchError(webhook.ErrInvalidSignature))

		header.Set("X-Hub-Signature-256", sign(secret, body))
		Expect(verifier.Check(webhook.NewInboundRequest(header, []byte(body)))).To(Succeed())
	})
})
