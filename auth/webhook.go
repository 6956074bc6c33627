package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

// WebhookVerifier checks that a webhook body was sent by the media backend: the Authorization header
// carries a token signed with the API secret whose sha256 claim is the digest of the body.
type WebhookVerifier struct {
	issuer *TokenIssuer
}

func NewWebhookVerifier(issuer *TokenIssuer) *WebhookVerifier {
	return &WebhookVerifier{issuer: issuer}
}

// Verify returns ErrInvalidWebhookSignature (wrapped) if authHeader does not vouch for body.
func (v *WebhookVerifier) Verify(authHeader string, body []byte) error {
	tokenStr := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if tokenStr == "" {
		return fmt.Errorf("%w: missing authorization", ErrInvalidWebhookSignature)
	}
	claims, err := v.issuer.Parse(tokenStr)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidWebhookSignature, err)
	}
	sum := sha256.Sum256(body)
	expected := base64.StdEncoding.EncodeToString(sum[:])
	if subtle.ConstantTimeCompare([]byte(expected), []byte(claims.Sha256)) != 1 {
		return fmt.Errorf("%w: body digest mismatch", ErrInvalidWebhookSignature)
	}
	return nil
}

// SignWebhook produces the Authorization header value for body. The media backend does this on its
// side; it is used by the admin CLI to replay events and by tests.
func (v *WebhookVerifier) SignWebhook(body []byte) (string, error) {
	sum := sha256.Sum256(body)
	claims := v.issuer.claims("", serviceTokenTTL)
	claims.Sha256 = base64.StdEncoding.EncodeToString(sum[:])
	return v.issuer.sign(claims)
}
