package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	apperrors "github.com/brownbaglunch/webhook/pkg/errors"
)

const signaturePrefix = "sha1="

// Sign returns the X-Hub-Signature value for body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature against the HMAC-SHA1 of body in constant time.
func Verify(body []byte, signature, secret string) error {
	if signature == "" {
		return fmt.Errorf("%w: missing signature", apperrors.ErrUnauthorized)
	}
	if !strings.HasPrefix(signature, signaturePrefix) {
		return fmt.Errorf("%w: unsupported signature scheme", apperrors.ErrUnauthorized)
	}
	if !hmac.Equal([]byte(signature), []byte(Sign(body, secret))) {
		return fmt.Errorf("%w: signature mismatch", apperrors.ErrUnauthorized)
	}
	return nil
}
