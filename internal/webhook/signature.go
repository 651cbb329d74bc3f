// ABOUTME: HMAC-SHA256 signature verification for inbound webhook bodies
// ABOUTME: Accepts an optional "sha256=" prefix and compares digests in constant time

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignaturePrefix is the scheme marker the platform may put in front of the digest.
const SignaturePrefix = "sha256="

// Verifier checks webhook signatures against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given shared secret.
func NewVerifier(secret []byte) *Verifier {
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Verifier{secret: s}
}

// Sign returns the prefixed hex HMAC-SHA256 of body.
func (v *Verifier) Sign(body []byte) string {
	return SignaturePrefix + hex.EncodeToString(v.digest(body))
}

// Verify reports whether signature is a valid HMAC-SHA256 of body.
// It never returns true on internal failure.
func (v *Verifier) Verify(body []byte, signature string) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if len(v.secret) == 0 || signature == "" {
		return false
	}

	signature = strings.TrimPrefix(strings.TrimSpace(signature), SignaturePrefix)
	given, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	return hmac.Equal(v.digest(body), given)
}

func (v *Verifier) digest(body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return mac.Sum(nil)
}
