// ABOUTME: Tests for webhook signature signing and verification
// ABOUTME: Covers round trips, tampering, prefix handling and fail-closed inputs

package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifier_RoundTrip(t *testing.T) {
	secrets := []string{"s", "test-secret", strings.Repeat("k", 128)}
	bodies := []string{"", "{}", `{"conversation_id":"c1","message":{"text":"hola"}}`, strings.Repeat("x", 10000)}

	for _, secret := range secrets {
		v := NewVerifier([]byte(secret))
		for _, body := range bodies {
			sig := v.Sign([]byte(body))
			assert.True(t, v.Verify([]byte(body), sig), "secret=%d body=%d", len(secret), len(body))
		}
	}
}

func TestVerifier_MatchesStandardHMAC(t *testing.T) {
	body := []byte(`{"conversation_id":"abc"}`)
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))

	v := NewVerifier([]byte("test-secret"))
	assert.Equal(t, "sha256="+want, v.Sign(body))
	assert.True(t, v.Verify(body, want), "bare digest without prefix")
	assert.True(t, v.Verify(body, "sha256="+want))
}

func TestVerifier_Tampered(t *testing.T) {
	v := NewVerifier([]byte("test-secret"))
	body := []byte(`{"conversation_id":"abc"}`)
	sig := v.Sign(body)

	// Flip each hex character of the digest in turn.
	digest := strings.TrimPrefix(sig, SignaturePrefix)
	for i := range digest {
		b := []byte(digest)
		if b[i] == '0' {
			b[i] = '1'
		} else {
			b[i] = '0'
		}
		assert.False(t, v.Verify(body, SignaturePrefix+string(b)), "position %d", i)
	}

	assert.False(t, v.Verify([]byte(`{"conversation_id":"abd"}`), sig), "tampered body")
	assert.False(t, NewVerifier([]byte("other")).Verify(body, sig), "wrong secret")
}

func TestVerifier_FailsClosed(t *testing.T) {
	body := []byte("payload")
	v := NewVerifier([]byte("secret"))

	cases := map[string]string{
		"empty":        "",
		"prefix only":  "sha256=",
		"not hex":      "sha256=zzzz",
		"short digest": "sha256=abcd",
		"garbage":      "invalid_signature",
	}
	for name, sig := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, v.Verify(body, sig))
		})
	}

	empty := NewVerifier(nil)
	assert.False(t, empty.Verify(body, empty.Sign(body)), "empty secret never verifies")
}

func TestVerifier_CopiesSecret(t *testing.T) {
	secret := []byte("mutable")
	v := NewVerifier(secret)
	sig := v.Sign([]byte("b"))
	copy(secret, "changed")
	assert.True(t, v.Verify([]byte("b"), sig))
}

func ExampleVerifier_Sign() {
	v := NewVerifier([]byte("k"))
	fmt.Println(strings.HasPrefix(v.Sign([]byte("hello")), "sha256="))
	// Output: true
}
