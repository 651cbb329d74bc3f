// ABOUTME: Webhook subscription handshake for the Cloud API
// ABOUTME: Echoes the challenge when mode and verify token match

package whatsapp

import "crypto/subtle"

// VerifySubscription returns the challenge to echo and true when mode is
// "subscribe" and token equals verifyToken. An empty verifyToken never
// verifies.
func VerifySubscription(mode, token, challenge, verifyToken string) (string, bool) {
	if mode != "subscribe" || verifyToken == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) != 1 {
		return "", false
	}
	return challenge, true
}
