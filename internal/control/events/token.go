package events

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// signCallbackToken signs subscriptionID with secret, the same
// HMAC-SHA256-over-a-shared-secret idiom internal/auth uses for its JWTs
// (computeHMAC), applied here to callback tokens instead of login tokens.
func signCallbackToken(secret []byte, subscriptionID string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(subscriptionID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// verifyCallbackToken reports whether token was produced by
// signCallbackToken for the same secret and subscriptionID, in constant
// time.
func verifyCallbackToken(secret []byte, subscriptionID, token string) bool {
	want := signCallbackToken(secret, subscriptionID)
	return hmac.Equal([]byte(want), []byte(token))
}
