package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// NewConfirmationToken returns a random token to hand to the user and the SHA-256 digest to store.
// Only the digest is persisted; the raw token travels in the sign-up event and confirmation link.
func NewConfirmationToken() (raw, digest string, err error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(b)
	return raw, DigestToken(raw), nil
}

// DigestToken returns the hex-encoded SHA-256 of token.
func DigestToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// TokenDigestEqual compares the digest of provided with stored in constant time.
func TokenDigestEqual(provided, storedDigest string) bool {
	return subtle.ConstantTimeCompare([]byte(DigestToken(provided)), []byte(storedDigest)) == 1
}
