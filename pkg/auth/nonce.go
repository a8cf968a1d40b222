package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// NonceLength is the number of random bytes behind every mailed nonce (256 bits)
const NonceLength = 32

// GenerateNonce returns a URL-safe random nonce for email verification and
// password reset links.
func GenerateNonce() (string, error) {
	b := make([]byte, NonceLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashNonce is the form a nonce is stored and looked up in
func HashNonce(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}
