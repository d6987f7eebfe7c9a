package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// Entropy, in bytes, of the random values minted for a login attempt.
const (
	stateBytes    = 32
	nonceBytes    = 32
	verifierBytes = 64
)

// RandomToken returns n random bytes encoded as unpadded URL-safe base64.
func RandomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewCodeVerifier returns a PKCE code verifier carrying 64 bytes of entropy.
func NewCodeVerifier() (string, error) {
	return RandomToken(verifierBytes)
}

// CodeChallengeS256 returns the S256 PKCE challenge for verifier: the
// unpadded URL-safe base64 SHA-256 digest.
func CodeChallengeS256(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}
