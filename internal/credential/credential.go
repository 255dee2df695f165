// Package credential generates and hashes opaque bearer secrets. Secrets are
// high-entropy random strings, so a deterministic SHA-256 lookup hash is used
// at rest instead of a password hash.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Class prefixes let operators recognize a credential's type from the first
// characters of its plaintext form.
const (
	PrefixAPIKey        = "crk_"
	PrefixAccessToken   = "cat_"
	PrefixRefreshToken  = "crt_"
	PrefixClientSecret  = "ccs_"
	PrefixAuthCode      = "cac_"
	PrefixClientID      = "app_"
	PrefixWebhookSecret = "whsec_"
)

const secretBytes = 32

// Generate returns a new plaintext secret with the given class prefix.
func Generate(prefix string) (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand failed: %w", err)
	}
	return prefix + hex.EncodeToString(b), nil
}

// Hash returns the hex-encoded SHA-256 digest of a plaintext secret.
func Hash(secret string) string {
	h := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(h[:])
}

// DisplayPrefix is the truncated form stored for operator display.
func DisplayPrefix(raw string) string {
	if len(raw) <= 16 {
		return raw
	}
	return raw[:16] + "..."
}
