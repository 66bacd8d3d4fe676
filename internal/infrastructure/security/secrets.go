package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// AdminSecretBytes is the entropy of a generated ADMIN_JWT_SECRET.
const AdminSecretBytes = 32

// GenerateAdminSecret returns a random hex-encoded signing secret.
func GenerateAdminSecret() (string, error) {
	buf := make([]byte, AdminSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate admin secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CheckAdminSecret rejects secrets shorter than a generated one's raw entropy.
func CheckAdminSecret(secret string) error {
	if len(secret) < AdminSecretBytes {
		return fmt.Errorf("admin secret has %d characters, want at least %d", len(secret), AdminSecretBytes)
	}
	return nil
}

// NewTokenID identifies one issued admin token.
func NewTokenID() string {
	return ulid.Make().String()
}

// NewStreamClientID identifies one alert stream connection.
func NewStreamClientID() string {
	return "stream-" + ulid.Make().String()
}
