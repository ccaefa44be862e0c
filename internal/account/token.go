package account

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const tokenValueBytes = 32

// NewTokenValue generates a cryptographically random token value. The raw
// value is returned exactly once; storage keeps only its one-way hash.
func NewTokenValue() (string, error) {
	buf := make([]byte, tokenValueBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashTokenValue derives the persisted lookup key for a token value.
func HashTokenValue(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
