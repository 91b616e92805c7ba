// Package sha256 computes the digests attached to published artifacts.
package sha256

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Hasher implements corpus.Hasher with hex-encoded SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum returns the hex digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether digest is the hex SHA-256 of data.
func Verify(data []byte, digest string) bool {
	want := Sum(data)
	return subtle.ConstantTimeCompare([]byte(want), []byte(digest)) == 1
}
