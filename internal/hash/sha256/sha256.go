// Package sha256 fingerprints page bodies for duplicate detection.
package sha256

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements crawler.Hasher using SHA-256 over whitespace-folded
// content, so pages that differ only in indentation share a digest.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash folds whitespace runs to single spaces and returns the hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(fold(data))
	return hex.EncodeToString(sum[:]), nil
}

func fold(data []byte) []byte {
	fields := bytes.Fields(data)
	return bytes.Join(fields, []byte{' '})
}
