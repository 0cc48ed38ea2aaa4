// Package uuid provides run and request identifiers.
package uuid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Generator creates time-ordered identifiers.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewRunID returns a sortable run label such as 20261017T153000Z-0192a3f4.
// The suffix keeps concurrent runs started in the same second apart.
func (g Generator) NewRunID(now time.Time) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	suffix := strings.ReplaceAll(id.String(), "-", "")
	return now.UTC().Format("20060102T150405Z") + "-" + suffix[len(suffix)-8:], nil
}

// RequestID returns a random UUIDv4 string for HTTP request correlation.
func RequestID() string {
	return uuid.NewString()
}
