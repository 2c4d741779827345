// Package uuid generates lease tokens.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID v7 tokens. Time ordering keeps tokens from one host
// roughly sortable in logs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
