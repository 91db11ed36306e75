// Package storage provides durable key-value slots that hold whole
// serialized documents (the goal collection, the last good exchange rates).
package storage

import (
	"context"
	"errors"
	"strings"
)

// Slot is a single-key durable store. Set overwrites the whole value.
type Slot interface {
	// Get returns the value stored under key. ok is false when nothing is stored.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

var ErrInvalidKey = errors.New("invalid storage key")

// ValidateKey accepts non-empty keys made of letters, digits, '-', '_' and '.',
// not starting with a dot, so every backend can map them to a file name.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, ".") || len(key) > 128 {
		return ErrInvalidKey
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return ErrInvalidKey
		}
	}
	return nil
}
