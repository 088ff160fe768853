// Package storage provides the key-value backends a task store persists
// through. Every backend stores one string value per key.
package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidKey = errors.New("storage: invalid key")
	ErrClosed     = errors.New("storage: closed")
)

// ValidateKey rejects keys that cannot be mapped onto a single file name.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if key == "." || key == ".." || strings.ContainsAny(key, `/\`+"\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
