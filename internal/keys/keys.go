package keys

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// MaxLength is the maximum accepted length for a cache key. Derived keys
// are 16 characters; the headroom admits externally supplied digests such
// as a full SHA-256 hex string.
const MaxLength = 128

// Validation failures for cache keys. Callers reject invalid keys before
// any path is constructed from them.
var (
	ErrKeyEmpty   = errors.New("cache key is empty")
	ErrKeyTooLong = errors.New("cache key exceeds maximum length")
	ErrKeyInvalid = errors.New("cache key contains invalid characters")
)

// Derive generates a deterministic cache key from a parameter map. The
// parameters are rendered to a canonical form (object keys sorted,
// recursively) and hashed with xxHash64, yielding a fixed-width 16
// character lowercase hex key. The same parameters produce the same key
// regardless of map iteration order, process or platform.
func Derive(params map[string]any) (string, error) {
	canonical, err := canonicalize(params)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize parameters: %w", err)
	}

	return fmt.Sprintf("%016x", xxhash.Sum64(canonical)), nil
}

// DeriveBatch generates keys for a sequence of parameter maps, preserving
// order. Element i of the result is Derive(items[i]).
func DeriveBatch(items []map[string]any) ([]string, error) {
	derived := make([]string, len(items))
	for i, params := range items {
		key, err := Derive(params)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key for item %d: %w", i, err)
		}
		derived[i] = key
	}
	return derived, nil
}

// Validate checks that a key is safe to use as a file name component.
// Keys are restricted to [A-Za-z0-9_-], so path separators, dots and
// control characters can never reach the filesystem layer.
func Validate(key string) error {
	if key == "" {
		return ErrKeyEmpty
	}
	if len(key) > MaxLength {
		return ErrKeyTooLong
	}
	for i := 0; i < len(key); i++ {
		if !validKeyByte(key[i]) {
			return ErrKeyInvalid
		}
	}
	return nil
}

func validKeyByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return true
	}
	return false
}
