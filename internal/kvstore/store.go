// Package kvstore implements the flat, typed key-value store that migrated
// values are written to and that the native storage service serves from.
package kvstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nativestorage/nativestorage/internal/types"
)

var (
	// ErrEmptyKey is returned when writing under an empty key
	ErrEmptyKey = errors.New("key must not be empty")
	// ErrInvalidKind is returned when writing a value with an unknown kind
	ErrInvalidKind = errors.New("invalid value kind")
)

// Store is the contract consumed by the migrator and the native storage
// service. Writes are buffered until Sync, whose failure means the writes
// are not durable.
type Store interface {
	Get(key string) (types.Value, bool)
	Set(key string, value types.Value) error
	Remove(key string) error
	Keys() []string
	Clear() error
	Sync() error
}

func validate(key string, value types.Value) error {
	if key == "" {
		return ErrEmptyKey
	}
	if !value.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, string(value.Kind))
	}
	return nil
}

func sortedKeys(entries map[string]types.Value) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeysWithPrefix returns the store keys starting with prefix, sorted.
func KeysWithPrefix(s Store, prefix string) []string {
	var out []string
	for _, k := range s.Keys() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}
