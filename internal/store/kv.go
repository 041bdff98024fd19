// Package store provides the small key/value backends used to persist
// per-repository index status records.
package store

import (
	"errors"
	"fmt"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

var (
	// ErrInvalidKey indicates a key that cannot be stored safely
	ErrInvalidKey = errors.New("invalid key")

	// ErrClosed indicates the store was used after Close
	ErrClosed = errors.New("store is closed")
)

// KV is a durable mapping from string keys to opaque values.
// Implementations must be safe for concurrent use.
type KV interface {
	// Read returns the value stored under key and whether it exists.
	Read(key string) ([]byte, bool, error)
	// Write creates or overwrites the value stored under key.
	Write(key string, value []byte) error
	// Keys returns all stored keys in no particular order.
	Keys() ([]string, error)
	// Close releases the underlying resources.
	Close() error
}

// Open opens the KV backend with the given name rooted at location.
// location is a directory for the file backend and a database path for sqlite.
func Open(backend, location string) (KV, error) {
	switch backend {
	case BackendFile, "":
		return NewFileKV(location)
	case BackendSQLite:
		return NewSQLiteKV(location)
	case BackendMemory:
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", backend)
	}
}

// validateKey rejects keys that are empty or could escape a directory.
func validateKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) || strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
