package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/natefinch/atomic"
)

// FileSuffix is appended to every key to build its file name.
const FileSuffix = ".json"

// FileKV stores each key as a separate file in a directory.
// Writes go through a temp file and rename so readers never observe a
// partially written value.
type FileKV struct {
	dir string
	mu  sync.RWMutex
}

// NewFileKV creates a file store rooted at dir, creating it if needed.
func NewFileKV(dir string) (*FileKV, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory cannot be empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileKV{dir: dir}, nil
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.dir, key+FileSuffix)
}

// Read returns the value stored under key.
func (f *FileKV) Read(key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, true, nil
}

// Write atomically replaces the value stored under key.
func (f *FileKV) Write(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := atomic.WriteFile(f.path(key), bytes.NewReader(value)); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Keys lists the keys present in the directory.
func (f *FileKV) Keys() ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list store directory: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileSuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), FileSuffix))
	}
	return keys, nil
}

// Dir returns the directory backing the store.
func (f *FileKV) Dir() string {
	return f.dir
}

// Close is a no-op; files are not held open between calls.
func (f *FileKV) Close() error {
	return nil
}
