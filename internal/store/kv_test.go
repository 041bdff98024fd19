package store

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

// backends returns a fresh instance of every KV implementation.
func backends(t *testing.T) map[string]KV {
	t.Helper()
	dir := t.TempDir()

	fileKV, err := NewFileKV(filepath.Join(dir, "status"))
	if err != nil {
		t.Fatalf("NewFileKV failed: %v", err)
	}
	sqliteKV, err := NewSQLiteKV(filepath.Join(dir, "status.db"))
	if err != nil {
		t.Fatalf("NewSQLiteKV failed: %v", err)
	}

	kvs := map[string]KV{
		BackendFile:   fileKV,
		BackendSQLite: sqliteKV,
		BackendMemory: NewMemoryKV(),
	}
	t.Cleanup(func() {
		for name, kv := range kvs {
			if err := kv.Close(); err != nil {
				t.Errorf("%s: Close failed: %v", name, err)
			}
		}
	})
	return kvs
}

func TestKV_ReadMissing(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			value, ok, err := kv.Read("missing")
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if ok {
				t.Error("Expected missing key to be absent")
			}
			if value != nil {
				t.Errorf("Expected nil value, got %q", value)
			}
		})
	}
}

func TestKV_WriteAndRead(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := kv.Write("repo", []byte(`{"revision":"41"}`)); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			if err := kv.Write("repo", []byte(`{"revision":"42"}`)); err != nil {
				t.Fatalf("Overwrite failed: %v", err)
			}

			value, ok, err := kv.Read("repo")
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if !ok {
				t.Fatal("Expected key to exist")
			}
			if string(value) != `{"revision":"42"}` {
				t.Errorf("value = %q, want latest write", value)
			}
		})
	}
}

func TestKV_Keys(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, k := range []string{"b", "a", "c"} {
				if err := kv.Write(k, []byte("x")); err != nil {
					t.Fatalf("Write %s failed: %v", k, err)
				}
			}

			keys, err := kv.Keys()
			if err != nil {
				t.Fatalf("Keys failed: %v", err)
			}
			slices.Sort(keys)
			if !slices.Equal(keys, []string{"a", "b", "c"}) {
				t.Errorf("Keys = %v, want [a b c]", keys)
			}
		})
	}
}

func TestKV_InvalidKeys(t *testing.T) {
	for name, kv := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"", ".", "..", "a/b", `a\b`, "../escape"} {
				err := kv.Write(key, []byte("x"))
				if !errors.Is(err, ErrInvalidKey) {
					t.Errorf("Write(%q) error = %v, want ErrInvalidKey", key, err)
				}
			}
		})
	}
}

func TestFileKV_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	first, err := NewFileKV(dir)
	if err != nil {
		t.Fatalf("NewFileKV failed: %v", err)
	}
	if err := first.Write("repo", []byte("42")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	second, err := NewFileKV(dir)
	if err != nil {
		t.Fatalf("NewFileKV failed: %v", err)
	}
	value, ok, err := second.Read("repo")
	if err != nil || !ok {
		t.Fatalf("Read failed: ok=%v err=%v", ok, err)
	}
	if string(value) != "42" {
		t.Errorf("value = %q, want '42'", value)
	}
	if _, err := os.Stat(filepath.Join(dir, "repo"+FileSuffix)); err != nil {
		t.Errorf("Expected value file on disk: %v", err)
	}
}

func TestFileKV_EmptyDir(t *testing.T) {
	if _, err := NewFileKV(""); err == nil {
		t.Error("Expected error for empty directory")
	}
}

func TestSQLiteKV_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")

	first, err := NewSQLiteKV(path)
	if err != nil {
		t.Fatalf("NewSQLiteKV failed: %v", err)
	}
	if err := first.Write("repo", []byte("42")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	second, err := NewSQLiteKV(path)
	if err != nil {
		t.Fatalf("NewSQLiteKV failed: %v", err)
	}
	defer func() { _ = second.Close() }()

	value, ok, err := second.Read("repo")
	if err != nil || !ok {
		t.Fatalf("Read failed: ok=%v err=%v", ok, err)
	}
	if string(value) != "42" {
		t.Errorf("value = %q, want '42'", value)
	}
}

func TestMemoryKV_Closed(t *testing.T) {
	kv := NewMemoryKV()
	_ = kv.Close()

	if err := kv.Write("a", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Close error = %v, want ErrClosed", err)
	}
	if _, _, err := kv.Read("a"); !errors.Is(err, ErrClosed) {
		t.Errorf("Read after Close error = %v, want ErrClosed", err)
	}
}

func TestMemoryKV_ReturnsCopies(t *testing.T) {
	kv := NewMemoryKV()
	value := []byte("42")
	_ = kv.Write("a", value)
	value[0] = 'x'

	got, _, _ := kv.Read("a")
	if string(got) != "42" {
		t.Errorf("stored value changed through caller slice: %q", got)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		backend  string
		location string
		wantErr  bool
	}{
		{backend: BackendFile, location: filepath.Join(dir, "files")},
		{backend: "", location: filepath.Join(dir, "default")},
		{backend: BackendSQLite, location: filepath.Join(dir, "kv.db")},
		{backend: BackendMemory},
		{backend: "redis", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			kv, err := Open(tt.backend, tt.location)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error for unknown backend")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			_ = kv.Close()
		})
	}
}
