package prefs

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/google/renameio/v2"
)

// Store is a key-value persistence backend. Save merges the given keys into
// the stored values, leaving other keys untouched. Load of an empty store
// returns an empty map.
type Store interface {
	Load() (map[string]any, error)
	Save(values map[string]any) error
}

// FileStore persists values as a TOML document. Writes replace the file
// atomically, via a synced temporary file in the same directory. A missing
// file is an empty store.
type FileStore struct {
	path string
	mu   sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store backed by the file at path. The file, and
// its directory, are created on first save.
func NewFileStore(path string) (*FileStore, error) {
	if path == `` {
		return nil, errors.New("prefs: path cannot be empty")
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file path.
func (x *FileStore) Path() string { return x.path }

func (x *FileStore) Load() (map[string]any, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.load()
}

func (x *FileStore) load() (map[string]any, error) {
	b, err := os.ReadFile(x.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]any), nil
	}
	if err != nil {
		return nil, err
	}
	values := make(map[string]any)
	if err := toml.Unmarshal(b, &values); err != nil {
		return nil, fmt.Errorf("prefs: decode %s: %w", x.path, err)
	}
	return values, nil
}

// Save merges values into the file. A file that cannot be decoded is
// replaced.
func (x *FileStore) Save(values map[string]any) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	merged, err := x.load()
	if err != nil {
		merged = make(map[string]any)
	}
	maps.Copy(merged, values)

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(merged); err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(x.path), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(x.path, buf.Bytes(), 0o644)
}

// MemoryStore is an in-memory [Store], safe for concurrent use.
type MemoryStore struct {
	values map[string]any
	// fail, if set, is consulted before each operation
	fail func(op string) error
	mu   sync.Mutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store holding a copy of values, which may be nil.
func NewMemoryStore(values map[string]any) *MemoryStore {
	x := &MemoryStore{values: make(map[string]any, len(values))}
	maps.Copy(x.values, values)
	return x
}

func (x *MemoryStore) Load() (map[string]any, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fail != nil {
		if err := x.fail(`load`); err != nil {
			return nil, err
		}
	}
	return maps.Clone(x.values), nil
}

func (x *MemoryStore) Save(values map[string]any) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.fail != nil {
		if err := x.fail(`save`); err != nil {
			return err
		}
	}
	maps.Copy(x.values, values)
	return nil
}
