package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

const (
	fileExt      = ".json"
	lockFileName = ".taskdeck.lock"
)

// File stores each key as <dir>/<key>.json. Writes go through a temp file
// and rename, so readers never observe a partial value, and an flock on
// <dir>/.taskdeck.lock keeps concurrent processes from interleaving. The
// flock handle is not reentrant, so mu serializes use within the process.
type File struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFile creates dir when needed.
func NewFile(dir string) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage: directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", abs, err)
	}
	return &File{dir: abs, lock: flock.New(filepath.Join(abs, lockFileName))}, nil
}

// Dir returns the absolute directory backing the store.
func (f *File) Dir() string { return f.dir }

// Path returns the file that holds key.
func (f *File) Path(key string) string {
	return filepath.Join(f.dir, key+fileExt)
}

// keyFor maps a file path back to its key; ok is false for foreign files.
func (f *File) keyFor(path string) (string, bool) {
	if filepath.Dir(path) != f.dir {
		return "", false
	}
	base := filepath.Base(path)
	if !strings.HasSuffix(base, fileExt) || strings.HasPrefix(base, ".") {
		return "", false
	}
	key := strings.TrimSuffix(base, fileExt)
	if ValidateKey(key) != nil {
		return "", false
	}
	return key, true
}

func (f *File) Read(key string) (string, bool, error) {
	if err := ValidateKey(key); err != nil {
		return "", false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lock.RLock(); err != nil {
		return "", false, fmt.Errorf("storage: lock: %w", err)
	}
	defer func() { _ = f.lock.Unlock() }()

	data, err := os.ReadFile(f.Path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return string(data), true, nil
}

func (f *File) Write(key, value string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("storage: lock: %w", err)
	}
	defer func() { _ = f.lock.Unlock() }()

	tmp, err := os.CreateTemp(f.dir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage: write %s: %w", key, err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("storage: sync %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("storage: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, f.Path(key)); err != nil {
		cleanup()
		return fmt.Errorf("storage: replace %s: %w", key, err)
	}
	return nil
}
