package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 25 * time.Millisecond

// FileBackend keeps every document in its own JSON file. Writes replace the
// file atomically through a temporary file and rename; an advisory lock file
// next to each document serializes writers across processes.
type FileBackend struct {
	paths map[string]string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileBackend creates a backend for the given document name to path mapping
func NewFileBackend(paths map[string]string) *FileBackend {
	copied := make(map[string]string, len(paths))
	for name, path := range paths {
		copied[name] = path
	}
	return &FileBackend{
		paths: copied,
		locks: make(map[string]*sync.Mutex),
	}
}

// Path returns the file backing a document
func (f *FileBackend) Path(name string) (string, error) {
	path, ok := f.paths[name]
	if !ok || path == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownDocument, name)
	}
	return path, nil
}

func (f *FileBackend) localLock(name string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[name]
	if !ok {
		l = &sync.Mutex{}
		f.locks[name] = l
	}
	return l
}

// Load reads a document under a shared lock
func (f *FileBackend) Load(ctx context.Context, name string) ([]byte, error) {
	path, err := f.Path(name)
	if err != nil {
		return nil, err
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	fl := flock.New(path + ".lock")
	locked, err := fl.TryRLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if locked {
		defer fl.Unlock()
	}

	return readFile(path)
}

// Update performs a locked read-modify-write of a document
func (f *FileBackend) Update(ctx context.Context, name string, fn func(current []byte) ([]byte, error)) error {
	path, err := f.Path(name)
	if err != nil {
		return err
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	local := f.localLock(name)
	local.Lock()
	defer local.Unlock()

	fl := flock.New(path + ".lock")
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}
	if locked {
		defer fl.Unlock()
	}

	current, err := readFile(path)
	if err != nil {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}
	return writeFileAtomic(path, next)
}

// Close is a no-op for the file backend
func (f *FileBackend) Close() error {
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
