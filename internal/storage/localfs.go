package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	nerrors "github.com/noungraph/noungraph/internal/errors"
)

// LocalFSAdapter stores each blob as a file under a root directory, with an
// advisory lock file guarding the directory against a second engine
// instance opening it concurrently (this engine is single-writer; the lock
// exists to fail fast on misconfiguration, not to arbitrate writers).
type LocalFSAdapter struct {
	root string
	mu   sync.Mutex
	lock *flock.Flock
}

// NewLocalFSAdapter opens root (creating it if necessary) and acquires an
// exclusive advisory lock on root/.lock. Returns a Conflict EngineError if
// another process already holds the lock.
func NewLocalFSAdapter(root string) (*LocalFSAdapter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, nerrors.Permanent("storage", nerrors.CodeBlobPermission,
			"cannot create storage root: "+err.Error(), err)
	}

	lock := flock.New(filepath.Join(root, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, nerrors.Transient("storage", "failed to acquire storage lock", err)
	}
	if !locked {
		return nil, nerrors.Conflict("storage", "storage root already locked by another process: "+root)
	}

	return &LocalFSAdapter{root: root, lock: lock}, nil
}

func (a *LocalFSAdapter) pathFor(key string) string {
	return filepath.Join(a.root, keyToFilePath(key))
}

// keyToFilePath maps a blob key to a relative filesystem path, escaping
// path separators so that a key itself can never traverse outside root.
func keyToFilePath(key string) string {
	return strings.ReplaceAll(key, "/", "__")
}

func (a *LocalFSAdapter) GetBlob(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nerrors.Cancelled("storage")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	data, err := os.ReadFile(a.pathFor(key))
	if os.IsNotExist(err) {
		return nil, nerrors.NotFound("storage", "blob not found: "+key)
	}
	if err != nil {
		return nil, nerrors.Transient("storage", "read failed for "+key, err)
	}
	return data, nil
}

func (a *LocalFSAdapter) PutBlob(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return nerrors.Cancelled("storage")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	path := a.pathFor(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return nerrors.Transient("storage", "write failed for "+key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nerrors.Transient("storage", "rename failed for "+key, err)
	}
	return nil
}

func (a *LocalFSAdapter) DeleteBlob(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return nerrors.Cancelled("storage")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := os.Remove(a.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return nerrors.Transient("storage", "delete failed for "+key, err)
	}
	return nil
}

func (a *LocalFSAdapter) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nerrors.Cancelled("storage")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := os.ReadDir(a.root)
	if err != nil {
		return nil, nerrors.Transient("storage", "list failed", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") || e.Name() == ".lock" {
			continue
		}
		key := strings.ReplaceAll(e.Name(), "__", "/")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (a *LocalFSAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lock.Unlock()
}
