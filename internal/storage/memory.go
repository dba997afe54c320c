package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	nerrors "github.com/noungraph/noungraph/internal/errors"
)

// MemoryAdapter is an in-memory Adapter backed by a map, used in tests and
// for ephemeral in-process engine instances.
type MemoryAdapter struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryAdapter returns an empty MemoryAdapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{data: make(map[string][]byte)}
}

func (a *MemoryAdapter) GetBlob(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nerrors.Cancelled("storage")
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.data[key]
	if !ok {
		return nil, nerrors.NotFound("storage", "blob not found: "+key)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (a *MemoryAdapter) PutBlob(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return nerrors.Cancelled("storage")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	a.data[key] = cp
	return nil
}

func (a *MemoryAdapter) DeleteBlob(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return nerrors.Cancelled("storage")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.data, key)
	return nil
}

func (a *MemoryAdapter) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nerrors.Cancelled("storage")
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	var keys []string
	for k := range a.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (a *MemoryAdapter) Close() error {
	return nil
}
