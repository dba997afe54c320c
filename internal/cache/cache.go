// Package cache implements the engine's three-tier cache: an in-process
// hot tier (LRU, bounded by entry count), a warm tier (a local bbolt file
// with a TTL, surviving process restarts), and the cold tier (the
// storage adapter itself, always authoritative). A miss in hot falls
// through to warm, a miss in warm falls through to cold, and every cold
// hit is written back up through warm and hot.
package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/singleflight"

	"github.com/noungraph/noungraph/internal/config"
	nerrors "github.com/noungraph/noungraph/internal/errors"
)

var warmBucket = []byte("warm")

// Loader fetches the authoritative value for key from the cold tier (the
// storage adapter, or whatever lies beneath the cache in a given engine
// wiring) on a full miss.
type Loader func(ctx context.Context, key string) ([]byte, error)

// Manager is the three-tier cache manager.
type Manager struct {
	hot  *lru.Cache[string, []byte]
	warm *bolt.DB
	cfg  config.CacheConfig

	group  singleflight.Group
	loader Loader

	inflight atomic.Int32

	evictions int
	hotHits   int
	warmHits  int
	coldHits  int
}

// New builds a Manager. warmPath is the bbolt file backing the warm tier;
// an empty path disables the warm tier (hot falls straight through to
// loader).
func New(cfg config.CacheConfig, warmPath string, loader Loader) (*Manager, error) {
	hot, err := lru.New[string, []byte](cfg.HotMaxEntries)
	if err != nil {
		return nil, nerrors.Permanent("cache", nerrors.CodeInternal, "failed to construct hot tier: "+err.Error(), err)
	}

	m := &Manager{hot: hot, cfg: cfg, loader: loader}

	if warmPath != "" {
		db, err := bolt.Open(warmPath, 0o600, &bolt.Options{Timeout: cfg.AcquireTimeout})
		if err != nil {
			return nil, nerrors.Transient("cache", "failed to open warm tier: "+err.Error(), err)
		}
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(warmBucket)
			return err
		}); err != nil {
			db.Close()
			return nil, nerrors.Permanent("cache", nerrors.CodeInternal, "failed to initialize warm bucket: "+err.Error(), err)
		}
		m.warm = db
	}

	return m, nil
}

// warmEntry is the value format stored in the warm tier, carrying the
// expiry time so Get can enforce the TTL.
type warmEntry struct {
	value     []byte
	expiresAt time.Time
}

// Get fetches key, checking hot, then warm, then falling through to the
// loader (the cold tier). A cold hit is written back into warm and hot.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := m.hot.Get(key); ok {
		m.hotHits++
		return v, nil
	}

	if m.warm != nil {
		if v, ok, err := m.getWarm(key); err != nil {
			return nil, err
		} else if ok {
			m.warmHits++
			m.hot.Add(key, v)
			return v, nil
		}
	}

	// A full hot/warm miss falls through to the loader, which is the tier
	// actually worth protecting from pile-up: a slow or unavailable cold
	// store (the storage adapter) shouldn't let unbounded concurrent callers
	// queue up behind it. MaxQueueSize bounds in-flight cold loads; beyond it
	// a caller is told to back off rather than added to the pile.
	if int(m.inflight.Load()) >= m.cfg.MaxQueueSize {
		return nil, nerrors.Overloaded("cache", fmt.Sprintf("cold-tier load queue at capacity (%d)", m.cfg.MaxQueueSize))
	}
	m.inflight.Add(1)
	defer m.inflight.Add(-1)

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.loader(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	value := v.([]byte)
	m.coldHits++
	m.hot.Add(key, value)
	if m.warm != nil {
		_ = m.putWarm(key, value)
	}
	return value, nil
}

// GetMany fetches every key in keys. Hot-tier hits are served directly;
// every other key is walked in groups of cfg.BatchSize and fetched one at a
// time through Get, so each cold miss is its own loader call (coalesced with
// concurrent loads of the same key via singleflight). Keys in a group are
// not combined into a single batched loader call.
func (m *Manager) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	var misses []string

	for _, k := range keys {
		if v, ok := m.hot.Get(k); ok {
			out[k] = v
			m.hotHits++
			continue
		}
		misses = append(misses, k)
	}

	for i := 0; i < len(misses); i += m.cfg.BatchSize {
		end := i + m.cfg.BatchSize
		if end > len(misses) {
			end = len(misses)
		}
		batch := misses[i:end]
		for _, k := range batch {
			v, err := m.Get(ctx, k)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
	}

	return out, nil
}

// Invalidate removes key from both hot and warm tiers.
func (m *Manager) Invalidate(key string) error {
	m.hot.Remove(key)
	if m.warm == nil {
		return nil
	}
	return m.warm.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(warmBucket).Delete([]byte(key))
	})
}

// Stats reports cumulative hit counts per tier and the current hot-tier
// occupancy fraction, used by the auto-tuner and the engine stats API.
type Stats struct {
	HotHits       int
	WarmHits      int
	ColdHits      int
	HotLen        int
	HotCapacity   int
	HotOccupation float64
}

func (m *Manager) Stats() Stats {
	hotLen := m.hot.Len()
	return Stats{
		HotHits:       m.hotHits,
		WarmHits:      m.warmHits,
		ColdHits:      m.coldHits,
		HotLen:        hotLen,
		HotCapacity:   m.cfg.HotMaxEntries,
		HotOccupation: float64(hotLen) / float64(m.cfg.HotMaxEntries),
	}
}

// Close releases the warm tier's file handle.
func (m *Manager) Close() error {
	if m.warm == nil {
		return nil
	}
	return m.warm.Close()
}
