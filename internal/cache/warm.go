package cache

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"
)

// encodeWarmEntry prefixes value with an 8-byte big-endian Unix-nano
// expiry timestamp.
func encodeWarmEntry(value []byte, expiresAt time.Time) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt.UnixNano()))
	copy(buf[8:], value)
	return buf
}

func decodeWarmEntry(data []byte) (value []byte, expiresAt time.Time, ok bool) {
	if len(data) < 8 {
		return nil, time.Time{}, false
	}
	nanos := int64(binary.BigEndian.Uint64(data[:8]))
	return data[8:], time.Unix(0, nanos), true
}

// getWarm reads key from the warm tier, treating an expired entry as a
// miss (and lazily deleting it) rather than surfacing stale data.
func (m *Manager) getWarm(key string) ([]byte, bool, error) {
	var value []byte
	var expired bool

	err := m.warm.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(warmBucket).Get([]byte(key))
		if raw == nil {
			return nil
		}
		v, expiresAt, ok := decodeWarmEntry(raw)
		if !ok {
			return nil
		}
		if time.Now().After(expiresAt) {
			expired = true
			return nil
		}
		value = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if expired {
		_ = m.warm.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(warmBucket).Delete([]byte(key))
		})
		return nil, false, nil
	}
	if value == nil {
		return nil, false, nil
	}
	return value, true, nil
}

func (m *Manager) putWarm(key string, value []byte) error {
	entry := encodeWarmEntry(value, time.Now().Add(m.cfg.WarmTTL))
	return m.warm.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(warmBucket).Put([]byte(key), entry)
	})
}
