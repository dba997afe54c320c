package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nerrors "github.com/noungraph/noungraph/internal/errors"
)

func adapters(t *testing.T) map[string]Adapter {
	t.Helper()
	dir := t.TempDir()

	fsAdapter, err := NewLocalFSAdapter(filepath.Join(dir, "fs"))
	require.NoError(t, err)
	t.Cleanup(func() { fsAdapter.Close() })

	sqliteAdapter, err := NewSQLiteKVAdapter(filepath.Join(dir, "kv.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteAdapter.Close() })

	return map[string]Adapter{
		"memory":   NewMemoryAdapter(),
		"localfs":  fsAdapter,
		"sqlitekv": sqliteAdapter,
	}
}

func TestAdapterPutGetDelete(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := a.GetBlob(ctx, "missing")
			require.Error(t, err)
			assert.True(t, nerrors.IsKind(err, nerrors.KindNotFound))

			require.NoError(t, a.PutBlob(ctx, "nouns/1", []byte("hello")))
			got, err := a.GetBlob(ctx, "nouns/1")
			require.NoError(t, err)
			assert.Equal(t, []byte("hello"), got)

			require.NoError(t, a.PutBlob(ctx, "nouns/1", []byte("world")))
			got, err = a.GetBlob(ctx, "nouns/1")
			require.NoError(t, err)
			assert.Equal(t, []byte("world"), got)

			require.NoError(t, a.DeleteBlob(ctx, "nouns/1"))
			_, err = a.GetBlob(ctx, "nouns/1")
			assert.True(t, nerrors.IsKind(err, nerrors.KindNotFound))

			require.NoError(t, a.DeleteBlob(ctx, "nouns/1"))
		})
	}
}

func TestAdapterListPrefix(t *testing.T) {
	for name, a := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, a.PutBlob(ctx, "nouns/1", []byte("a")))
			require.NoError(t, a.PutBlob(ctx, "nouns/2", []byte("b")))
			require.NoError(t, a.PutBlob(ctx, "verbs/1", []byte("c")))

			keys, err := a.ListPrefix(ctx, "nouns/")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"nouns/1", "nouns/2"}, keys)
		})
	}
}

func TestLocalFSAdapterRefusesSecondLock(t *testing.T) {
	dir := t.TempDir()
	a, err := NewLocalFSAdapter(dir)
	require.NoError(t, err)
	defer a.Close()

	_, err = NewLocalFSAdapter(dir)
	require.Error(t, err)
	assert.True(t, nerrors.IsKind(err, nerrors.KindConflict))
}
