package sstable

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries(n int) []Entry {
	entries := make([]Entry, n)
	for i := range entries {
		entries[i] = Entry{
			Key:   []byte(fmt.Sprintf("key-%04d", i)),
			Value: []byte(fmt.Sprintf("value-%04d", i)),
		}
	}
	return entries
}

func TestBuildAndGet(t *testing.T) {
	tbl := Build(sampleEntries(100), 0.01)
	require.Equal(t, 100, tbl.Len())

	v, tombstone, found := tbl.Get([]byte("key-0050"))
	require.True(t, found)
	assert.False(t, tombstone)
	assert.Equal(t, "value-0050", string(v))

	_, _, found = tbl.Get([]byte("key-9999"))
	assert.False(t, found)
}

func TestZoneMapSkipsOutOfRange(t *testing.T) {
	tbl := Build(sampleEntries(10), 0.01)
	assert.False(t, tbl.InRange([]byte("aaaa")))
	assert.False(t, tbl.InRange([]byte("zzzz")))
	assert.True(t, tbl.InRange([]byte("key-0005")))
}

func TestScanRange(t *testing.T) {
	tbl := Build(sampleEntries(20), 0.01)
	got := tbl.Scan([]byte("key-0005"), []byte("key-0010"))
	require.Len(t, got, 5)
	assert.Equal(t, "key-0005", string(got[0].Key))
	assert.Equal(t, "key-0009", string(got[4].Key))
}

func TestMarshalRoundTrip(t *testing.T) {
	tbl := Build(sampleEntries(50), 0.01)
	data := tbl.Marshal()

	loaded, err := Load(data)
	require.NoError(t, err)
	assert.Equal(t, tbl.Len(), loaded.Len())

	v, _, found := loaded.Get([]byte("key-0025"))
	require.True(t, found)
	assert.Equal(t, "value-0025", string(v))
}

func TestLoadRejectsCorruptChecksum(t *testing.T) {
	tbl := Build(sampleEntries(5), 0.01)
	data := tbl.Marshal()
	data[len(data)-1] ^= 0xFF // flip a bit in the checksum trailer

	_, err := Load(data)
	assert.Error(t, err)
}

func TestMergeKeepsNewestAndDropsTombstones(t *testing.T) {
	older := Build([]Entry{
		{Key: []byte("a"), Value: []byte("old-a")},
		{Key: []byte("b"), Value: []byte("old-b")},
	}, 0.01)
	newer := Build([]Entry{
		{Key: []byte("a"), Value: []byte("new-a")},
		{Key: []byte("c"), Tombstone: true},
	}, 0.01)

	merged := Merge([]*Table{older, newer}, 0.01, true)

	v, _, found := merged.Get([]byte("a"))
	require.True(t, found)
	assert.Equal(t, "new-a", string(v))

	_, _, found = merged.Get([]byte("b"))
	assert.True(t, found)

	_, _, found = merged.Get([]byte("c"))
	assert.False(t, found, "tombstone for a key with no surviving value should be dropped")
}
