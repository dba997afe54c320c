package idutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrAssignIsStable(t *testing.T) {
	m := New()
	id1, err := m.GetOrAssign("alice")
	require.NoError(t, err)
	id2, err := m.GetOrAssign("alice")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := m.GetOrAssign("bob")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestGetIntAndGetString(t *testing.T) {
	m := New()
	id, err := m.GetOrAssign("alice")
	require.NoError(t, err)

	got, ok := m.GetInt("alice")
	require.True(t, ok)
	assert.Equal(t, id, got)

	s, ok := m.GetString(id)
	require.True(t, ok)
	assert.Equal(t, "alice", s)

	_, ok = m.GetInt("nobody")
	assert.False(t, ok)
}

func TestDeleteHidesButDoesNotReassign(t *testing.T) {
	m := New()
	id, err := m.GetOrAssign("alice")
	require.NoError(t, err)
	m.Delete("alice")

	_, ok := m.GetInt("alice")
	assert.False(t, ok)
	_, ok = m.GetString(id)
	assert.False(t, ok)

	id2, err := m.GetOrAssign("bob")
	require.NoError(t, err)
	assert.NotEqual(t, id, id2, "retired ids must never be reassigned")
}

func TestMarshalRoundTrip(t *testing.T) {
	m := New()
	_, err := m.GetOrAssign("alice")
	require.NoError(t, err)
	_, err = m.GetOrAssign("bob")
	require.NoError(t, err)
	m.Delete("alice")

	data, err := m.Marshal()
	require.NoError(t, err)

	m2, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, m.Len(), m2.Len())
	_, ok := m2.GetInt("bob")
	assert.True(t, ok)
	_, ok = m2.GetInt("alice")
	assert.False(t, ok, "deleted entries stay hidden after round trip")

	id3, err := m2.GetOrAssign("carol")
	require.NoError(t, err)
	id3b, err := m.GetOrAssign("carol")
	require.NoError(t, err)
	assert.Equal(t, id3b, id3, "next counter must survive round trip")
}

func TestLenExcludesDeleted(t *testing.T) {
	m := New()
	_, _ = m.GetOrAssign("alice")
	_, _ = m.GetOrAssign("bob")
	assert.Equal(t, 2, m.Len())
	m.Delete("alice")
	assert.Equal(t, 1, m.Len())
}
