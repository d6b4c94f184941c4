package session

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryInsertRejectsActiveNameAndID(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	alice := newClientSession(uuid.New(), "alice", now)
	require.NoError(t, r.Insert(alice, nil))

	err := r.Insert(newClientSession(uuid.New(), "alice", now), nil)
	assert.ErrorIs(t, err, ErrDuplicateName)

	err = r.Insert(newClientSession(alice.id, "bob", now), nil)
	assert.ErrorIs(t, err, ErrDuplicateName)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryInsertCheckAborts(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")

	err := r.Insert(newClientSession(uuid.New(), "alice", time.Now()), func() error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.Len())

	_, ok := r.LookupName("alice")
	assert.False(t, ok)
}

func TestRegistryReplaceEvictsByIDAndName(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	first := newClientSession(uuid.New(), "alice", now)
	second := newClientSession(uuid.New(), "bob", now)
	require.NoError(t, r.Insert(first, nil))
	require.NoError(t, r.Insert(second, nil))

	// Same id as first, same name as second.
	replacement := newClientSession(first.id, "bob", now)
	evicted := r.Replace(replacement)
	assert.ElementsMatch(t, []*ClientSession{first, second}, evicted)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Lookup(first.id)
	require.True(t, ok)
	assert.Same(t, replacement, got)
	_, ok = r.LookupName("alice")
	assert.False(t, ok)
	_, ok = r.Lookup(second.id)
	assert.False(t, ok)
}

func TestRegistryReplaceEvictsOnce(t *testing.T) {
	r := NewRegistry()
	old := newClientSession(uuid.New(), "alice", time.Now())
	require.NoError(t, r.Insert(old, nil))

	evicted := r.Replace(newClientSession(old.id, "alice", time.Now()))
	assert.Equal(t, []*ClientSession{old}, evicted)
}

func TestRegistryRemoveIsIdentityChecked(t *testing.T) {
	r := NewRegistry()
	old := newClientSession(uuid.New(), "alice", time.Now())
	require.NoError(t, r.Insert(old, nil))

	current := newClientSession(old.id, "alice", time.Now())
	r.Replace(current)

	assert.False(t, r.Remove(old), "a stale session must not remove its replacement")
	got, ok := r.Lookup(old.id)
	require.True(t, ok)
	assert.Same(t, current, got)

	assert.True(t, r.Remove(current))
	assert.Equal(t, 0, r.Len())
}

func TestRegistrySessionsSortedByName(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"carol", "alice", "bob"} {
		require.NoError(t, r.Insert(newClientSession(uuid.New(), name, time.Now()), nil))
	}

	var names []string
	for _, sess := range r.Sessions() {
		names = append(names, sess.Name())
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, names)
}
