package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestStoreNonForcingRegisterKeepsExistingSession(t *testing.T) {
	store := NewStore()
	playerID := uuid.New()

	first := New(1, nil)
	store.RegisterPlayer(playerID, first)

	second := New(2, nil)
	store.RegisterPlayer(playerID, second)

	got, ok := store.ByPlayer(playerID)
	require.True(t, ok)
	require.Same(t, first, got)
}

func TestStoreForceRegisterClosesOldSessionExactlyOnce(t *testing.T) {
	store := NewStore()
	playerID := uuid.New()

	oldSess := New(1, nil)
	store.RegisterPlayer(playerID, oldSess)

	newSess := New(2, nil)
	closedCount := 0
	var closedSess *Session
	store.ForceRegisterPlayer(playerID, newSess, func(old *Session) {
		closedCount++
		closedSess = old
	})

	require.Equal(t, 1, closedCount)
	require.Same(t, oldSess, closedSess)

	got, ok := store.ByPlayer(playerID)
	require.True(t, ok)
	require.Same(t, newSess, got)
	require.Equal(t, 1, store.PlayerCount())
}

func TestStoreForceRegisterFirstTimeDoesNotInvokeCloseFn(t *testing.T) {
	store := NewStore()
	playerID := uuid.New()
	sess := New(1, nil)

	called := false
	store.ForceRegisterPlayer(playerID, sess, func(*Session) { called = true })

	require.False(t, called)
	got, ok := store.ByPlayer(playerID)
	require.True(t, ok)
	require.Same(t, sess, got)
}

func TestStoreRemovePlayerIgnoresStaleSession(t *testing.T) {
	store := NewStore()
	playerID := uuid.New()

	oldSess := New(1, nil)
	store.RegisterPlayer(playerID, oldSess)
	newSess := New(2, nil)
	store.ForceRegisterPlayer(playerID, newSess, nil)

	// A late removal call from the superseded session must not evict
	// the session that replaced it.
	store.RemovePlayer(playerID, oldSess)

	got, ok := store.ByPlayer(playerID)
	require.True(t, ok)
	require.Same(t, newSess, got)
}

func TestStoreTransportIndexIndependentOfPlayerIndex(t *testing.T) {
	store := NewStore()
	sess := New(1, nil)

	store.RegisterTransport(sess)
	require.Equal(t, 1, store.Count())

	store.RemoveTransport(sess)
	require.Equal(t, 0, store.Count())
}
