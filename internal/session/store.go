package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Store holds live sessions keyed by transport handle and by player id.
// It enforces the at-most-one-session-per-player-id invariant (see
// SPEC_FULL.md §3).
type Store struct {
	mu         sync.RWMutex
	byTransport map[TransportHandle]*Session
	byPlayer    map[uuid.UUID]*Session
}

// NewStore creates an empty Session Store.
func NewStore() *Store {
	return &Store{
		byTransport: map[TransportHandle]*Session{},
		byPlayer:    map[uuid.UUID]*Session{},
	}
}

// RegisterTransport records a brand-new session keyed by its client
// transport, before any player id is known.
func (s *Store) RegisterTransport(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTransport[sess.ClientTransport] = sess
}

// RegisterPlayer associates playerID with sess without forcing out any
// prior session for that id — used at Connect time for visibility only
// (spec.md §4.2 transition 1).
func (s *Store) RegisterPlayer(playerID uuid.UUID, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byPlayer[playerID]; ok && existing != sess {
		// Non-forcing: leave the existing session alone, just don't
		// publish sess under playerID yet. The caller only resolves
		// conflicts at forcing re-registration (ConnectAccept time).
		return
	}
	s.byPlayer[playerID] = sess
}

// ForceRegisterPlayer publishes sess under playerID, synchronously
// closing any prior live session for that id first (spec.md §4.2
// transition 4, and the Session uniqueness invariant in §8).
// closeFn is invoked on the prior session, outside of the store's lock,
// with the old session as argument.
func (s *Store) ForceRegisterPlayer(playerID uuid.UUID, sess *Session, closeFn func(old *Session)) {
	s.mu.Lock()
	old, hadOld := s.byPlayer[playerID]
	s.byPlayer[playerID] = sess
	s.mu.Unlock()

	if hadOld && old != sess && closeFn != nil {
		log.Info().Str("player_id", playerID.String()).Msg("forcing out prior session for duplicate player id")
		closeFn(old)
	}
}

// RemovePlayer removes sess from the by-player index, but only if it is
// still the session currently registered for that id (a stale removal
// from an already-superseded session must be a no-op).
func (s *Store) RemovePlayer(playerID uuid.UUID, sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byPlayer[playerID]; ok && cur == sess {
		delete(s.byPlayer, playerID)
	}
}

// RemoveTransport removes sess from the by-transport index.
func (s *Store) RemoveTransport(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byTransport, sess.ClientTransport)
}

// ByPlayer looks up the live session for a player id, if any.
func (s *Store) ByPlayer(playerID uuid.UUID) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byPlayer[playerID]
	return sess, ok
}

// ByTransport looks up the session owning a client transport, if any.
func (s *Store) ByTransport(t TransportHandle) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byTransport[t]
	return sess, ok
}

// Count returns the number of sessions currently indexed by transport
// (i.e. every accepted connection, regardless of auth state).
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byTransport)
}

// PlayerCount returns the number of sessions currently indexed by
// player id (i.e. every session that has completed a Connect).
func (s *Store) PlayerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPlayer)
}

// AllPlayers returns a snapshot of every session currently indexed by
// player id.
func (s *Store) AllPlayers() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.byPlayer))
	for _, sess := range s.byPlayer {
		out = append(out, sess)
	}
	return out
}
