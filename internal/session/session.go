// Package session implements the Session Store (A) and the Session State
// Machine (E): the central per-player entity that brokers frames between
// a client-facing QUIC stream and a backend-facing QUIC stream.
package session

import (
	"crypto/sha256"
	"crypto/x509"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/Numdrassl/proxy/internal/backend"
	"github.com/Numdrassl/proxy/internal/hooks"
	"github.com/Numdrassl/proxy/internal/proxyproto"
)

// State is one of the six states of the session lifecycle (see
// SPEC_FULL.md §4.2 / spec.md §3).
type State int

const (
	StateHandshaking State = iota
	StateAuthenticating
	StateConnecting
	StateConnected
	StateTransferring
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "HANDSHAKING"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateTransferring:
		return "TRANSFERRING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// TransportHandle identifies a client QUIC transport for Session Store
// lookups that don't yet know the player id (e.g. before Connect arrives).
type TransportHandle = *quic.Conn

// ID is a monotonically increasing session identifier.
type ID uint64

// Session is the central per-player entity. The Session State Machine
// changes its state, identity and backend fields through setters that
// take the mutex; it is driven from the Client Listener's client and
// backend pump goroutines and from Public Facade calls. The mutex also
// lets other goroutines — the Session Store, the Public Facade — take a
// consistent snapshot.
type Session struct {
	mu sync.RWMutex

	ID ID

	ClientTransport TransportHandle
	ClientStream    *quic.Stream
	ClientEncoder   *proxyproto.Encoder
	ClientDecoder   *proxyproto.Decoder

	BackendTransport *quic.Conn
	BackendStream    *quic.Stream
	BackendEncoder   *proxyproto.Encoder
	BackendDecoder   *proxyproto.Decoder
	Backend          backend.Descriptor

	PlayerID            uuid.UUID
	Username             string
	ProtocolFingerprint  []byte
	IdentityToken        []byte
	AuthorizationGrant   []byte
	ServerIdentityToken  []byte
	ClientAccessToken    []byte
	ServerAccessToken    []byte

	ClientCert            *x509.Certificate
	ClientCertFingerprint [sha256.Size]byte

	state        State
	transferring bool

	// original Connect frame, replayed to synthesize a new Connect when
	// transferring to another backend.
	lastConnect *proxyproto.Connect

	// previousBackend is the backend descriptor selected before the one
	// currently in flight, used only to report the "from" side of a
	// server-connected hook during a transfer.
	previousBackend backend.Descriptor

	CreatedAt time.Time
}

// New creates a session in HANDSHAKING for a newly accepted client transport.
func New(id ID, transport TransportHandle) *Session {
	return &Session{
		ID:              id,
		ClientTransport: transport,
		state:           StateHandshaking,
		CreatedAt:       time.Now(),
	}
}

// State returns a snapshot of the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState transitions the session to st. Normally only called from the
// owning Machine as it drives the session through its lifecycle; exported
// so the Client Listener's frame-forwarding gate (spec §4.1/§4.2) and
// tests can inspect and set up specific states without a session package
// import cycle.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// IsTransferring reports whether a backend switch is currently in flight.
func (s *Session) IsTransferring() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.transferring
}

func (s *Session) setTransferring(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferring = v
}

// SnapshotPlayerID returns the player id under a read lock, since the
// field is set once during HANDSHAKING and read concurrently afterward.
func (s *Session) SnapshotPlayerID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PlayerID
}

func (s *Session) setIdentity(id uuid.UUID, username string, fingerprint, identityToken []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayerID = id
	s.Username = username
	s.ProtocolFingerprint = fingerprint
	s.IdentityToken = identityToken
}

// SetClientCert records the leaf certificate the client presented during
// the QUIC/TLS handshake, along with its SHA-256 fingerprint, for the
// Session data model's mutual-auth identity fields (spec.md §3). Called
// once from the Client Listener right after accepting the connection.
func (s *Session) SetClientCert(cert *x509.Certificate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClientCert = cert
	if cert != nil {
		s.ClientCertFingerprint = sha256.Sum256(cert.Raw)
	}
}

// SnapshotUsername returns a snapshot of the player's display name.
func (s *Session) SnapshotUsername() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Username
}

// SnapshotBackend returns the currently selected backend descriptor, if any.
func (s *Session) SnapshotBackend() (backend.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Backend.Name == "" {
		return backend.Descriptor{}, false
	}
	return s.Backend, true
}

func (s *Session) setBackend(d backend.Descriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previousBackend = s.Backend
	s.Backend = d
}

func (s *Session) snapshotPreviousBackend() backend.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.previousBackend
}

func (s *Session) setLastConnect(c *proxyproto.Connect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastConnect = c
}

func (s *Session) snapshotLastConnect() *proxyproto.Connect {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastConnect
}

func (s *Session) setGrant(grant, serverIdentity []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AuthorizationGrant = grant
	s.ServerIdentityToken = serverIdentity
}

func (s *Session) setClientAccessToken(t []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClientAccessToken = t
}

func (s *Session) setServerAccessToken(t []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ServerAccessToken = t
}

func (s *Session) setBackendTransport(conn *quic.Conn, stream *quic.Stream, enc *proxyproto.Encoder, dec *proxyproto.Decoder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BackendTransport = conn
	s.BackendStream = stream
	s.BackendEncoder = enc
	s.BackendDecoder = dec
}

// CurrentBackendStream returns the stream of the currently attached
// backend episode, or nil if none is attached. Used by the Client
// Listener's backend pump to tell whether it is still the current
// episode after a transfer has replaced the backend transport.
func (s *Session) CurrentBackendStream() *quic.Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BackendStream
}

func (s *Session) clearBackendTransport() (*quic.Conn, *quic.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, stream := s.BackendTransport, s.BackendStream
	s.BackendTransport = nil
	s.BackendStream = nil
	s.BackendEncoder = nil
	s.BackendDecoder = nil
	return conn, stream
}

// View adapts a Session to hooks.SessionView, exposing only the
// read-only surface the out-of-scope extension layer is allowed to see.
type View struct{ s *Session }

func NewView(s *Session) View { return View{s: s} }

func (v View) PlayerID() uuid.UUID { return v.s.SnapshotPlayerID() }
func (v View) Username() string    { return v.s.SnapshotUsername() }
func (v View) CurrentBackend() (backend.Descriptor, bool) { return v.s.SnapshotBackend() }

var _ hooks.SessionView = View{}
