// Package hooks defines the narrow interfaces the Session State Machine
// calls into at fixed points in the connection lifecycle. The concrete
// extension/plugin loader and event-dispatch framework that implements
// them is out of scope (see SPEC_FULL.md §1 Non-goals); this package
// only fixes the call shape and supplies no-op defaults so the core is
// runnable without any extension registered.
package hooks

import (
	"net"

	"github.com/google/uuid"

	"github.com/Numdrassl/proxy/internal/backend"
)

// Decision is the allow/deny/redirect verdict a hook can return.
type Decision struct {
	Allowed  bool
	Reason   string
	Redirect string // non-empty means "connect to this backend name instead"
}

func Allow() Decision { return Decision{Allowed: true} }

func Deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// DisconnectReason classifies why a session ended, passed to the
// disconnect hook for advisory logging/metrics.
type DisconnectReason string

const (
	ReasonClientDisconnect  DisconnectReason = "CLIENT_DISCONNECT"
	ReasonBackendDisconnect DisconnectReason = "BACKEND_DISCONNECT"
	ReasonTransportClosed   DisconnectReason = "TRANSPORT_CLOSED"
	ReasonAuthDenied        DisconnectReason = "AUTH_DENIED"
	ReasonPolicy            DisconnectReason = "POLICY"
)

// FrameDirection distinguishes client-to-backend from backend-to-client
// traffic for the packet-mapping hook.
type FrameDirection int

const (
	DirectionClientToBackend FrameDirection = iota
	DirectionBackendToClient
)

// SessionView is the read-only session surface hooks receive; it avoids
// giving the out-of-scope extension layer a handle into session
// internals it should not mutate directly.
type SessionView interface {
	PlayerID() uuid.UUID
	Username() string
	CurrentBackend() (backend.Descriptor, bool)
}

// PreLogin gates a freshly handshaking client before any grant request
// is issued.
type PreLogin interface {
	PreLogin(clientAddr net.Addr) Decision
}

// PostLogin is fired advisory-only once a client's auth leg with the
// proxy has completed.
type PostLogin interface {
	PostLogin(sess SessionView)
}

// PreConnect gates (and may redirect) a session about to dial a
// candidate backend.
type PreConnect interface {
	PreConnect(sess SessionView, candidate backend.Descriptor) Decision
}

// ServerConnected fires once a backend has accepted the session.
type ServerConnected interface {
	ServerConnected(sess SessionView, newBackend, previousBackend backend.Descriptor)
}

// Disconnect fires advisory-only when a session closes.
type Disconnect interface {
	Disconnect(sess SessionView, reason DisconnectReason)
}

// PacketMapper may rewrite, drop, or pass through an intercepted frame
// once a session is CONNECTED.
type PacketMapper interface {
	MapPacket(sess SessionView, direction FrameDirection, frame []byte) (rewritten []byte, drop bool)
}

// PluginMessage fires when a backend control connection delivers a
// message on a channel the facade has registered interest in.
type PluginMessage interface {
	PluginMessage(channel string, sourceServer backend.Descriptor, payload []byte)
}

// Hooks aggregates every hook point with no-op defaults. The
// application wiring layer (internal/app) may replace any field with a
// real implementation before starting the listener.
type Hooks struct {
	PreLoginFn        func(clientAddr net.Addr) Decision
	PostLoginFn       func(sess SessionView)
	PreConnectFn      func(sess SessionView, candidate backend.Descriptor) Decision
	ServerConnectedFn func(sess SessionView, newBackend, previousBackend backend.Descriptor)
	DisconnectFn      func(sess SessionView, reason DisconnectReason)
	PacketMapperFn    func(sess SessionView, direction FrameDirection, frame []byte) ([]byte, bool)
	PluginMessageFn   func(channel string, sourceServer backend.Descriptor, payload []byte)
}

// NoOp returns a Hooks value that allows everything and drops nothing.
func NoOp() *Hooks {
	return &Hooks{
		PreLoginFn:        func(net.Addr) Decision { return Allow() },
		PostLoginFn:       func(SessionView) {},
		PreConnectFn:      func(SessionView, backend.Descriptor) Decision { return Allow() },
		ServerConnectedFn: func(SessionView, backend.Descriptor, backend.Descriptor) {},
		DisconnectFn:      func(SessionView, DisconnectReason) {},
		PacketMapperFn: func(_ SessionView, _ FrameDirection, frame []byte) ([]byte, bool) {
			return frame, false
		},
		PluginMessageFn: func(string, backend.Descriptor, []byte) {},
	}
}

func (h *Hooks) PreLogin(clientAddr net.Addr) Decision { return h.PreLoginFn(clientAddr) }
func (h *Hooks) PostLogin(sess SessionView)             { h.PostLoginFn(sess) }
func (h *Hooks) PreConnect(sess SessionView, candidate backend.Descriptor) Decision {
	return h.PreConnectFn(sess, candidate)
}
func (h *Hooks) ServerConnected(sess SessionView, newBackend, previousBackend backend.Descriptor) {
	h.ServerConnectedFn(sess, newBackend, previousBackend)
}
func (h *Hooks) Disconnect(sess SessionView, reason DisconnectReason) {
	h.DisconnectFn(sess, reason)
}
func (h *Hooks) MapPacket(sess SessionView, direction FrameDirection, frame []byte) ([]byte, bool) {
	return h.PacketMapperFn(sess, direction, frame)
}
func (h *Hooks) PluginMessage(channel string, sourceServer backend.Descriptor, payload []byte) {
	h.PluginMessageFn(channel, sourceServer, payload)
}
