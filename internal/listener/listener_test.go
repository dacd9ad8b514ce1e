package listener

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Numdrassl/proxy/internal/backend"
	"github.com/Numdrassl/proxy/internal/hooks"
	"github.com/Numdrassl/proxy/internal/proxyproto"
	"github.com/Numdrassl/proxy/internal/session"
)

func newTestListener(h *hooks.Hooks) *Listener {
	store := session.NewStore()
	machine := session.NewMachine(store, backend.NewRegistry(nil), backend.NewDialer(backend.DialerConfig{}), nil, nil, h, "self")
	return New(Config{MaxConnections: 10}, machine, store, h, nil)
}

func TestForwardClientFrameAppliesPacketMapperAndForwardsOpaque(t *testing.T) {
	var seen []byte
	h := hooks.NoOp()
	h.PacketMapperFn = func(_ hooks.SessionView, dir hooks.FrameDirection, frame []byte) ([]byte, bool) {
		require.Equal(t, hooks.DirectionClientToBackend, dir)
		return append([]byte("mapped:"), frame...), false
	}
	l := newTestListener(h)

	var buf bytes.Buffer
	sess := session.New(1, nil)
	sess.SetState(session.StateConnected)
	sess.BackendEncoder = proxyproto.NewEncoder(&buf)

	l.forwardClientFrame(sess, &proxyproto.Message{Opaque: []byte("hello")})

	dec := proxyproto.NewDecoder(&buf)
	msg, err := dec.ReadMessage()
	require.NoError(t, err)
	seen = msg.Opaque
	require.Equal(t, "mapped:hello", string(seen))
}

func TestForwardClientFrameDropsWhenHookSaysDrop(t *testing.T) {
	h := hooks.NoOp()
	h.PacketMapperFn = func(hooks.SessionView, hooks.FrameDirection, []byte) ([]byte, bool) { return nil, true }
	l := newTestListener(h)

	var buf bytes.Buffer
	sess := session.New(1, nil)
	sess.SetState(session.StateConnected)
	sess.BackendEncoder = proxyproto.NewEncoder(&buf)

	l.forwardClientFrame(sess, &proxyproto.Message{Opaque: []byte("hello")})

	require.Zero(t, buf.Len())
}

func TestForwardClientFrameNoopWithoutBackendEncoder(t *testing.T) {
	l := newTestListener(hooks.NoOp())
	sess := session.New(1, nil)
	sess.SetState(session.StateConnected)
	// BackendEncoder is nil; must not panic.
	l.forwardClientFrame(sess, &proxyproto.Message{Opaque: []byte("hello")})
}

func TestForwardClientFrameNoopOutsideConnectedState(t *testing.T) {
	l := newTestListener(hooks.NoOp())

	var buf bytes.Buffer
	sess := session.New(1, nil)
	sess.SetState(session.StateTransferring)
	sess.BackendEncoder = proxyproto.NewEncoder(&buf)

	l.forwardClientFrame(sess, &proxyproto.Message{Opaque: []byte("hello")})

	require.Zero(t, buf.Len(), "must not forward to the in-flight backend encoder while a transfer is underway")
}

func TestForwardBackendFrameForwardsNamedFrameVerbatim(t *testing.T) {
	l := newTestListener(hooks.NoOp())

	var buf bytes.Buffer
	sess := session.New(1, nil)
	sess.SetState(session.StateConnected)
	sess.ClientEncoder = proxyproto.NewEncoder(&buf)

	l.forwardBackendFrame(sess, &proxyproto.Message{Frame: &proxyproto.ChatMessage{Text: "hi"}})

	dec := proxyproto.NewDecoder(&buf)
	msg, err := dec.ReadMessage()
	require.NoError(t, err)
	chat, ok := msg.Frame.(*proxyproto.ChatMessage)
	require.True(t, ok)
	require.Equal(t, "hi", chat.Text)
}

func TestForwardBackendFrameNoopOutsideConnectedState(t *testing.T) {
	l := newTestListener(hooks.NoOp())

	var buf bytes.Buffer
	sess := session.New(1, nil)
	sess.SetState(session.StateAuthenticating)
	sess.ClientEncoder = proxyproto.NewEncoder(&buf)

	l.forwardBackendFrame(sess, &proxyproto.Message{Frame: &proxyproto.ChatMessage{Text: "hi"}})

	require.Zero(t, buf.Len())
}
