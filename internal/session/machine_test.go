package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Numdrassl/proxy/internal/backend"
	"github.com/Numdrassl/proxy/internal/hooks"
	"github.com/Numdrassl/proxy/internal/proxyproto"
	"github.com/Numdrassl/proxy/internal/referral"
	"github.com/Numdrassl/proxy/internal/sessionservice"
)

type fakeCaller struct {
	grantErr error
}

func (f *fakeCaller) Call(_ context.Context, path string, _ []byte) ([]byte, error) {
	if path == "/grants" {
		if f.grantErr != nil {
			return nil, f.grantErr
		}
		return []byte(`{"authorization_grant":"Z3JhbnQ=","server_identity_token":"aWRlbnQ="}`), nil
	}
	return []byte(`{}`), nil
}

func newTestMachine(t *testing.T, grantErr error, h *hooks.Hooks) *Machine {
	t.Helper()
	store := NewStore()
	registry := backend.NewRegistry(nil)
	dialer := backend.NewDialer(backend.DialerConfig{})
	client := sessionservice.NewClient(&fakeCaller{grantErr: grantErr})
	signer := referral.NewSigner(make([]byte, 32))
	return NewMachine(store, registry, dialer, client, signer, h, "proxy-1")
}

func TestHandleConnectDeniedByPreLoginDisconnects(t *testing.T) {
	h := hooks.NoOp()
	h.PreLoginFn = func(net.Addr) hooks.Decision { return hooks.Deny("banned") }
	m := newTestMachine(t, nil, h)

	sess := New(1, nil)
	m.Store.RegisterTransport(sess)

	err := m.HandleConnect(context.Background(), sess, &proxyproto.Connect{PlayerID: uuid.New(), Username: "Steve"})
	require.NoError(t, err)
	require.Equal(t, StateDisconnected, sess.State())
	_, ok := m.Store.ByPlayer(sess.SnapshotPlayerID())
	require.False(t, ok)
}

func TestHandleConnectGrantFailureDisconnects(t *testing.T) {
	m := newTestMachine(t, errors.New("session service unreachable"), hooks.NoOp())

	sess := New(1, nil)
	playerID := uuid.New()
	err := m.HandleConnect(context.Background(), sess, &proxyproto.Connect{PlayerID: playerID, Username: "Steve"})

	require.NoError(t, err)
	require.Equal(t, StateDisconnected, sess.State())
	_, ok := m.Store.ByPlayer(playerID)
	require.False(t, ok)
}

func TestSwitchBackendToCurrentIsNoop(t *testing.T) {
	m := newTestMachine(t, nil, hooks.NoOp())
	sess := New(1, nil)
	sess.SetState(StateConnected)
	sess.setBackend(backend.Descriptor{Name: "lobby", Host: "127.0.0.1", Port: 25000})

	err := m.SwitchBackend(context.Background(), sess, "LOBBY")
	require.NoError(t, err)
	require.Equal(t, StateConnected, sess.State())
	require.False(t, sess.IsTransferring())
}

func TestSwitchBackendOutsideConnectedRejected(t *testing.T) {
	m := newTestMachine(t, nil, hooks.NoOp())
	sess := New(1, nil)
	sess.SetState(StateAuthenticating)

	err := m.SwitchBackend(context.Background(), sess, "arena")
	require.Error(t, err)
}

func TestDisconnectIsIdempotentAndFiresHookOnce(t *testing.T) {
	fired := 0
	h := hooks.NoOp()
	h.DisconnectFn = func(hooks.SessionView, hooks.DisconnectReason) { fired++ }
	m := newTestMachine(t, nil, h)

	sess := New(1, nil)
	playerID := uuid.New()
	sess.setIdentity(playerID, "Steve", nil, nil)
	m.Store.RegisterTransport(sess)
	m.Store.RegisterPlayer(playerID, sess)

	require.NoError(t, m.Disconnect(sess, hooks.ReasonClientDisconnect, ""))
	require.NoError(t, m.Disconnect(sess, hooks.ReasonClientDisconnect, ""))

	require.Equal(t, 1, fired)
	require.Equal(t, StateDisconnected, sess.State())
	_, ok := m.Store.ByPlayer(playerID)
	require.False(t, ok)
}

func TestConnectBackendDisconnectsOnInvalidReferralInsteadOfDefault(t *testing.T) {
	registry := backend.NewRegistry([]backend.Descriptor{{Name: "lobby", IsDefault: true}})
	dialer := backend.NewDialer(backend.DialerConfig{})
	client := sessionservice.NewClient(&fakeCaller{})
	signer := referral.NewSigner(make([]byte, 32))
	m := NewMachine(NewStore(), registry, dialer, client, signer, hooks.NoOp(), "proxy-1")

	sess := New(1, nil)
	playerID := uuid.New()
	sess.setIdentity(playerID, "Steve", nil, nil)
	sess.setLastConnect(&proxyproto.Connect{PlayerID: playerID, Username: "Steve", ReferralData: []byte("garbage, not a valid signed blob")})

	err := m.connectBackend(context.Background(), sess, "")
	require.NoError(t, err)
	require.Equal(t, StateDisconnected, sess.State())
	_, ok := sess.SnapshotBackend()
	require.False(t, ok, "must not fall back to the default backend on an invalid referral")
}

func TestConnectBackendDisconnectsOnStaleReferral(t *testing.T) {
	registry := backend.NewRegistry([]backend.Descriptor{{Name: "lobby", IsDefault: true}})
	dialer := backend.NewDialer(backend.DialerConfig{})
	client := sessionservice.NewClient(&fakeCaller{})
	secret := make([]byte, 32)
	signer := referral.NewSigner(secret)
	m := NewMachine(NewStore(), registry, dialer, client, signer, hooks.NoOp(), "proxy-1")

	sess := New(1, nil)
	playerID := uuid.New()
	sess.setIdentity(playerID, "Steve", nil, nil)
	staleBlob := signer.SignPlayer(playerID, "Steve", "lobby", "", time.Now().Add(-time.Hour))
	sess.setLastConnect(&proxyproto.Connect{PlayerID: playerID, Username: "Steve", ReferralData: staleBlob})

	err := m.connectBackend(context.Background(), sess, "")
	require.NoError(t, err)
	require.Equal(t, StateDisconnected, sess.State())
	_, ok := sess.SnapshotBackend()
	require.False(t, ok, "a stale referral must close the session, not reconnect to the default backend")
}

func TestHandleBackendDisconnectSuppressedDuringTransfer(t *testing.T) {
	fired := 0
	h := hooks.NoOp()
	h.DisconnectFn = func(hooks.SessionView, hooks.DisconnectReason) { fired++ }
	m := newTestMachine(t, nil, h)

	sess := New(1, nil)
	sess.SetState(StateTransferring)
	sess.setTransferring(true)

	require.NoError(t, m.HandleBackendDisconnect(sess, &proxyproto.Disconnect{Reason: "bye"}))
	require.Equal(t, 0, fired)
	require.NotEqual(t, StateDisconnected, sess.State())
}
