package control

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Numdrassl/proxy/internal/backend"
	"github.com/Numdrassl/proxy/internal/hooks"
	"github.com/Numdrassl/proxy/internal/referral"
)

func TestSendReturnsFalseWithNoActiveConnection(t *testing.T) {
	descs := []backend.Descriptor{{Name: "lobby", Host: "127.0.0.1", Port: 25000}}
	m := NewManager(backend.NewDialer(backend.DialerConfig{}), referral.NewSigner(make([]byte, 32)), hooks.NoOp(), descs)

	require.False(t, m.Send("lobby", "numdrassl:plugin", []byte("x")))
}

func TestSendReturnsFalseForUnknownBackend(t *testing.T) {
	m := NewManager(backend.NewDialer(backend.DialerConfig{}), referral.NewSigner(make([]byte, 32)), hooks.NoOp(), nil)
	require.False(t, m.Send("ghost", "ch", nil))
}

func TestBroadcastReportsAllFailedWhenNoneActive(t *testing.T) {
	descs := []backend.Descriptor{
		{Name: "lobby", Host: "127.0.0.1", Port: 25000},
		{Name: "arena", Host: "127.0.0.1", Port: 25001},
	}
	m := NewManager(backend.NewDialer(backend.DialerConfig{}), referral.NewSigner(make([]byte, 32)), hooks.NoOp(), descs)

	failed := m.Broadcast("numdrassl:broadcast", []byte("x"))
	require.Len(t, failed, 2)
}

func TestRegisterChannelTracksMembership(t *testing.T) {
	m := NewManager(backend.NewDialer(backend.DialerConfig{}), referral.NewSigner(make([]byte, 32)), hooks.NoOp(), nil)
	require.False(t, m.isRegistered("numdrassl:plugin"))
	m.RegisterChannel("numdrassl:plugin")
	require.True(t, m.isRegistered("numdrassl:plugin"))
}
