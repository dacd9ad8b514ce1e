package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Numdrassl/proxy/internal/configtypes"
)

func TestToDescriptorsCopiesFields(t *testing.T) {
	out := toDescriptors([]configtypes.Backend{
		{Name: "lobby", Host: "10.0.0.1", Port: 9100, IsDefault: true, Hostname: "lobby.internal"},
	})
	require.Len(t, out, 1)
	require.Equal(t, "lobby", out[0].Name)
	require.Equal(t, "10.0.0.1", out[0].Host)
	require.Equal(t, 9100, out[0].Port)
	require.True(t, out[0].IsDefault)
	require.Equal(t, "lobby.internal", out[0].Hostname)
}

func TestNewMessagingServiceLoopbackWhenClusterDisabled(t *testing.T) {
	svc, clusterMode := newMessagingService(configtypes.Cluster{Enabled: false}, "proxy-1")
	require.True(t, svc.IsConnected())
	require.False(t, clusterMode, "clustering disabled in config must never report cluster mode")
	require.NoError(t, svc.Close())
}

func TestNewMessagingServiceFallsBackToLoopbackWhenBrokerUnreachable(t *testing.T) {
	svc, clusterMode := newMessagingService(configtypes.Cluster{
		Enabled:    true,
		BrokerHost: "127.0.0.1",
		BrokerPort: 1, // nothing listens here; the dial must fail fast
	}, "proxy-1")
	require.True(t, svc.IsConnected(), "loopback fallback reports connected")
	require.False(t, clusterMode, "a failed broker dial must fall back to loopback, not report cluster mode")
	require.NoError(t, svc.Close())
}
