package facade

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Numdrassl/proxy/internal/backend"
	"github.com/Numdrassl/proxy/internal/cluster"
	"github.com/Numdrassl/proxy/internal/messaging"
	"github.com/Numdrassl/proxy/internal/session"
)

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	store := session.NewStore()
	local := backend.NewRegistry(nil)
	svc := messaging.NewLoopback()
	serverList := cluster.NewServerListHandler("self", svc)
	registry := cluster.NewRegistry("self")
	return &Facade{Store: store, LocalServers: local, ServerList: serverList, ProxyRegistry: registry, PublicHost: "proxy.example.com", PublicPort: 25565}
}

func TestGetPlayerByIDReflectsStore(t *testing.T) {
	f := newTestFacade(t)
	playerID := uuid.New()
	sess := session.New(1, nil)
	sess.PlayerID = playerID
	f.Store.RegisterPlayer(playerID, sess)

	view, ok := f.GetPlayerByID(playerID)
	require.True(t, ok)
	require.Equal(t, playerID, view.PlayerID())
}

func TestAllServersLocalShadowsRemote(t *testing.T) {
	f := newTestFacade(t)
	f.ServerList.Handle(cluster.ServerListMessage{
		SourceProxyID: "peer", Kind: cluster.ServerListRegister,
		ServerName: "lobby", Host: "10.0.0.9", Port: 25000,
	})
	require.NoError(t, f.RegisterServer(backend.Descriptor{Name: "lobby", Host: "127.0.0.1", Port: 25000}))

	servers := f.AllServers()
	require.Len(t, servers, 1)
	require.Equal(t, "127.0.0.1", servers[0].Host)
}

func TestGetServerFallsBackToRemoteAfterLocalUnregister(t *testing.T) {
	f := newTestFacade(t)
	f.ServerList.Handle(cluster.ServerListMessage{
		SourceProxyID: "peer", Kind: cluster.ServerListRegister,
		ServerName: "lobby", Host: "10.0.0.9", Port: 25000,
	})
	require.NoError(t, f.RegisterServer(backend.Descriptor{Name: "lobby", Host: "127.0.0.1", Port: 25000}))
	require.NoError(t, f.UnregisterServer("lobby"))

	d, ok := f.GetServer("lobby")
	require.True(t, ok)
	require.Equal(t, "10.0.0.9", d.Host)
}

func TestGlobalPlayerCountAddsLocalAndPeers(t *testing.T) {
	f := newTestFacade(t)
	f.Store.RegisterPlayer(uuid.New(), session.New(1, nil))
	f.ProxyRegistry.HandleHeartbeat(cluster.HeartbeatMessage{SourceProxyID: "peer", PlayerCount: 4})

	require.Equal(t, 5, f.GlobalPlayerCount())
}

func TestIsClusterModeReflectsBrokerSelection(t *testing.T) {
	f := newTestFacade(t)
	require.False(t, f.IsClusterMode(), "zero value must default to false, matching a disabled or unreachable broker")

	f.ClusterMode = true
	require.True(t, f.IsClusterMode())
}
