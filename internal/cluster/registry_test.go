package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandleHeartbeatIgnoresOwnProxyID(t *testing.T) {
	r := NewRegistry("self")
	joinFired := false
	r.OnJoin(func(ProxyInfo) { joinFired = true })

	r.HandleHeartbeat(HeartbeatMessage{SourceProxyID: "self"})

	require.False(t, joinFired)
	_, ok := r.Get("self")
	require.False(t, ok)
}

func TestHandleHeartbeatFiresJoinOnlyOnFirstSighting(t *testing.T) {
	r := NewRegistry("self")
	joins := 0
	r.OnJoin(func(ProxyInfo) { joins++ })

	r.HandleHeartbeat(HeartbeatMessage{SourceProxyID: "p2"})
	r.HandleHeartbeat(HeartbeatMessage{SourceProxyID: "p2"})

	require.Equal(t, 1, joins)
}

func TestHandleHeartbeatShuttingDownUnknownProxyIsNoop(t *testing.T) {
	r := NewRegistry("self")
	leaveFired := false
	r.OnLeave(func(ProxyInfo, LeaveReason) { leaveFired = true })

	r.HandleHeartbeat(HeartbeatMessage{SourceProxyID: "ghost", ShuttingDown: true})

	require.False(t, leaveFired)
}

func TestHandleHeartbeatShuttingDownRemovesAndFiresGraceful(t *testing.T) {
	r := NewRegistry("self")
	r.HandleHeartbeat(HeartbeatMessage{SourceProxyID: "p2"})

	var gotReason LeaveReason
	r.OnLeave(func(_ ProxyInfo, reason LeaveReason) { gotReason = reason })

	r.HandleHeartbeat(HeartbeatMessage{SourceProxyID: "p2", ShuttingDown: true})

	require.Equal(t, ReasonGraceful, gotReason)
	_, ok := r.Get("p2")
	require.False(t, ok)
}

func TestEvictStaleRemovesExactlyOnceAndNeverEvictsSelf(t *testing.T) {
	r := NewRegistry("self")
	r.staleThreshold = 10 * time.Millisecond
	r.HandleHeartbeat(HeartbeatMessage{SourceProxyID: "p2"})

	evictions := 0
	r.OnLeave(func(info ProxyInfo, reason LeaveReason) {
		evictions++
		require.Equal(t, ReasonHeartbeatTimeout, reason)
		require.Equal(t, "p2", info.ProxyID)
	})

	time.Sleep(20 * time.Millisecond)
	r.evictStale()
	r.evictStale()

	require.Equal(t, 1, evictions)
	_, ok := r.Get("p2")
	require.False(t, ok)
}

func TestGlobalPlayerCountSumsPeers(t *testing.T) {
	r := NewRegistry("self")
	r.HandleHeartbeat(HeartbeatMessage{SourceProxyID: "p2", PlayerCount: 5})
	r.HandleHeartbeat(HeartbeatMessage{SourceProxyID: "p3", PlayerCount: 7})

	require.Equal(t, 12, r.GlobalPlayerCount())
}
