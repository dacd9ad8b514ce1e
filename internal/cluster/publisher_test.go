package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Numdrassl/proxy/internal/messaging"
)

func TestPublisherStopEmitsShuttingDownHeartbeat(t *testing.T) {
	svc := messaging.NewLoopback()

	var last HeartbeatMessage
	svc.Subscribe(ChannelHeartbeat, true, func(msg messaging.Message) {
		_ = decodePayload(msg.Payload, &last)
	})

	p := NewPublisher(svc, "p2", "us-east", "10.0.0.2", 9000, func() (int, int64) { return 3, 1000 })
	p.Stop()

	require.Equal(t, "p2", last.SourceProxyID)
	require.True(t, last.ShuttingDown)
	require.Equal(t, 3, last.PlayerCount)
}
