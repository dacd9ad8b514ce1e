package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

type heartbeatPayload struct {
	ProxyID string `json:"proxyId"`
}

func TestLoopbackDeliversToSubscriber(t *testing.T) {
	l := NewLoopback()
	var got Message
	l.Subscribe("numdrassl:heartbeat", true, func(m Message) { got = m })

	require.NoError(t, l.Publish(context.Background(), "numdrassl:heartbeat", "Heartbeat", heartbeatPayload{ProxyID: "p1"}))

	require.Equal(t, "Heartbeat", got.MessageType)
	var decoded heartbeatPayload
	require.NoError(t, json.Unmarshal(got.Payload, &decoded))
	require.Equal(t, "p1", decoded.ProxyID)
}

func TestLoopbackFiltersSelfByDefault(t *testing.T) {
	l := NewLoopback()
	delivered := false
	l.Subscribe("numdrassl:heartbeat", false, func(Message) { delivered = true })

	require.NoError(t, l.Publish(context.Background(), "numdrassl:heartbeat", "Heartbeat", heartbeatPayload{}))
	require.False(t, delivered)
}

func TestLoopbackUnsubscribeStopsDelivery(t *testing.T) {
	l := NewLoopback()
	count := 0
	unsub := l.Subscribe("ch", true, func(Message) { count++ })

	require.NoError(t, l.Publish(context.Background(), "ch", "X", nil))
	unsub()
	require.NoError(t, l.Publish(context.Background(), "ch", "X", nil))

	require.Equal(t, 1, count)
}

func TestLoopbackUnsubscribeAllClearsChannel(t *testing.T) {
	l := NewLoopback()
	count := 0
	l.Subscribe("ch", true, func(Message) { count++ })
	l.Subscribe("ch", true, func(Message) { count++ })

	l.UnsubscribeAll("ch")
	require.NoError(t, l.Publish(context.Background(), "ch", "X", nil))

	require.Equal(t, 0, count)
}

func TestLoopbackIsConnectedAlwaysTrue(t *testing.T) {
	l := NewLoopback()
	require.True(t, l.IsConnected())
}
