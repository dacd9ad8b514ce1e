package proxyproto

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	dec := NewDecoder(&buf)

	connect := &Connect{
		PlayerID:            uuid.New(),
		Username:             "Steve",
		ProtocolFingerprint:  []byte{1, 2, 3},
		IdentityToken:        []byte("token"),
		ReferralData:         nil,
	}
	require.NoError(t, enc.WriteFrame(connect))
	require.NoError(t, enc.WriteOpaque([]byte("raw game bytes")))
	require.NoError(t, enc.WriteFrame(&Disconnect{Reason: "bye"}))

	msg, err := dec.ReadMessage()
	require.NoError(t, err)
	got, ok := msg.Frame.(*Connect)
	require.True(t, ok)
	require.Equal(t, connect.PlayerID, got.PlayerID)
	require.Equal(t, connect.Username, got.Username)
	require.Equal(t, connect.IdentityToken, got.IdentityToken)

	msg, err = dec.ReadMessage()
	require.NoError(t, err)
	require.Nil(t, msg.Frame)
	require.Equal(t, []byte("raw game bytes"), msg.Opaque)

	msg, err = dec.ReadMessage()
	require.NoError(t, err)
	d, ok := msg.Frame.(*Disconnect)
	require.True(t, ok)
	require.Equal(t, "bye", d.Reason)
}
