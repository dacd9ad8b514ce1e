package control

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{Channel: "numdrassl:plugin", Payload: []byte("hello backend")}
	decoded, err := Decode(Encode(env))
	require.NoError(t, err)
	require.Equal(t, env, decoded)
}

func TestReadWriteEnvelopeOverStream(t *testing.T) {
	var buf bytes.Buffer
	env := Envelope{Channel: "numdrassl:control_handshake", Payload: []byte{1, 2, 3}}

	require.NoError(t, WriteEnvelope(&buf, env))

	got, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	require.Equal(t, env, got)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte("not an envelope at all"))
	require.Error(t, err)
}
