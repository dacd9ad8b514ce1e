package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAgainstPrivateRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := New(Config{Namespace: "test", Registerer: reg})
	require.NoError(t, err)
	require.NotNil(t, r.ConnectionsAccepted)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestNewIsIdempotentAgainstDefaultRegisterer(t *testing.T) {
	_, err := New(Config{Namespace: "numdrassl_idempotent_test"})
	require.NoError(t, err)
	_, err = New(Config{Namespace: "numdrassl_idempotent_test"})
	require.NoError(t, err)
}
