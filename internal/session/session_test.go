package session

import (
	"crypto/sha256"
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetClientCertRecordsFingerprint(t *testing.T) {
	sess := New(1, nil)
	cert := &x509.Certificate{Raw: []byte("fake-der-bytes")}

	sess.SetClientCert(cert)

	require.Same(t, cert, sess.ClientCert)
	require.Equal(t, sha256.Sum256(cert.Raw), sess.ClientCertFingerprint)
}

func TestSetClientCertNilLeavesFingerprintZero(t *testing.T) {
	sess := New(1, nil)
	sess.SetClientCert(nil)

	require.Nil(t, sess.ClientCert)
	require.Equal(t, [sha256.Size]byte{}, sess.ClientCertFingerprint)
}
