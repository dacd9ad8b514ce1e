package tools

import (
	"crypto/tls"
	"fmt"
)

// LoadSharedTLSConfig loads the proxy's single certificate/key pair into
// a tls.Config usable both by the Client Listener (as a server requiring
// mutual-auth client certificates) and the Backend Dialer (as a client
// presenting the same identity, cloned per dial with ServerName set) —
// spec.md §4.3's "deliberate" shared-identity requirement.
//
// Certificate issuance and trust-chain policy are explicitly out of
// scope (spec.md §1 Non-goals: certificate generation); this proxy pins
// identity by shared certificate rather than validating against a CA,
// so InsecureSkipVerify is set for the dialer's use of this config and
// ClientAuth only requires a client certificate be presented, without
// chain validation.
func LoadSharedTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("loading TLS certificate/key pair: %w", err)
	}
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS13,
	}, nil
}
