package backend

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog/log"

	"github.com/Numdrassl/proxy/internal/proxyproto"
)

// CongestionProfile names the intended congestion-control algorithm for
// a dialed connection. Player connections use ProfileDefault (the
// library's built-in Cubic sender); the Backend Control Manager's
// long-lived control connections request ProfileBBR.
type CongestionProfile string

const (
	ProfileDefault CongestionProfile = "default"
	ProfileBBR     CongestionProfile = "bbr"
)

// DialerConfig configures the Backend Dialer (D).
type DialerConfig struct {
	// TLSConfig is the proxy's own client-side TLS identity, deliberately
	// the same certificate the Client Listener serves: backends pin the
	// proxy's certificate fingerprint rather than trusting a CA.
	TLSConfig *tls.Config
	ALPN      string
	IdleTimeout time.Duration
}

// Dialer opens a QUIC connection and bidirectional stream to a chosen
// backend, writing a rewritten Connect frame carrying a signed referral.
type Dialer struct {
	cfg DialerConfig
}

// NewDialer builds a Dialer from cfg.
func NewDialer(cfg DialerConfig) *Dialer {
	return &Dialer{cfg: cfg}
}

// Connection is an established backend transport plus its single
// bidirectional stream and frame codec, ready for the state machine to
// forward player frames over.
type Connection struct {
	Conn    *quic.Conn
	Stream  *quic.Stream
	Encoder *proxyproto.Encoder
	Decoder *proxyproto.Decoder
}

// Close tears down the stream and the underlying transport.
func (c *Connection) Close() error {
	if c.Stream != nil {
		_ = c.Stream.Close()
	}
	if c.Conn != nil {
		return c.Conn.CloseWithError(0, "closed")
	}
	return nil
}

func (d *Dialer) quicConfig(profile CongestionProfile) *quic.Config {
	if profile == ProfileBBR {
		// TODO(numdrassl): wire quic-go's experimental BBR sender once the
		// vendored quic-go version's congestion-control override API is
		// pinned; until then control connections run the library default,
		// which is still correct, just not BBR-tuned.
		log.Debug().Msg("BBR congestion profile requested; running library default sender")
	}
	return &quic.Config{
		MaxIdleTimeout:                 d.cfg.IdleTimeout,
		KeepAlivePeriod:                d.cfg.IdleTimeout / 2,
		MaxIncomingStreams:             100,
		MaxIncomingUniStreams:          0,
		InitialStreamReceiveWindow:     1 << 20,    // 1 MB per stream
		MaxStreamReceiveWindow:         1 << 20,
		InitialConnectionReceiveWindow: 10 << 20,   // 10 MB per connection
		MaxConnectionReceiveWindow:     10 << 20,
	}
}

// OpenStream opens a transport and a bidirectional stream to desc and
// installs frame codecs, without writing anything. Used directly by the
// Backend Control Manager, which speaks its own plugin-envelope
// handshake rather than a Connect frame.
func (d *Dialer) OpenStream(ctx context.Context, desc Descriptor, profile CongestionProfile) (*Connection, error) {
	tlsConf := d.cfg.TLSConfig.Clone()
	tlsConf.ServerName = desc.SNI()
	tlsConf.NextProtos = []string{d.cfg.ALPN}

	quicConn, err := quic.DialAddr(ctx, desc.Addr(), tlsConf, d.quicConfig(profile))
	if err != nil {
		return nil, fmt.Errorf("dialing backend %s at %s: %w", desc.Name, desc.Addr(), err)
	}

	stream, err := quicConn.OpenStreamSync(ctx)
	if err != nil {
		_ = quicConn.CloseWithError(0, "stream open failed")
		return nil, fmt.Errorf("opening stream to backend %s: %w", desc.Name, err)
	}

	return &Connection{
		Conn:    quicConn,
		Stream:  stream,
		Encoder: proxyproto.NewEncoder(stream),
		Decoder: proxyproto.NewDecoder(stream),
	}, nil
}

// Dial opens a stream to desc via OpenStream and writes connectFrame
// over it (already carrying a signed referral in its ReferralData
// field), returning the ready Connection.
func (d *Dialer) Dial(ctx context.Context, desc Descriptor, profile CongestionProfile, connectFrame *proxyproto.Connect) (*Connection, error) {
	conn, err := d.OpenStream(ctx, desc, profile)
	if err != nil {
		return nil, err
	}

	if err := conn.Encoder.WriteFrame(connectFrame); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("writing connect frame to backend %s: %w", desc.Name, err)
	}

	return conn, nil
}
