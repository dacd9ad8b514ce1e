// Package listener implements the Client Listener (F): the QUIC bind
// that accepts player connections, enforces the connection cap, and
// drives each session's client-facing and backend-facing frame pumps.
//
// Grounded on the teacher's internal/app run/serve loop for the
// bind-TLS-then-accept-loop shape, and internal/client for the
// per-connection goroutine plus read-loop-dispatch-to-state-machine
// pattern (the teacher's Client.handleCommand is this package's
// runClientLoop, generalized from centrifuge commands to proxyproto
// frames).
package listener

import (
	"context"
	"crypto/tls"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog/log"

	"github.com/Numdrassl/proxy/internal/backend"
	"github.com/Numdrassl/proxy/internal/hooks"
	"github.com/Numdrassl/proxy/internal/metrics"
	"github.com/Numdrassl/proxy/internal/proxyproto"
	"github.com/Numdrassl/proxy/internal/session"
)

// Config mirrors configtypes.Listener, translated into the runtime
// types the QUIC stack and dialer need (see spec.md §4.1).
type Config struct {
	BindAddr       string
	TLSConfig      *tls.Config
	ALPN           string
	IdleTimeout    time.Duration
	MaxConnections int
}

// Listener binds a QUIC endpoint and feeds every accepted connection
// into the Session State Machine.
type Listener struct {
	cfg     Config
	machine *session.Machine
	store   *session.Store
	hooks   *hooks.Hooks
	metrics *metrics.Registry

	nextID uint64
	quic   *quic.Listener
}

// New wires a Listener. metricsReg may be nil in tests, in which case
// metric updates are skipped.
func New(cfg Config, machine *session.Machine, store *session.Store, h *hooks.Hooks, metricsReg *metrics.Registry) *Listener {
	if h == nil {
		h = hooks.NoOp()
	}
	l := &Listener{cfg: cfg, machine: machine, store: store, hooks: h, metrics: metricsReg}
	machine.OnBackendConnected = l.onBackendConnected
	return l
}

func (l *Listener) quicConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:                 l.cfg.IdleTimeout,
		KeepAlivePeriod:                l.cfg.IdleTimeout / 2,
		MaxIncomingStreams:             100,
		MaxIncomingUniStreams:          0,
		InitialStreamReceiveWindow:     1 << 20,
		MaxStreamReceiveWindow:         1 << 20,
		InitialConnectionReceiveWindow: 10 << 20,
		MaxConnectionReceiveWindow:     10 << 20,
	}
}

// Serve binds the QUIC endpoint and accepts connections until ctx is
// canceled or a fatal accept error occurs.
func (l *Listener) Serve(ctx context.Context) error {
	tlsConf := l.cfg.TLSConfig.Clone()
	tlsConf.NextProtos = []string{l.cfg.ALPN}

	ln, err := quic.ListenAddr(l.cfg.BindAddr, tlsConf, l.quicConfig())
	if err != nil {
		return err
	}
	l.quic = ln
	defer ln.Close()

	log.Info().Str("addr", l.cfg.BindAddr).Str("alpn", l.cfg.ALPN).Msg("client listener accepting connections")

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if l.store.Count() >= l.cfg.MaxConnections {
			if l.metrics != nil {
				l.metrics.ConnectionsRejected.WithLabelValues("max_connections").Inc()
			}
			log.Warn().Int("max_connections", l.cfg.MaxConnections).Msg("rejecting connection: proxy at capacity")
			go func(c *quic.Conn) { _ = c.CloseWithError(0, "proxy at capacity") }(conn)
			continue
		}

		if l.metrics != nil {
			l.metrics.ConnectionsAccepted.Inc()
			l.metrics.ConnectionsActive.Inc()
		}
		go l.handleConnection(ctx, conn)
	}
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	if l.quic == nil {
		return nil
	}
	return l.quic.CloseWithError(0, "shutting down")
}

func (l *Listener) handleConnection(ctx context.Context, conn *quic.Conn) {
	defer func() {
		if l.metrics != nil {
			l.metrics.ConnectionsActive.Dec()
		}
	}()

	id := session.ID(atomic.AddUint64(&l.nextID, 1))
	sess := session.New(id, conn)
	if peerCerts := conn.ConnectionState().TLS.PeerCertificates; len(peerCerts) > 0 {
		sess.SetClientCert(peerCerts[0])
	}
	l.store.RegisterTransport(sess)
	defer l.store.RemoveTransport(sess)

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		log.Debug().Uint64("session_id", uint64(id)).Err(err).Msg("client never opened its stream")
		return
	}
	sess.ClientStream = stream
	sess.ClientEncoder = proxyproto.NewEncoder(stream)
	sess.ClientDecoder = proxyproto.NewDecoder(stream)

	l.runClientLoop(ctx, sess)
}

// runClientLoop owns sess for its lifetime: every field mutation that
// isn't guarded by Session's internal mutex happens on this goroutine,
// matching session.Session's documented ownership contract.
func (l *Listener) runClientLoop(ctx context.Context, sess *session.Session) {
	for {
		msg, err := sess.ClientDecoder.ReadMessage()
		if err != nil {
			if sess.State() != session.StateDisconnected {
				_ = l.machine.Disconnect(sess, hooks.ReasonTransportClosed, "")
			}
			return
		}

		switch f := msg.Frame.(type) {
		case *proxyproto.Connect:
			if err := l.machine.HandleConnect(ctx, sess, f); err != nil {
				log.Warn().Err(err).Msg("handling connect frame")
				return
			}
		case *proxyproto.AuthToken:
			if err := l.machine.HandleAuthToken(ctx, sess, f); err != nil {
				log.Warn().Err(err).Msg("handling auth token frame")
				return
			}
		case *proxyproto.Disconnect:
			_ = l.machine.HandleClientDisconnect(sess, f)
			return
		default:
			l.forwardClientFrame(sess, msg)
		}

		if sess.State() == session.StateDisconnected {
			return
		}
	}
}

// forwardClientFrame forwards an opaque application packet, or any
// named frame the proxy core doesn't otherwise interpret, to the
// currently attached backend. Opaque payloads pass through the
// PacketMapper hook first.
func (l *Listener) forwardClientFrame(sess *session.Session, msg *proxyproto.Message) {
	if sess.State() != session.StateConnected {
		return
	}
	enc := sess.BackendEncoder
	if enc == nil {
		return
	}
	if msg.Opaque != nil {
		payload, drop := l.hooks.MapPacket(session.NewView(sess), hooks.DirectionClientToBackend, msg.Opaque)
		if drop {
			return
		}
		if err := enc.WriteOpaque(payload); err != nil {
			log.Debug().Err(err).Msg("forwarding client packet to backend")
		}
		return
	}
	if err := enc.WriteFrame(msg.Frame); err != nil {
		log.Debug().Err(err).Msg("forwarding client frame to backend")
	}
}

// onBackendConnected is installed as Machine.OnBackendConnected; it
// starts a fresh backend-to-client pump for every backend episode
// (initial connect and each transfer), since SwitchBackend replaces
// sess's backend transport out from under any earlier pump goroutine.
func (l *Listener) onBackendConnected(sess *session.Session, conn *backend.Connection) {
	go l.runBackendLoop(sess, conn)
}

// runBackendLoop reads from one backend episode's decoder until it
// errors or the session moves past it (a transfer replaces the
// decoder, at which point this goroutine's reads start failing against
// a connection SwitchBackend already closed and it exits quietly).
func (l *Listener) runBackendLoop(sess *session.Session, conn *backend.Connection) {
	for {
		msg, err := conn.Decoder.ReadMessage()
		if err != nil {
			if sess.CurrentBackendStream() == conn.Stream {
				_ = l.machine.HandleBackendDisconnect(sess, &proxyproto.Disconnect{})
			}
			return
		}

		switch f := msg.Frame.(type) {
		case *proxyproto.ConnectAccept:
			if err := l.machine.HandleConnectAccept(sess); err != nil {
				log.Warn().Err(err).Msg("handling connect accept frame")
				return
			}
		case *proxyproto.Disconnect:
			_ = l.machine.HandleBackendDisconnect(sess, f)
			return
		default:
			l.forwardBackendFrame(sess, msg)
		}

		if sess.State() == session.StateDisconnected {
			return
		}
	}
}

func (l *Listener) forwardBackendFrame(sess *session.Session, msg *proxyproto.Message) {
	if sess.State() != session.StateConnected {
		return
	}
	enc := sess.ClientEncoder
	if enc == nil {
		return
	}
	if msg.Opaque != nil {
		payload, drop := l.hooks.MapPacket(session.NewView(sess), hooks.DirectionBackendToClient, msg.Opaque)
		if drop {
			return
		}
		if err := enc.WriteOpaque(payload); err != nil {
			log.Debug().Err(err).Msg("forwarding backend packet to client")
		}
		return
	}
	if err := enc.WriteFrame(msg.Frame); err != nil {
		log.Debug().Err(err).Msg("forwarding backend frame to client")
	}
}
