package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog/log"

	"github.com/Numdrassl/proxy/internal/backend"
	"github.com/Numdrassl/proxy/internal/hooks"
	"github.com/Numdrassl/proxy/internal/referral"
)

// HandshakeChannel is the plugin-message channel the control handshake
// envelope is sent on (spec §4.8).
const HandshakeChannel = "numdrassl:control_handshake"

// State is one of the four states of a ControlConnection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateActive
)

// ReconnectBaseDelay and ReconnectMaxDelay bound the exponential backoff
// reconnect loop. The source spec's fixed 30s loop floods logs when a
// backend is down for minutes; spec §9 explicitly permits this
// refinement.
const (
	ReconnectBaseDelay = 1 * time.Second
	ReconnectMaxDelay  = 30 * time.Second
	ReprobeInterval    = 30 * time.Second
)

// ControlConnection is the persistent per-backend control stream.
type ControlConnection struct {
	desc backend.Descriptor

	mu     sync.RWMutex
	state  State
	conn   *quic.Conn
	stream *quic.Stream

	failures int
}

func (c *ControlConnection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *ControlConnection) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Manager maintains one ControlConnection per configured backend.
type Manager struct {
	dialer  *backend.Dialer
	signer  *referral.Signer
	hooks   *hooks.Hooks
	registrar map[string]struct{}
	registrarMu sync.RWMutex

	mu    sync.RWMutex
	conns map[string]*ControlConnection

	stop chan struct{}
}

// NewManager builds a Manager for a static set of backend descriptors.
func NewManager(dialer *backend.Dialer, signer *referral.Signer, h *hooks.Hooks, descs []backend.Descriptor) *Manager {
	if h == nil {
		h = hooks.NoOp()
	}
	m := &Manager{
		dialer:    dialer,
		signer:    signer,
		hooks:     h,
		registrar: map[string]struct{}{},
		conns:     map[string]*ControlConnection{},
		stop:      make(chan struct{}),
	}
	for _, d := range descs {
		m.conns[backend.NameKey(d.Name)] = &ControlConnection{desc: d}
	}
	return m
}

// RegisterChannel adds channel to the set of plugin-message channels
// that get forwarded to the hooks.PluginMessage callback; unregistered
// channels are dropped with a debug log (spec §4.8).
func (m *Manager) RegisterChannel(channel string) {
	m.registrarMu.Lock()
	defer m.registrarMu.Unlock()
	m.registrar[channel] = struct{}{}
}

func (m *Manager) isRegistered(channel string) bool {
	m.registrarMu.RLock()
	defer m.registrarMu.RUnlock()
	_, ok := m.registrar[channel]
	return ok
}

// Start dials every configured backend and launches the reconnect loop
// for each. Meant to be called once at boot.
func (m *Manager) Start(ctx context.Context) {
	m.mu.RLock()
	conns := make([]*ControlConnection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		go m.runConnection(ctx, c)
	}
}

// Stop halts every connection's reconnect loop.
func (m *Manager) Stop() { close(m.stop) }

func (m *Manager) runConnection(ctx context.Context, c *ControlConnection) {
	ticker := time.NewTicker(ReprobeInterval)
	defer ticker.Stop()

	m.connectOnce(ctx, c)

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if c.State() != StateActive {
				m.connectOnce(ctx, c)
			}
		}
	}
}

func (m *Manager) connectOnce(ctx context.Context, c *ControlConnection) {
	c.setState(StateConnecting)

	backoff := ReconnectBaseDelay
	for attempt := 0; ; attempt++ {
		select {
		case <-m.stop:
			return
		default:
		}

		if err := m.dialAndHandshake(ctx, c); err != nil {
			log.Warn().Err(err).Str("backend", c.desc.Name).Int("attempt", attempt).Msg("control connection failed, retrying")
			c.setState(StateDisconnected)
			select {
			case <-time.After(backoff):
			case <-m.stop:
				return
			}
			backoff *= 2
			if backoff > ReconnectMaxDelay {
				backoff = ReconnectMaxDelay
			}
			continue
		}
		return
	}
}

func (m *Manager) dialAndHandshake(ctx context.Context, c *ControlConnection) error {
	blob := m.signer.SignControl(c.desc.Name, time.Now())

	conn, err := m.dialer.OpenStream(ctx, c.desc, backend.ProfileBBR)
	if err != nil {
		return fmt.Errorf("dialing control connection: %w", err)
	}

	c.setState(StateHandshaking)
	if err := WriteEnvelope(conn.Stream, Envelope{Channel: HandshakeChannel, Payload: blob}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("writing control handshake: %w", err)
	}

	c.mu.Lock()
	c.conn = conn.Conn
	c.stream = conn.Stream
	c.mu.Unlock()
	c.setState(StateActive)

	go m.readLoop(c)
	return nil
}

func (m *Manager) readLoop(c *ControlConnection) {
	for {
		c.mu.RLock()
		stream := c.stream
		c.mu.RUnlock()
		if stream == nil {
			return
		}

		env, err := ReadEnvelope(stream)
		if err != nil {
			log.Debug().Err(err).Str("backend", c.desc.Name).Msg("control stream closed")
			c.setState(StateDisconnected)
			return
		}

		if !m.isRegistered(env.Channel) {
			log.Debug().Str("channel", env.Channel).Msg("dropping unregistered plugin-message channel")
			continue
		}
		m.hooks.PluginMessage(env.Channel, c.desc, env.Payload)
	}
}

// Send writes a plugin-message envelope to the named backend's active
// connection. Returns false without erroring if no ACTIVE connection
// exists (spec §4.8: no retries for individual sends).
func (m *Manager) Send(name, channel string, payload []byte) bool {
	m.mu.RLock()
	c, ok := m.conns[backend.NameKey(name)]
	m.mu.RUnlock()
	if !ok || c.State() != StateActive {
		return false
	}

	c.mu.RLock()
	stream := c.stream
	c.mu.RUnlock()
	if stream == nil {
		return false
	}

	if err := WriteEnvelope(stream, Envelope{Channel: channel, Payload: payload}); err != nil {
		log.Warn().Err(err).Str("backend", name).Msg("control send failed")
		c.setState(StateDisconnected)
		return false
	}
	return true
}

// Broadcast sends to every ACTIVE backend connection, returning the
// names of backends it failed to reach.
func (m *Manager) Broadcast(channel string, payload []byte) (failed []string) {
	m.mu.RLock()
	names := make([]string, 0, len(m.conns))
	for _, c := range m.conns {
		names = append(names, c.desc.Name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		if !m.Send(name, channel, payload) {
			failed = append(failed, name)
		}
	}
	return failed
}
