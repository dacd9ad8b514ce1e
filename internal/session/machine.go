package session

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Numdrassl/proxy/internal/backend"
	"github.com/Numdrassl/proxy/internal/hooks"
	"github.com/Numdrassl/proxy/internal/proxyerr"
	"github.com/Numdrassl/proxy/internal/proxyproto"
	"github.com/Numdrassl/proxy/internal/referral"
	"github.com/Numdrassl/proxy/internal/sessionservice"
)

// Machine is the Session State Machine (E). One Machine serves every
// session on a proxy; per-session mutable state lives on the Session
// itself, so the Machine is safe for concurrent use by many sessions'
// event loops at once.
type Machine struct {
	Store      *Store
	Registry   *backend.Registry
	Dialer     *backend.Dialer
	SessionSvc *sessionservice.Client
	Signer     *referral.Signer
	Hooks      *hooks.Hooks
	ProxyID    string

	// TransferChatEnabled controls whether user-visible transfer status
	// chat frames are sent; NewMachine enables it.
	TransferChatEnabled bool

	// OnBackendConnected, when set, is called every time connectBackend
	// installs a fresh backend transport on a session — both the initial
	// dial and every subsequent transfer dial. The Client Listener uses
	// this to start a new backend-to-client pump goroutine per backend
	// episode, since a transfer tears down and replaces the backend
	// stream out from under any previous pump.
	OnBackendConnected func(sess *Session, conn *backend.Connection)
}

// NewMachine wires the Session State Machine's collaborators.
func NewMachine(store *Store, registry *backend.Registry, dialer *backend.Dialer, sessionSvc *sessionservice.Client, signer *referral.Signer, h *hooks.Hooks, proxyID string) *Machine {
	if h == nil {
		h = hooks.NoOp()
	}
	return &Machine{
		Store:               store,
		Registry:            registry,
		Dialer:              dialer,
		SessionSvc:          sessionSvc,
		Signer:              signer,
		Hooks:               h,
		ProxyID:             proxyID,
		TransferChatEnabled: true,
	}
}

func clientIP(sess *Session) string {
	if sess.ClientTransport == nil {
		return ""
	}
	addr := sess.ClientTransport.RemoteAddr()
	if addr == nil {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return host
	}
	return addr.String()
}

// HandleConnect implements transition 1: HANDSHAKING -> AUTHENTICATING.
func (m *Machine) HandleConnect(ctx context.Context, sess *Session, frame *proxyproto.Connect) error {
	sess.setIdentity(frame.PlayerID, frame.Username, frame.ProtocolFingerprint, frame.IdentityToken)
	sess.setLastConnect(frame)
	m.Store.RegisterPlayer(frame.PlayerID, sess)

	var clientAddr net.Addr
	if sess.ClientTransport != nil {
		clientAddr = sess.ClientTransport.RemoteAddr()
	}
	if decision := m.Hooks.PreLogin(clientAddr); !decision.Allowed {
		reason := decision.Reason
		if reason == "" {
			reason = "login denied"
		}
		return m.Disconnect(sess, hooks.ReasonAuthDenied, reason)
	}

	sess.SetState(StateAuthenticating)

	resp, err := m.SessionSvc.RequestGrant(ctx, sessionservice.GrantRequest{
		PlayerID:      frame.PlayerID,
		Username:      frame.Username,
		IdentityToken: frame.IdentityToken,
	})
	if err != nil {
		log.Warn().Err(err).Str("player_id", frame.PlayerID.String()).Msg("grant request failed")
		return m.Disconnect(sess, hooks.ReasonAuthDenied, "Authentication failed")
	}
	sess.setGrant(resp.AuthorizationGrant, resp.ServerIdentityToken)

	if sess.ClientEncoder == nil {
		return proxyerr.New(proxyerr.KindProtocolViolation, "no client encoder installed")
	}
	return sess.ClientEncoder.WriteFrame(&proxyproto.AuthGrant{
		AuthorizationGrant:  resp.AuthorizationGrant,
		ServerIdentityToken: resp.ServerIdentityToken,
	})
}

// HandleAuthToken implements transition 2 (stay in AUTHENTICATING while
// exchanging the server grant) followed immediately by transition 3
// (resolve and dial the target backend).
func (m *Machine) HandleAuthToken(ctx context.Context, sess *Session, frame *proxyproto.AuthToken) error {
	sess.setClientAccessToken(frame.AccessToken)

	var serverAccessToken []byte
	if len(frame.ServerAuthorizationGrant) > 0 {
		resp, err := m.SessionSvc.ExchangeGrant(ctx, sessionservice.ExchangeRequest{
			PlayerID:                 sess.SnapshotPlayerID(),
			ServerAuthorizationGrant: frame.ServerAuthorizationGrant,
		})
		if err != nil {
			log.Warn().Err(err).Msg("grant exchange failed")
			return m.Disconnect(sess, hooks.ReasonAuthDenied, "Server authentication failed")
		}
		serverAccessToken = resp.ServerAccessToken
	}
	sess.setServerAccessToken(serverAccessToken)

	if sess.ClientEncoder != nil {
		if err := sess.ClientEncoder.WriteFrame(&proxyproto.ServerAuthToken{ServerAccessToken: serverAccessToken}); err != nil {
			return proxyerr.Wrap(proxyerr.KindProtocolViolation, "writing server auth token", err)
		}
	}

	return m.connectBackend(ctx, sess, "")
}

// resolveBackend implements the ordering rule of transition 3: explicit
// referral first, then the configured default, else failure.
func (m *Machine) resolveBackend(sess *Session, forcedName string) (backend.Descriptor, error) {
	if forcedName != "" {
		if d, ok := m.Registry.Get(forcedName); ok {
			return d, nil
		}
		return backend.Descriptor{}, proxyerr.New(proxyerr.KindPolicyLimitReached, "No backend server available")
	}

	last := sess.snapshotLastConnect()
	if last != nil && len(last.ReferralData) > 0 {
		info, err := referral.VerifyPlayer(m.Signer, last.ReferralData, last.PlayerID, "", "", time.Now())
		if err != nil {
			// InvalidReferral, StaleReferral, IdentityMismatch: the core
			// never auto-retries with an invalid referral by falling back
			// to the default backend; the session closes instead.
			log.Warn().Err(err).Msg("inbound connect referral failed verification")
			return backend.Descriptor{}, err
		}
		if d, ok := m.Registry.Get(info.BackendName); ok {
			return d, nil
		}
		log.Warn().Str("backend", info.BackendName).Msg("referral named an unknown backend")
		return backend.Descriptor{}, proxyerr.New(proxyerr.KindPolicyLimitReached, "No backend server available")
	}

	if d, ok := m.Registry.Default(); ok {
		return d, nil
	}
	return backend.Descriptor{}, proxyerr.New(proxyerr.KindPolicyLimitReached, "No backend server available")
}

// connectBackend implements transition 3 (AUTHENTICATING -> CONNECTING)
// and the dial half of transition 5 (TRANSFERRING -> CONNECTING).
// forcedName, when non-empty, skips referral resolution and dials that
// backend directly (used by SwitchBackend).
func (m *Machine) connectBackend(ctx context.Context, sess *Session, forcedName string) error {
	sess.SetState(StateConnecting)

	desc, err := m.resolveBackend(sess, forcedName)
	if err != nil {
		if proxyerr.Is(err, proxyerr.KindInvalidReferral) || proxyerr.Is(err, proxyerr.KindStaleReferral) || proxyerr.Is(err, proxyerr.KindIdentityMismatch) {
			return m.Disconnect(sess, hooks.ReasonAuthDenied, "Invalid referral")
		}
		return m.Disconnect(sess, hooks.ReasonPolicy, "No backend server available")
	}

	view := NewView(sess)
	if decision := m.Hooks.PreConnect(view, desc); !decision.Allowed {
		reason := decision.Reason
		if reason == "" {
			reason = "connection denied"
		}
		return m.Disconnect(sess, hooks.ReasonAuthDenied, reason)
	} else if decision.Redirect != "" && !strings.EqualFold(decision.Redirect, desc.Name) {
		if d, ok := m.Registry.Get(decision.Redirect); ok {
			desc = d
		}
	}

	sess.setBackend(desc)

	playerID := sess.SnapshotPlayerID()
	username := sess.SnapshotUsername()
	blob := m.Signer.SignPlayer(playerID, username, desc.Name, clientIP(sess), time.Now())

	last := sess.snapshotLastConnect()
	connectFrame := &proxyproto.Connect{
		PlayerID:            playerID,
		Username:            username,
		ProtocolFingerprint: sess.ProtocolFingerprint,
		ReferralData:        blob,
	}
	if last != nil {
		connectFrame.IdentityToken = last.IdentityToken
	}

	conn, err := m.Dialer.Dial(ctx, desc, backend.ProfileDefault, connectFrame)
	if err != nil {
		log.Warn().Err(err).Str("backend", desc.Name).Msg("backend dial failed")
		if sess.IsTransferring() && m.TransferChatEnabled && sess.ClientEncoder != nil {
			_ = sess.ClientEncoder.WriteFrame(&proxyproto.ChatMessage{
				Text: fmt.Sprintf("Failed to connect to %s. Please try again later.", desc.Name),
			})
		}
		return m.Disconnect(sess, hooks.ReasonPolicy, fmt.Sprintf("Failed to connect to %s", desc.Name))
	}

	sess.setBackendTransport(conn.Conn, conn.Stream, conn.Encoder, conn.Decoder)
	if m.OnBackendConnected != nil {
		m.OnBackendConnected(sess, conn)
	}
	return nil
}

// HandleConnectAccept implements transition 4 (CONNECTING -> CONNECTED)
// and the completion half of transition 5 when a transfer is in flight.
func (m *Machine) HandleConnectAccept(sess *Session) error {
	playerID := sess.SnapshotPlayerID()
	newBackend, _ := sess.SnapshotBackend()
	previousBackend := sess.snapshotPreviousBackend()

	m.Store.ForceRegisterPlayer(playerID, sess, func(old *Session) {
		_ = m.Disconnect(old, hooks.ReasonPolicy, "Duplicate login from another location")
	})

	sess.SetState(StateConnected)

	view := NewView(sess)
	m.Hooks.PostLogin(view)
	m.Hooks.ServerConnected(view, newBackend, previousBackend)

	if sess.IsTransferring() {
		sess.setTransferring(false)
		if m.TransferChatEnabled && sess.ClientEncoder != nil {
			_ = sess.ClientEncoder.WriteFrame(&proxyproto.ChatMessage{
				Text: fmt.Sprintf("Connected to %s.", newBackend.Name),
			})
		}
	}
	return nil
}

// SwitchBackend implements transition 5: CONNECTED -> TRANSFERRING ->
// CONNECTING. new must differ case-insensitively from the current backend.
func (m *Machine) SwitchBackend(ctx context.Context, sess *Session, newBackendName string) error {
	if sess.State() != StateConnected {
		return proxyerr.New(proxyerr.KindProtocolViolation, "switch_to_backend outside CONNECTED")
	}
	current, _ := sess.SnapshotBackend()
	if strings.EqualFold(current.Name, newBackendName) {
		log.Warn().Str("backend", newBackendName).Msg("switch_to_backend to current backend ignored")
		return nil
	}

	if m.TransferChatEnabled && sess.ClientEncoder != nil {
		_ = sess.ClientEncoder.WriteFrame(&proxyproto.ChatMessage{
			Text: fmt.Sprintf("Connecting to %s...", newBackendName),
		})
	}

	sess.SetState(StateTransferring)
	sess.setTransferring(true)

	if conn, _ := sess.clearBackendTransport(); conn != nil {
		_ = conn.CloseWithError(0, "transferring")
	}

	return m.connectBackend(ctx, sess, newBackendName)
}

// HandleClientDisconnect implements the client-initiated leg of
// transition 6.
func (m *Machine) HandleClientDisconnect(sess *Session, frame *proxyproto.Disconnect) error {
	return m.Disconnect(sess, hooks.ReasonClientDisconnect, "")
}

// HandleBackendDisconnect implements the backend-initiated leg of
// transition 6. While a transfer is in flight, a backend closing its
// stream must not propagate to the client.
func (m *Machine) HandleBackendDisconnect(sess *Session, frame *proxyproto.Disconnect) error {
	if sess.IsTransferring() {
		return nil
	}
	return m.Disconnect(sess, hooks.ReasonBackendDisconnect, "")
}

// Disconnect implements transition 6 unconditionally: closes the backend
// transport first, then the client transport, removes the session from
// the Store, and fires the disconnect hook. clientReason, when non-empty,
// is sent to the client as a Disconnect frame before the transport closes.
func (m *Machine) Disconnect(sess *Session, reason hooks.DisconnectReason, clientReason string) error {
	if sess.State() == StateDisconnected {
		return nil
	}

	if clientReason != "" && sess.ClientEncoder != nil {
		_ = sess.ClientEncoder.WriteFrame(&proxyproto.Disconnect{Reason: clientReason})
	}

	if sess.BackendTransport != nil {
		_ = sess.BackendTransport.CloseWithError(0, "session closed")
	}
	if sess.ClientTransport != nil {
		_ = sess.ClientTransport.CloseWithError(0, "session closed")
	}

	sess.SetState(StateDisconnected)

	playerID := sess.SnapshotPlayerID()
	m.Store.RemovePlayer(playerID, sess)
	m.Store.RemoveTransport(sess)

	m.Hooks.Disconnect(NewView(sess), reason)
	return nil
}
