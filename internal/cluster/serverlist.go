package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Numdrassl/proxy/internal/backend"
	"github.com/Numdrassl/proxy/internal/messaging"
)

// ServerEventListener is fired when a remote server is added or removed
// from the Server-List Handler's view.
type ServerEventListener func(owningProxyID string, desc backend.Descriptor)

// ServerListHandler replicates backend-server registrations across
// proxies (spec §4.7): a two-level map keyed by owning proxy id, then by
// lowercased server name.
type ServerListHandler struct {
	selfID string
	svc    messaging.Service

	mu    sync.RWMutex
	byOwner map[string]map[string]backend.Descriptor

	addedMu   sync.Mutex
	addedFns  []ServerEventListener
	removedMu sync.Mutex
	removedFns []ServerEventListener
}

// NewServerListHandler builds a handler for this proxy's own id.
func NewServerListHandler(selfID string, svc messaging.Service) *ServerListHandler {
	return &ServerListHandler{selfID: selfID, svc: svc, byOwner: map[string]map[string]backend.Descriptor{}}
}

func (h *ServerListHandler) OnAdded(fn ServerEventListener) {
	h.addedMu.Lock()
	defer h.addedMu.Unlock()
	h.addedFns = append(h.addedFns, fn)
}

func (h *ServerListHandler) OnRemoved(fn ServerEventListener) {
	h.removedMu.Lock()
	defer h.removedMu.Unlock()
	h.removedFns = append(h.removedFns, fn)
}

func (h *ServerListHandler) fireAdded(owner string, d backend.Descriptor) {
	h.addedMu.Lock()
	fns := append([]ServerEventListener{}, h.addedFns...)
	h.addedMu.Unlock()
	for _, fn := range fns {
		fn(owner, d)
	}
}

func (h *ServerListHandler) fireRemoved(owner string, d backend.Descriptor) {
	h.removedMu.Lock()
	fns := append([]ServerEventListener{}, h.removedFns...)
	h.removedMu.Unlock()
	for _, fn := range fns {
		fn(owner, d)
	}
}

// Subscribe installs this handler on the server-list channel of svc.
func (h *ServerListHandler) Subscribe() (unsubscribe func()) {
	return h.svc.Subscribe(ChannelServerList, false, func(msg messaging.Message) {
		var m ServerListMessage
		if err := decodePayload(msg.Payload, &m); err != nil {
			log.Warn().Err(err).Msg("dropping undecodable server-list message")
			return
		}
		h.Handle(m)
	})
}

// Handle processes one inbound Server-List Message (spec §4.7). It is
// exported separately from Subscribe so tests can drive it without a
// live messaging.Service.
func (h *ServerListHandler) Handle(m ServerListMessage) {
	if m.SourceProxyID == h.selfID {
		return
	}
	if !m.Valid() {
		log.Warn().Str("proxy_id", m.SourceProxyID).Str("kind", string(m.Kind)).Msg("dropping invalid server-list message")
		return
	}

	key := backend.NameKey(m.ServerName)

	switch m.Kind {
	case ServerListRegister, ServerListSync:
		desc := backend.Descriptor{Name: m.ServerName, Host: m.Host, Port: m.Port, IsDefault: m.IsDefault}
		h.mu.Lock()
		if h.byOwner[m.SourceProxyID] == nil {
			h.byOwner[m.SourceProxyID] = map[string]backend.Descriptor{}
		}
		h.byOwner[m.SourceProxyID][key] = desc
		h.mu.Unlock()
		h.fireAdded(m.SourceProxyID, desc)

	case ServerListUnregister:
		h.mu.Lock()
		inner, ok := h.byOwner[m.SourceProxyID]
		var removed backend.Descriptor
		removedOK := false
		if ok {
			if d, ok := inner[key]; ok {
				removed, removedOK = d, true
				delete(inner, key)
			}
			if len(inner) == 0 {
				delete(h.byOwner, m.SourceProxyID)
			}
		}
		h.mu.Unlock()
		if removedOK {
			h.fireRemoved(m.SourceProxyID, removed)
		}
	}
}

// HandlePeerLeave removes every server owned by a departing proxy,
// emitting ServerRemoved for each (spec §4.7's ProxyLeaveCluster hook).
func (h *ServerListHandler) HandlePeerLeave(ownerProxyID string) {
	h.mu.Lock()
	inner := h.byOwner[ownerProxyID]
	delete(h.byOwner, ownerProxyID)
	h.mu.Unlock()

	for _, d := range inner {
		h.fireRemoved(ownerProxyID, d)
	}
}

// RemoteServers returns every server currently known from other
// proxies, for the Public Facade's merge step.
func (h *ServerListHandler) RemoteServers() map[string][]backend.Descriptor {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string][]backend.Descriptor, len(h.byOwner))
	for owner, inner := range h.byOwner {
		descs := make([]backend.Descriptor, 0, len(inner))
		for _, d := range inner {
			descs = append(descs, d)
		}
		out[owner] = descs
	}
	return out
}

// PublishRegister publishes a REGISTER message for a locally registered
// server.
func (h *ServerListHandler) PublishRegister(d backend.Descriptor) error {
	return h.svc.Publish(context.Background(), ChannelServerList, "ServerList", ServerListMessage{
		SourceProxyID: h.selfID,
		TimestampMS:   time.Now().UnixMilli(),
		Kind:          ServerListRegister,
		ServerName:    d.Name,
		Host:          d.Host,
		Port:          d.Port,
		IsDefault:     d.IsDefault,
	})
}

// PublishUnregister publishes an UNREGISTER message for a locally
// registered server.
func (h *ServerListHandler) PublishUnregister(name string) error {
	return h.svc.Publish(context.Background(), ChannelServerList, "ServerList", ServerListMessage{
		SourceProxyID: h.selfID,
		TimestampMS:   time.Now().UnixMilli(),
		Kind:          ServerListUnregister,
		ServerName:    name,
	})
}
