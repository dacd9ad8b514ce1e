// Package facade implements the Public Facade (L): the thin
// aggregation surface the out-of-scope extension layer uses to look up
// players and servers and to trigger a backend transfer (see
// SPEC_FULL.md §4.9).
package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Numdrassl/proxy/internal/backend"
	"github.com/Numdrassl/proxy/internal/cluster"
	"github.com/Numdrassl/proxy/internal/proxyproto"
	"github.com/Numdrassl/proxy/internal/referral"
	"github.com/Numdrassl/proxy/internal/session"
)

// Facade aggregates the Session Store, the local backend Registry, the
// Server-List Handler, and the Proxy Registry behind a narrow read-mostly
// surface.
type Facade struct {
	Store         *session.Store
	LocalServers  *backend.Registry
	ServerList    *cluster.ServerListHandler
	ProxyRegistry *cluster.Registry
	Machine       *session.Machine
	Signer        *referral.Signer
	SelfID        string
	PublicHost    string
	PublicPort    uint16

	// ClusterMode reports whether this proxy is backed by a real
	// message broker rather than the in-process loopback fallback; set
	// once at boot from the messaging service selection (spec §4.5,
	// is_cluster_mode).
	ClusterMode bool
}

// IsClusterMode reports whether this proxy joined the cluster over a
// real broker connection. It is false both when clustering is
// disabled in config and when the broker was unreachable at boot and
// the proxy fell back to the loopback messaging service (spec §8).
func (f *Facade) IsClusterMode() bool { return f.ClusterMode }

// AllPlayers returns a read-only view of every player with a live
// session on this proxy.
func (f *Facade) AllPlayers() []session.View {
	sessions := f.Store.AllPlayers()
	out := make([]session.View, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, session.NewView(s))
	}
	return out
}

// GetPlayerByID looks up a live session by player id.
func (f *Facade) GetPlayerByID(id uuid.UUID) (session.View, bool) {
	s, ok := f.Store.ByPlayer(id)
	if !ok {
		return session.View{}, false
	}
	return session.NewView(s), true
}

// GetPlayerByName looks up a live session by display name, case-sensitive,
// matching the first match found (names are not required to be unique).
func (f *Facade) GetPlayerByName(name string) (session.View, bool) {
	for _, s := range f.Store.AllPlayers() {
		if s.SnapshotUsername() == name {
			return session.NewView(s), true
		}
	}
	return session.View{}, false
}

// PlayerCount returns the number of players on this proxy.
func (f *Facade) PlayerCount() int { return f.Store.PlayerCount() }

// GlobalPlayerCount sums player counts across every proxy in the
// cluster, including this one.
func (f *Facade) GlobalPlayerCount() int {
	total := f.PlayerCount()
	if f.ProxyRegistry != nil {
		total += f.ProxyRegistry.GlobalPlayerCount()
	}
	return total
}

// AllServers returns the merged local+remote server view: local entries
// shadow remote entries with the same case-insensitive name.
func (f *Facade) AllServers() []backend.Descriptor {
	merged := map[string]backend.Descriptor{}

	if f.ServerList != nil {
		for _, descs := range f.ServerList.RemoteServers() {
			for _, d := range descs {
				merged[backend.NameKey(d.Name)] = d
			}
		}
	}
	for _, d := range f.LocalServers.All() {
		merged[backend.NameKey(d.Name)] = d
	}

	out := make([]backend.Descriptor, 0, len(merged))
	for _, d := range merged {
		out = append(out, d)
	}
	return out
}

// GetServer looks up a single backend by name, local entries shadowing
// remote ones.
func (f *Facade) GetServer(name string) (backend.Descriptor, bool) {
	if d, ok := f.LocalServers.Get(name); ok {
		return d, true
	}
	if f.ServerList != nil {
		for _, descs := range f.ServerList.RemoteServers() {
			for _, d := range descs {
				if backend.NameKey(d.Name) == backend.NameKey(name) {
					return d, true
				}
			}
		}
	}
	return backend.Descriptor{}, false
}

// RegisterServer adds or replaces a locally owned backend and publishes
// REGISTER to the cluster (spec §8 boundary behavior: replacing an
// existing case-insensitive name still publishes REGISTER).
func (f *Facade) RegisterServer(d backend.Descriptor) error {
	f.LocalServers.Put(d)
	if f.ServerList == nil {
		return nil
	}
	return f.ServerList.PublishRegister(d)
}

// UnregisterServer removes a locally owned backend and publishes
// UNREGISTER to the cluster. get_server(name) afterward falls through to
// whatever remote value exists, if any.
func (f *Facade) UnregisterServer(name string) error {
	f.LocalServers.Remove(name)
	if f.ServerList == nil {
		return nil
	}
	return f.ServerList.PublishUnregister(name)
}

// SwitchToBackend routes to the Session State Machine's backend switch
// (spec §4.9 transfer entry point).
func (f *Facade) SwitchToBackend(ctx context.Context, sess *session.Session, newBackendName string) error {
	return f.Machine.SwitchBackend(ctx, sess, newBackendName)
}

// TransferByClientReferral implements the alternative, client-side
// disconnect/reconnect transfer flow (spec §4.9): the client is told to
// reconnect at the proxy's own public address, carrying a referral blob
// that resolves straight to targetBackend when it does.
func (f *Facade) TransferByClientReferral(sess *session.Session, targetBackend string) error {
	if sess.ClientEncoder == nil {
		return fmt.Errorf("facade: session has no client encoder installed")
	}
	playerID := sess.SnapshotPlayerID()
	blob := f.Signer.SignPlayer(playerID, sess.SnapshotUsername(), targetBackend, "", time.Now())

	log.Info().Str("player_id", playerID.String()).Str("backend", targetBackend).Msg("issuing client referral transfer")

	return sess.ClientEncoder.WriteFrame(&proxyproto.ClientReferral{
		Host: f.PublicHost,
		Port: f.PublicPort,
		Blob: blob,
	})
}
