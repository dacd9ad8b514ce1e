// Package backend holds the Backend Descriptor and Registered Server
// data model, and the Backend Dialer that opens a QUIC connection to a
// chosen backend.
package backend

import (
	"fmt"
	"strings"
	"sync"
)

// Descriptor is a static, immutable-after-creation backend registration.
type Descriptor struct {
	Name      string
	Host      string
	Port      int
	IsDefault bool
	// Hostname, when set, is used for SNI-based routing instead of Host.
	Hostname string
}

// Addr returns the host:port to dial for this backend.
func (d Descriptor) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// SNI returns the name to present for TLS server name indication.
func (d Descriptor) SNI() string {
	if d.Hostname != "" {
		return d.Hostname
	}
	return d.Host
}

// RegisteredServer is the public-facing view of a Descriptor plus the
// set of players currently on it and whether it is locally- or
// remotely-owned (see Server-List Handler, J).
type RegisteredServer struct {
	Descriptor Descriptor
	Local      bool
	// OwningProxyID is empty for locally-registered servers.
	OwningProxyID string

	mu      sync.RWMutex
	players map[string]struct{}
}

// NewRegisteredServer wraps a Descriptor for the given ownership.
func NewRegisteredServer(d Descriptor, local bool, owningProxyID string) *RegisteredServer {
	return &RegisteredServer{Descriptor: d, Local: local, OwningProxyID: owningProxyID, players: map[string]struct{}{}}
}

// AddPlayer records a player id as currently on this server.
func (r *RegisteredServer) AddPlayer(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.players[playerID] = struct{}{}
}

// RemovePlayer removes a player id from this server's roster.
func (r *RegisteredServer) RemovePlayer(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.players, playerID)
}

// PlayerCount returns the number of players currently tracked on this server.
func (r *RegisteredServer) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// NameKey is the case-insensitive lookup key for a backend name.
func NameKey(name string) string {
	return strings.ToLower(name)
}

// Registry is a static set of configured Descriptors, keyed
// case-insensitively by name, used to resolve default/named backends at
// connect time.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Descriptor
	defaultN string
}

// NewRegistry builds a Registry from a static list of backends.
func NewRegistry(descs []Descriptor) *Registry {
	r := &Registry{byName: map[string]Descriptor{}}
	for _, d := range descs {
		r.byName[NameKey(d.Name)] = d
		if d.IsDefault {
			r.defaultN = NameKey(d.Name)
		}
	}
	return r
}

// Get looks up a backend by case-insensitive name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[NameKey(name)]
	return d, ok
}

// Default returns the configured default backend, if any.
func (r *Registry) Default() (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultN == "" {
		return Descriptor{}, false
	}
	d, ok := r.byName[r.defaultN]
	return d, ok
}

// Put registers or replaces a backend descriptor at runtime.
func (r *Registry) Put(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[NameKey(d.Name)] = d
	if d.IsDefault {
		r.defaultN = NameKey(d.Name)
	}
}

// Remove deletes a backend descriptor by case-insensitive name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := NameKey(name)
	delete(r.byName, key)
	if r.defaultN == key {
		r.defaultN = ""
	}
}

// All returns a snapshot of every registered descriptor.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	return out
}
