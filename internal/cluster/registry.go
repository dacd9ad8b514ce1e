package cluster

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultStaleThreshold is how long since a peer's last heartbeat before
// the cleanup task evicts it (spec §3 Proxy Info).
const DefaultStaleThreshold = 30 * time.Second

// DefaultCleanupInterval is how often the eviction sweep runs.
const DefaultCleanupInterval = 10 * time.Second

// LeaveReason classifies why a peer left the Proxy Registry.
type LeaveReason string

const (
	ReasonGraceful        LeaveReason = "GRACEFUL"
	ReasonHeartbeatTimeout LeaveReason = "HEARTBEAT_TIMEOUT"
)

// ProxyInfo is the Proxy Info data model (spec §3).
type ProxyInfo struct {
	ProxyID       string
	Region        string
	Host          string
	Port          int
	PlayerCount   int
	MaxPlayers    int
	UptimeMS      int64
	Version       string
	LastHeartbeat time.Time
}

// JoinListener and LeaveListener are fired by the Registry on peer
// membership changes; the application wiring subscribes the Server-List
// Handler to leave events.
type JoinListener func(ProxyInfo)
type LeaveListener func(ProxyInfo, LeaveReason)

// Registry holds every known peer proxy, keyed by proxy id. This proxy's
// own entry is never stored.
type Registry struct {
	selfID string

	mu    sync.RWMutex
	peers map[string]ProxyInfo

	joinMu  sync.Mutex
	joinFns []JoinListener
	leaveMu  sync.Mutex
	leaveFns []LeaveListener

	staleThreshold  time.Duration
	cleanupInterval time.Duration

	stop chan struct{}
}

// NewRegistry builds a Registry for this proxy's own id.
func NewRegistry(selfID string) *Registry {
	return &Registry{
		selfID:          selfID,
		peers:           map[string]ProxyInfo{},
		staleThreshold:  DefaultStaleThreshold,
		cleanupInterval: DefaultCleanupInterval,
		stop:            make(chan struct{}),
	}
}

// OnJoin registers a listener fired when a new peer (other than self)
// is first observed.
func (r *Registry) OnJoin(fn JoinListener) {
	r.joinMu.Lock()
	defer r.joinMu.Unlock()
	r.joinFns = append(r.joinFns, fn)
}

// OnLeave registers a listener fired when a peer is evicted or signals
// graceful shutdown.
func (r *Registry) OnLeave(fn LeaveListener) {
	r.leaveMu.Lock()
	defer r.leaveMu.Unlock()
	r.leaveFns = append(r.leaveFns, fn)
}

func (r *Registry) fireJoin(info ProxyInfo) {
	r.joinMu.Lock()
	fns := append([]JoinListener{}, r.joinFns...)
	r.joinMu.Unlock()
	for _, fn := range fns {
		fn(info)
	}
}

func (r *Registry) fireLeave(info ProxyInfo, reason LeaveReason) {
	r.leaveMu.Lock()
	fns := append([]LeaveListener{}, r.leaveFns...)
	r.leaveMu.Unlock()
	for _, fn := range fns {
		fn(info, reason)
	}
}

// HandleHeartbeat processes an inbound heartbeat message (spec §4.6).
func (r *Registry) HandleHeartbeat(hb HeartbeatMessage) {
	if hb.SourceProxyID == r.selfID {
		return
	}

	if hb.ShuttingDown {
		r.mu.Lock()
		info, existed := r.peers[hb.SourceProxyID]
		delete(r.peers, hb.SourceProxyID)
		r.mu.Unlock()
		if existed {
			r.fireLeave(info, ReasonGraceful)
		}
		return
	}

	r.mu.Lock()
	_, existed := r.peers[hb.SourceProxyID]
	info := ProxyInfo{
		ProxyID:       hb.SourceProxyID,
		Region:        hb.Region,
		Host:          hb.Host,
		Port:          hb.Port,
		PlayerCount:   hb.PlayerCount,
		UptimeMS:      hb.UptimeMS,
		LastHeartbeat: time.Now(),
	}
	r.peers[hb.SourceProxyID] = info
	r.mu.Unlock()

	if !existed {
		r.fireJoin(info)
	}
}

// RunCleanup runs the eviction sweep until stopped. It is meant to be
// launched as its own goroutine by the application wiring layer.
func (r *Registry) RunCleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.evictStale()
		case <-r.stop:
			return
		}
	}
}

// Stop halts RunCleanup.
func (r *Registry) Stop() { close(r.stop) }

func (r *Registry) evictStale() {
	now := time.Now()
	var evicted []ProxyInfo

	r.mu.Lock()
	for id, info := range r.peers {
		if id == r.selfID {
			continue
		}
		if now.Sub(info.LastHeartbeat) > r.staleThreshold {
			delete(r.peers, id)
			evicted = append(evicted, info)
		}
	}
	r.mu.Unlock()

	for _, info := range evicted {
		log.Info().Str("proxy_id", info.ProxyID).Msg("evicting stale peer proxy")
		r.fireLeave(info, ReasonHeartbeatTimeout)
	}
}

// Peers returns a snapshot of every known peer. Self is never included,
// since HandleHeartbeat ignores the self id.
func (r *Registry) Peers() []ProxyInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProxyInfo, 0, len(r.peers))
	for _, info := range r.peers {
		out = append(out, info)
	}
	return out
}

// Get looks up a single peer by id.
func (r *Registry) Get(id string) (ProxyInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.peers[id]
	return info, ok
}

// GlobalPlayerCount sums player counts across every known peer. The
// caller adds the local player count on top (the Registry never stores
// a heartbeat for itself).
func (r *Registry) GlobalPlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, info := range r.peers {
		total += info.PlayerCount
	}
	return total
}
