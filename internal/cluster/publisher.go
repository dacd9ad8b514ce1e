package cluster

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Numdrassl/proxy/internal/messaging"
)

// DefaultHeartbeatInterval is how often the Publisher emits a heartbeat.
const DefaultHeartbeatInterval = 5 * time.Second

// Snapshot is called by the Publisher on every tick to get the current
// local Proxy Info fields that change over time (player count, uptime).
type Snapshot func() (playerCount int, uptimeMS int64)

// Publisher periodically emits this proxy's identity and status on the
// heartbeat channel (spec §4.6).
type Publisher struct {
	svc      messaging.Service
	proxyID  string
	region   string
	host     string
	port     int
	snapshot Snapshot
	interval time.Duration

	stop chan struct{}
}

// NewPublisher builds a Publisher. snapshot supplies the fields that
// change between ticks; everything else is fixed at boot.
func NewPublisher(svc messaging.Service, proxyID, region, host string, port int, snapshot Snapshot) *Publisher {
	return &Publisher{
		svc:      svc,
		proxyID:  proxyID,
		region:   region,
		host:     host,
		port:     port,
		snapshot: snapshot,
		interval: DefaultHeartbeatInterval,
		stop:     make(chan struct{}),
	}
}

// Run emits heartbeats until Stop is called. Meant to run on its own
// goroutine.
func (p *Publisher) Run() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.publish(false)
		case <-p.stop:
			return
		}
	}
}

// Stop emits exactly one final heartbeat with shutting_down=true, then
// halts Run.
func (p *Publisher) Stop() {
	p.publish(true)
	close(p.stop)
}

func (p *Publisher) publish(shuttingDown bool) {
	playerCount, uptimeMS := 0, int64(0)
	if p.snapshot != nil {
		playerCount, uptimeMS = p.snapshot()
	}
	hb := HeartbeatMessage{
		SourceProxyID: p.proxyID,
		Region:        p.region,
		Host:          p.host,
		Port:          p.port,
		PlayerCount:   playerCount,
		UptimeMS:      uptimeMS,
		ShuttingDown:  shuttingDown,
	}
	if err := p.svc.Publish(context.Background(), ChannelHeartbeat, "Heartbeat", hb); err != nil {
		log.Warn().Err(err).Msg("publishing heartbeat failed")
	}
}

// Subscribe wires a Registry's HandleHeartbeat to the heartbeat channel
// of svc. Separate from Publisher/Registry construction so a proxy can
// run a Registry without also running a Publisher in tests.
func Subscribe(svc messaging.Service, registry *Registry) (unsubscribe func()) {
	return svc.Subscribe(ChannelHeartbeat, false, func(msg messaging.Message) {
		var hb HeartbeatMessage
		if err := decodePayload(msg.Payload, &hb); err != nil {
			log.Warn().Err(err).Msg("dropping undecodable heartbeat")
			return
		}
		registry.HandleHeartbeat(hb)
	})
}
