// Package app wires every already-built component into a running proxy
// process: config load, logging, PID file, GOMAXPROCS tuning, component
// construction, and signal-driven graceful shutdown.
//
// Grounded on the teacher's internal/app/run.go: the same config-load,
// logging.Setup, WritePidFile, maxprocs.Set, structured startup log,
// cfg.Validate ordering, followed here by Numdrassl's own component
// graph instead of Centrifugo's Node/engine/proxy-map construction.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/Numdrassl/proxy/internal/backend"
	"github.com/Numdrassl/proxy/internal/build"
	"github.com/Numdrassl/proxy/internal/cluster"
	"github.com/Numdrassl/proxy/internal/config"
	"github.com/Numdrassl/proxy/internal/configtypes"
	"github.com/Numdrassl/proxy/internal/control"
	"github.com/Numdrassl/proxy/internal/facade"
	"github.com/Numdrassl/proxy/internal/hooks"
	"github.com/Numdrassl/proxy/internal/listener"
	"github.com/Numdrassl/proxy/internal/logging"
	"github.com/Numdrassl/proxy/internal/messaging"
	"github.com/Numdrassl/proxy/internal/metrics"
	"github.com/Numdrassl/proxy/internal/referral"
	"github.com/Numdrassl/proxy/internal/session"
	"github.com/Numdrassl/proxy/internal/sessionservice"
	"github.com/Numdrassl/proxy/internal/tools"
)

var startTime = bootTime()

// bootTime is read once at package init; Run itself never calls
// time.Now directly for anything that must stay deterministic, but
// uptime reporting is inherently wall-clock and has no such constraint.
func bootTime() time.Time { return time.Now() }

// Run is the cli.RunFunc the root command invokes: load configuration,
// build every component, serve until a shutdown signal arrives.
func Run(cmd *cobra.Command, configFile string) {
	cfg, cfgMeta, err := config.GetConfig(cmd, configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error getting config")
	}

	closeLog := logging.Setup(cfg.Log.Level, cfg.Log.File)
	if closeLog != nil {
		defer closeLog()
	}

	if cfgMeta.FileNotFound {
		log.Warn().Msg("config file not found, continuing with environment and flag defaults")
	} else if configFile != "" {
		absPath, _ := filepath.Abs(configFile)
		log.Info().Str("path", absPath).Msg("using config file")
	}

	if err := tools.WritePidFile(cfg.PidFile); err != nil {
		log.Fatal().Err(err).Msg("error writing PID file")
	}

	_, _ = maxprocs.Set(maxprocs.Logger(func(s string, i ...interface{}) {
		log.Info().Msgf(strings.ToLower(s), i...)
	}))

	log.Info().
		Str("version", build.Version).
		Str("runtime", runtime.Version()).
		Int("pid", os.Getpid()).
		Int("gomaxprocs", runtime.GOMAXPROCS(0)).
		Bool("cluster_enabled", cfg.Cluster.Enabled).
		Msg("starting numdrassld")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("error validating config")
	}

	secret, err := config.ResolveSecret(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("error resolving shared secret")
	}

	tlsConfig, err := tools.LoadSharedTLSConfig(cfg.Listener.CertFile, cfg.Listener.KeyFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error loading TLS certificate")
	}

	metricsReg, err := metrics.New(metrics.Config{})
	if err != nil {
		log.Fatal().Err(err).Msg("error registering metrics")
	}

	proxyID := cfg.Cluster.ProxyID
	if proxyID == "" {
		proxyID = uuid.New().String()
	}

	idleTimeout := time.Duration(cfg.Listener.IdleTimeoutS) * time.Second

	store := session.NewStore()
	registry := backend.NewRegistry(toDescriptors(cfg.Backends))
	dialer := backend.NewDialer(backend.DialerConfig{
		TLSConfig:   tlsConfig,
		ALPN:        cfg.Listener.ALPN,
		IdleTimeout: idleTimeout,
	})
	signer := referral.NewSigner(secret)

	caller := sessionservice.NewHTTPCaller(cfg.SessionService.BaseURL, time.Duration(cfg.SessionService.TimeoutSeconds)*time.Second)
	sessionSvc := sessionservice.NewClient(caller)

	h := hooks.NoOp()

	machine := session.NewMachine(store, registry, dialer, sessionSvc, signer, h, proxyID)

	msgSvc, clusterMode := newMessagingService(cfg.Cluster, proxyID)

	proxyRegistry := cluster.NewRegistry(proxyID)
	serverList := cluster.NewServerListHandler(proxyID, msgSvc)
	unsubHeartbeat := cluster.Subscribe(msgSvc, proxyRegistry)
	unsubServerList := serverList.Subscribe()
	proxyRegistry.OnLeave(func(info cluster.ProxyInfo, _ cluster.LeaveReason) {
		serverList.HandlePeerLeave(info.ProxyID)
	})

	publisher := cluster.NewPublisher(msgSvc, proxyID, cfg.Cluster.Region, cfg.Listener.PublicHost, cfg.Listener.PublicPort,
		func() (int, int64) {
			return store.PlayerCount(), time.Since(startTime).Milliseconds()
		})

	// background runs the cluster registry's cleanup sweep and the
	// heartbeat publisher under one supervisor, matching the teacher's
	// internal/service.Registrar group-of-background-services shape.
	var background errgroup.Group
	background.Go(func() error { proxyRegistry.RunCleanup(); return nil })
	background.Go(func() error { publisher.Run(); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	controlManager := control.NewManager(dialer, signer, h, registry.All())
	controlManager.Start(ctx)

	fac := &facade.Facade{
		Store:         store,
		LocalServers:  registry,
		ServerList:    serverList,
		ProxyRegistry: proxyRegistry,
		Machine:       machine,
		Signer:        signer,
		SelfID:        proxyID,
		PublicHost:    cfg.Listener.PublicHost,
		PublicPort:    uint16(cfg.Listener.PublicPort),
		ClusterMode:   clusterMode,
	}
	log.Debug().Int("backends", len(fac.AllServers())).Msg("public facade ready")

	listenAddr := fmt.Sprintf("%s:%d", cfg.Listener.BindHost, cfg.Listener.BindPort)
	srv := listener.New(listener.Config{
		BindAddr:       listenAddr,
		TLSConfig:      tlsConfig,
		ALPN:           cfg.Listener.ALPN,
		IdleTimeout:    idleTimeout,
		MaxConnections: cfg.Listener.MaxConns,
	}, machine, store, h, metricsReg)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ctx) }()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigc:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serveErrCh:
		if err != nil {
			log.Error().Err(err).Msg("client listener stopped unexpectedly")
		}
	}

	cancel()
	_ = srv.Close()
	controlManager.Stop()
	publisher.Stop()
	proxyRegistry.Stop()
	_ = background.Wait()
	unsubHeartbeat()
	unsubServerList()
	_ = msgSvc.Close()
}

func toDescriptors(backends []configtypes.Backend) []backend.Descriptor {
	out := make([]backend.Descriptor, 0, len(backends))
	for _, b := range backends {
		out = append(out, backend.Descriptor{
			Name:      b.Name,
			Host:      b.Host,
			Port:      b.Port,
			IsDefault: b.IsDefault,
			Hostname:  b.Hostname,
		})
	}
	return out
}

// newMessagingService picks the Broker when clustering is enabled,
// falling back to Loopback when it is disabled or the broker dial
// fails, per spec §4.5's selection rule. The second return value
// reports whether a real broker connection backs the returned
// Service; it is false both when clustering is disabled and when a
// dial failure forced the loopback fallback, matching is_cluster_mode
// per spec §4.5 and the seed scenario in spec §8.
func newMessagingService(cfg configtypes.Cluster, proxyID string) (messaging.Service, bool) {
	if !cfg.Enabled {
		return messaging.NewLoopback(), false
	}

	url := fmt.Sprintf("nats://%s:%d", cfg.BrokerHost, cfg.BrokerPort)
	if cfg.BrokerPass != "" {
		url = fmt.Sprintf("nats://:%s@%s:%d", cfg.BrokerPass, cfg.BrokerHost, cfg.BrokerPort)
	}

	broker, err := messaging.NewBroker(messaging.BrokerConfig{URL: url, SelfID: proxyID})
	if err != nil {
		log.Warn().Err(err).Msg("messaging broker unavailable, falling back to loopback")
		return messaging.NewLoopback(), false
	}
	return broker, true
}
