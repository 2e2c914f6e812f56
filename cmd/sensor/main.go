package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"agents/sentinel-sensor/internal/capability"
	"agents/sentinel-sensor/internal/command"
	"agents/sentinel-sensor/internal/config"
	"agents/sentinel-sensor/internal/identity"
	"agents/sentinel-sensor/internal/logging"
	"agents/sentinel-sensor/internal/metrics"
	"agents/sentinel-sensor/internal/monitor"
	"agents/sentinel-sensor/internal/policy"
	"agents/sentinel-sensor/internal/status"
	"agents/sentinel-sensor/internal/storage"
	"agents/sentinel-sensor/internal/telemetry"
	"agents/sentinel-sensor/internal/transport"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentinel-sensor: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("sensor stopped with error", "error", err)
	}
	logger.Info("sensor offline")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var store storage.Store
	fileStore, err := storage.NewFileStore(cfg.DataDir)
	if err != nil {
		logger.Error("data directory unusable, state will not survive a restart", "dir", cfg.DataDir, "error", err)
		store = storage.NewMemoryStore()
	} else {
		store = fileStore
	}

	hostname := config.ResolveHostname(cfg.Hostname)
	ids := identity.NewManager(store, cfg.IdentityFile, hostname, logger)
	sensor := ids.Identity(ctx)
	logger.Info("sensor starting",
		"id", sensor.ID,
		"hostname", sensor.Hostname,
		"os", sensor.OSInfo,
		"version", cfg.Version,
		"hq", cfg.HQURL,
		"data_dir", filepath.Clean(cfg.DataDir),
	)

	caps, probe := capability.NewProbe().Detect()
	logger.Info("capabilities detected",
		"clipboard", probe.Clipboard,
		"notify", probe.Notify,
		"open", probe.Open,
	)
	dispatcher := command.NewDispatcher(caps, m, logger)

	httpClient, err := transport.NewHTTPClient(cfg.Timeout, cfg.HTTP2)
	if err != nil {
		return err
	}

	hqURL := cfg.HQURL
	if cfg.Discover {
		found, err := telemetry.Discover(ctx, httpClient, telemetry.Candidates(cfg.HQURL), 0, logger)
		if err != nil {
			logger.Warn("HQ discovery failed, using configured URL", "hq", cfg.HQURL, "error", err)
		} else {
			hqURL = found
			logger.Info("HQ discovered", "hq", hqURL)
		}
	}

	opts := telemetry.Options{Version: cfg.Version, Metrics: m, Logger: logger}
	if cfg.NATSURL != "" {
		mirror, err := telemetry.NewNATSMirror(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			logger.Warn("alert mirror disabled", "error", err)
		} else {
			defer mirror.Close()
			opts.Mirror = mirror
		}
	}

	queue := telemetry.OpenQueue(store, cfg.QueueFile, m, logger)
	channel := telemetry.NewChannel(telemetry.NewClient(hqURL, httpClient), queue, dispatcher, opts)

	policies := policy.NewStore(logger)
	state := status.New(cfg.Version, policies, channel)
	state.SetIdentity(sensor)

	loop := monitor.NewLoop(channel, ids, policies, caps, monitor.Options{
		Interval: cfg.Interval,
		Version:  cfg.Version,
		Recorder: state,
		Metrics:  m,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	if cfg.StatusAddr != "" {
		srv := status.NewServer(cfg.StatusAddr, status.NewRouter(state, reg), logger)
		g.Go(func() error {
			if err := srv.Run(gctx); err != nil {
				// the sensor keeps running without its status endpoint
				logger.Error("status server failed", "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}
