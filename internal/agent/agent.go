package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	grpchealth "google.golang.org/grpc/health"

	"nightscout-easyview/internal/collector"
	"nightscout-easyview/internal/config"
	"nightscout-easyview/internal/easyview"
	"nightscout-easyview/internal/metrics"
	"nightscout-easyview/internal/model"
	"nightscout-easyview/internal/stream"
)

type Agent struct {
	cfg       config.Config
	logger    *slog.Logger
	registry  *prometheus.Registry
	scheduler *collector.Scheduler
	sink      *healthSink
	health    *HealthStatus
	probe     *grpchealth.Server
}

const healthInterval = 5 * time.Second

// New wires the relay without touching the network.
func New(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	tlsCfg, err := cfg.NightscoutTLS()
	if err != nil {
		return nil, fmt.Errorf("nightscout tls: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.New(registry)

	health := NewHealthStatus()
	vendor := &healthVendor{
		vendor: easyview.NewClient(easyview.Options{
			BaseURL:    cfg.EasyView.BaseURL,
			Username:   cfg.EasyView.Username,
			Password:   cfg.EasyView.Password,
			Timeout:    cfg.HTTP.Timeout,
			SessionTTL: cfg.EasyView.SessionTTL,
		}, logger),
		health: health,
	}
	sink := &healthSink{sink: stream.NewRelayFromConfig(cfg, tlsCfg, logger), health: health}

	scheduler := collector.NewScheduler(logger, vendor, sink, recorder, collector.Policy{
		Interval:        cfg.Poll.Interval,
		AuthBackoff:     cfg.Poll.AuthBackoff,
		ReloginAttempts: cfg.Poll.ReloginAttempts,
		Backfill:        cfg.Backfill.Enabled,
		BackfillWindow:  cfg.Backfill.MaxWindow,
	})

	return &Agent{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		scheduler: scheduler,
		sink:      sink,
		health:    health,
		probe:     grpchealth.NewServer(),
	}, nil
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting nightscout-easyview relay",
		"version", a.cfg.AgentVersion,
		"config", a.cfg.Source,
		"poll_interval", a.cfg.Poll.Interval,
		"backfill", a.cfg.Backfill.Enabled,
		"influx_mirror", a.cfg.Influx.Enabled(),
		"shutdown_timeout", a.cfg.ShutdownTimeout,
	)
	if budget := a.cfg.CycleBudget(); a.cfg.ShutdownTimeout < budget {
		a.logger.Warn("shutdown_timeout is shorter than a worst-case cycle, a stop may cut an upload short",
			"shutdown_timeout", a.cfg.ShutdownTimeout, "cycle_budget", budget)
	}

	runCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()

	done := make(chan error, 1)
	go func() {
		done <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-done:
	case sig := <-sigCh:
		a.logger.Info("shutdown requested, no new cycle will start",
			"signal", sig.String(), "state", a.scheduler.State(), "grace", a.cfg.ShutdownTimeout)
		stopPolling()
		runErr = a.drain(done, sigCh)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("nightscout-easyview relay stopped", "state", a.scheduler.State())
	return nil
}

// drain waits for the poll loop after polling was stopped. The cycle in
// flight runs on a detached context, so drain only decides how long the
// process waits for it.
func (a *Agent) drain(done <-chan error, sigCh <-chan os.Signal) error {
	grace := time.NewTimer(a.cfg.ShutdownTimeout)
	defer grace.Stop()

	select {
	case err := <-done:
		return err
	case sig := <-sigCh:
		a.logger.Warn("second signal received, abandoning the current cycle",
			"signal", sig.String(), "state", a.scheduler.State())
		return context.Canceled
	case <-grace.C:
		a.logger.Warn("cycle still running at the grace deadline, abandoning it",
			"state", a.scheduler.State(), "grace", a.cfg.ShutdownTimeout)
		return context.DeadlineExceeded
	}
}

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.Log.JSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}

type healthVendor struct {
	vendor collector.Vendor
	health *HealthStatus
}

func (v *healthVendor) Login(ctx context.Context) (model.Session, error) {
	s, err := v.vendor.Login(ctx)
	v.health.SetVendorLoggedIn(err == nil)
	if err != nil {
		v.health.SetLastError(err)
	}
	return s, err
}

func (v *healthVendor) FetchLatest(ctx context.Context, s model.Session) ([]model.Reading, error) {
	readings, err := v.vendor.FetchLatest(ctx, s)
	if errors.Is(err, model.ErrSessionExpired) {
		v.health.SetVendorLoggedIn(false)
	}
	if err != nil {
		v.health.SetLastError(err)
		return readings, err
	}
	if n := len(readings); n > 0 {
		v.health.MarkReading(readings[n-1].Timestamp)
	}
	return readings, nil
}

func (v *healthVendor) FetchHistory(ctx context.Context, s model.Session, owner, device string, from, to time.Time) ([]model.Reading, error) {
	return v.vendor.FetchHistory(ctx, s, owner, device, from, to)
}

type healthSink struct {
	sink   *stream.Relay
	health *HealthStatus
}

func (s *healthSink) Upload(ctx context.Context, entries []model.Entry) (model.UploadResult, error) {
	res, err := s.sink.Upload(ctx, entries)
	if err != nil {
		s.health.SetNightscoutReachable(false)
		s.health.SetLastError(err)
		return res, err
	}
	s.health.SetNightscoutReachable(true)
	s.health.SetLastError(nil)
	if res.Accepted > 0 {
		s.health.MarkUpload(time.Now().UTC())
	}
	return res, nil
}

func (s *healthSink) LastEntryTime(ctx context.Context) (time.Time, bool, error) {
	ts, ok, err := s.sink.LastEntryTime(ctx)
	s.health.SetNightscoutReachable(err == nil)
	return ts, ok, err
}

func (s *healthSink) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
