package agent

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func (a *Agent) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		return a.runHealthLoop(gctx)
	})
	g.Go(func() error {
		return a.runStatusServer(gctx)
	})
	g.Go(func() error {
		return a.runProbeListener(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Agent) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(healthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			a.refreshProbe()
			a.logger.Debug("relay health", "state", a.scheduler.State(), "snapshot", a.health.Snapshot())
		}
	}
}

// refreshProbe publishes the current health to the gRPC health service.
func (a *Agent) refreshProbe() {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if a.health.Healthy() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	a.probe.SetServingStatus("", status)
	a.probe.SetServingStatus(probeService, status)
}

func (a *Agent) shutdown(ctx context.Context) {
	a.probe.Shutdown()
	if err := a.sink.Close(ctx); err != nil {
		a.logger.Warn("sink close failed", "error", err)
	}
	a.health.SetNightscoutReachable(false)
	a.health.SetVendorLoggedIn(false)
}
