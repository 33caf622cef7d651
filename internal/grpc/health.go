package grpc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	defaultCheckInterval = 10 * time.Second
	checkTimeout         = 2 * time.Second
)

// Check pings one dependency.
type Check func(ctx context.Context) error

// HealthReporter keeps grpc.health.v1 statuses in line with the dependencies.
// Each dependency is reported under its own service name; the empty name is
// SERVING only while every dependency answers.
type HealthReporter struct {
	server   *health.Server
	checks   map[string]Check
	interval time.Duration

	mu   sync.Mutex
	last map[string]healthpb.HealthCheckResponse_ServingStatus
}

func NewHealthReporter(checks map[string]Check, interval time.Duration) *HealthReporter {
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	h := &HealthReporter{
		server:   health.NewServer(),
		checks:   checks,
		interval: interval,
		last:     make(map[string]healthpb.HealthCheckResponse_ServingStatus, len(checks)),
	}
	h.server.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	for name := range checks {
		h.server.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return h
}

// Run refreshes the statuses until ctx is done, then marks everything NOT_SERVING.
func (h *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return
		case <-ticker.C:
			h.CheckOnce(ctx)
		}
	}
}

// CheckOnce pings every dependency and publishes the result.
func (h *HealthReporter) CheckOnce(ctx context.Context) {
	overall := healthpb.HealthCheckResponse_SERVING
	for name, check := range h.checks {
		status := healthpb.HealthCheckResponse_SERVING
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := check(checkCtx)
		cancel()
		if err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			overall = status
		}
		h.publish(ctx, name, status, err)
	}
	h.server.SetServingStatus("", overall)
}

func (h *HealthReporter) publish(ctx context.Context, name string, status healthpb.HealthCheckResponse_ServingStatus, err error) {
	h.mu.Lock()
	prev, seen := h.last[name]
	h.last[name] = status
	h.mu.Unlock()

	if seen && prev != status {
		if err != nil {
			slog.WarnContext(ctx, "dependency unhealthy", "dependency", name, "error", err)
		} else {
			slog.InfoContext(ctx, "dependency recovered", "dependency", name)
		}
	} else if !seen && err != nil {
		slog.WarnContext(ctx, "dependency unhealthy", "dependency", name, "error", err)
	}
	h.server.SetServingStatus(name, status)
}

// NewServer builds the gRPC server exposing health and reflection.
func NewServer(h *HealthReporter, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, h.server)
	reflection.Register(srv)
	return srv
}
