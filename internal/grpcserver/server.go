// Package grpcserver exposes the standard gRPC health service.
package grpcserver

import (
	"context"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"unread-service/internal/logger"
	"unread-service/internal/observability"
)

// ServiceName is the health entry reported next to the overall ("") status.
const ServiceName = "unread.v1.Notifications"

// Pinger reports the reachability of a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	store  Pinger
	deps   []Pinger
	log    *logger.Logger

	mu      sync.Mutex
	serving bool
}

// New builds a gRPC server with tracing and metrics on every call. deps,
// such as the delivery broker, must be reachable too for SERVING.
func New(store Pinger, log *logger.Logger, deps ...Pinger) *Server {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{grpc: srv, health: hs, store: store, deps: deps, log: log.Named("grpc")}
	s.set(false)
	return s
}

func (s *Server) set(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)

	s.mu.Lock()
	changed := s.serving != serving
	s.serving = serving
	s.mu.Unlock()
	if changed {
		s.log.Info("health status changed", zap.String("status", status.String()))
	}
}

// Check pings the store and every dependency and publishes the result.
func (s *Server) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	ok := true
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("store ping failed", zap.Error(err))
		ok = false
	}
	for _, dep := range s.deps {
		if err := dep.Ping(ctx); err != nil {
			s.log.Warn("dependency ping failed", zap.Error(err))
			ok = false
		}
	}
	s.set(ok)
	return ok
}

// Watch re-checks the store every interval until ctx is done.
func (s *Server) Watch(ctx context.Context, interval time.Duration) {
	s.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Serve blocks accepting connections on lis.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpc.Serve(lis)
}

// Stop marks the service down and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
