package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

// RelayServiceName is the health service name reported next to the
// overall ("") status.
const RelayServiceName = "telephone.Relay"

// GRPCServer exposes the standard gRPC health service. Its status follows
// the translation backend's health.
type GRPCServer struct {
	server  *grpc.Server
	health  *health.Server
	checker HealthChecker
	logger  *logrus.Logger
	port    int
}

// NewGRPCServer creates a gRPC server with health and reflection services.
func NewGRPCServer(checker HealthChecker, port int, logger *logrus.Logger) *GRPCServer {
	if logger == nil {
		logger = logrus.New()
	}

	opts := []grpc.ServerOption{
		grpc.Creds(insecure.NewCredentials()),
		// Clients ping every 30s; allow twice that rate.
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             15 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      30 * time.Minute,
			MaxConnectionAgeGrace: 5 * time.Second,
			Time:                  30 * time.Second,
			Timeout:               10 * time.Second,
		}),
	}

	s := grpc.NewServer(opts...)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, healthServer)
	reflection.Register(s)

	g := &GRPCServer{
		server:  s,
		health:  healthServer,
		checker: checker,
		logger:  logger,
		port:    port,
	}
	g.setServing(true)
	return g
}

// Start listens on the configured port and serves until Shutdown.
func (g *GRPCServer) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", g.port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", g.port, err)
	}
	g.logger.WithFields(logrus.Fields{
		"port": g.port,
	}).Info("gRPC health server listening")
	return g.Serve(lis)
}

// Serve serves on lis.
func (g *GRPCServer) Serve(lis net.Listener) error {
	if err := g.server.Serve(lis); err != nil {
		return fmt.Errorf("serve grpc: %w", err)
	}
	return nil
}

// CheckNow runs one backend health check and updates the served status.
func (g *GRPCServer) CheckNow(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	err := g.checker.CheckHealth(ctx)
	g.setServing(err == nil)
	return err
}

// WatchHealth checks the backend every interval until ctx is done.
func (g *GRPCServer) WatchHealth(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := g.CheckNow(ctx)
			if ctx.Err() != nil {
				return
			}
			if (err == nil) != healthy {
				healthy = err == nil
				entry := g.logger.WithFields(logrus.Fields{"healthy": healthy})
				if err != nil {
					entry = entry.WithError(err)
				}
				entry.Warn("Translation backend health changed")
			}
		}
	}
}

func (g *GRPCServer) setServing(ok bool) {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if !ok {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(RelayServiceName, status)
}

// Shutdown reports NOT_SERVING and stops gracefully, forcing the stop when
// ctx expires first.
func (g *GRPCServer) Shutdown(ctx context.Context) {
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		g.logger.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		g.logger.Warn("Graceful shutdown timeout, forcing stop...")
		g.server.Stop()
	}
}
