// Package healthrpc exposes the standard gRPC health service for the story
// agent and a client probe for it.
package healthrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the health-checked service.
const ServiceName = "amma.v1.StoryAgent"

var (
	errConnectionShutdown       = errors.New("gRPC connection is shutdown")
	errConnectionStateUnchanged = errors.New("gRPC connection state did not change")
)

// Server serves grpc.health.v1.Health.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	logger *slog.Logger
}

// NewServer creates a health server reporting SERVING for ServiceName and the
// overall server.
func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	gs := grpc.NewServer(
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             30 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              2 * time.Minute,
			Timeout:           10 * time.Second,
		}),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)

	return &Server{grpc: gs, health: hs, logger: logger}
}

// Serve accepts connections on lis until ctx is done, then marks every
// service NOT_SERVING and stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gRPC health server listening", "addr", lis.Addr().String())
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case err := <-errCh:
		s.health.Shutdown()
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC health server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.Shutdown()
	if err := <-errCh; err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC health server: %w", err)
	}
	return nil
}

// Shutdown flips the health status to NOT_SERVING and drains the server.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
	s.logger.Info("gRPC health server stopped")
}

// Probe dials addr and returns the serving status of ServiceName.
func Probe(ctx context.Context, addr string, opts ...grpc.DialOption) (healthpb.HealthCheckResponse_ServingStatus, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    2 * time.Minute,
			Timeout: 10 * time.Second,
		}),
	}, opts...)

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	if err := waitForReady(ctx, conn); err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health endpoint at %s not ready: %w", addr, err)
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check: %w", err)
	}
	return resp.GetStatus(), nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}
