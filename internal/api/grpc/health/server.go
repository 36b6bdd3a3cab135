package health

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/door-alarm/internal/logger"
)

// Reported services.
const (
	// ServiceOverall is the whole device.
	ServiceOverall = ""
	// ServiceController is the alarm state controller.
	ServiceController = "door-alarm.controller"
	// ServiceMQTT is the remote command bridge connection.
	ServiceMQTT = "door-alarm.mqtt"
)

// Server serves grpc.health.v1.Health.
type Server struct {
	// grpc is the underlying gRPC server.
	grpc *grpc.Server
	// health keeps per-service statuses.
	health *grpchealth.Server
}

// NewServer creates a server with every service NOT_SERVING.
func NewServer() *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: grpchealth.NewServer(),
	}

	for _, service := range []string{ServiceOverall, ServiceController, ServiceMQTT} {
		s.health.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
	}

	healthpb.RegisterHealthServer(s.grpc, s.health)

	return s
}

// SetServing updates the status of one service.
func (s *Server) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}

	s.health.SetServingStatus(service, status)
}

// Run listens on address and serves until ctx is done.
func (s *Server) Run(ctx context.Context, address string) error {
	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	ctx = logger.WithName(ctx, "health")

	logger.InfoKV(ctx, "Health server listening", "listen_address", lis.Addr().String())

	// Closed after GracefulStop so that Serve returns only once the server is down.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
		close(done)
	}()

	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	<-done
	logger.Info(ctx, "Health server stopped")

	return nil
}
