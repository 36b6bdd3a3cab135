package health

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const bufferSize = 1 << 20

func startServer(t *testing.T) (*Server, healthpb.HealthClient) {
	t.Helper()

	s := NewServer()
	lis := bufconn.Listen(bufferSize)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)

	go func() {
		done <- s.Serve(ctx, lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()

		cancel()
		require.NoError(t, <-done)
	})

	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()

	resp, err := client.Check(t.Context(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)

	return resp.GetStatus()
}

func TestServer_SetServing(t *testing.T) {
	t.Parallel()

	s, client := startServer(t)

	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceController))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceMQTT))

	s.SetServing(ServiceController, true)
	s.SetServing(ServiceOverall, true)

	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceController))
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ServiceOverall))
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceMQTT))

	s.SetServing(ServiceController, false)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ServiceController))
}
