package control

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/umrr-bridge/internal/monitoring"
)

// GRPCServer hosts the control service and the standard health service.
type GRPCServer struct {
	server *grpc.Server
	health *health.Server
}

// NewGRPCServer returns a gRPC server with SensorControl registered and
// reported as serving.
func NewGRPCServer(cmd Commander, opts ...grpc.ServerOption) *GRPCServer {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(logCalls)}, opts...)
	s := &GRPCServer{
		server: grpc.NewServer(opts...),
		health: health.NewServer(),
	}
	RegisterSensorControlServer(s.server, NewServer(cmd))
	healthpb.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve accepts connections on lis until ctx is done, then reports
// NOT_SERVING and stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.server.Serve(lis) }()
	monitoring.Logf("control service listening on %s", lis.Addr())

	select {
	case err := <-errCh:
		return fmt.Errorf("control service: %w", err)
	case <-ctx.Done():
	}
	s.health.Shutdown()
	s.server.GracefulStop()
	<-errCh
	monitoring.Logf("control service stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *GRPCServer) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

func logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		monitoring.Logf("[gRPC] %s %s in %v: %v", info.FullMethod, status.Code(err), time.Since(start), err)
	}
	return resp, err
}
