// Package grpcapi exposes the standard gRPC health service.  Besides the
// overall server status it reports the door controller as its own service,
// flipped by every actuator round-trip.
package grpcapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/BrandonDHaskell/qrpass/internal/qrpass/actuator"
)

// ActuatorService is the health service name for the door controller.
const ActuatorService = "qrpass.actuator"

type Server struct {
	addr   string
	grpc   *grpc.Server
	health *health.Server
	logger *log.Logger
}

func NewServer(addr string, logger *log.Logger) *Server {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ActuatorService, healthpb.HealthCheckResponse_UNKNOWN)

	return &Server{addr: addr, grpc: gs, health: hs, logger: logger}
}

// ObserveActuator records the result of one controller round-trip.  It has
// the actuator.Observer signature.
func (s *Server) ObserveActuator(cmd actuator.Command, err error) {
	if err != nil {
		s.logger.Debug("actuator not serving", "command", cmd, "err", err)
	}
	s.SetActuatorServing(err == nil)
}

// SetActuatorServing sets the door controller status directly.  Debug mode
// sets it once at startup.
func (s *Server) SetActuatorServing(ok bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(ActuatorService, st)
}

// Serve blocks serving on lis until Shutdown.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("grpc listening", "addr", lis.Addr().String())
	if err := s.grpc.Serve(lis); !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.Serve(lis)
}

// Shutdown marks every service NOT_SERVING and drains in-flight RPCs.  If
// ctx ends first the server is stopped hard.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		return ctx.Err()
	}
}

// Probe asks the health service at addr for service's status.
func Probe(ctx context.Context, addr, service string, timeout time.Duration, opts ...grpc.DialOption) (string, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return "", fmt.Errorf("connect health service: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return "", err
	}
	return resp.GetStatus().String(), nil
}
