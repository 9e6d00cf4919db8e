package grpcapi_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/BrandonDHaskell/qrpass/internal/grpcapi"
	"github.com/BrandonDHaskell/qrpass/internal/logging"
	"github.com/BrandonDHaskell/qrpass/internal/qrpass/actuator"
)

func startServer(t *testing.T) (*grpcapi.Server, grpc.DialOption) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpcapi.NewServer("bufnet", logging.Discard())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	return srv, dialer
}

func probe(t *testing.T, dialer grpc.DialOption, service string) (string, error) {
	t.Helper()
	return grpcapi.Probe(context.Background(), "passthrough:///bufnet", service, time.Second, dialer)
}

func TestHealth_Overall(t *testing.T) {
	_, dialer := startServer(t)

	st, err := probe(t, dialer, "")
	require.NoError(t, err)
	assert.Equal(t, "SERVING", st)
}

func TestHealth_ActuatorFollowsLastResult(t *testing.T) {
	srv, dialer := startServer(t)

	st, err := probe(t, dialer, grpcapi.ActuatorService)
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN", st)

	srv.ObserveActuator(actuator.Open, actuator.ErrTimeout)
	st, err = probe(t, dialer, grpcapi.ActuatorService)
	require.NoError(t, err)
	assert.Equal(t, "NOT_SERVING", st)

	srv.ObserveActuator(actuator.Open, nil)
	st, err = probe(t, dialer, grpcapi.ActuatorService)
	require.NoError(t, err)
	assert.Equal(t, "SERVING", st)
}

func TestHealth_UnknownService(t *testing.T) {
	_, dialer := startServer(t)

	_, err := probe(t, dialer, "nope")
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}
