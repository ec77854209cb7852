package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"trading-service/internal/service"
)

func TestToStatus(t *testing.T) {
	cases := []struct {
		err  error
		code codes.Code
	}{
		{service.ErrListingNotFound, codes.NotFound},
		{service.ErrNotOwner, codes.PermissionDenied},
		{service.ErrInvalidPrice, codes.InvalidArgument},
		{service.ErrTradeNotPending, codes.FailedPrecondition},
		{&service.MissingItemError{Need: 2, Have: 1}, codes.FailedPrecondition},
		{fmt.Errorf("debit: %w", service.ErrInsufficientBalance), codes.FailedPrecondition},
		{service.ErrAlreadySold, codes.Aborted},
		{errors.New("connection reset"), codes.Internal},
		{status.Error(codes.Unavailable, "down"), codes.Unavailable},
	}
	for _, c := range cases {
		require.Equal(t, c.code, status.Code(ToStatus(c.err)), c.err.Error())
	}
	require.NoError(t, ToStatus(nil))
}

func TestErrorInterceptor_MapsHandlerErrors(t *testing.T) {
	icpt := NewErrorUnaryServerInterceptor(zap.NewNop())
	info := &grpc.UnaryServerInfo{FullMethod: "/market.v1.Market/BuyListing"}

	_, err := icpt(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return nil, service.ErrAlreadySold
	})
	require.Equal(t, codes.Aborted, status.Code(err))

	resp, err := icpt(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", resp)
}

func TestServer_HealthServing(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv, healthSrv := NewServer(zap.NewNop())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client := grpc_health_v1.NewHealthClient(conn)
	resp, err := client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)

	healthSrv.Shutdown()
	resp, err = client.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.Status)
}
