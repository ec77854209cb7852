package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewErrorUnaryServerInterceptor приводит ошибки обработчиков к gRPC статусам и логирует сбои.
func NewErrorUnaryServerInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}

		st := ToStatus(err)
		code := status.Code(st)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("took", time.Since(start)),
			zap.Error(err),
		}
		if code == codes.Internal {
			log.Error("failed", fields...)
		} else {
			log.Warn("failed", fields...)
		}
		return nil, st
	}
}
