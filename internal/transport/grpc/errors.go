package grpc

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"trading-service/internal/service"
)

// ToStatus переводит ошибку рынка в gRPC статус по её виду.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, service.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrInsufficientQuantity),
		errors.Is(err, service.ErrInsufficientBalance):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrAlreadyProcessed):
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Errorf(codes.Internal, "internal: %v", err)
	}
}
