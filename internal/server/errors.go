package server

import (
	"CustodyVault/internal/core"
	"CustodyVault/internal/ingestion"
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps vault errors onto gRPC codes by category. The error text is
// kept, so callers still see the requested and available values.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	if errors.Is(err, ingestion.ErrQueueClosed) {
		return status.Error(codes.Unavailable, err.Error())
	}

	return status.Error(codeFor(err), err.Error())
}

func codeFor(err error) codes.Code {
	category, _ := core.Classify(err)
	switch category {
	case core.CategoryInput:
		return codes.InvalidArgument
	case core.CategoryBalance, core.CategoryRiskLimit:
		return codes.FailedPrecondition
	case core.CategoryOracle, core.CategoryTransport:
		return codes.Unavailable
	case core.CategoryConcurrency:
		return codes.Aborted
	case core.CategoryArithmetic:
		return codes.OutOfRange
	}
	return codes.Internal
}
