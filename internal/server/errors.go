package server

import (
	"SynthLedger/internal/core"
	"SynthLedger/internal/ingestion"
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// toStatus maps ingestion, engine and sequencer errors to gRPC codes.
// Business rejections carry the engine reason in the message prefix.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, core.ErrDuplicateCommand):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ingestion.ErrMissingField),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrAssetNotApproved),
		errors.Is(err, core.ErrArithmeticOverflow),
		isDecodeError(err):
		return status.Errorf(codes.InvalidArgument, "%s: %v", core.Reason(err), err)
	case errors.Is(err, core.ErrReentrancyDetected):
		return status.Errorf(codes.Aborted, "%s: %v", core.Reason(err), err)
	case errors.Is(err, core.ErrStalePriceOrInvalidFeed):
		return status.Errorf(codes.Unavailable, "%s: %v", core.Reason(err), err)
	case errors.Is(err, core.ErrHealthFactorBroken),
		errors.Is(err, core.ErrHealthFactorOk),
		errors.Is(err, core.ErrHealthFactorNotImproved),
		errors.Is(err, core.ErrInsufficientCollateral),
		errors.Is(err, core.ErrInsufficientDebt),
		errors.Is(err, core.ErrTransferFailed),
		errors.Is(err, core.ErrMintFailed),
		errors.Is(err, core.ErrBurnFailed):
		return status.Errorf(codes.FailedPrecondition, "%s: %v", core.Reason(err), err)
	}
	return status.Error(codes.Internal, err.Error())
}

func isDecodeError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "parse ") || strings.HasPrefix(msg, "unknown command type")
}
