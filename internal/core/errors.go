package core

import (
	"SynthLedger/internal/ledger"
	fpmath "SynthLedger/internal/math"
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/state"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Every engine failure aborts the whole call. Errors raised by lower layers
// are re-exported so callers can match them against this package alone.
var (
	ErrInvalidAmount           = errors.New("engine: amount must be more than zero")
	ErrAssetNotApproved        = state.ErrAssetNotApproved
	ErrConfigurationMismatch   = state.ErrConfigurationMismatch
	ErrTransferFailed          = errors.New("engine: transfer failed")
	ErrMintFailed              = errors.New("engine: mint failed")
	ErrBurnFailed              = errors.New("engine: burn failed")
	ErrInsufficientCollateral  = ledger.ErrInsufficientCollateral
	ErrInsufficientDebt        = ledger.ErrInsufficientDebt
	ErrHealthFactorBroken      = errors.New("engine: health factor broken")
	ErrHealthFactorOk          = errors.New("engine: health factor ok")
	ErrHealthFactorNotImproved = errors.New("engine: health factor not improved")
	ErrReentrancyDetected      = errors.New("engine: reentrancy detected")
	ErrStalePriceOrInvalidFeed = oracle.ErrStalePriceOrInvalidFeed
	ErrArithmeticOverflow      = fpmath.ErrOverflow
)

// HealthFactorBrokenError carries the health factor that failed the check
type HealthFactorBrokenError struct {
	Account common.Address
	Value   *uint256.Int
}

func (e *HealthFactorBrokenError) Error() string {
	return fmt.Sprintf("%v: account %s at %s", ErrHealthFactorBroken, e.Account.Hex(), e.Value.Dec())
}

func (e *HealthFactorBrokenError) Unwrap() error {
	return ErrHealthFactorBroken
}

// Reason maps an engine error to a short label for metrics and logs
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrReentrancyDetected):
		return "reentrancy"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrAssetNotApproved):
		return "asset_not_approved"
	case errors.Is(err, ErrStalePriceOrInvalidFeed):
		return "stale_price"
	case errors.Is(err, ErrHealthFactorBroken):
		return "health_factor_broken"
	case errors.Is(err, ErrHealthFactorOk):
		return "health_factor_ok"
	case errors.Is(err, ErrHealthFactorNotImproved):
		return "health_factor_not_improved"
	case errors.Is(err, ErrInsufficientCollateral):
		return "insufficient_collateral"
	case errors.Is(err, ErrInsufficientDebt):
		return "insufficient_debt"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	case errors.Is(err, ErrMintFailed):
		return "mint_failed"
	case errors.Is(err, ErrBurnFailed):
		return "burn_failed"
	case errors.Is(err, ErrArithmeticOverflow):
		return "overflow"
	case errors.Is(err, ErrConfigurationMismatch):
		return "configuration_mismatch"
	default:
		return "other"
	}
}
