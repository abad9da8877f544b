package state

import (
	fpmath "SynthLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PositionStatus is the lifecycle stage of an account's position
type PositionStatus int32

const (
	PositionStatusEmpty PositionStatus = iota
	PositionStatusCollateralized
	PositionStatusHealthy
	PositionStatusUnhealthy
)

func (ps PositionStatus) String() string {
	switch ps {
	case PositionStatusEmpty:
		return "Empty"
	case PositionStatusCollateralized:
		return "Collateralized"
	case PositionStatusHealthy:
		return "Healthy"
	case PositionStatusUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// Liquidatable reports whether a liquidation may be attempted
func (ps PositionStatus) Liquidatable() bool {
	return ps == PositionStatusUnhealthy
}

// ClassifyPosition derives the status from holdings and health factor
func ClassifyPosition(hasCollateral bool, debt, healthFactor *uint256.Int) PositionStatus {
	switch {
	case debt.IsZero() && !hasCollateral:
		return PositionStatusEmpty
	case debt.IsZero():
		return PositionStatusCollateralized
	case healthFactor.Lt(fpmath.MinHealthFactor()):
		return PositionStatusUnhealthy
	default:
		return PositionStatusHealthy
	}
}

// AssetBalance is one collateral deposit
type AssetBalance struct {
	Asset  common.Address
	Amount *uint256.Int
}

// Position is a derived view of an account; it is never stored.
type Position struct {
	Account            common.Address
	Collateral         []AssetBalance // registry order
	Debt               *uint256.Int
	CollateralValueUSD *uint256.Int
	HealthFactor       *uint256.Int
	Status             PositionStatus
}
