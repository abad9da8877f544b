package state

import (
	fpmath "SynthLedger/internal/math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SeizurePlan is the collateral a liquidator receives for covering debt
type SeizurePlan struct {
	Asset       common.Address
	DebtToCover *uint256.Int
	Base        *uint256.Int // debt-equivalent amount of Asset
	Bonus       *uint256.Int // LiquidationBonus percent of Base
	Total       *uint256.Int
}

// PlanSeizure converts debtToCover into collateral units at the current
// price and adds the liquidation bonus. Both steps truncate.
func (hc *HealthCalculator) PlanSeizure(asset common.Address, debtToCover *uint256.Int, now time.Time) (*SeizurePlan, error) {
	base, err := hc.TokenAmountFromUsd(asset, debtToCover, now)
	if err != nil {
		return nil, err
	}
	bonus, err := fpmath.LiquidationBonusFor(base)
	if err != nil {
		return nil, err
	}
	total, err := fpmath.Add(base, bonus)
	if err != nil {
		return nil, err
	}
	return &SeizurePlan{
		Asset:       asset,
		DebtToCover: fpmath.Clone(debtToCover),
		Base:        base,
		Bonus:       bonus,
		Total:       total,
	}, nil
}
