package state

import (
	fpmath "SynthLedger/internal/math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// HealthCalculator values positions against oracle prices.
// It uses an interface for the ledger to avoid a direct import cycle
// while still accepting *ledger.PositionLedger.
type HealthCalculator struct {
	registry *CollateralRegistry
	ledger   interface {
		Collateral(account, asset common.Address) *uint256.Int
		Debt(account common.Address) *uint256.Int
	}
}

func NewHealthCalculator(
	registry *CollateralRegistry,
	ledger interface {
		Collateral(account, asset common.Address) *uint256.Int
		Debt(account common.Address) *uint256.Int
	},
) *HealthCalculator {
	return &HealthCalculator{
		registry: registry,
		ledger:   ledger,
	}
}

// Price returns the 8-decimal price of an approved asset as of now.
func (hc *HealthCalculator) Price(asset common.Address, now time.Time) (*uint256.Int, error) {
	adapter, err := hc.registry.OracleFor(asset)
	if err != nil {
		return nil, err
	}
	return adapter.Price(now)
}

// UsdValue returns the 18-decimal USD value of amount units of asset
func (hc *HealthCalculator) UsdValue(asset common.Address, amount *uint256.Int, now time.Time) (*uint256.Int, error) {
	price, err := hc.Price(asset, now)
	if err != nil {
		return nil, err
	}
	return fpmath.UsdValue(price, amount)
}

// TokenAmountFromUsd returns how many units of asset are worth usd
func (hc *HealthCalculator) TokenAmountFromUsd(asset common.Address, usd *uint256.Int, now time.Time) (*uint256.Int, error) {
	price, err := hc.Price(asset, now)
	if err != nil {
		return nil, err
	}
	return fpmath.TokenAmountFromUsd(price, usd)
}

// CollateralValue sums the USD value of every approved asset the account
// holds, in registry order. Assets with no deposit are not priced.
func (hc *HealthCalculator) CollateralValue(account common.Address, now time.Time) (*uint256.Int, error) {
	total := new(uint256.Int)
	for _, asset := range hc.registry.ListAssets() {
		amount := hc.ledger.Collateral(account, asset)
		if amount.IsZero() {
			continue
		}
		value, err := hc.UsdValue(asset, amount, now)
		if err != nil {
			return nil, err
		}
		if total, err = fpmath.Add(total, value); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// AccountInformation returns (debt, collateral value in USD)
func (hc *HealthCalculator) AccountInformation(account common.Address, now time.Time) (*uint256.Int, *uint256.Int, error) {
	value, err := hc.CollateralValue(account, now)
	if err != nil {
		return nil, nil, err
	}
	return hc.ledger.Debt(account), value, nil
}

// HealthFactor computes the account's health factor. Accounts without debt
// report fpmath.MaxHealthFactor without pricing their collateral.
func (hc *HealthCalculator) HealthFactor(account common.Address, now time.Time) (*uint256.Int, error) {
	debt := hc.ledger.Debt(account)
	if debt.IsZero() {
		return fpmath.MaxHealthFactor(), nil
	}
	value, err := hc.CollateralValue(account, now)
	if err != nil {
		return nil, err
	}
	return fpmath.HealthFactor(debt, value)
}

// Position builds a full read-only view of the account.
func (hc *HealthCalculator) Position(account common.Address, now time.Time) (*Position, error) {
	pos := &Position{
		Account: account,
		Debt:    hc.ledger.Debt(account),
	}
	for _, asset := range hc.registry.ListAssets() {
		amount := hc.ledger.Collateral(account, asset)
		if amount.IsZero() {
			continue
		}
		pos.Collateral = append(pos.Collateral, AssetBalance{Asset: asset, Amount: amount})
	}

	value, err := hc.CollateralValue(account, now)
	if err != nil {
		return nil, err
	}
	pos.CollateralValueUSD = value

	hf, err := fpmath.HealthFactor(pos.Debt, value)
	if err != nil {
		return nil, err
	}
	pos.HealthFactor = hf
	pos.Status = ClassifyPosition(len(pos.Collateral) > 0, pos.Debt, hf)
	return pos, nil
}
