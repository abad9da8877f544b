package math

import (
	"github.com/holiman/uint256"
)

// UsdValue converts a token amount into 18-decimal USD using an 8-decimal
// feed price: price * 1e10 * amount / 1e18.
func UsdValue(price, amount *uint256.Int) (*uint256.Int, error) {
	adjusted, err := Mul(price, uint256.NewInt(AdditionalFeedPrecision))
	if err != nil {
		return nil, err
	}
	return MulDiv(adjusted, amount, uint256.NewInt(Precision))
}

// TokenAmountFromUsd converts an 18-decimal USD amount back into token units:
// usd * 1e18 / (price * 1e10). Truncation favours the protocol.
func TokenAmountFromUsd(price, usd *uint256.Int) (*uint256.Int, error) {
	adjusted, err := Mul(price, uint256.NewInt(AdditionalFeedPrecision))
	if err != nil {
		return nil, err
	}
	return MulDiv(usd, uint256.NewInt(Precision), adjusted)
}

// HealthFactor computes (collateralUSD * 50 / 100) * 1e18 / debt.
// Zero debt yields MaxHealthFactor instead of dividing.
func HealthFactor(debt, collateralUSD *uint256.Int) (*uint256.Int, error) {
	if debt.IsZero() {
		return MaxHealthFactor(), nil
	}
	adjusted, err := MulDiv(collateralUSD, uint256.NewInt(LiquidationThreshold), uint256.NewInt(LiquidationPrecision))
	if err != nil {
		return nil, err
	}
	return MulDiv(adjusted, uint256.NewInt(Precision), debt)
}

// LiquidationBonusFor returns amount * 10 / 100.
func LiquidationBonusFor(amount *uint256.Int) (*uint256.Int, error) {
	return MulDiv(amount, uint256.NewInt(LiquidationBonus), uint256.NewInt(LiquidationPrecision))
}
