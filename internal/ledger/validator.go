package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	ledger *PositionLedger
}

func NewInvariantValidator(ledger *PositionLedger) *InvariantValidator {
	return &InvariantValidator{
		ledger: ledger,
	}
}

// ValidateBatch verifies a committed batch is well-formed
func (v *InvariantValidator) ValidateBatch(batch *Batch) error {
	return batch.Validate()
}

// ValidateCustody verifies the engine's token balance of asset equals the sum
// of recorded deposits of that asset.
func (v *InvariantValidator) ValidateCustody(asset common.Address, custody *uint256.Int) error {
	recorded := v.ledger.CollateralTotals()[asset]
	if recorded == nil {
		recorded = new(uint256.Int)
	}
	if custody == nil {
		custody = new(uint256.Int)
	}
	if !recorded.Eq(custody) {
		return fmt.Errorf("custody mismatch for %s: recorded=%s held=%s", asset.Hex(), recorded.Dec(), custody.Dec())
	}
	return nil
}

// ValidateSupply verifies the synthetic total supply equals the sum of debts.
func (v *InvariantValidator) ValidateSupply(totalSupply *uint256.Int) error {
	sum := new(uint256.Int)
	for _, account := range v.ledger.Accounts() {
		sum.Add(sum, v.ledger.Debt(account))
	}
	if totalSupply == nil {
		totalSupply = new(uint256.Int)
	}
	if !sum.Eq(totalSupply) {
		return fmt.Errorf("supply mismatch: recorded debt=%s supply=%s", sum.Dec(), totalSupply.Dec())
	}
	return nil
}
