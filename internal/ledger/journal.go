package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeCollateralDeposit JournalType = iota
	JournalTypeCollateralRedeem
	JournalTypeCollateralSeize
	JournalTypeDebtMint
	JournalTypeDebtBurn
	JournalTypeDebtRepay
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeCollateralDeposit:
		return "collateral_deposit"
	case JournalTypeCollateralRedeem:
		return "collateral_redeem"
	case JournalTypeCollateralSeize:
		return "collateral_seize"
	case JournalTypeDebtMint:
		return "debt_mint"
	case JournalTypeDebtBurn:
		return "debt_burn"
	case JournalTypeDebtRepay:
		return "debt_repay"
	default:
		return "unknown"
	}
}

// Direction of a journal entry relative to the account balance
type Direction int8

const (
	Increase Direction = 1
	Decrease Direction = -1
)

// Journal is a single position movement
type Journal struct {
	JournalID   uuid.UUID    // Unique identifier
	BatchID     uuid.UUID    // Groups the entries of one committed call
	EventRef    string       // Idempotency key of the source command
	Sequence    int64        // Global sequence of the committed call
	Account     AccountKey   // Position component moved
	Direction   Direction    // Increase or Decrease
	Amount      *uint256.Int // ALWAYS positive
	JournalType JournalType  // Entry type
	Timestamp   int64        // Versioned input timestamp (epoch microseconds)
}

// Batch represents the entries produced by one successful engine call
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has non-positive amount", j.JournalID)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.Direction != Increase && j.Direction != Decrease {
			return fmt.Errorf("journal %s has invalid direction %d", j.JournalID, j.Direction)
		}

		if j.Account.Kind == KindDebt && j.Account.Asset != (AccountKey{}).Asset {
			return fmt.Errorf("journal %s debt entry carries an asset", j.JournalID)
		}
	}

	return nil
}

// SignedAmount renders the entry amount with its direction, for logs and storage.
func (j Journal) SignedAmount() string {
	if j.Direction == Decrease {
		return "-" + j.Amount.Dec()
	}
	return j.Amount.Dec()
}
