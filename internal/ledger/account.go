package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// EntryKind represents the position component an account key tracks
type EntryKind uint8

const (
	KindCollateral EntryKind = iota
	KindDebt
)

func (k EntryKind) String() string {
	switch k {
	case KindCollateral:
		return "collateral"
	case KindDebt:
		return "debt"
	default:
		return "unknown"
	}
}

// AccountKey is the in-memory key for position tracking.
// Debt keys carry the zero asset address.
type AccountKey struct {
	Account common.Address
	Kind    EntryKind
	Asset   common.Address
}

// CollateralKey creates a key for an account's deposit of one asset
func CollateralKey(account, asset common.Address) AccountKey {
	return AccountKey{
		Account: account,
		Kind:    KindCollateral,
		Asset:   asset,
	}
}

// DebtKey creates a key for an account's minted synthetic debt
func DebtKey(account common.Address) AccountKey {
	return AccountKey{
		Account: account,
		Kind:    KindDebt,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Kind {
	case KindCollateral:
		return fmt.Sprintf("account:%s:collateral:%s", k.Account.Hex(), k.Asset.Hex())
	case KindDebt:
		return fmt.Sprintf("account:%s:debt", k.Account.Hex())
	}
	return "unknown"
}
