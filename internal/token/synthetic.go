package token

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Synthetic is the pegged debt token. Only the owner may mint, and burning
// destroys the caller's own balance.
type Synthetic struct {
	*Fungible
	owner common.Address
}

func NewSynthetic(symbol string, address, owner common.Address) *Synthetic {
	return &Synthetic{
		Fungible: NewFungible(symbol, address),
		owner:    owner,
	}
}

func (s *Synthetic) Owner() common.Address {
	return s.owner
}

// TransferOwnership hands mint authority to newOwner. Only the current owner may call it.
func (s *Synthetic) TransferOwnership(caller, newOwner common.Address) error {
	if caller != s.owner {
		return ErrNotOwner
	}
	if newOwner == (common.Address{}) {
		return ErrZeroAddress
	}
	s.owner = newOwner
	return nil
}

// Bind returns a handle that acts as caller.
func (s *Synthetic) Bind(caller common.Address) *SyntheticHandle {
	return &SyntheticHandle{Handle: s.Fungible.Bind(caller), synth: s}
}

// SyntheticHandle adds owner-gated Mint and caller-scoped Burn to a Handle.
type SyntheticHandle struct {
	*Handle
	synth *Synthetic
}

func (h *SyntheticHandle) Mint(to common.Address, amount *uint256.Int) error {
	if h.caller != h.synth.owner {
		return fmt.Errorf("%w: mint by %s", ErrNotOwner, h.caller.Hex())
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("token: mint amount must be positive")
	}
	return h.synth.Credit(to, amount)
}

func (h *SyntheticHandle) Burn(amount *uint256.Int) error {
	if h.caller != h.synth.owner {
		return fmt.Errorf("%w: burn by %s", ErrNotOwner, h.caller.Hex())
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("token: burn amount must be positive")
	}
	return h.synth.Destroy(h.caller, amount)
}
