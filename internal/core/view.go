package core

import (
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// View is read-only access to core state handed to Query callbacks.
type View struct {
	core *DeterministicCore
}

// Sequence is the next sequence the core will assign.
func (v *View) Sequence() int64 {
	return v.core.sequence
}

func (v *View) StateHash() [32]byte {
	return v.core.hasher.GetPrevHash()
}

func (v *View) Position(account common.Address) (*state.Position, error) {
	return v.core.engine.Position(account)
}

func (v *View) HealthFactor(account common.Address) (*uint256.Int, error) {
	return v.core.engine.HealthFactor(account)
}

func (v *View) AccountInformation(account common.Address) (*uint256.Int, *uint256.Int, error) {
	return v.core.engine.AccountInformation(account)
}

func (v *View) UsdValue(asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	return v.core.engine.UsdValue(asset, amount)
}

func (v *View) TokenAmountFromUsd(asset common.Address, usd *uint256.Int) (*uint256.Int, error) {
	return v.core.engine.TokenAmountFromUsd(asset, usd)
}

func (v *View) CollateralTokens() []common.Address {
	return v.core.engine.CollateralTokens()
}

func (v *View) Parameters() Parameters {
	return v.core.engine.Parameters()
}

// Accounts lists every account holding collateral or debt.
func (v *View) Accounts() []common.Address {
	return v.core.engine.Ledger().Accounts()
}

// TokenBalance returns account's wallet balance of the token at address.
func (v *View) TokenBalance(address, account common.Address) (*uint256.Int, bool) {
	tok, ok := v.core.sys.Token(address)
	if !ok {
		return nil, false
	}
	return tok.BalanceOf(account), true
}

func (v *View) Allowance(address, owner, spender common.Address) (*uint256.Int, bool) {
	tok, ok := v.core.sys.Token(address)
	if !ok {
		return nil, false
	}
	return tok.Allowance(owner, spender), true
}

func (v *View) SyntheticSupply() *uint256.Int {
	return v.core.sys.Synthetic.TotalSupply()
}

func (v *View) LatestRound(asset common.Address) (oracle.Round, bool) {
	return v.core.sys.Prices.Latest(asset)
}

func (v *View) Symbol(address common.Address) string {
	return v.core.symbol(address)
}

// Snapshot captures the full state. Runs on the core goroutine when called
// from inside Query.
func (v *View) Snapshot() *StateSnapshot {
	return v.core.CreateSnapshot()
}

func (v *View) EngineAddress() common.Address {
	return v.core.engine.Address()
}

// Custody pairs each collateral asset's recorded deposits with the engine's
// token balance.
func (v *View) Custody() map[common.Address][2]*uint256.Int {
	totals := v.core.engine.Ledger().CollateralTotals()
	out := make(map[common.Address][2]*uint256.Int, len(v.core.sys.Collateral))
	for addr, tok := range v.core.sys.Collateral {
		deposits, ok := totals[addr]
		if !ok {
			deposits = new(uint256.Int)
		}
		out[addr] = [2]*uint256.Int{deposits, tok.BalanceOf(v.core.engine.Address())}
	}
	return out
}
