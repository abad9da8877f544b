package token

import (
	fpmath "SynthLedger/internal/math"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrNotOwner              = errors.New("token: caller is not the owner")
	ErrSupplyUnderflow       = errors.New("token: total supply below balance")
)

// Hook runs inside a transfer, after balances moved. A non-nil error fails
// the transfer. Tests use it to model hostile token contracts.
type Hook func(from, to common.Address, amount *uint256.Int) error

// unlimited is the allowance that transferFrom never decreases.
var unlimited = new(uint256.Int).SetAllOne()

type allowanceKey struct {
	owner, spender common.Address
}

type undoEntry struct {
	apply func()
}

// Fungible is an in-memory fungible asset with balances and allowances.
// Not thread-safe: accessed only from the sequencer goroutine.
type Fungible struct {
	symbol      string
	address     common.Address
	balances    map[common.Address]*uint256.Int
	allowances  map[allowanceKey]*uint256.Int
	totalSupply *uint256.Int
	hook        Hook
	journal     []undoEntry
}

func NewFungible(symbol string, address common.Address) *Fungible {
	return &Fungible{
		symbol:      symbol,
		address:     address,
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[allowanceKey]*uint256.Int),
		totalSupply: new(uint256.Int),
	}
}

func (f *Fungible) Symbol() string          { return f.symbol }
func (f *Fungible) Address() common.Address { return f.address }

// SetHook installs a transfer hook; nil removes it.
func (f *Fungible) SetHook(h Hook) {
	f.hook = h
}

func (f *Fungible) BalanceOf(account common.Address) *uint256.Int {
	return fpmath.Clone(f.balances[account])
}

func (f *Fungible) Allowance(owner, spender common.Address) *uint256.Int {
	return fpmath.Clone(f.allowances[allowanceKey{owner, spender}])
}

func (f *Fungible) TotalSupply() *uint256.Int {
	return fpmath.Clone(f.totalSupply)
}

// Credit creates amount out of thin air for account. It models assets
// bridged in from outside the ledger.
func (f *Fungible) Credit(account common.Address, amount *uint256.Int) error {
	if account == (common.Address{}) {
		return ErrZeroAddress
	}
	supply, err := fpmath.Add(f.totalSupply, amount)
	if err != nil {
		return err
	}
	bal, err := fpmath.Add(f.BalanceOf(account), amount)
	if err != nil {
		return err
	}
	f.setSupply(supply)
	f.setBalance(account, bal)
	return nil
}

// Destroy removes amount from account and from the total supply.
func (f *Fungible) Destroy(account common.Address, amount *uint256.Int) error {
	bal, ok := fpmath.Sub(f.BalanceOf(account), amount)
	if !ok {
		return fmt.Errorf("%w: %s burn %s", ErrInsufficientBalance, account.Hex(), amount.Dec())
	}
	supply, ok := fpmath.Sub(f.totalSupply, amount)
	if !ok {
		return fmt.Errorf("%w: %s supply %s, burn %s", ErrSupplyUnderflow, f.symbol, f.totalSupply.Dec(), amount.Dec())
	}
	f.setBalance(account, bal)
	f.setSupply(supply)
	return nil
}

func (f *Fungible) transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	fromBal, ok := fpmath.Sub(f.BalanceOf(from), amount)
	if !ok {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, from.Hex(), f.BalanceOf(from).Dec(), amount.Dec())
	}
	f.setBalance(from, fromBal)
	toBal, err := fpmath.Add(f.BalanceOf(to), amount)
	if err != nil {
		return err
	}
	f.setBalance(to, toBal)

	if f.hook != nil {
		return f.hook(from, to, amount)
	}
	return nil
}

func (f *Fungible) approve(owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return ErrZeroAddress
	}
	f.setAllowance(allowanceKey{owner, spender}, fpmath.Clone(amount))
	return nil
}

func (f *Fungible) transferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	key := allowanceKey{from, spender}
	current := f.Allowance(from, spender)
	if !current.Eq(unlimited) {
		rest, ok := fpmath.Sub(current, amount)
		if !ok {
			return fmt.Errorf("%w: %s allows %s %s, need %s", ErrInsufficientAllowance, from.Hex(), spender.Hex(), current.Dec(), amount.Dec())
		}
		f.setAllowance(key, rest)
	}
	return f.transfer(from, to, amount)
}

func (f *Fungible) setBalance(account common.Address, v *uint256.Int) {
	prev, had := f.balances[account]
	f.journal = append(f.journal, undoEntry{apply: func() {
		if had {
			f.balances[account] = prev
		} else {
			delete(f.balances, account)
		}
	}})
	if v.IsZero() {
		delete(f.balances, account)
	} else {
		f.balances[account] = v
	}
}

func (f *Fungible) setAllowance(key allowanceKey, v *uint256.Int) {
	prev, had := f.allowances[key]
	f.journal = append(f.journal, undoEntry{apply: func() {
		if had {
			f.allowances[key] = prev
		} else {
			delete(f.allowances, key)
		}
	}})
	if v.IsZero() {
		delete(f.allowances, key)
	} else {
		f.allowances[key] = v
	}
}

func (f *Fungible) setSupply(v *uint256.Int) {
	prev := f.totalSupply
	f.journal = append(f.journal, undoEntry{apply: func() { f.totalSupply = prev }})
	f.totalSupply = v
}

// Snapshot returns a revision id for RevertToSnapshot.
func (f *Fungible) Snapshot() int {
	return len(f.journal)
}

// RevertToSnapshot undoes every change made after the given revision.
func (f *Fungible) RevertToSnapshot(id int) {
	for i := len(f.journal) - 1; i >= id; i-- {
		f.journal[i].apply()
	}
	f.journal = f.journal[:id]
}

// Commit drops the undo log. Revisions taken before Commit become invalid.
func (f *Fungible) Commit() {
	f.journal = f.journal[:0]
}

// Bind returns a handle that acts as caller.
func (f *Fungible) Bind(caller common.Address) *Handle {
	return &Handle{token: f, caller: caller}
}

// Handle is a Fungible seen from one caller, the implicit sender of every
// state-changing call.
type Handle struct {
	token  *Fungible
	caller common.Address
}

func (h *Handle) Transfer(to common.Address, amount *uint256.Int) error {
	return h.token.transfer(h.caller, to, amount)
}

func (h *Handle) TransferFrom(from, to common.Address, amount *uint256.Int) error {
	return h.token.transferFrom(h.caller, from, to, amount)
}

func (h *Handle) Approve(spender common.Address, amount *uint256.Int) error {
	return h.token.approve(h.caller, spender, amount)
}

func (h *Handle) BalanceOf(account common.Address) *uint256.Int {
	return h.token.BalanceOf(account)
}

// BalanceSnapshot is a serializable balance or allowance.
type BalanceSnapshot struct {
	Account string `json:"account"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

// State is the serializable contents of a Fungible.
type State struct {
	Balances   []BalanceSnapshot `json:"balances"`
	Allowances []BalanceSnapshot `json:"allowances,omitempty"`
}

// Export returns balances and allowances ordered by account.
func (f *Fungible) Export() State {
	var s State
	for a, v := range f.balances {
		s.Balances = append(s.Balances, BalanceSnapshot{Account: a.Hex(), Amount: v.Dec()})
	}
	for k, v := range f.allowances {
		s.Allowances = append(s.Allowances, BalanceSnapshot{Account: k.owner.Hex(), Spender: k.spender.Hex(), Amount: v.Dec()})
	}
	sort.Slice(s.Balances, func(i, j int) bool { return s.Balances[i].Account < s.Balances[j].Account })
	sort.Slice(s.Allowances, func(i, j int) bool {
		if s.Allowances[i].Account != s.Allowances[j].Account {
			return s.Allowances[i].Account < s.Allowances[j].Account
		}
		return s.Allowances[i].Spender < s.Allowances[j].Spender
	})
	return s
}

// Import replaces all balances and allowances and recomputes total supply.
func (f *Fungible) Import(s State) error {
	balances := make(map[common.Address]*uint256.Int, len(s.Balances))
	supply := new(uint256.Int)
	for _, b := range s.Balances {
		v, err := fpmath.ParseAmount(b.Amount)
		if err != nil {
			return fmt.Errorf("import %s balance %s: %w", f.symbol, b.Account, err)
		}
		if supply, err = fpmath.Add(supply, v); err != nil {
			return err
		}
		if !v.IsZero() {
			balances[common.HexToAddress(b.Account)] = v
		}
	}
	allowances := make(map[allowanceKey]*uint256.Int, len(s.Allowances))
	for _, a := range s.Allowances {
		v, err := fpmath.ParseAmount(a.Amount)
		if err != nil {
			return fmt.Errorf("import %s allowance %s: %w", f.symbol, a.Account, err)
		}
		if !v.IsZero() {
			allowances[allowanceKey{common.HexToAddress(a.Account), common.HexToAddress(a.Spender)}] = v
		}
	}
	f.balances = balances
	f.allowances = allowances
	f.totalSupply = supply
	f.journal = nil
	return nil
}
