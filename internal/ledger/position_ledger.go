package ledger

import (
	fpmath "SynthLedger/internal/math"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientCollateral = errors.New("ledger: insufficient collateral")
	ErrInsufficientDebt       = errors.New("ledger: insufficient debt")
	ErrNonPositiveAmount      = errors.New("ledger: amount must be positive")
)

// PositionLedger maintains in-memory collateral and debt balances.
// Not thread-safe. The engine owns it and serializes all calls.
type PositionLedger struct {
	balances map[AccountKey]*uint256.Int

	// pending holds entries not yet handed to the caller; it doubles as the
	// undo log for RevertToSnapshot.
	pending []Journal
}

func NewPositionLedger() *PositionLedger {
	return &PositionLedger{
		balances: make(map[AccountKey]*uint256.Int),
	}
}

// GetBalance returns a copy of the balance for an account key
func (pl *PositionLedger) GetBalance(key AccountKey) *uint256.Int {
	return fpmath.Clone(pl.balances[key])
}

// Collateral returns the amount of asset deposited by account
func (pl *PositionLedger) Collateral(account, asset common.Address) *uint256.Int {
	return pl.GetBalance(CollateralKey(account, asset))
}

// Debt returns the synthetic amount minted by account
func (pl *PositionLedger) Debt(account common.Address) *uint256.Int {
	return pl.GetBalance(DebtKey(account))
}

func (pl *PositionLedger) AddCollateral(account, asset common.Address, amount *uint256.Int) error {
	return pl.apply(CollateralKey(account, asset), Increase, amount, JournalTypeCollateralDeposit)
}

// RemoveCollateral decreases a deposit; jt distinguishes redeem from seizure.
func (pl *PositionLedger) RemoveCollateral(account, asset common.Address, amount *uint256.Int, jt JournalType) error {
	return pl.apply(CollateralKey(account, asset), Decrease, amount, jt)
}

func (pl *PositionLedger) AddDebt(account common.Address, amount *uint256.Int) error {
	return pl.apply(DebtKey(account), Increase, amount, JournalTypeDebtMint)
}

// RemoveDebt decreases minted debt; jt distinguishes burn from liquidation repayment.
func (pl *PositionLedger) RemoveDebt(account common.Address, amount *uint256.Int, jt JournalType) error {
	return pl.apply(DebtKey(account), Decrease, amount, jt)
}

func (pl *PositionLedger) apply(key AccountKey, dir Direction, amount *uint256.Int, jt JournalType) error {
	if amount == nil || amount.IsZero() {
		return ErrNonPositiveAmount
	}

	current := pl.GetBalance(key)
	var next *uint256.Int
	switch dir {
	case Increase:
		sum, err := fpmath.Add(current, amount)
		if err != nil {
			return fmt.Errorf("%s: %w", key.AccountPath(), err)
		}
		next = sum
	case Decrease:
		diff, ok := fpmath.Sub(current, amount)
		if !ok {
			if key.Kind == KindDebt {
				return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientDebt, key.AccountPath(), current.Dec(), amount.Dec())
			}
			return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientCollateral, key.AccountPath(), current.Dec(), amount.Dec())
		}
		next = diff
	}

	pl.store(key, next)
	pl.pending = append(pl.pending, Journal{
		JournalID:   uuid.New(),
		Account:     key,
		Direction:   dir,
		Amount:      fpmath.Clone(amount),
		JournalType: jt,
	})
	return nil
}

func (pl *PositionLedger) store(key AccountKey, v *uint256.Int) {
	if v.IsZero() {
		delete(pl.balances, key)
		return
	}
	pl.balances[key] = v
}

// Snapshot returns a revision id for RevertToSnapshot.
func (pl *PositionLedger) Snapshot() int {
	return len(pl.pending)
}

// RevertToSnapshot undoes every entry recorded after the given revision.
func (pl *PositionLedger) RevertToSnapshot(id int) {
	for i := len(pl.pending) - 1; i >= id; i-- {
		j := pl.pending[i]
		current := pl.GetBalance(j.Account)
		if j.Direction == Increase {
			current.Sub(current, j.Amount)
		} else {
			current.Add(current, j.Amount)
		}
		pl.store(j.Account, current)
	}
	pl.pending = pl.pending[:id]
}

// TakePending hands over the entries recorded since the last call and
// clears the undo log.
func (pl *PositionLedger) TakePending() []Journal {
	out := pl.pending
	pl.pending = nil
	return out
}

// NewBatch stamps journals with a batch id and the committing call's metadata.
func NewBatch(journals []Journal, eventRef string, sequence, timestamp int64) *Batch {
	batch := &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, len(journals)),
	}
	for i, j := range journals {
		j.BatchID = batch.BatchID
		j.EventRef = eventRef
		j.Sequence = sequence
		j.Timestamp = timestamp
		batch.Journals[i] = j
	}
	return batch
}

// CollateralTotals sums deposits per asset
func (pl *PositionLedger) CollateralTotals() map[common.Address]*uint256.Int {
	totals := make(map[common.Address]*uint256.Int)
	for key, balance := range pl.balances {
		if key.Kind != KindCollateral {
			continue
		}
		if totals[key.Asset] == nil {
			totals[key.Asset] = new(uint256.Int)
		}
		totals[key.Asset].Add(totals[key.Asset], balance)
	}
	return totals
}

// Accounts returns every account holding collateral or debt, sorted.
func (pl *PositionLedger) Accounts() []common.Address {
	seen := make(map[common.Address]struct{})
	for key := range pl.balances {
		seen[key.Account] = struct{}{}
	}
	out := make([]common.Address, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}

// BalanceSnapshot is a serializable balance for state snapshots
type BalanceSnapshot struct {
	Account string `json:"account"`
	Kind    uint8  `json:"kind"`
	Asset   string `json:"asset,omitempty"`
	Amount  string `json:"amount"`
}

// Export returns all non-zero balances ordered by account path
func (pl *PositionLedger) Export() []BalanceSnapshot {
	keys := make([]AccountKey, 0, len(pl.balances))
	for k := range pl.balances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})

	out := make([]BalanceSnapshot, 0, len(keys))
	for _, k := range keys {
		s := BalanceSnapshot{
			Account: k.Account.Hex(),
			Kind:    uint8(k.Kind),
			Amount:  pl.balances[k].Dec(),
		}
		if k.Kind == KindCollateral {
			s.Asset = k.Asset.Hex()
		}
		out = append(out, s)
	}
	return out
}

// Import replaces all balances. Pending entries are discarded.
func (pl *PositionLedger) Import(snapshot []BalanceSnapshot) error {
	balances := make(map[AccountKey]*uint256.Int, len(snapshot))
	for _, s := range snapshot {
		amount, err := fpmath.ParseAmount(s.Amount)
		if err != nil {
			return fmt.Errorf("import %s: %w", s.Account, err)
		}
		key := AccountKey{Account: common.HexToAddress(s.Account), Kind: EntryKind(s.Kind)}
		if key.Kind == KindCollateral {
			key.Asset = common.HexToAddress(s.Asset)
		}
		if !amount.IsZero() {
			balances[key] = amount
		}
	}
	pl.balances = balances
	pl.pending = nil
	return nil
}
