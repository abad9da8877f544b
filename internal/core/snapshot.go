package core

import (
	"SynthLedger/internal/ledger"
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/token"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// StateSnapshot is the full in-memory state after the last applied command.
// Restoring it and replaying the event log from Sequence+1 rebuilds the core.
type StateSnapshot struct {
	Sequence        int64                    `json:"sequence"` // last applied, 0 when empty
	StateHash       string                   `json:"state_hash"`
	Positions       []ledger.BalanceSnapshot `json:"positions"`
	Tokens          map[string]token.State   `json:"tokens"` // token address -> state
	SyntheticOwner  string                   `json:"synthetic_owner"`
	Prices          []oracle.RoundSnapshot   `json:"prices"`
	IdempotencyKeys []string                 `json:"idempotency_keys"`
}

// CreateSnapshot captures the current state. Must run on the core goroutine.
func (c *DeterministicCore) CreateSnapshot() *StateSnapshot {
	hash := c.hasher.GetPrevHash()
	snap := &StateSnapshot{
		Sequence:        c.sequence - 1,
		StateHash:       hex.EncodeToString(hash[:]),
		Positions:       c.engine.Ledger().Export(),
		Tokens:          make(map[string]token.State, len(c.sys.Collateral)+1),
		SyntheticOwner:  c.sys.Synthetic.Owner().Hex(),
		Prices:          c.sys.Prices.Export(),
		IdempotencyKeys: c.idempotency.Keys(),
	}
	for addr, tok := range c.sys.Collateral {
		snap.Tokens[addr.Hex()] = tok.Export()
	}
	snap.Tokens[c.sys.Synthetic.Address().Hex()] = c.sys.Synthetic.Export()
	return snap
}

// RestoreSnapshot loads snap into an idle core. The token set must match
// the configured system.
func (c *DeterministicCore) RestoreSnapshot(snap *StateSnapshot) error {
	hashBytes, err := hex.DecodeString(snap.StateHash)
	if err != nil || len(hashBytes) != 32 {
		return fmt.Errorf("restore snapshot seq=%d: invalid state hash %q", snap.Sequence, snap.StateHash)
	}

	for addr := range snap.Tokens {
		if _, ok := c.sys.Token(common.HexToAddress(addr)); !ok {
			return fmt.Errorf("%w: snapshot token %s is not configured", ErrConfigurationMismatch, addr)
		}
	}
	if owner := common.HexToAddress(snap.SyntheticOwner); owner != c.sys.Synthetic.Owner() {
		return fmt.Errorf("%w: snapshot synthetic owner %s", ErrConfigurationMismatch, snap.SyntheticOwner)
	}

	if err := c.engine.Ledger().Import(snap.Positions); err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	for addr, state := range snap.Tokens {
		tok, _ := c.sys.Token(common.HexToAddress(addr))
		if err := tok.Import(state); err != nil {
			return fmt.Errorf("restore token %s: %w", addr, err)
		}
	}
	if err := c.sys.Prices.Import(snap.Prices); err != nil {
		return fmt.Errorf("restore prices: %w", err)
	}
	c.idempotency.Warm(snap.IdempotencyKeys)

	var hash [32]byte
	copy(hash[:], hashBytes)
	c.hasher.SetPrevHash(hash)
	c.sequence = snap.Sequence + 1
	c.published.Store(c.sequence)

	c.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("positions", len(snap.Positions)).
		Int("idempotency_keys", len(snap.IdempotencyKeys)).
		Msg("state restored from snapshot")
	return nil
}

// WarmLRU pre-loads idempotency keys from the persisted event log.
func (c *DeterministicCore) WarmLRU(commandType, idempotencyKey string) {
	c.idempotency.MarkProcessed(commandType, idempotencyKey)
}
