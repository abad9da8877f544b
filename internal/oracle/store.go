package oracle

import (
	fpmath "SynthLedger/internal/math"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Store keeps the latest reported round per asset. It is the in-process
// landing point for price updates arriving over NATS or gRPC; each asset's
// Feed view reads from it.
// Round IDs must increase per asset; gaps are tolerated.
type Store struct {
	mu       sync.RWMutex
	rounds   map[common.Address]Round
	decimals uint8
}

func NewStore() *Store {
	return &Store{
		rounds:   make(map[common.Address]Round),
		decimals: uint8(fpmath.FeedConfig.DecimalPrecision),
	}
}

// Update records a new round for asset.
func (s *Store) Update(asset common.Address, round Round) error {
	if round.Answer == nil {
		return fmt.Errorf("price update for %s: missing answer", asset.Hex())
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.rounds[asset]; ok && round.RoundID <= prev.RoundID {
		return fmt.Errorf("stale round for %s: last=%d, got=%d", asset.Hex(), prev.RoundID, round.RoundID)
	}
	s.rounds[asset] = Round{
		RoundID:   round.RoundID,
		Answer:    new(big.Int).Set(round.Answer),
		UpdatedAt: round.UpdatedAt,
	}
	return nil
}

// Latest returns the last round for asset.
func (s *Store) Latest(asset common.Address) (Round, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rounds[asset]
	if !ok {
		return Round{}, false
	}
	return Round{RoundID: r.RoundID, Answer: new(big.Int).Set(r.Answer), UpdatedAt: r.UpdatedAt}, true
}

// Feed returns a Feed bound to one asset.
func (s *Store) Feed(asset common.Address) Feed {
	return &storeFeed{store: s, asset: asset}
}

// RoundSnapshot is a serializable round for state snapshots.
type RoundSnapshot struct {
	Asset     string `json:"asset"`
	RoundID   uint64 `json:"round_id"`
	Answer    string `json:"answer"`
	UpdatedAt int64  `json:"updated_at_us"`
}

// Export returns all rounds ordered by asset.
func (s *Store) Export() []RoundSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RoundSnapshot, 0, len(s.rounds))
	for asset, r := range s.rounds {
		out = append(out, RoundSnapshot{
			Asset:     asset.Hex(),
			RoundID:   r.RoundID,
			Answer:    r.Answer.String(),
			UpdatedAt: r.UpdatedAt.UnixMicro(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Import replaces the store contents with a previously exported set.
func (s *Store) Import(rounds []RoundSnapshot) error {
	next := make(map[common.Address]Round, len(rounds))
	for _, r := range rounds {
		answer, ok := new(big.Int).SetString(r.Answer, 10)
		if !ok {
			return fmt.Errorf("import round for %s: invalid answer %q", r.Asset, r.Answer)
		}
		next[common.HexToAddress(r.Asset)] = Round{
			RoundID:   r.RoundID,
			Answer:    answer,
			UpdatedAt: time.UnixMicro(r.UpdatedAt),
		}
	}
	s.mu.Lock()
	s.rounds = next
	s.mu.Unlock()
	return nil
}

type storeFeed struct {
	store *Store
	asset common.Address
}

func (f *storeFeed) LatestRound() (Round, error) {
	r, ok := f.store.Latest(f.asset)
	if !ok {
		return Round{}, ErrNoRound
	}
	return r, nil
}

func (f *storeFeed) Decimals() uint8 {
	return f.store.decimals
}

// StaticFeed reports a fixed answer until changed. Used for local runs and tests.
type StaticFeed struct {
	mu       sync.Mutex
	round    Round
	decimals uint8
	err      error
}

func NewStaticFeed(answer int64, decimals uint8) *StaticFeed {
	return &StaticFeed{
		round:    Round{RoundID: 1, Answer: big.NewInt(answer)},
		decimals: decimals,
	}
}

// SetAnswer publishes a new round with the given answer.
func (f *StaticFeed) SetAnswer(answer int64, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.round = Round{RoundID: f.round.RoundID + 1, Answer: big.NewInt(answer), UpdatedAt: updatedAt}
}

// SetError makes LatestRound fail until cleared with nil.
func (f *StaticFeed) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *StaticFeed) LatestRound() (Round, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Round{}, f.err
	}
	return Round{RoundID: f.round.RoundID, Answer: new(big.Int).Set(f.round.Answer), UpdatedAt: f.round.UpdatedAt}, nil
}

func (f *StaticFeed) Decimals() uint8 {
	return f.decimals
}
