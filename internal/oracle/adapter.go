package oracle

import (
	fpmath "SynthLedger/internal/math"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/holiman/uint256"
)

var (
	ErrStalePriceOrInvalidFeed = errors.New("oracle: stale price or invalid feed")
	ErrNoRound                 = errors.New("oracle: no round reported")
)

// Round is a single answer reported by a price feed.
type Round struct {
	RoundID   uint64
	Answer    *big.Int // signed, Decimals() places
	UpdatedAt time.Time
}

// Feed is the external price source for one collateral asset.
type Feed interface {
	LatestRound() (Round, error)
	Decimals() uint8
}

// Adapter wraps one Feed and turns its signed answer into an unsigned
// price at fpmath.FeedConfig precision.
type Adapter struct {
	feed   Feed
	maxAge time.Duration // 0 disables the staleness check
}

type AdapterOption func(*Adapter)

// WithMaxAge rejects rounds older than maxAge relative to the caller's clock.
func WithMaxAge(maxAge time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.maxAge = maxAge
	}
}

func NewAdapter(feed Feed, opts ...AdapterOption) *Adapter {
	a := &Adapter{feed: feed}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// LatestPrice returns the feed price and the precision it is expressed in.
// now is the versioned time of the calling operation, never wall-clock.
func (a *Adapter) LatestPrice(now time.Time) (*uint256.Int, uint8, error) {
	if a == nil || a.feed == nil {
		return nil, 0, ErrStalePriceOrInvalidFeed
	}
	round, err := a.feed.LatestRound()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrStalePriceOrInvalidFeed, err)
	}
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return nil, 0, ErrStalePriceOrInvalidFeed
	}
	if a.maxAge > 0 && !now.IsZero() && now.Sub(round.UpdatedAt) > a.maxAge {
		return nil, 0, fmt.Errorf("%w: round %d is %s old", ErrStalePriceOrInvalidFeed,
			round.RoundID, now.Sub(round.UpdatedAt))
	}
	price, err := fpmath.FromBig(round.Answer)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrStalePriceOrInvalidFeed, err)
	}
	return price, a.feed.Decimals(), nil
}

// Price returns the latest price rescaled to fpmath.FeedConfig precision.
func (a *Adapter) Price(now time.Time) (*uint256.Int, error) {
	price, decimals, err := a.LatestPrice(now)
	if err != nil {
		return nil, err
	}
	want := uint8(fpmath.FeedConfig.DecimalPrecision)
	switch {
	case decimals == want:
		return price, nil
	case decimals < want:
		scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(want-decimals)))
		return fpmath.Mul(price, scale)
	default:
		scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals-want)))
		price = new(uint256.Int).Div(price, scale)
		if price.IsZero() {
			return nil, ErrStalePriceOrInvalidFeed
		}
		return price, nil
	}
}
