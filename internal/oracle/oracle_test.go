package oracle_test

import (
	"SynthLedger/internal/oracle"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	weth = common.HexToAddress("0x000000000000000000000000000000000000e7e1")
	t0   = time.Unix(1_700_000_000, 0)
)

// ============================================================================
// Test: Adapter
// ============================================================================

func TestAdapter_RejectsNonPositive(t *testing.T) {
	feed := oracle.NewStaticFeed(0, 8)
	_, err := oracle.NewAdapter(feed).Price(t0)
	assert.ErrorIs(t, err, oracle.ErrStalePriceOrInvalidFeed)

	feed.SetAnswer(-5, t0)
	_, err = oracle.NewAdapter(feed).Price(t0)
	assert.ErrorIs(t, err, oracle.ErrStalePriceOrInvalidFeed)
}

func TestAdapter_FeedErrorWrapped(t *testing.T) {
	feed := oracle.NewStaticFeed(1, 8)
	feed.SetError(assert.AnError)
	_, err := oracle.NewAdapter(feed).Price(t0)
	assert.ErrorIs(t, err, oracle.ErrStalePriceOrInvalidFeed)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAdapter_Staleness(t *testing.T) {
	feed := oracle.NewStaticFeed(1, 8)
	feed.SetAnswer(2000_00000000, t0)
	a := oracle.NewAdapter(feed, oracle.WithMaxAge(time.Hour))

	_, err := a.Price(t0.Add(30 * time.Minute))
	assert.NoError(t, err)

	_, err = a.Price(t0.Add(2 * time.Hour))
	assert.ErrorIs(t, err, oracle.ErrStalePriceOrInvalidFeed)
}

func TestAdapter_StalenessDisabledByDefault(t *testing.T) {
	feed := oracle.NewStaticFeed(1, 8)
	feed.SetAnswer(2000_00000000, t0)
	_, err := oracle.NewAdapter(feed).Price(t0.Add(1000 * time.Hour))
	assert.NoError(t, err)
}

func TestAdapter_RescalesDecimals(t *testing.T) {
	p, err := oracle.NewAdapter(oracle.NewStaticFeed(2000_000000, 6)).Price(t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000_00000000), p.Uint64())

	p, err = oracle.NewAdapter(oracle.NewStaticFeed(2000_0000000000, 10)).Price(t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000_00000000), p.Uint64())

	// sub-precision answers vanish after rescaling
	_, err = oracle.NewAdapter(oracle.NewStaticFeed(99, 10)).Price(t0)
	assert.ErrorIs(t, err, oracle.ErrStalePriceOrInvalidFeed)
}

func TestAdapter_LatestPriceKeepsFeedPrecision(t *testing.T) {
	p, dec, err := oracle.NewAdapter(oracle.NewStaticFeed(2000_000000, 6)).LatestPrice(t0)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), dec)
	assert.Equal(t, uint64(2000_000000), p.Uint64())
}

// ============================================================================
// Test: Store
// ============================================================================

func TestStore_RoundsMustIncrease(t *testing.T) {
	s := oracle.NewStore()
	require.NoError(t, s.Update(weth, oracle.Round{RoundID: 5, Answer: big.NewInt(1), UpdatedAt: t0}))
	assert.Error(t, s.Update(weth, oracle.Round{RoundID: 5, Answer: big.NewInt(2), UpdatedAt: t0}))
	assert.Error(t, s.Update(weth, oracle.Round{RoundID: 4, Answer: big.NewInt(2), UpdatedAt: t0}))
	// gaps are fine
	require.NoError(t, s.Update(weth, oracle.Round{RoundID: 9, Answer: big.NewInt(3), UpdatedAt: t0}))

	r, ok := s.Latest(weth)
	require.True(t, ok)
	assert.Equal(t, uint64(9), r.RoundID)
}

func TestStore_FeedWithoutRound(t *testing.T) {
	s := oracle.NewStore()
	_, err := oracle.NewAdapter(s.Feed(weth)).Price(t0)
	assert.ErrorIs(t, err, oracle.ErrStalePriceOrInvalidFeed)
	assert.ErrorIs(t, err, oracle.ErrNoRound)
}

func TestStore_ExportImport(t *testing.T) {
	s := oracle.NewStore()
	require.NoError(t, s.Update(weth, oracle.Round{RoundID: 3, Answer: big.NewInt(2000_00000000), UpdatedAt: t0}))

	restored := oracle.NewStore()
	require.NoError(t, restored.Import(s.Export()))
	assert.Equal(t, s.Export(), restored.Export())

	p, err := oracle.NewAdapter(restored.Feed(weth)).Price(t0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000_00000000), p.Uint64())
}
