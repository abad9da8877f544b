package core_test

import (
	"SynthLedger/internal/core"
	"SynthLedger/internal/event"
	"SynthLedger/internal/ledger"
	fpmath "SynthLedger/internal/math"
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/state"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000e4914")
	synthAddr  = common.HexToAddress("0x0000000000000000000000000000000000005d5c")
	weth       = common.HexToAddress("0x000000000000000000000000000000000000e7e1")
	wbtc       = common.HexToAddress("0x000000000000000000000000000000000000b7c1")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	unlisted   = common.HexToAddress("0x000000000000000000000000000000000000dead")
	t0         = time.Unix(1_700_000_000, 0).UTC()
)

// tokens returns n whole units at 18 decimals.
func tokens(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(fpmath.Precision))
}

func mustDec(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	require.NoError(t, err)
	return v
}

type testEnv struct {
	sys     *core.System
	eng     *core.IssuanceEngine
	ethFeed *oracle.StaticFeed
	btcFeed *oracle.StaticFeed
}

func newTestEnv(t *testing.T, maxAge time.Duration) *testEnv {
	t.Helper()
	env := &testEnv{
		ethFeed: oracle.NewStaticFeed(2000_00000000, 8),
		btcFeed: oracle.NewStaticFeed(30000_00000000, 8),
	}
	sys, err := core.NewSystem(core.SystemConfig{
		EngineAddress:    engineAddr,
		SyntheticAddress: synthAddr,
		SyntheticSymbol:  "sUSD",
		Assets: []core.AssetSpec{
			{Symbol: "WETH", Address: weth, Feed: env.ethFeed},
			{Symbol: "WBTC", Address: wbtc, Feed: env.btcFeed},
		},
		MaxPriceAge: maxAge,
	}, zerolog.Nop())
	require.NoError(t, err)
	env.sys = sys
	env.eng = sys.Engine
	return env
}

// fund credits account with amount of asset and approves the engine for
// both the asset and the synthetic.
func (e *testEnv) fund(t *testing.T, account, asset common.Address, amount *uint256.Int) {
	t.Helper()
	unlimited := new(uint256.Int).SetAllOne()
	tok := e.sys.Collateral[asset]
	require.NoError(t, tok.Credit(account, amount))
	require.NoError(t, tok.Bind(account).Approve(engineAddr, unlimited))
	require.NoError(t, e.sys.Synthetic.Bind(account).Approve(engineAddr, unlimited))
}

// openPosition deposits collateral ETH and mints debt for account.
func (e *testEnv) openPosition(t *testing.T, account common.Address, collateral, debt *uint256.Int) {
	t.Helper()
	e.fund(t, account, weth, collateral)
	require.NoError(t, e.eng.DepositAndMint(account, weth, collateral, debt))
	e.eng.Drain()
}

func (e *testEnv) healthFactor(t *testing.T, account common.Address) *uint256.Int {
	t.Helper()
	hf, err := e.eng.HealthFactor(account)
	require.NoError(t, err)
	return hf
}

// assertCustody checks that engine custody equals the ledger's collateral
// totals and that synthetic supply equals total debt.
func (e *testEnv) assertCustody(t *testing.T) {
	t.Helper()
	v := ledger.NewInvariantValidator(e.eng.Ledger())
	for _, asset := range e.eng.CollateralTokens() {
		assert.NoError(t, v.ValidateCustody(asset, e.sys.Collateral[asset].BalanceOf(engineAddr)))
	}
	assert.NoError(t, v.ValidateSupply(e.sys.Synthetic.TotalSupply()))
}

// ============================================================================
// Test: Configuration
// ============================================================================

func TestNewSystem_ZeroSyntheticAddress(t *testing.T) {
	_, err := core.NewSystem(core.SystemConfig{EngineAddress: engineAddr}, zerolog.Nop())
	assert.ErrorIs(t, err, core.ErrConfigurationMismatch)
}

func TestNewSystem_DuplicateAsset(t *testing.T) {
	feed := oracle.NewStaticFeed(1, 8)
	_, err := core.NewSystem(core.SystemConfig{
		EngineAddress:    engineAddr,
		SyntheticAddress: synthAddr,
		Assets: []core.AssetSpec{
			{Symbol: "WETH", Address: weth, Feed: feed},
			{Symbol: "WETH2", Address: weth, Feed: feed},
		},
	}, zerolog.Nop())
	assert.ErrorIs(t, err, core.ErrConfigurationMismatch)
}

func TestNewIssuanceEngine_NilSynthetic(t *testing.T) {
	_, err := core.NewIssuanceEngine(core.Config{
		Address:    engineAddr,
		Assets:     []common.Address{weth},
		PriceFeeds: []*oracle.Adapter{oracle.NewAdapter(oracle.NewStaticFeed(1, 8))},
	})
	assert.ErrorIs(t, err, core.ErrConfigurationMismatch)
}

// ============================================================================
// Test: Deposit
// ============================================================================

func TestDeposit_CreditsPositionAndCustody(t *testing.T) {
	env := newTestEnv(t, 0)
	env.fund(t, alice, weth, tokens(10))

	require.NoError(t, env.eng.DepositCollateral(alice, weth, tokens(10)))

	assert.True(t, env.eng.CollateralBalance(alice, weth).Eq(tokens(10)))
	assert.True(t, env.sys.Collateral[weth].BalanceOf(engineAddr).Eq(tokens(10)))
	assert.True(t, env.sys.Collateral[weth].BalanceOf(alice).IsZero())

	receipt := env.eng.Drain()
	require.Len(t, receipt.Events, 1)
	deposited, ok := receipt.Events[0].(*event.CollateralDeposited)
	require.True(t, ok)
	assert.Equal(t, alice, deposited.Account)
	assert.Equal(t, weth, deposited.Asset)
	assert.True(t, deposited.Amount.Eq(tokens(10)))

	require.Len(t, receipt.Journals, 1)
	assert.Equal(t, ledger.JournalTypeCollateralDeposit, receipt.Journals[0].JournalType)
	assert.Equal(t, ledger.Increase, receipt.Journals[0].Direction)
	env.assertCustody(t)
}

func TestDeposit_ZeroAmount(t *testing.T) {
	env := newTestEnv(t, 0)
	err := env.eng.DepositCollateral(alice, weth, new(uint256.Int))
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	err = env.eng.DepositCollateral(alice, weth, nil)
	assert.ErrorIs(t, err, core.ErrInvalidAmount)
}

func TestDeposit_UnapprovedAsset(t *testing.T) {
	env := newTestEnv(t, 0)
	err := env.eng.DepositCollateral(alice, unlisted, tokens(1))
	assert.ErrorIs(t, err, core.ErrAssetNotApproved)
}

func TestDeposit_TransferFailureRevertsEverything(t *testing.T) {
	env := newTestEnv(t, 0)
	// Balance but no allowance
	require.NoError(t, env.sys.Collateral[weth].Credit(alice, tokens(10)))

	err := env.eng.DepositCollateral(alice, weth, tokens(10))
	assert.ErrorIs(t, err, core.ErrTransferFailed)

	assert.True(t, env.eng.CollateralBalance(alice, weth).IsZero())
	assert.True(t, env.sys.Collateral[weth].BalanceOf(alice).Eq(tokens(10)))
	receipt := env.eng.Drain()
	assert.Empty(t, receipt.Events)
	assert.Empty(t, receipt.Journals)
}

// ============================================================================
// Test: Mint
// ============================================================================

func TestMint_HealthFactorAfterMint(t *testing.T) {
	env := newTestEnv(t, 0)
	env.openPosition(t, alice, tokens(10), tokens(8000))

	assert.Equal(t, "1250000000000000000", env.healthFactor(t, alice).Dec())
	assert.True(t, env.sys.Synthetic.BalanceOf(alice).Eq(tokens(8000)))
	assert.True(t, env.eng.Debt(alice).Eq(tokens(8000)))
	env.assertCustody(t)
}

func TestMint_ExactlyAtMinimumHealthFactor(t *testing.T) {
	env := newTestEnv(t, 0)
	env.openPosition(t, alice, tokens(10), tokens(10000))
	assert.True(t, env.healthFactor(t, alice).Eq(fpmath.MinHealthFactor()))
}

func TestMint_OneWeiOverLimitBreaksHealthFactor(t *testing.T) {
	env := newTestEnv(t, 0)
	env.fund(t, alice, weth, tokens(10))
	require.NoError(t, env.eng.DepositCollateral(alice, weth, tokens(10)))
	env.eng.Drain()

	over := new(uint256.Int).AddUint64(tokens(10000), 1)
	err := env.eng.Mint(alice, over)
	require.ErrorIs(t, err, core.ErrHealthFactorBroken)

	var broken *core.HealthFactorBrokenError
	require.True(t, errors.As(err, &broken))
	assert.Equal(t, alice, broken.Account)
	assert.True(t, broken.Value.Lt(fpmath.MinHealthFactor()))

	assert.True(t, env.eng.Debt(alice).IsZero())
	assert.True(t, env.sys.Synthetic.TotalSupply().IsZero())
	assert.Empty(t, env.eng.Drain().Events)
}

func TestMint_WithoutCollateral(t *testing.T) {
	env := newTestEnv(t, 0)
	err := env.eng.Mint(alice, tokens(1))
	assert.ErrorIs(t, err, core.ErrHealthFactorBroken)
}

func TestMint_ZeroAmount(t *testing.T) {
	env := newTestEnv(t, 0)
	assert.ErrorIs(t, env.eng.Mint(alice, new(uint256.Int)), core.ErrInvalidAmount)
}

func TestMint_MultipleAssetsCountTowardCollateral(t *testing.T) {
	env := newTestEnv(t, 0)
	env.fund(t, alice, weth, tokens(10))
	env.fund(t, alice, wbtc, tokens(1))
	require.NoError(t, env.eng.DepositCollateral(alice, weth, tokens(10)))
	require.NoError(t, env.eng.DepositCollateral(alice, wbtc, tokens(1)))

	value, err := env.eng.AccountCollateralValue(alice)
	require.NoError(t, err)
	assert.True(t, value.Eq(tokens(50000)))

	require.NoError(t, env.eng.Mint(alice, tokens(25000)))
	assert.True(t, env.healthFactor(t, alice).Eq(fpmath.MinHealthFactor()))
}

func TestDepositAndMint_MintFailureRevertsDeposit(t *testing.T) {
	env := newTestEnv(t, 0)
	env.fund(t, alice, weth, tokens(10))

	err := env.eng.DepositAndMint(alice, weth, tokens(10), tokens(10001))
	assert.ErrorIs(t, err, core.ErrHealthFactorBroken)

	assert.True(t, env.eng.CollateralBalance(alice, weth).IsZero())
	assert.True(t, env.sys.Collateral[weth].BalanceOf(alice).Eq(tokens(10)))
	assert.True(t, env.sys.Collateral[weth].BalanceOf(engineAddr).IsZero())
	receipt := env.eng.Drain()
	assert.Empty(t, receipt.Events)
	assert.Empty(t, receipt.Journals)
}

// ============================================================================
// Test: Redeem and Burn
// ============================================================================

func TestRedeem_WithoutDebt(t *testing.T) {
	env := newTestEnv(t, 0)
	env.fund(t, alice, weth, tokens(10))
	require.NoError(t, env.eng.DepositCollateral(alice, weth, tokens(10)))

	require.NoError(t, env.eng.RedeemCollateral(alice, weth, tokens(10)))
	assert.True(t, env.eng.CollateralBalance(alice, weth).IsZero())
	assert.True(t, env.sys.Collateral[weth].BalanceOf(alice).Eq(tokens(10)))
	env.assertCustody(t)
}

func TestRedeem_HealthFactorLimit(t *testing.T) {
	env := newTestEnv(t, 0)
	env.openPosition(t, alice, tokens(10), tokens(8000))

	// 8 ETH * $2000 * 50% = 8000 covers 8000 debt exactly
	require.NoError(t, env.eng.RedeemCollateral(alice, weth, tokens(2)))
	assert.True(t, env.healthFactor(t, alice).Eq(fpmath.MinHealthFactor()))

	err := env.eng.RedeemCollateral(alice, weth, uint256.NewInt(1))
	assert.ErrorIs(t, err, core.ErrHealthFactorBroken)
	assert.True(t, env.eng.CollateralBalance(alice, weth).Eq(tokens(8)))
}

func TestRedeem_MoreThanDeposited(t *testing.T) {
	env := newTestEnv(t, 0)
	env.fund(t, alice, weth, tokens(1))
	require.NoError(t, env.eng.DepositCollateral(alice, weth, tokens(1)))

	err := env.eng.RedeemCollateral(alice, weth, tokens(2))
	assert.ErrorIs(t, err, core.ErrInsufficientCollateral)
}

func TestBurn_ReducesDebtAndSupply(t *testing.T) {
	env := newTestEnv(t, 0)
	env.openPosition(t, alice, tokens(10), tokens(8000))

	require.NoError(t, env.eng.Burn(alice, tokens(3000)))
	assert.True(t, env.eng.Debt(alice).Eq(tokens(5000)))
	assert.True(t, env.sys.Synthetic.BalanceOf(alice).Eq(tokens(5000)))
	assert.True(t, env.sys.Synthetic.TotalSupply().Eq(tokens(5000)))
	assert.True(t, env.sys.Synthetic.BalanceOf(engineAddr).IsZero())

	receipt := env.eng.Drain()
	require.Len(t, receipt.Events, 1)
	burned := receipt.Events[0].(*event.SyntheticBurned)
	assert.Equal(t, alice, burned.OnBehalfOf)
	assert.Equal(t, alice, burned.Payer)
	assert.Equal(t, ledger.JournalTypeDebtBurn, receipt.Journals[0].JournalType)
	env.assertCustody(t)
}

func TestBurn_MoreThanDebt(t *testing.T) {
	env := newTestEnv(t, 0)
	env.openPosition(t, alice, tokens(10), tokens(100))
	err := env.eng.Burn(alice, tokens(101))
	assert.ErrorIs(t, err, core.ErrInsufficientDebt)
	assert.True(t, env.eng.Debt(alice).Eq(tokens(100)))
}

func TestRedeemForBurn_ClosesPosition(t *testing.T) {
	env := newTestEnv(t, 0)
	env.openPosition(t, alice, tokens(10), tokens(8000))

	require.NoError(t, env.eng.RedeemForBurn(alice, weth, tokens(10), tokens(8000)))

	pos, err := env.eng.Position(alice)
	require.NoError(t, err)
	assert.Equal(t, state.PositionStatusEmpty, pos.Status)
	assert.True(t, env.sys.Collateral[weth].BalanceOf(alice).Eq(tokens(10)))
	assert.True(t, env.sys.Synthetic.TotalSupply().IsZero())

	receipt := env.eng.Drain()
	require.Len(t, receipt.Events, 2)
	assert.Equal(t, event.EventTypeSyntheticBurned, receipt.Events[0].EventType())
	assert.Equal(t, event.EventTypeCollateralRedeemed, receipt.Events[1].EventType())
	env.assertCustody(t)
}

func TestRedeemForBurn_PartialMustStayHealthy(t *testing.T) {
	env := newTestEnv(t, 0)
	env.openPosition(t, alice, tokens(10), tokens(8000))

	err := env.eng.RedeemForBurn(alice, weth, tokens(5), tokens(1000))
	assert.ErrorIs(t, err, core.ErrHealthFactorBroken)
	assert.True(t, env.eng.Debt(alice).Eq(tokens(8000)))
	assert.True(t, env.sys.Synthetic.BalanceOf(alice).Eq(tokens(8000)))
}

// ============================================================================
// Test: Liquidation
// ============================================================================

func TestLiquidate_HealthyTargetRejected(t *testing.T) {
	env := newTestEnv(t, 0)
	env.openPosition(t, alice, tokens(10), tokens(8000))
	env.openPosition(t, bob, tokens(20), tokens(4000))

	err := env.eng.Liquidate(bob, weth, alice, tokens(1000))
	assert.ErrorIs(t, err, core.ErrHealthFactorOk)
}

func TestLiquidate_PartialWithBonus(t *testing.T) {
	env := newTestEnv(t, 0)
	env.openPosition(t, alice, tokens(10), tokens(8000))
	env.openPosition(t, bob, tokens(10), tokens(4000))

	env.ethFeed.SetAnswer(1500_00000000, t0)
	assert.Equal(t, "937500000000000000", env.healthFactor(t, alice).Dec())

	pos, err := env.eng.Position(alice)
	require.NoError(t, err)
	assert.True(t, pos.Status.Liquidatable())

	require.NoError(t, env.eng.Liquidate(bob, weth, alice, tokens(4000)))

	seized := mustDec(t, "2933333333333333332")
	assert.True(t, env.eng.Debt(alice).Eq(tokens(4000)))
	assert.True(t, env.eng.CollateralBalance(alice, weth).Eq(mustDec(t, "7066666666666666668")))
	assert.True(t, env.sys.Collateral[weth].BalanceOf(bob).Eq(seized))
	assert.True(t, env.sys.Synthetic.BalanceOf(bob).IsZero())
	assert.Equal(t, "1325000000000000000", env.healthFactor(t, alice).Dec())
	// Liquidator's own position is untouched
	assert.True(t, env.eng.Debt(bob).Eq(tokens(4000)))
	assert.True(t, env.eng.CollateralBalance(bob, weth).Eq(tokens(10)))

	receipt := env.eng.Drain()
	require.Len(t, receipt.Events, 3)
	redeemed := receipt.Events[0].(*event.CollateralRedeemed)
	assert.Equal(t, alice, redeemed.From)
	assert.Equal(t, bob, redeemed.To)
	assert.True(t, redeemed.IsSeizure())
	assert.True(t, redeemed.Amount.Eq(seized))

	burned := receipt.Events[1].(*event.SyntheticBurned)
	assert.Equal(t, alice, burned.OnBehalfOf)
	assert.Equal(t, bob, burned.Payer)

	liquidated := receipt.Events[2].(*event.Liquidated)
	assert.Equal(t, "266666666666666666", liquidated.Bonus.Dec())
	assert.True(t, liquidated.CollateralSeized.Eq(seized))
	assert.Equal(t, "937500000000000000", liquidated.StartingHealth.Dec())
	assert.Equal(t, "1325000000000000000", liquidated.EndingHealth.Dec())

	require.Len(t, receipt.Journals, 2)
	assert.Equal(t, ledger.JournalTypeCollateralSeize, receipt.Journals[0].JournalType)
	assert.Equal(t, ledger.JournalTypeDebtRepay, receipt.Journals[1].JournalType)
	env.assertCustody(t)
}

func TestLiquidate_SeizureExceedsCollateral(t *testing.T) {
	env := newTestEnv(t, 0)
	env.openPosition(t, alice, tokens(10), tokens(8000))
	env.openPosition(t, bob, tokens(20), tokens(8000))

	env.ethFeed.SetAnswer(800_00000000, t0)
	assert.Equal(t, "500000000000000000", env.healthFactor(t, alice).Dec())

	// 8000 / 800 = 10 ETH plus 1 ETH bonus
	err := env.eng.Liquidate(bob, weth, alice, tokens(8000))
	assert.ErrorIs(t, err, core.ErrInsufficientCollateral)
	assert.True(t, env.eng.CollateralBalance(alice, weth).Eq(tokens(10)))
}

func TestLiquidate_MustImproveHealthFactor(t *testing.T) {
	env := newTestEnv(t, 0)
	env.openPosition(t, alice, tokens(10), tokens(8000))
	env.openPosition(t, bob, tokens(20), tokens(8000))

	env.ethFeed.SetAnswer(800_00000000, t0)
	err := env.eng.Liquidate(bob, weth, alice, tokens(2000))
	assert.ErrorIs(t, err, core.ErrHealthFactorNotImproved)

	assert.True(t, env.eng.Debt(alice).Eq(tokens(8000)))
	assert.True(t, env.eng.CollateralBalance(alice, weth).Eq(tokens(10)))
	assert.True(t, env.sys.Synthetic.BalanceOf(bob).Eq(tokens(8000)))
	assert.True(t, env.sys.Collateral[weth].BalanceOf(bob).IsZero())
	assert.Empty(t, env.eng.Drain().Events)
	env.assertCustody(t)
}

func TestLiquidate_ZeroDebtToCover(t *testing.T) {
	env := newTestEnv(t, 0)
	env.openPosition(t, alice, tokens(10), tokens(8000))
	env.openPosition(t, bob, tokens(20), tokens(8000))
	env.ethFeed.SetAnswer(800_00000000, t0)

	err := env.eng.Liquidate(bob, weth, alice, new(uint256.Int))
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	assert.True(t, env.eng.Debt(alice).Eq(tokens(8000)))
	assert.True(t, env.eng.CollateralBalance(alice, weth).Eq(tokens(10)))
	assert.True(t, env.sys.Synthetic.BalanceOf(bob).Eq(tokens(8000)))
	assert.Empty(t, env.eng.Drain().Events)
	env.assertCustody(t)
}

func TestLiquidate_SeizureRoundsToZero(t *testing.T) {
	env := newTestEnv(t, 0)
	env.fund(t, alice, wbtc, tokens(1))
	require.NoError(t, env.eng.DepositAndMint(alice, wbtc, tokens(1), tokens(15000)))
	env.openPosition(t, bob, tokens(20), tokens(8000))
	env.eng.Drain()

	env.btcFeed.SetAnswer(20000_00000000, t0)
	require.True(t, env.healthFactor(t, alice).Lt(fpmath.MinHealthFactor()))

	// 1 wei of debt is worth less than 1 wei of BTC at $20000
	err := env.eng.Liquidate(bob, wbtc, alice, uint256.NewInt(1))
	assert.ErrorIs(t, err, core.ErrInvalidAmount)

	assert.True(t, env.eng.Debt(alice).Eq(tokens(15000)))
	assert.True(t, env.eng.CollateralBalance(alice, wbtc).Eq(tokens(1)))
	assert.Empty(t, env.eng.Drain().Events)
	env.assertCustody(t)
}

func TestLiquidate_LiquidatorWithoutSynthetic(t *testing.T) {
	env := newTestEnv(t, 0)
	env.openPosition(t, alice, tokens(10), tokens(8000))
	env.ethFeed.SetAnswer(1500_00000000, t0)

	err := env.eng.Liquidate(bob, weth, alice, tokens(100))
	assert.ErrorIs(t, err, core.ErrTransferFailed)
	assert.True(t, env.eng.Debt(alice).Eq(tokens(8000)))
}

// ============================================================================
// Test: Reentrancy and oracle failures
// ============================================================================

func TestReentrancy_HookCannotReenter(t *testing.T) {
	env := newTestEnv(t, 0)
	env.fund(t, alice, weth, tokens(10))

	var inner error
	env.sys.Collateral[weth].SetHook(func(from, to common.Address, amount *uint256.Int) error {
		inner = env.eng.DepositCollateral(alice, weth, tokens(1))
		return inner
	})

	err := env.eng.DepositCollateral(alice, weth, tokens(5))
	require.Error(t, err)
	assert.ErrorIs(t, inner, core.ErrReentrancyDetected)
	assert.ErrorIs(t, err, core.ErrReentrancyDetected)
	assert.ErrorIs(t, err, core.ErrTransferFailed)
	assert.Equal(t, "reentrancy", core.Reason(err))

	assert.True(t, env.eng.CollateralBalance(alice, weth).IsZero())
	assert.True(t, env.sys.Collateral[weth].BalanceOf(alice).Eq(tokens(10)))
	assert.True(t, env.sys.Collateral[weth].BalanceOf(engineAddr).IsZero())

	env.sys.Collateral[weth].SetHook(nil)
	require.NoError(t, env.eng.DepositCollateral(alice, weth, tokens(5)))
	assert.True(t, env.eng.CollateralBalance(alice, weth).Eq(tokens(5)))
}

func TestStalePrice_RejectsOperationsThatPrice(t *testing.T) {
	env := newTestEnv(t, time.Hour)
	env.ethFeed.SetAnswer(2000_00000000, t0)
	env.eng.SetTime(t0.Add(30 * time.Minute))
	env.openPosition(t, alice, tokens(10), tokens(1000))

	env.eng.SetTime(t0.Add(2 * time.Hour))
	err := env.eng.Mint(alice, tokens(1))
	assert.ErrorIs(t, err, core.ErrStalePriceOrInvalidFeed)
	assert.Equal(t, "stale_price", core.Reason(err))

	// Deposits never read the price
	env.fund(t, alice, weth, tokens(1))
	assert.NoError(t, env.eng.DepositCollateral(alice, weth, tokens(1)))
}

func TestFeedError_Surfaces(t *testing.T) {
	env := newTestEnv(t, 0)
	env.fund(t, alice, weth, tokens(10))
	require.NoError(t, env.eng.DepositCollateral(alice, weth, tokens(10)))

	env.ethFeed.SetError(errors.New("feed offline"))
	err := env.eng.Mint(alice, tokens(1))
	assert.ErrorIs(t, err, core.ErrStalePriceOrInvalidFeed)

	// Debt-free accounts report the maximum without pricing
	assert.True(t, env.healthFactor(t, alice).Eq(fpmath.MaxHealthFactor()))
}

// ============================================================================
// Test: Views
// ============================================================================

func TestViews_Conversions(t *testing.T) {
	env := newTestEnv(t, 0)

	usd, err := env.eng.UsdValue(weth, tokens(1))
	require.NoError(t, err)
	assert.True(t, usd.Eq(tokens(2000)))

	amount, err := env.eng.TokenAmountFromUsd(weth, tokens(2000))
	require.NoError(t, err)
	assert.True(t, amount.Eq(tokens(1)))

	_, err = env.eng.UsdValue(unlisted, tokens(1))
	assert.ErrorIs(t, err, core.ErrAssetNotApproved)

	assert.Equal(t, []common.Address{weth, wbtc}, env.eng.CollateralTokens())
}

func TestViews_CalculateHealthFactor(t *testing.T) {
	env := newTestEnv(t, 0)
	hf, err := env.eng.CalculateHealthFactor(tokens(8000), tokens(20000))
	require.NoError(t, err)
	assert.Equal(t, "1250000000000000000", hf.Dec())

	hf, err = env.eng.CalculateHealthFactor(new(uint256.Int), tokens(1))
	require.NoError(t, err)
	assert.True(t, hf.Eq(fpmath.MaxHealthFactor()))
}

func TestViews_AccountInformation(t *testing.T) {
	env := newTestEnv(t, 0)
	env.openPosition(t, alice, tokens(10), tokens(8000))

	debt, value, err := env.eng.AccountInformation(alice)
	require.NoError(t, err)
	assert.True(t, debt.Eq(tokens(8000)))
	assert.True(t, value.Eq(tokens(20000)))

	pos, err := env.eng.Position(alice)
	require.NoError(t, err)
	assert.Equal(t, state.PositionStatusHealthy, pos.Status)
	require.Len(t, pos.Collateral, 1)
	assert.Equal(t, weth, pos.Collateral[0].Asset)
}

func TestViews_Parameters(t *testing.T) {
	env := newTestEnv(t, 0)
	p := env.eng.Parameters()
	assert.Equal(t, uint64(50), p.LiquidationThreshold)
	assert.Equal(t, uint64(10), p.LiquidationBonus)
	assert.Equal(t, "1000000000000000000", p.MinHealthFactor)
}
