package core

import (
	"SynthLedger/internal/event"
	"SynthLedger/internal/ledger"
	fpmath "SynthLedger/internal/math"
	"SynthLedger/internal/oracle"
	"SynthLedger/internal/state"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// AssetToken is a collateral asset as seen by the engine. Calls are made
// with the engine's own address as the implicit sender.
type AssetToken interface {
	TransferFrom(from, to common.Address, amount *uint256.Int) error
	Transfer(to common.Address, amount *uint256.Int) error
	BalanceOf(account common.Address) *uint256.Int
}

// SyntheticToken is the pegged debt token. The engine must own it.
type SyntheticToken interface {
	AssetToken
	Mint(to common.Address, amount *uint256.Int) error
	Burn(amount *uint256.Int) error
}

// Revertible collaborators are rolled back together with the ledger when a
// call fails.
type Revertible interface {
	Snapshot() int
	RevertToSnapshot(id int)
}

type committer interface {
	Commit()
}

// Config wires an IssuanceEngine. Assets and PriceFeeds are parallel lists.
type Config struct {
	Address    common.Address // custody account of the engine
	Assets     []common.Address
	PriceFeeds []*oracle.Adapter
	Tokens     map[common.Address]AssetToken
	Synthetic  SyntheticToken
}

type Option func(*IssuanceEngine)

// WithLogger replaces the default component logger
func WithLogger(logger zerolog.Logger) Option {
	return func(e *IssuanceEngine) {
		e.logger = logger
	}
}

// WithRevertibles registers collaborators whose state is rolled back on failure
func WithRevertibles(rs ...Revertible) Option {
	return func(e *IssuanceEngine) {
		e.revertibles = append(e.revertibles, rs...)
	}
}

// Receipt is everything a run of committed calls produced
type Receipt struct {
	Events   []event.Event
	Journals []ledger.Journal
}

// IssuanceEngine lets accounts deposit collateral, mint the synthetic against
// it, redeem and burn, and liquidate undercollateralized positions.
//
// Every state-changing call runs atomically: the position ledger, buffered
// events and registered collaborators are restored if any step fails.
// The engine is not safe for concurrent use; DeterministicCore serializes
// access. Re-entering a guarded operation from inside a collaborator fails
// with ErrReentrancyDetected.
type IssuanceEngine struct {
	address   common.Address
	registry  *state.CollateralRegistry
	ledger    *ledger.PositionLedger
	health    *state.HealthCalculator
	tokens    map[common.Address]AssetToken
	synthetic SyntheticToken

	revertibles []Revertible
	entered     atomic.Bool
	now         time.Time

	pending   []event.Event
	committed Receipt

	logger zerolog.Logger
}

func NewIssuanceEngine(cfg Config, opts ...Option) (*IssuanceEngine, error) {
	registry, err := state.NewCollateralRegistry(cfg.Assets, cfg.PriceFeeds)
	if err != nil {
		return nil, err
	}
	if cfg.Synthetic == nil {
		return nil, fmt.Errorf("%w: no synthetic token", ErrConfigurationMismatch)
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("%w: engine address is zero", ErrConfigurationMismatch)
	}
	tokens := make(map[common.Address]AssetToken, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		t, ok := cfg.Tokens[asset]
		if !ok || t == nil {
			return nil, fmt.Errorf("%w: no token for asset %s", ErrConfigurationMismatch, asset.Hex())
		}
		tokens[asset] = t
	}

	pl := ledger.NewPositionLedger()
	e := &IssuanceEngine{
		address:   cfg.Address,
		registry:  registry,
		ledger:    pl,
		health:    state.NewHealthCalculator(registry, pl),
		tokens:    tokens,
		synthetic: cfg.Synthetic,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SetTime sets the versioned clock used for oracle staleness checks.
// A zero time disables the check.
func (e *IssuanceEngine) SetTime(now time.Time) {
	e.now = now
}

func (e *IssuanceEngine) Address() common.Address {
	return e.address
}

// Ledger exposes the position ledger for snapshots and invariant checks.
func (e *IssuanceEngine) Ledger() *ledger.PositionLedger {
	return e.ledger
}

// Registry exposes the approved collateral set.
func (e *IssuanceEngine) Registry() *state.CollateralRegistry {
	return e.registry
}

// Drain returns and clears everything committed since the previous Drain.
// Callers that never drain accumulate receipts.
func (e *IssuanceEngine) Drain() Receipt {
	r := e.committed
	e.committed = Receipt{}
	return r
}

// ============================================================================
// Atomic call
// ============================================================================

// Atomically runs fn under the re-entry guard with full rollback on error.
// It lets callers group collaborator operations (wallet credits, approvals)
// with the same all-or-nothing semantics as engine operations.
func (e *IssuanceEngine) Atomically(op string, fn func() error) error {
	return e.call(op, fn)
}

func (e *IssuanceEngine) call(op string, fn func() error) error {
	if !e.entered.CompareAndSwap(false, true) {
		return fmt.Errorf("%s: %w", op, ErrReentrancyDetected)
	}
	defer e.entered.Store(false)

	ledgerRev := e.ledger.Snapshot()
	eventRev := len(e.pending)
	revs := make([]int, len(e.revertibles))
	for i, r := range e.revertibles {
		revs[i] = r.Snapshot()
	}

	if err := fn(); err != nil {
		for i := len(e.revertibles) - 1; i >= 0; i-- {
			e.revertibles[i].RevertToSnapshot(revs[i])
		}
		e.ledger.RevertToSnapshot(ledgerRev)
		e.pending = e.pending[:eventRev]
		e.logger.Debug().Str("op", op).Err(err).Msg("call reverted")
		return err
	}

	e.committed.Events = append(e.committed.Events, e.pending...)
	e.committed.Journals = append(e.committed.Journals, e.ledger.TakePending()...)
	e.pending = nil
	for _, r := range e.revertibles {
		if c, ok := r.(committer); ok {
			c.Commit()
		}
	}
	return nil
}

func (e *IssuanceEngine) emit(evt event.Event) {
	e.pending = append(e.pending, evt)
}

func moreThanZero(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	return nil
}

func (e *IssuanceEngine) isAllowedToken(asset common.Address) error {
	if !e.registry.IsApproved(asset) {
		return fmt.Errorf("%w: %s", ErrAssetNotApproved, asset.Hex())
	}
	return nil
}

// ============================================================================
// Operations
// ============================================================================

// DepositCollateral pulls amount of asset from caller into engine custody
// and credits it to caller's position.
func (e *IssuanceEngine) DepositCollateral(caller, asset common.Address, amount *uint256.Int) error {
	return e.call("deposit", func() error {
		return e.depositCollateral(caller, asset, amount)
	})
}

// Mint issues amount of the synthetic to caller against its collateral.
func (e *IssuanceEngine) Mint(caller common.Address, amount *uint256.Int) error {
	return e.call("mint", func() error {
		return e.mint(caller, amount)
	})
}

// DepositAndMint deposits first, then mints, in one call.
func (e *IssuanceEngine) DepositAndMint(caller, asset common.Address, amount, mintAmount *uint256.Int) error {
	return e.call("deposit_and_mint", func() error {
		if err := e.depositCollateral(caller, asset, amount); err != nil {
			return err
		}
		return e.mint(caller, mintAmount)
	})
}

// RedeemCollateral returns amount of caller's own collateral to caller.
func (e *IssuanceEngine) RedeemCollateral(caller, asset common.Address, amount *uint256.Int) error {
	return e.call("redeem", func() error {
		if err := moreThanZero(amount); err != nil {
			return err
		}
		if err := e.isAllowedToken(asset); err != nil {
			return err
		}
		if err := e.redeemCollateral(caller, caller, asset, amount); err != nil {
			return err
		}
		return e.revertIfHealthFactorIsBroken(caller)
	})
}

// Burn repays amount of caller's own debt with caller's synthetic balance.
func (e *IssuanceEngine) Burn(caller common.Address, amount *uint256.Int) error {
	return e.call("burn", func() error {
		if err := moreThanZero(amount); err != nil {
			return err
		}
		if err := e.burn(amount, caller, caller); err != nil {
			return err
		}
		return e.revertIfHealthFactorIsBroken(caller)
	})
}

// RedeemForBurn burns debtAmount, then redeems collateralAmount of asset.
func (e *IssuanceEngine) RedeemForBurn(caller, asset common.Address, collateralAmount, debtAmount *uint256.Int) error {
	return e.call("redeem_for_burn", func() error {
		if err := moreThanZero(collateralAmount); err != nil {
			return err
		}
		if err := moreThanZero(debtAmount); err != nil {
			return err
		}
		if err := e.isAllowedToken(asset); err != nil {
			return err
		}
		if err := e.burn(debtAmount, caller, caller); err != nil {
			return err
		}
		if err := e.redeemCollateral(caller, caller, asset, collateralAmount); err != nil {
			return err
		}
		return e.revertIfHealthFactorIsBroken(caller)
	})
}

// Liquidate covers debtToCover of target's debt with caller's synthetic and
// seizes the equivalent amount of asset plus the liquidation bonus.
// Only target's health is checked; the liquidator's position is untouched.
func (e *IssuanceEngine) Liquidate(caller, asset, target common.Address, debtToCover *uint256.Int) error {
	return e.call("liquidate", func() error {
		if err := moreThanZero(debtToCover); err != nil {
			return err
		}
		if err := e.isAllowedToken(asset); err != nil {
			return err
		}

		startingHealth, err := e.health.HealthFactor(target, e.now)
		if err != nil {
			return err
		}
		if !startingHealth.Lt(fpmath.MinHealthFactor()) {
			return fmt.Errorf("%w: account %s at %s", ErrHealthFactorOk, target.Hex(), startingHealth.Dec())
		}

		plan, err := e.health.PlanSeizure(asset, debtToCover, e.now)
		if err != nil {
			return err
		}
		if err := moreThanZero(plan.Total); err != nil {
			return err
		}
		if err := e.redeemCollateral(target, caller, asset, plan.Total); err != nil {
			return err
		}
		if err := e.burn(debtToCover, target, caller); err != nil {
			return err
		}

		endingHealth, err := e.health.HealthFactor(target, e.now)
		if err != nil {
			return err
		}
		if !endingHealth.Gt(startingHealth) {
			return fmt.Errorf("%w: %s -> %s", ErrHealthFactorNotImproved, startingHealth.Dec(), endingHealth.Dec())
		}

		e.emit(&event.Liquidated{
			Liquidator:       caller,
			Target:           target,
			Asset:            asset,
			DebtCovered:      fpmath.Clone(debtToCover),
			CollateralSeized: plan.Total,
			Bonus:            plan.Bonus,
			StartingHealth:   startingHealth,
			EndingHealth:     endingHealth,
		})
		e.logger.Info().
			Str("liquidator", caller.Hex()).
			Str("target", target.Hex()).
			Str("asset", asset.Hex()).
			Str("debt_covered", debtToCover.Dec()).
			Str("seized", plan.Total.Dec()).
			Msg("position liquidated")
		return nil
	})
}

// ============================================================================
// Unguarded steps
// ============================================================================

func (e *IssuanceEngine) depositCollateral(caller, asset common.Address, amount *uint256.Int) error {
	if err := moreThanZero(amount); err != nil {
		return err
	}
	if err := e.isAllowedToken(asset); err != nil {
		return err
	}
	if err := e.ledger.AddCollateral(caller, asset, amount); err != nil {
		return err
	}
	e.emit(&event.CollateralDeposited{Account: caller, Asset: asset, Amount: fpmath.Clone(amount)})

	if err := e.tokens[asset].TransferFrom(caller, e.address, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

func (e *IssuanceEngine) mint(caller common.Address, amount *uint256.Int) error {
	if err := moreThanZero(amount); err != nil {
		return err
	}
	if err := e.ledger.AddDebt(caller, amount); err != nil {
		return err
	}
	e.emit(&event.SyntheticMinted{Account: caller, Amount: fpmath.Clone(amount)})

	if err := e.revertIfHealthFactorIsBroken(caller); err != nil {
		return err
	}
	if err := e.synthetic.Mint(caller, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrMintFailed, err)
	}
	return nil
}

func (e *IssuanceEngine) redeemCollateral(from, to, asset common.Address, amount *uint256.Int) error {
	jt := ledger.JournalTypeCollateralRedeem
	if from != to {
		jt = ledger.JournalTypeCollateralSeize
	}
	if err := e.ledger.RemoveCollateral(from, asset, amount, jt); err != nil {
		return err
	}
	e.emit(&event.CollateralRedeemed{From: from, To: to, Asset: asset, Amount: fpmath.Clone(amount)})

	if err := e.tokens[asset].Transfer(to, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	return nil
}

// burn reduces onBehalfOf's debt and destroys amount of synthetic pulled from payer.
func (e *IssuanceEngine) burn(amount *uint256.Int, onBehalfOf, payer common.Address) error {
	jt := ledger.JournalTypeDebtBurn
	if onBehalfOf != payer {
		jt = ledger.JournalTypeDebtRepay
	}
	if err := e.ledger.RemoveDebt(onBehalfOf, amount, jt); err != nil {
		return err
	}
	e.emit(&event.SyntheticBurned{OnBehalfOf: onBehalfOf, Payer: payer, Amount: fpmath.Clone(amount)})

	if err := e.synthetic.TransferFrom(payer, e.address, amount); err != nil {
		return fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	if err := e.synthetic.Burn(amount); err != nil {
		return fmt.Errorf("%w: %w", ErrBurnFailed, err)
	}
	return nil
}

func (e *IssuanceEngine) revertIfHealthFactorIsBroken(account common.Address) error {
	hf, err := e.health.HealthFactor(account, e.now)
	if err != nil {
		return err
	}
	if hf.Lt(fpmath.MinHealthFactor()) {
		return &HealthFactorBrokenError{Account: account, Value: hf}
	}
	return nil
}

// ============================================================================
// Views
// ============================================================================

// HealthFactor of account; accounts without debt report fpmath.MaxHealthFactor.
func (e *IssuanceEngine) HealthFactor(account common.Address) (*uint256.Int, error) {
	return e.health.HealthFactor(account, e.now)
}

// AccountInformation returns (debt, collateral value in USD).
func (e *IssuanceEngine) AccountInformation(account common.Address) (*uint256.Int, *uint256.Int, error) {
	return e.health.AccountInformation(account, e.now)
}

// AccountCollateralValue sums the USD value of account's collateral in registry order.
func (e *IssuanceEngine) AccountCollateralValue(account common.Address) (*uint256.Int, error) {
	return e.health.CollateralValue(account, e.now)
}

// Position returns the derived view of account.
func (e *IssuanceEngine) Position(account common.Address) (*state.Position, error) {
	return e.health.Position(account, e.now)
}

func (e *IssuanceEngine) CollateralBalance(account, asset common.Address) *uint256.Int {
	return e.ledger.Collateral(account, asset)
}

func (e *IssuanceEngine) Debt(account common.Address) *uint256.Int {
	return e.ledger.Debt(account)
}

func (e *IssuanceEngine) UsdValue(asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := e.isAllowedToken(asset); err != nil {
		return nil, err
	}
	return e.health.UsdValue(asset, amount, e.now)
}

func (e *IssuanceEngine) TokenAmountFromUsd(asset common.Address, usd *uint256.Int) (*uint256.Int, error) {
	if err := e.isAllowedToken(asset); err != nil {
		return nil, err
	}
	return e.health.TokenAmountFromUsd(asset, usd, e.now)
}

// CollateralTokens lists approved assets in registration order.
func (e *IssuanceEngine) CollateralTokens() []common.Address {
	return e.registry.ListAssets()
}

// CalculateHealthFactor applies the health factor formula to arbitrary inputs.
func (e *IssuanceEngine) CalculateHealthFactor(debt, collateralUSD *uint256.Int) (*uint256.Int, error) {
	return fpmath.HealthFactor(debt, collateralUSD)
}

// Parameters are the fixed protocol constants.
type Parameters struct {
	Precision               uint64 `json:"precision"`
	AdditionalFeedPrecision uint64 `json:"additional_feed_precision"`
	LiquidationThreshold    uint64 `json:"liquidation_threshold"`
	LiquidationPrecision    uint64 `json:"liquidation_precision"`
	LiquidationBonus        uint64 `json:"liquidation_bonus"`
	MinHealthFactor         string `json:"min_health_factor"`
}

func (e *IssuanceEngine) Parameters() Parameters {
	return Parameters{
		Precision:               fpmath.Precision,
		AdditionalFeedPrecision: fpmath.AdditionalFeedPrecision,
		LiquidationThreshold:    fpmath.LiquidationThreshold,
		LiquidationPrecision:    fpmath.LiquidationPrecision,
		LiquidationBonus:        fpmath.LiquidationBonus,
		MinHealthFactor:         fpmath.MinHealthFactor().Dec(),
	}
}
