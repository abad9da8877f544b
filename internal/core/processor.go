package core

import (
	"SynthLedger/internal/event"
	"SynthLedger/internal/ledger"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/oracle"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var ErrDuplicateCommand = errors.New("core: duplicate command")

// DeterministicCore is the single-threaded command processor.
// It owns the System and must only be driven from one goroutine, either by
// calling ProcessCommand directly or through Run with Submit/Query.
type DeterministicCore struct {
	sequence  int64 // next sequence to assign
	published atomic.Int64
	hasher    *StateHasher
	sys       *System
	engine    *IssuanceEngine
	validator *ledger.InvariantValidator

	idempotency  *IdempotencyChecker
	checkCustody bool
	replaying    bool

	metrics *observability.Metrics
	logger  zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
	requests       chan request
}

type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch // nil when no position moved
}

type CoreOption func(*DeterministicCore)

// WithCustodyCheck verifies custody and supply invariants after every commit
func WithCustodyCheck(enabled bool) CoreOption {
	return func(c *DeterministicCore) {
		c.checkCustody = enabled
	}
}

func WithCoreLogger(logger zerolog.Logger) CoreOption {
	return func(c *DeterministicCore) {
		c.logger = logger
	}
}

func NewDeterministicCore(
	sys *System,
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	idempotencyCapacity int,
	metrics *observability.Metrics,
	opts ...CoreOption,
) (*DeterministicCore, error) {
	idempotency, err := NewIdempotencyChecker(idempotencyCapacity, dbChecker, metrics)
	if err != nil {
		return nil, err
	}

	c := &DeterministicCore{
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		sys:            sys,
		engine:         sys.Engine,
		validator:      ledger.NewInvariantValidator(sys.Engine.Ledger()),
		idempotency:    idempotency,
		metrics:        metrics,
		logger:         zerolog.Nop(),
		persistChan:    persistChan,
		projectionChan: projectionChan,
		requests:       make(chan request),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.published.Store(startSequence)
	return c, nil
}

// ProcessCommand is the main processing pipeline
func (c *DeterministicCore) ProcessCommand(cmd event.Command) error {
	start := time.Now()
	commandType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	if idempotencyKey == "" {
		return fmt.Errorf("%s: missing idempotency key", commandType)
	}

	// Step 1: Idempotency check (two-tier). Replayed commands come from the
	// log the Postgres tier reads, so replay skips the check.
	if !c.replaying && c.idempotency.IsDuplicate(commandType, idempotencyKey) {
		c.reject(commandType, "duplicate")
		return fmt.Errorf("%w: %s %s", ErrDuplicateCommand, commandType, idempotencyKey)
	}

	// Step 2: Versioned clock. The core never reads wall-clock time for state.
	c.engine.SetTime(cmd.Time())

	// Step 3: Dispatch
	extra, err := c.dispatch(cmd)
	if err != nil {
		c.reject(commandType, Reason(err))
		c.logger.Debug().
			Str("command_type", commandType).
			Str("key", idempotencyKey).
			Str("caller", cmd.Sender().Hex()).
			Err(err).
			Msg("command rejected")
		return err
	}

	// Step 4: Collect committed journals and events
	receipt := c.engine.Drain()
	var batch *ledger.Batch
	if len(receipt.Journals) > 0 {
		batch = ledger.NewBatch(receipt.Journals, idempotencyKey, c.sequence, cmd.Time().UnixMicro())
		if err := c.validator.ValidateBatch(batch); err != nil {
			panic(fmt.Sprintf("FATAL: malformed batch: %v", err))
		}
	}

	// Step 5: Post-checks
	if c.checkCustody {
		if err := c.checkInvariants(); err != nil {
			if c.metrics != nil {
				c.metrics.CustodyCheckFailures.Inc()
			}
			panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
		}
	}

	// Step 6: State hash chain
	hashStart := time.Now()
	digest := c.computeStateDigest(batch, extra)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, digest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := event.EncodeCommand(cmd)
	if err != nil {
		panic(fmt.Sprintf("FATAL: command applied but not encodable: %v", err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		CommandType:    cmd.CommandType(),
		Caller:         cmd.Sender(),
		Timestamp:      cmd.Time(),
		Payload:        payload,
		Events:         receipt.Events,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}
	output := CoreOutput{Envelope: envelope, Batch: batch}
	c.sequence++
	c.published.Store(c.sequence)

	// Step 7: Emit outputs. Persistence blocks (backpressure); projections
	// drop when full and rebuild from the event log.
	if !c.replaying {
		c.emit(output)
	}

	// Step 8: Mark as processed
	c.idempotency.MarkProcessed(commandType, idempotencyKey)

	if c.metrics != nil {
		c.metrics.CoreCommandsApplied.WithLabelValues(commandType).Inc()
		c.metrics.CoreCommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		for _, j := range receipt.Journals {
			c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
		}
		for _, e := range receipt.Events {
			c.metrics.CoreEvents.WithLabelValues(e.EventType().String()).Inc()
			if l, ok := e.(*event.Liquidated); ok {
				c.metrics.LiquidationExecuted.WithLabelValues(c.symbol(l.Asset)).Inc()
			}
		}
	}

	return nil
}

func (c *DeterministicCore) emit(output CoreOutput) {
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}

	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("positions").Inc()
			}
		}
	}
}

func (c *DeterministicCore) reject(commandType, reason string) {
	if c.metrics == nil {
		return
	}
	c.metrics.CoreCommandsRejected.WithLabelValues(commandType, reason).Inc()
	if commandType == event.CommandTypeLiquidate.String() {
		c.metrics.LiquidationRejected.WithLabelValues(reason).Inc()
	}
}

// dispatch applies the command and returns extra state bytes for the digest
// (price rounds and wallet balances are not part of the position ledger).
func (c *DeterministicCore) dispatch(cmd event.Command) ([]byte, error) {
	e := c.engine
	switch cmd := cmd.(type) {
	case *event.DepositCollateral:
		return nil, e.DepositCollateral(cmd.Caller, cmd.Asset, cmd.Amount)
	case *event.Mint:
		return nil, e.Mint(cmd.Caller, cmd.Amount)
	case *event.DepositAndMint:
		return nil, e.DepositAndMint(cmd.Caller, cmd.Asset, cmd.Amount, cmd.MintAmount)
	case *event.RedeemCollateral:
		return nil, e.RedeemCollateral(cmd.Caller, cmd.Asset, cmd.Amount)
	case *event.Burn:
		return nil, e.Burn(cmd.Caller, cmd.Amount)
	case *event.RedeemForBurn:
		return nil, e.RedeemForBurn(cmd.Caller, cmd.Asset, cmd.CollateralAmount, cmd.DebtAmount)
	case *event.Liquidate:
		return nil, e.Liquidate(cmd.Caller, cmd.Asset, cmd.Target, cmd.DebtToCover)
	case *event.PriceUpdate:
		return c.handlePriceUpdate(cmd)
	case *event.WalletCredit:
		return c.handleWalletCredit(cmd)
	case *event.Approve:
		return c.handleApprove(cmd)
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

func (c *DeterministicCore) handlePriceUpdate(cmd *event.PriceUpdate) ([]byte, error) {
	if !c.engine.Registry().IsApproved(cmd.Asset) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotApproved, cmd.Asset.Hex())
	}
	round := oracle.Round{
		RoundID:   cmd.RoundID,
		Answer:    cmd.Answer,
		UpdatedAt: time.UnixMicro(cmd.UpdatedAtUs).UTC(),
	}
	if err := c.sys.Prices.Update(cmd.Asset, round); err != nil {
		if c.metrics != nil {
			c.metrics.OracleRoundRejected.WithLabelValues(c.symbol(cmd.Asset)).Inc()
		}
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.OraclePriceUpdates.WithLabelValues(c.symbol(cmd.Asset)).Inc()
	}

	digest := appendPath(nil, "price:"+cmd.Asset.Hex())
	digest = appendUint64LE(digest, cmd.RoundID)
	digest = append(digest, cmd.Answer.Bytes()...)
	return digest, nil
}

func (c *DeterministicCore) handleWalletCredit(cmd *event.WalletCredit) ([]byte, error) {
	tok, ok := c.sys.Collateral[cmd.Asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotApproved, cmd.Asset.Hex())
	}
	err := c.engine.Atomically("wallet_credit", func() error {
		if err := moreThanZero(cmd.Amount); err != nil {
			return err
		}
		return tok.Credit(cmd.Account, cmd.Amount)
	})
	if err != nil {
		return nil, err
	}
	digest := appendPath(nil, "wallet:"+cmd.Asset.Hex()+":"+cmd.Account.Hex())
	return appendUint256(digest, tok.BalanceOf(cmd.Account)), nil
}

func (c *DeterministicCore) handleApprove(cmd *event.Approve) ([]byte, error) {
	tok, ok := c.sys.Token(cmd.Token)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotApproved, cmd.Token.Hex())
	}
	err := c.engine.Atomically("approve", func() error {
		return tok.Bind(cmd.Caller).Approve(cmd.Spender, cmd.Amount)
	})
	if err != nil {
		return nil, err
	}
	digest := appendPath(nil, "allowance:"+cmd.Token.Hex()+":"+cmd.Caller.Hex()+":"+cmd.Spender.Hex())
	return appendUint256(digest, tok.Allowance(cmd.Caller, cmd.Spender)), nil
}

func (c *DeterministicCore) checkInvariants() error {
	engineAddr := c.engine.Address()
	for _, asset := range c.engine.Registry().ListAssets() {
		if err := c.validator.ValidateCustody(asset, c.sys.Collateral[asset].BalanceOf(engineAddr)); err != nil {
			return err
		}
	}
	return c.validator.ValidateSupply(c.sys.Synthetic.TotalSupply())
}

// computeStateDigest creates canonical bytes for the state hash
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, extra []byte) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.Account] = true
		}
	}

	keys := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AccountPath() < keys[j].AccountPath()
	})

	pl := c.engine.Ledger()
	digest := make([]byte, 0, len(keys)*96+len(extra))
	for _, key := range keys {
		digest = appendPath(digest, key.AccountPath())
		digest = appendUint256(digest, pl.GetBalance(key))
	}
	return append(digest, extra...)
}

func appendPath(buf []byte, path string) []byte {
	buf = append(buf, byte(len(path)))
	return append(buf, path...)
}

func appendUint256(buf []byte, v *uint256.Int) []byte {
	b := v.Bytes32()
	return append(buf, b[:]...)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (c *DeterministicCore) symbol(asset common.Address) string {
	if sym, ok := c.sys.Symbols[asset]; ok {
		return sym
	}
	return asset.Hex()
}

// ============================================================================
// Recovery
// ============================================================================

// Replay re-applies a logged command without emitting outputs and checks that
// it lands on the recorded sequence and state hash.
func (c *DeterministicCore) Replay(cmd event.Command, sequence int64, stateHash [32]byte) error {
	if sequence != c.sequence {
		return fmt.Errorf("replay gap: expected sequence %d, got %d", c.sequence, sequence)
	}
	c.replaying = true
	defer func() { c.replaying = false }()

	if err := c.ProcessCommand(cmd); err != nil {
		return fmt.Errorf("replay seq=%d: %w", sequence, err)
	}
	if got := c.hasher.GetPrevHash(); got != stateHash {
		return fmt.Errorf("replay seq=%d: state hash mismatch, logged %x, computed %x", sequence, stateHash, got)
	}
	if c.metrics != nil {
		c.metrics.ReplayEventsTotal.Inc()
	}
	return nil
}

// GetSequence returns the next sequence to assign. Safe from any goroutine.
func (c *DeterministicCore) GetSequence() int64 {
	return c.published.Load()
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// ============================================================================
// Serialized access
// ============================================================================

type request struct {
	cmd   event.Command
	query func(*View)
	done  chan error
}

// Run serves Submit and Query calls until ctx is done.
func (c *DeterministicCore) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-c.requests:
			if r.cmd != nil {
				r.done <- c.ProcessCommand(r.cmd)
				continue
			}
			r.query(&View{core: c})
			r.done <- nil
		}
	}
}

// Submit hands a command to the Run goroutine and waits for its result.
func (c *DeterministicCore) Submit(ctx context.Context, cmd event.Command) error {
	return c.roundTrip(ctx, request{cmd: cmd, done: make(chan error, 1)})
}

// Query runs fn on the Run goroutine. fn must not retain the View.
func (c *DeterministicCore) Query(ctx context.Context, fn func(*View)) error {
	return c.roundTrip(ctx, request{query: fn, done: make(chan error, 1)})
}

func (c *DeterministicCore) roundTrip(ctx context.Context, r request) error {
	select {
	case c.requests <- r:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
