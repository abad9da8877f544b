package projection

import (
	"SynthLedger/internal/observability"
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence     int64
	CommandType  string
	Deltas       []PositionDelta
	Liquidations []LiquidationRecord
	Timestamp    int64 // epoch microseconds
}

// PositionDelta is one journal entry as a signed balance change.
type PositionDelta struct {
	Account   string
	EntryKind string
	Asset     string // empty for debt
	Amount    string // signed decimal
}

// LiquidationRecord is a Liquidated event flattened for storage.
type LiquidationRecord struct {
	Liquidator       string
	Target           string
	Asset            string
	DebtCovered      string
	CollateralSeized string
	Bonus            string
	StartingHealth   string
	EndingHealth     string
}

// ProjectionWorker updates projection tables from committed envelopes.
// The core feeds it through a non-blocking channel and drops on overflow;
// a lagging projection is repaired with RebuildProjections.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan ProjectionOutput,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.processOutput(ctx, output); err != nil {
				// Projections are eventually consistent and rebuildable
				pw.logger.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("positions").Observe(time.Since(start).Seconds())
			}

			pw.lastSeq = output.Sequence
		}
	}
}

// LastSequence is the last sequence applied by this worker.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range output.Deltas {
		if err := applyDelta(ctx, tx, d, output.Sequence); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}

	for _, l := range output.Liquidations {
		if err := insertLiquidation(ctx, tx, l, output.Sequence, output.Timestamp); err != nil {
			return fmt.Errorf("liquidation projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// applyDelta adds a signed amount to a position row. The last_sequence guard
// makes a re-delivered envelope a no-op.
func applyDelta(ctx context.Context, tx *sql.Tx, d PositionDelta, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions (account, entry_kind, asset, balance, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4::NUMERIC, $5, NOW())
		ON CONFLICT (account, entry_kind, asset) DO UPDATE
			SET balance = projections.positions.balance + EXCLUDED.balance,
			    last_sequence = EXCLUDED.last_sequence,
			    updated_at = NOW()
			WHERE projections.positions.last_sequence < EXCLUDED.last_sequence
	`, d.Account, d.EntryKind, d.Asset, d.Amount, seq)
	return err
}

func insertLiquidation(ctx context.Context, tx *sql.Tx, l LiquidationRecord, seq, ts int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidations
			(sequence, liquidator, target, asset, debt_covered, collateral_seized, bonus,
			 starting_health, ending_health, timestamp)
		VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10)
		ON CONFLICT (sequence) DO NOTHING
	`, seq, l.Liquidator, l.Target, l.Asset, l.DebtCovered, l.CollateralSeized, l.Bonus,
		l.StartingHealth, l.EndingHealth, ts)
	return err
}

// RebuildProjections rebuilds the position table from the journal.
// Liquidation history is rebuilt from the events column of the event log.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.liquidations`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions (account, entry_kind, asset, balance, last_sequence, updated_at)
		SELECT account, entry_kind, COALESCE(asset, ''),
		       SUM(direction * amount), MAX(sequence), NOW()
		FROM event_log.journal
		GROUP BY account, entry_kind, COALESCE(asset, '')
	`); err != nil {
		return fmt.Errorf("rebuild positions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.liquidations
			(sequence, liquidator, target, asset, debt_covered, collateral_seized, bonus,
			 starting_health, ending_health, timestamp)
		SELECT e.sequence,
		       ev->'data'->>'liquidator', ev->'data'->>'target', ev->'data'->>'asset',
		       (ev->'data'->>'debt_covered')::NUMERIC,
		       (ev->'data'->>'collateral_seized')::NUMERIC,
		       (ev->'data'->>'bonus')::NUMERIC,
		       (ev->'data'->>'starting_health_factor')::NUMERIC,
		       (ev->'data'->>'ending_health_factor')::NUMERIC,
		       (EXTRACT(EPOCH FROM e.timestamp) * 1000000)::BIGINT
		FROM event_log.events e, jsonb_array_elements(e.events) ev
		WHERE ev->>'type' = 'Liquidated'
	`); err != nil {
		return fmt.Errorf("rebuild liquidations: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		SELECT 'main', COALESCE(MAX(sequence), 0), NOW() FROM event_log.events
	`); err != nil {
		return fmt.Errorf("rebuild watermark: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info().Msg("projection rebuild complete")
	return nil
}
