package query

import (
	"SynthLedger/internal/core"
	"SynthLedger/internal/observability"
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// QueryService provides read-only access to projection tables and the
// event log. Responses carry as_of_sequence, the projection watermark.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

func (qs *QueryService) observe(endpoint string, start time.Time, err error) {
	if qs.metrics == nil {
		return
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		qs.metrics.QueryErrors.WithLabelValues(endpoint, "internal").Inc()
	}
}

// GetPosition returns an account's projected collateral and debt.
func (qs *QueryService) GetPosition(ctx context.Context, account common.Address) (resp *PositionResponse, err error) {
	defer func(start time.Time) { qs.observe("GetPosition", start, err) }(time.Now())

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT entry_kind, asset, balance::TEXT
		FROM projections.positions
		WHERE account = $1 AND balance <> 0
		ORDER BY entry_kind, asset
	`, account.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp = &PositionResponse{Account: account.Hex(), Debt: "0", AsOfSequence: asOfSeq}
	for rows.Next() {
		var kind, asset, balance string
		if err := rows.Scan(&kind, &asset, &balance); err != nil {
			return nil, err
		}
		switch kind {
		case "debt":
			resp.Debt = balance
		case "collateral":
			resp.Collateral = append(resp.Collateral, CollateralBalance{Asset: asset, Amount: balance})
		}
	}
	return resp, rows.Err()
}

// GetLiquidations returns liquidations involving account, newest first.
// A non-nil beforeSequence pages backwards.
func (qs *QueryService) GetLiquidations(
	ctx context.Context,
	account common.Address,
	limit int,
	beforeSequence *int64,
) (results []LiquidationResponse, err error) {
	defer func(start time.Time) { qs.observe("GetLiquidations", start, err) }(time.Now())

	query := `
		SELECT sequence, liquidator, target, asset, debt_covered::TEXT, collateral_seized::TEXT,
		       bonus::TEXT, starting_health::TEXT, ending_health::TEXT, timestamp
		FROM projections.liquidations
		WHERE (target = $1 OR liquidator = $1)
	`
	args := []any{account.Hex()}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r LiquidationResponse
		if err := rows.Scan(
			&r.Sequence, &r.Liquidator, &r.Target, &r.Asset, &r.DebtCovered, &r.CollateralSeized,
			&r.Bonus, &r.StartingHealth, &r.EndingHealth, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetJournalHistory returns journal entries for an account with pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	account common.Address,
	limit int,
	beforeSequence *int64,
) (entries []JournalHistoryEntry, err error) {
	defer func(start time.Time) { qs.observe("GetJournalHistory", start, err) }(time.Now())

	query := `
		SELECT journal_id, batch_id, event_ref, sequence, account_path, entry_kind,
		       COALESCE(asset, ''), direction, amount::TEXT, journal_type, timestamp
		FROM event_log.journal
		WHERE account = $1
	`
	args := []any{account.Hex()}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence, &e.AccountPath, &e.EntryKind,
			&e.Asset, &e.Direction, &e.Amount, &e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity walks the event log hash chain and compares the position
// projection against the journal. Custody is checked separately against the
// live core (see LiveCustody) and merged by the caller.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (report *IntegrityReport, err error) {
	defer func(start time.Time) { qs.observe("VerifyIntegrity", start, err) }(time.Now())

	report = &IntegrityReport{}

	if err := qs.checkHashChain(ctx, report); err != nil {
		return nil, fmt.Errorf("hash chain: %w", err)
	}

	negRows, err := qs.db.QueryContext(ctx, `
		SELECT account || ':' || entry_kind || ':' || asset
		FROM projections.positions
		WHERE balance < 0
		LIMIT 100
	`)
	if err != nil {
		return nil, err
	}
	defer negRows.Close()
	for negRows.Next() {
		var path string
		if err := negRows.Scan(&path); err != nil {
			return nil, err
		}
		report.NegativePositions = append(report.NegativePositions, path)
	}
	if err := negRows.Err(); err != nil {
		return nil, err
	}

	// Only meaningful when the projection has caught up with the journal
	driftRows, err := qs.db.QueryContext(ctx, `
		WITH journal AS (
			SELECT account, entry_kind, COALESCE(asset, '') AS asset,
			       SUM(direction * amount) AS balance
			FROM event_log.journal
			WHERE sequence <= (SELECT COALESCE(MAX(last_sequence), 0) FROM projections.watermark WHERE worker_id = 'main')
			GROUP BY account, entry_kind, COALESCE(asset, '')
		)
		SELECT COALESCE(j.account, p.account) || ':' || COALESCE(j.entry_kind, p.entry_kind) || ':' || COALESCE(j.asset, p.asset),
		       COALESCE(j.balance, 0)::TEXT, COALESCE(p.balance, 0)::TEXT
		FROM journal j
		FULL OUTER JOIN projections.positions p
			ON p.account = j.account AND p.entry_kind = j.entry_kind AND p.asset = j.asset
		WHERE COALESCE(j.balance, 0) <> COALESCE(p.balance, 0)
		LIMIT 100
	`)
	if err != nil {
		return nil, err
	}
	defer driftRows.Close()
	for driftRows.Next() {
		var d ProjectionDrift
		if err := driftRows.Scan(&d.AccountPath, &d.Journal, &d.Projection); err != nil {
			return nil, err
		}
		report.ProjectionDrift = append(report.ProjectionDrift, d)
	}
	if err := driftRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.SequenceGaps) == 0 &&
		len(report.NegativePositions) == 0 &&
		len(report.ProjectionDrift) == 0
	return report, nil
}

// checkHashChain streams the log in order; each prev_hash must equal the
// previous row's state_hash (genesis for the first) and sequences must be
// contiguous from 1.
func (qs *QueryService) checkHashChain(ctx context.Context, report *IntegrityReport) error {
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, state_hash, prev_hash
		FROM event_log.events
		ORDER BY sequence ASC
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	genesis := core.GenesisHash()
	var (
		expectSeq int64 = 1
		lastHash        = genesis[:]
	)
	for rows.Next() {
		var seq int64
		var stateHash, prevHash []byte
		if err := rows.Scan(&seq, &stateHash, &prevHash); err != nil {
			return err
		}
		if seq != expectSeq {
			report.SequenceGaps = append(report.SequenceGaps, expectSeq)
		} else if !bytes.Equal(prevHash, lastHash) {
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
		expectSeq = seq + 1
		lastHash = stateHash
		report.LatestSequence = seq
	}
	return rows.Err()
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}
