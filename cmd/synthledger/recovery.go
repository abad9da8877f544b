package main

import (
	"SynthLedger/internal/core"
	"SynthLedger/internal/event"
	"SynthLedger/internal/observability"
	"SynthLedger/internal/persistence"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const replayBatchSize = 1000

// restoreSnapshot decodes a stored snapshot into the idle core.
func restoreSnapshot(c *core.DeterministicCore, snap *persistence.SnapshotData) error {
	var state core.StateSnapshot
	if err := json.Unmarshal(snap.State, &state); err != nil {
		return fmt.Errorf("decode snapshot seq=%d: %w", snap.Sequence, err)
	}
	if state.Sequence != snap.Sequence {
		return fmt.Errorf("snapshot seq=%d carries state for seq=%d", snap.Sequence, state.Sequence)
	}
	return c.RestoreSnapshot(&state)
}

// replayFromLog re-applies logged commands from fromSequence to the head.
// Every command must land on its logged sequence and state hash.
func replayFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	c *core.DeterministicCore,
	fromSequence int64,
	metrics *observability.Metrics,
) (int64, error) {
	start := time.Now()
	var replayed int64

	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, fromSequence, replayBatchSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from seq %d: %w", fromSequence, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			ct, err := event.ParseCommandType(row.CommandType)
			if err != nil {
				return replayed, fmt.Errorf("seq=%d: %w", row.Sequence, err)
			}
			cmd, err := event.DecodeCommand(ct, row.Payload)
			if err != nil {
				return replayed, fmt.Errorf("seq=%d: %w", row.Sequence, err)
			}
			var hash [32]byte
			copy(hash[:], row.StateHash)
			if err := c.Replay(cmd, row.Sequence, hash); err != nil {
				return replayed, err
			}
			replayed++
		}
		fromSequence = rows[len(rows)-1].Sequence + 1
	}

	if metrics != nil {
		metrics.ReplayDuration.Set(time.Since(start).Seconds())
	}
	return replayed, nil
}

// warmIdempotency loads the newest logged keys into the LRU so recent
// duplicates are caught without a database round trip.
func warmIdempotency(ctx context.Context, checker *persistence.PostgresIdempotencyChecker, c *core.DeterministicCore, limit int) (int, error) {
	keys, err := checker.RecentKeys(ctx, limit)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		c.WarmLRU(k[0], k[1])
	}
	return len(keys), nil
}

// ============================================================================
// Snapshots
// ============================================================================

// snapshotter persists core snapshots every interval commands.
type snapshotter struct {
	core     *core.DeterministicCore
	snapMgr  *persistence.SnapshotManager
	interval int64
	metrics  *observability.Metrics
	logger   zerolog.Logger
	lastSeq  int64
}

// run checks every tick whether interval commands have been committed since
// the last snapshot, and verifies pending snapshots against the log.
func (s *snapshotter) run(ctx context.Context, tick time.Duration) {
	if s.interval <= 0 {
		s.interval = 10_000
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.snapMgr.VerifySnapshots(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("snapshot verification failed")
			} else if n > 0 {
				s.logger.Info().Int64("count", n).Msg("snapshots verified")
			}

			if s.core.GetSequence()-1-s.lastSeq < s.interval {
				continue
			}
			var snap *core.StateSnapshot
			if err := s.core.Query(ctx, func(v *core.View) { snap = v.Snapshot() }); err != nil {
				continue
			}
			if err := s.save(ctx, snap); err != nil {
				s.logger.Warn().Err(err).Int64("sequence", snap.Sequence).Msg("periodic snapshot failed")
				continue
			}
			s.logger.Info().Int64("sequence", snap.Sequence).Msg("periodic snapshot saved")
		}
	}
}

// save persists snap. An empty core (sequence 0) is never snapshotted.
func (s *snapshotter) save(ctx context.Context, snap *core.StateSnapshot) error {
	if snap.Sequence <= 0 || snap.Sequence == s.lastSeq {
		return nil
	}
	start := time.Now()

	hash, err := hex.DecodeString(snap.StateHash)
	if err != nil {
		return fmt.Errorf("decode state hash: %w", err)
	}
	state, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	size, err := s.snapMgr.SaveSnapshot(ctx, &persistence.SnapshotData{
		Sequence:  snap.Sequence,
		StateHash: hash,
		State:     state,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	s.lastSeq = snap.Sequence

	if s.metrics != nil {
		s.metrics.SnapshotTaken.Inc()
		s.metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		s.metrics.SnapshotSizeBytes.Set(float64(size))
		s.metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	}
	return nil
}
