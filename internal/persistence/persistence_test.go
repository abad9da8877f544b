package persistence_test

import (
	"SynthLedger/internal/observability"
	"SynthLedger/internal/persistence"
	"SynthLedger/internal/testutil"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventRow(seq int64, hash byte) persistence.EventRow {
	return persistence.EventRow{
		Sequence:       seq,
		CommandType:    "DepositCollateral",
		IdempotencyKey: fmt.Sprintf("dep-%d", seq),
		Caller:         "0x00000000000000000000000000000000000000A1",
		Payload:        []byte(`{"amount":"10"}`),
		Events:         []byte(`[]`),
		StateHash:      []byte{hash},
		PrevHash:       []byte{hash - 1},
		Timestamp:      time.Unix(1_700_000_000+seq, 0).UTC(),
	}
}

func TestWorker_FlushesOnCloseAndReplays(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	in := make(chan persistence.CoreOutput, 4)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	worker := persistence.NewPersistenceWorker(db, in, 10, time.Second, metrics, zerolog.Nop())

	asset := "0x00000000000000000000000000000000000000E1"
	for seq := int64(1); seq <= 3; seq++ {
		in <- persistence.CoreOutput{
			EventRow: eventRow(seq, byte(seq+1)),
			JournalRows: []persistence.JournalRow{{
				JournalID:   uuid.NewString(),
				BatchID:     uuid.NewString(),
				EventRef:    fmt.Sprintf("%d", seq),
				Sequence:    seq,
				Account:     "0x00000000000000000000000000000000000000A1",
				AccountPath: "collateral:0x00000000000000000000000000000000000000A1:" + asset,
				EntryKind:   "collateral",
				Asset:       &asset,
				Direction:   1,
				Amount:      "10",
				JournalType: 1,
				Timestamp:   seq,
			}},
		}
	}
	close(in)

	// Closing the input flushes the partial batch.
	require.NoError(t, worker.Run(context.Background()))

	ctx := context.Background()
	snapMgr := persistence.NewSnapshotManager(db)

	latest, err := snapMgr.GetLatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), latest)

	rows, err := snapMgr.LoadEventsFrom(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].Sequence)
	assert.Equal(t, "dep-3", rows[1].IdempotencyKey)
	assert.Equal(t, []byte{4}, rows[1].StateHash)

	var journals int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM event_log.journal`).Scan(&journals))
	assert.Equal(t, 3, journals)

	checker := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := checker.IsDuplicate("DepositCollateral", "dep-1")
	require.NoError(t, err)
	assert.True(t, dup)
	dup, err = checker.IsDuplicate("Mint", "dep-1")
	require.NoError(t, err)
	assert.False(t, dup)

	keys, err := checker.RecentKeys(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"DepositCollateral", "dep-2"}, {"DepositCollateral", "dep-3"}}, keys)
}

func TestWriter_RetriedBatchIsIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	w := persistence.NewEventLogWriter(db)
	batch := []persistence.EventRow{eventRow(1, 2), eventRow(2, 3)}

	require.NoError(t, w.WriteEventBatch(ctx, batch, nil))
	require.NoError(t, w.WriteEventBatch(ctx, batch, nil))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM event_log.events`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestSnapshots_VerifiedOnlyAgainstMatchingLog(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	snapMgr := persistence.NewSnapshotManager(db)
	w := persistence.NewEventLogWriter(db)

	save := func(seq int64, hash byte) {
		_, err := snapMgr.SaveSnapshot(ctx, &persistence.SnapshotData{
			Sequence:  seq,
			StateHash: []byte{hash},
			State:     []byte(fmt.Sprintf(`{"sequence":%d}`, seq)),
			CreatedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	save(1, 2)

	// Nothing logged yet: the snapshot stays pending and is not loadable.
	n, err := snapMgr.VerifySnapshots(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	require.NoError(t, w.WriteEventBatch(ctx, []persistence.EventRow{eventRow(1, 2), eventRow(2, 3)}, nil))

	// Sequence 2 carries a hash the log disagrees with.
	save(2, 9)

	n, err = snapMgr.VerifySnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	snap, err = snapMgr.LoadLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, int64(1), snap.Sequence)
	assert.JSONEq(t, `{"sequence":1}`, string(snap.State))
}

func TestMigrator_StatusReportsApplied(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	m := persistence.NewMigrator(db, testutil.MigrationsDir(t), zerolog.Nop())
	statuses, err := m.Status(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	for _, s := range statuses {
		assert.True(t, s.Applied, s.Filename)
	}
}
