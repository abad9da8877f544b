package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// EventLogWriter writes envelopes and journals to Postgres using multi-row
// INSERTs. Writes are idempotent on the primary keys so a retried batch is safe.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	CommandType    string
	IdempotencyKey string
	Caller         string
	Payload        []byte // JSON-encoded command, replayed on recovery
	Events         []byte // JSON-encoded domain events
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID   string
	BatchID     string
	EventRef    string
	Sequence    int64
	Account     string
	AccountPath string
	EntryKind   string
	Asset       *string // nil for debt
	Direction   int16
	Amount      string // decimal uint256
	JournalType int32
	Timestamp   int64
}

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// WriteEventBatch writes a batch of envelopes to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, events []EventRow, ex execer) error {
	if len(events) == 0 {
		return nil
	}
	if ex == nil {
		ex = w.db
	}

	query := `INSERT INTO event_log.events
		(sequence, command_type, idempotency_key, caller, payload, events, state_hash, prev_hash, timestamp)
		VALUES `

	const cols = 9
	values := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		eventsJSON := e.Events
		if len(eventsJSON) == 0 {
			eventsJSON = []byte("[]")
		}
		args = append(args,
			e.Sequence, e.CommandType, e.IdempotencyKey, e.Caller,
			e.Payload, eventsJSON, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, journals []JournalRow, ex execer) error {
	if len(journals) == 0 {
		return nil
	}
	if ex == nil {
		ex = w.db
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, account, account_path, entry_kind, asset, direction, amount, journal_type, timestamp)
		VALUES `

	const cols = 12
	values := make([]string, 0, len(journals))
	args := make([]any, 0, len(journals)*cols)

	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.Account, j.AccountPath, j.EntryKind, j.Asset,
			j.Direction, j.Amount, j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)"
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for k := 1; k <= n; k++ {
		if k > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+k)
	}
	b.WriteByte(')')
	return b.String()
}
