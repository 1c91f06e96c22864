package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"

	"treasuryd/state"
)

// ErrAuditPathRequired is returned when the audit database path is missing.
var ErrAuditPathRequired = errors.New("audit database path must be configured")

// Audit mirrors decisions, executions, and announcements into sqlite as
// insert-only rows. The JSON state file stays the source of truth; this sink
// exists so operators can query history with plain SQL after the in-file
// histories have been trimmed. A nil *Audit is a valid disabled sink: every
// method is a no-op.
type Audit struct {
	db *sql.DB
}

// OpenAudit initialises the audit database at the sqlite DSN.
func OpenAudit(path string) (*Audit, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrAuditPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if _, err := db.Exec(auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}
	return &Audit{db: db}, nil
}

// Close releases database resources.
func (a *Audit) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// RecordDecision appends one engine verdict.
func (a *Audit) RecordDecision(ctx context.Context, dec state.Decision) error {
	if a == nil || a.db == nil {
		return nil
	}
	var payback sql.NullFloat64
	if dec.EstimatedPaybackHours != nil {
		payback = sql.NullFloat64{Float64: *dec.EstimatedPaybackHours, Valid: true}
	}
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO decisions(ts, action, reason_code, reason, chosen_pool, from_pool, emergency, old_net_apy_bps, new_net_apy_bps, payback_hours, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, dec.Timestamp, string(dec.Action), int(dec.ReasonCode), dec.Reason,
		nullable(dec.ChosenPoolID), nullable(dec.FromPoolID), boolInt(dec.Emergency),
		dec.OldNetApyBps, dec.NewNetApyBps, payback, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// ExecutionRecord captures one executor attempt for the audit trail.
type ExecutionRecord struct {
	Timestamp  int64
	Action     string
	Status     string
	TxHash     string
	ExitTxHash string
	Error      string
}

// RecordExecution appends one executor attempt.
func (a *Audit) RecordExecution(ctx context.Context, rec ExecutionRecord) error {
	if a == nil || a.db == nil {
		return nil
	}
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO executions(ts, action, status, tx_hash, exit_tx_hash, error, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?, ?)
    `, rec.Timestamp, strings.ToUpper(strings.TrimSpace(rec.Action)), strings.TrimSpace(rec.Status),
		rec.TxHash, rec.ExitTxHash, rec.Error, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// RecordTweet appends one announcement.
func (a *Audit) RecordTweet(ctx context.Context, rec state.TweetRecord) error {
	if a == nil || a.db == nil {
		return nil
	}
	_, err := a.db.ExecContext(ctx, `
        INSERT INTO tweets(ts, kind, body, remote_id, tx_hash, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, rec.Timestamp, rec.Kind, rec.Text, rec.RemoteID, rec.TxHash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert tweet: %w", err)
	}
	return nil
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS decisions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts INTEGER NOT NULL,
    action TEXT NOT NULL,
    reason_code INTEGER NOT NULL,
    reason TEXT NOT NULL,
    chosen_pool TEXT,
    from_pool TEXT,
    emergency INTEGER NOT NULL,
    old_net_apy_bps INTEGER NOT NULL,
    new_net_apy_bps INTEGER NOT NULL,
    payback_hours REAL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts);

CREATE TABLE IF NOT EXISTS executions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts INTEGER NOT NULL,
    action TEXT NOT NULL,
    status TEXT NOT NULL,
    tx_hash TEXT,
    exit_tx_hash TEXT,
    error TEXT,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_ts ON executions(ts);

CREATE TABLE IF NOT EXISTS tweets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts INTEGER NOT NULL,
    kind TEXT NOT NULL,
    body TEXT NOT NULL,
    remote_id TEXT,
    tx_hash TEXT,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tweets_ts ON tweets(ts);
`

func nullable(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
