// Package sqlite provides a single-file lead ledger for deployments without
// Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// Registers the "sqlite3" driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/lead-intake/internal/lead"
)

const schema = `
CREATE TABLE IF NOT EXISTS lead_submissions (
    lead_id      TEXT PRIMARY KEY,
    kind         TEXT NOT NULL,
    received_at  TEXT NOT NULL,
    outcome      TEXT,
    completed_at TEXT
);`

// Ledger records lead ids in a SQLite database.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// NewLedger opens (or creates) the database at path and applies the schema.
func NewLedger(ctx context.Context, path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps claims serialized and lets ":memory:" work.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &Ledger{db: db, now: time.Now}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Ping checks the database is usable.
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Claim inserts leadID and reports whether this call created the row.
func (l *Ledger) Claim(ctx context.Context, leadID string, kind lead.Kind, at time.Time) (bool, error) {
	if leadID == "" {
		return false, fmt.Errorf("lead id is required")
	}
	res, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO lead_submissions (lead_id, kind, received_at) VALUES (?, ?, ?)`,
		leadID, string(kind), at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("claim lead: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim lead rows: %w", err)
	}
	return n == 1, nil
}

// RecordOutcome stores the per-sink results for leadID.
func (l *Ledger) RecordOutcome(ctx context.Context, leadID string, results []lead.DispatchResult) error {
	if results == nil {
		results = []lead.DispatchResult{}
	}
	outcome, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE lead_submissions SET outcome = ?, completed_at = ? WHERE lead_id = ?`,
		string(outcome), l.now().UTC().Format(time.RFC3339Nano), leadID)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record outcome: lead %q was never claimed", leadID)
	}
	return nil
}

// Outcome returns the recorded results for leadID.
func (l *Ledger) Outcome(ctx context.Context, leadID string) ([]lead.DispatchResult, bool, error) {
	var raw sql.NullString
	err := l.db.QueryRowContext(ctx,
		`SELECT outcome FROM lead_submissions WHERE lead_id = ?`, leadID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load outcome: %w", err)
	}
	if !raw.Valid {
		return nil, true, nil
	}
	var results []lead.DispatchResult
	if err := json.Unmarshal([]byte(raw.String), &results); err != nil {
		return nil, true, fmt.Errorf("decode outcome: %w", err)
	}
	return results, true, nil
}
