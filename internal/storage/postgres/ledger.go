// Package postgres provides the Postgres-backed lead ledger.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/lead-intake/internal/lead"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "lead_submissions"

// LedgerConfig controls the Postgres connection pool used for the ledger.
type LedgerConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// Ledger records which lead ids were accepted and how their dispatch went.
//
// Expected schema:
//
//	CREATE TABLE lead_submissions (
//		lead_id      TEXT PRIMARY KEY,
//		kind         TEXT NOT NULL,
//		received_at  TIMESTAMPTZ NOT NULL,
//		outcome      JSONB,
//		completed_at TIMESTAMPTZ
//	);
type Ledger struct {
	pool  execCloser
	table string
	now   func() time.Time
}

// NewLedger creates a Postgres-backed Ledger using the provided config.
func NewLedger(ctx context.Context, cfg LedgerConfig) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Ledger{pool: pool, table: table, now: time.Now}, nil
}

// NewLedgerWithPool constructs a ledger from an existing pool (primarily for testing).
func NewLedgerWithPool(pool execCloser, table string) (*Ledger, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Ledger{pool: pool, table: name, now: time.Now}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// Ping checks database connectivity.
func (l *Ledger) Ping(ctx context.Context) error {
	if err := l.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Claim inserts leadID and reports whether this call created the row.
func (l *Ledger) Claim(ctx context.Context, leadID string, kind lead.Kind, at time.Time) (bool, error) {
	if leadID == "" {
		return false, fmt.Errorf("lead id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (lead_id, kind, received_at)
VALUES ($1, $2, $3)
ON CONFLICT (lead_id) DO NOTHING`, l.table)

	tag, err := l.pool.Exec(ctx, query, leadID, string(kind), at.UTC())
	if err != nil {
		return false, fmt.Errorf("claim lead: %w", err)
	}
	return tag.RowsAffected() == 1, nil
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
	query := fmt.Sprintf(`UPDATE %s SET outcome = $2, completed_at = $3 WHERE lead_id = $1`, l.table)
	if _, err := l.pool.Exec(ctx, query, leadID, outcome, l.now().UTC()); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}
