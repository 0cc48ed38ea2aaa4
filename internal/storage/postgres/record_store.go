// Package postgres mirrors detection records into Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/practice-vendor-crawler/internal/crawler"
)

const defaultTable = "detection_records"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for record rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RecordStore upserts one row per (run_id, practice_id).
type RecordStore struct {
	pool  execCloser
	table string
}

// New connects a pool and returns a RecordStore.
func New(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.postgres_dsn is required")
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
	return NewWithPool(pool, cfg.Table)
}

// NewWithPool constructs a store from an existing pool.
func NewWithPool(pool execCloser, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the record table when it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id              TEXT NOT NULL,
	practice_id         TEXT NOT NULL,
	name                TEXT NOT NULL,
	website             TEXT NOT NULL,
	final_url           TEXT NOT NULL,
	http_status         INTEGER NOT NULL,
	status              TEXT NOT NULL,
	has_online_booking  BOOLEAN NOT NULL,
	has_online_payments BOOLEAN NOT NULL,
	has_online_forms    BOOLEAN NOT NULL,
	partial             BOOLEAN NOT NULL,
	results             JSONB NOT NULL,
	record              JSONB NOT NULL,
	crawled_at          TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, practice_id)
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// MirrorRecord upserts rec. A rerun of the same practice in the same run
// replaces the earlier row.
func (s *RecordStore) MirrorRecord(ctx context.Context, rec crawler.DetectionRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	results, err := json.Marshal(rec.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	full, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	practice_id,
	name,
	website,
	final_url,
	http_status,
	status,
	has_online_booking,
	has_online_payments,
	has_online_forms,
	partial,
	results,
	record,
	crawled_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
ON CONFLICT (run_id, practice_id) DO UPDATE SET
	final_url = EXCLUDED.final_url,
	http_status = EXCLUDED.http_status,
	status = EXCLUDED.status,
	has_online_booking = EXCLUDED.has_online_booking,
	has_online_payments = EXCLUDED.has_online_payments,
	has_online_forms = EXCLUDED.has_online_forms,
	partial = EXCLUDED.partial,
	results = EXCLUDED.results,
	record = EXCLUDED.record,
	crawled_at = EXCLUDED.crawled_at`, s.table)

	args := []any{
		rec.RunID,
		rec.ID,
		rec.Name,
		rec.Website,
		rec.FinalURL,
		rec.HTTPStatus,
		string(rec.Status),
		rec.HasOnlineBooking,
		rec.HasOnlinePayments,
		rec.HasOnlineForms,
		rec.Partial,
		results,
		full,
		rec.CrawledAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}
