// Package store persists pipeline runs, their stage status and the
// differential expression and overlap results in a SQLite file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/yumyai/stat3deg/logger"
)

var ErrRunNotFound = errors.New("store: run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	config_path TEXT NOT NULL,
	data_dir    TEXT NOT NULL,
	output_dir  TEXT NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS stages (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	seq        INTEGER NOT NULL,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL,
	PRIMARY KEY (run_id, name)
);
CREATE TABLE IF NOT EXISTS contrasts (
	run_id           TEXT NOT NULL REFERENCES runs(id),
	name             TEXT NOT NULL,
	treatment        TEXT NOT NULL,
	reference        TEXT NOT NULL,
	alpha            REAL NOT NULL,
	filter_threshold REAL,
	samples          TEXT NOT NULL,
	PRIMARY KEY (run_id, name)
);
CREATE TABLE IF NOT EXISTS de_results (
	run_id         TEXT NOT NULL,
	contrast       TEXT NOT NULL,
	gene           TEXT NOT NULL,
	base_mean      REAL,
	log2_fc        REAL,
	lfc_se         REAL,
	stat           REAL,
	pvalue         REAL,
	padj           REAL,
	dispersion     REAL,
	converged      INTEGER NOT NULL,
	cooks_outlier  INTEGER NOT NULL,
	filtered       INTEGER NOT NULL,
	PRIMARY KEY (run_id, contrast, gene)
);
CREATE TABLE IF NOT EXISTS overlaps (
	run_id       TEXT NOT NULL,
	set_a        TEXT NOT NULL,
	set_b        TEXT NOT NULL,
	size_a       INTEGER NOT NULL,
	size_b       INTEGER NOT NULL,
	intersection INTEGER NOT NULL,
	background   INTEGER NOT NULL,
	pvalue       REAL,
	odds_ratio   REAL,
	jaccard      REAL,
	enrichment   REAL,
	genes        TEXT NOT NULL,
	PRIMARY KEY (run_id, set_a, set_b)
);
`

// Store wraps the results database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates the database file and its parent directory if needed and
// applies the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; sqlite serialises anyway and this keeps :memory: on one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Debug("Opened results database", zap.String("path", path))
	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Path() string { return s.path }

// withTx runs fn in a transaction, rolling back when it fails.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNull(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Fixed width so that created_at orders correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
