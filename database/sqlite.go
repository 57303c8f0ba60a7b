package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/boxbreak/shared"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteConfig is the configuration for the local sqlite result store.
type SQLiteConfig struct {
	// Path is the database file path, ":memory:" opens a private in-memory database.
	Path string
	// Logger is the database logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *SQLiteConfig) Validate() error {
	var errs error
	if cfg.Path == "" {
		errs = errors.Join(errs, fmt.Errorf("no sqlite path provided"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("no logger provided"))
	}

	return errs
}

// SQLiteRecorder persists records to a sqlite database.
type SQLiteRecorder struct {
	cfg *SQLiteConfig
	db  *sql.DB
	mtx sync.Mutex
}

// Ensure the sqlite recorder implements the Recorder interface.
var _ Recorder = (*SQLiteRecorder)(nil)

// NewSQLiteRecorder opens or creates the sqlite database and runs migrations.
func NewSQLiteRecorder(ctx context.Context, cfg *SQLiteConfig) (*SQLiteRecorder, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating sqlite config: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// A single connection keeps in-memory databases shared across statements.
	db.SetMaxOpenConns(1)

	if cfg.Path != ":memory:" {
		_, err = db.ExecContext(ctx, "PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("setting wal mode: %w", err)
		}
	}

	r := &SQLiteRecorder{cfg: cfg, db: db}
	err = r.migrate(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating sqlite: %w", err)
	}

	cfg.Logger.Info().Msgf("sqlite recorder opened: %s", cfg.Path)

	return r, nil
}

// migrate creates the result tables.
func (r *SQLiteRecorder) migrate(ctx context.Context) error {
	for _, stmt := range []string{createRecordTableSQL, createRecordRunIndexSQL} {
		_, err := r.db.ExecContext(ctx, stmt)
		if err != nil {
			return err
		}
	}

	return nil
}

// Record stores the provided symbol record under the provided run.
func (r *SQLiteRecorder) Record(ctx context.Context, runID string, rec *shared.Record) error {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	_, err := r.db.ExecContext(ctx, persistRecordSQL, recordParams(runID, rec, time.Now())...)
	if err != nil {
		r.cfg.Logger.Error().Msgf("unable to record %s result: %s", rec.Symbol, spew.Sdump(rec))
		return fmt.Errorf("recording %s: %w", rec.Symbol, err)
	}

	return nil
}

// RunSymbols returns the symbols recorded for the provided run, with their breakout state.
// Symbols without a breakout map to an empty string.
func (r *SQLiteRecorder) RunSymbols(ctx context.Context, runID string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT symbol, breakout FROM breakout_record WHERE run = ?", runID)
	if err != nil {
		return nil, fmt.Errorf("querying run %s: %w", runID, err)
	}
	defer rows.Close()

	symbols := make(map[string]string)
	for rows.Next() {
		var symbol string
		var breakout sql.NullString
		err := rows.Scan(&symbol, &breakout)
		if err != nil {
			return nil, fmt.Errorf("scanning run %s: %w", runID, err)
		}

		symbols[symbol] = breakout.String
	}

	return symbols, rows.Err()
}

// Close closes the database.
func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
