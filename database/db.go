package database

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/dnldd/boxbreak/shared"
	rqlitehttp "github.com/rqlite/rqlite-go-http"
	"github.com/rs/zerolog"
)

// DatabaseConfig is the configuration for the rqlite result store.
type DatabaseConfig struct {
	// Endpoint represents the database connection endpoint.
	Endpoint string
	// User is the database user.
	User string
	// Pass is the database user pass.
	Pass string
	// Timeout is the request timeout, defaults to five seconds.
	Timeout time.Duration
	// Logger is the database logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *DatabaseConfig) Validate() error {
	var errs error
	if cfg.Endpoint == "" {
		errs = errors.Join(errs, fmt.Errorf("no database endpoint provided"))
	}
	if cfg.Pass != "" && cfg.User == "" {
		errs = errors.Join(errs, fmt.Errorf("no database user provided for the provided pass"))
	}
	if cfg.Timeout < 0 {
		errs = errors.Join(errs, fmt.Errorf("database timeout cannot be negative, got %s", cfg.Timeout))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("no logger provided"))
	}

	return errs
}

// Database represents the rqlite result store connection.
type Database struct {
	cfg    *DatabaseConfig
	client *rqlitehttp.Client
}

// Ensure the database implements the Recorder interface.
var _ Recorder = (*Database)(nil)

// NewDatabase initializes a new database connection.
func NewDatabase(ctx context.Context, cfg *DatabaseConfig) (*Database, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating database config: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = time.Second * 5
	}

	httpc := &http.Client{Timeout: timeout}
	client, err := rqlitehttp.NewClient(cfg.Endpoint, httpc)
	if err != nil {
		return nil, fmt.Errorf("creating database client: %w", err)
	}

	if cfg.User != "" {
		client.SetBasicAuth(cfg.User, cfg.Pass)
	}

	db := &Database{
		cfg:    cfg,
		client: client,
	}

	err = db.bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrapping database: %w", err)
	}

	return db, nil
}

// bootstrap initializes the database.
func (db *Database) bootstrap(ctx context.Context) error {
	resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{SQL: createRecordTableSQL},
		{SQL: createRecordRunIndexSQL},
	}, &rqlitehttp.ExecuteOptions{
		Transaction: true,
		Timings:     true,
	})
	if err != nil {
		return err
	}

	has, idx, errStr := resp.HasError()
	if has {
		return fmt.Errorf("creating tables: %d -> %s", idx, errStr)
	}

	return nil
}

// Record stores the provided symbol record under the provided run.
func (db *Database) Record(ctx context.Context, runID string, rec *shared.Record) error {
	resp, err := db.client.Execute(ctx, rqlitehttp.SQLStatements{
		{
			SQL:              persistRecordSQL,
			PositionalParams: recordParams(runID, rec, time.Now()),
		},
	}, &rqlitehttp.ExecuteOptions{Transaction: true, Timings: true})
	if err != nil {
		db.cfg.Logger.Error().Msgf("unable to record %s result: %s", rec.Symbol, spew.Sdump(rec))
		return fmt.Errorf("recording %s: %w", rec.Symbol, err)
	}

	has, idx, errStr := resp.HasError()
	if has {
		db.cfg.Logger.Error().Msgf("unable to record %s result: %s", rec.Symbol, spew.Sdump(rec))
		return fmt.Errorf("recording %s: %d -> %s", rec.Symbol, idx, errStr)
	}

	return nil
}

// Close releases the database resources.
func (db *Database) Close() error {
	return nil
}
