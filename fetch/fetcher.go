package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dnldd/boxbreak/interval"
	"github.com/dnldd/boxbreak/shared"
	"github.com/rs/zerolog"
)

// Fetcher fetches normalized candles for a unix time range.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, tf shared.Timeframe, from int64, to int64, maxRows int) (shared.Series, error)
}

// PriceSource fetches the prices for a single bounded request window.
type PriceSource interface {
	FetchPrices(ctx context.Context, creds *Credentials, symbol string, resolution string, from string, to string, max int) (shared.Series, error)
}

// ChunkedFetcherConfig represents the chunked fetcher configuration.
type ChunkedFetcherConfig struct {
	// Source fetches the prices of a single chunk.
	Source PriceSource
	// Session supplies the request credentials.
	Session *Session
	// ChunkRows is the maximum number of bars covered by a single chunk.
	ChunkRows int
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ChunkedFetcherConfig) Validate() error {
	var errs error
	if cfg.Source == nil {
		errs = errors.Join(errs, fmt.Errorf("no price source provided"))
	}
	if cfg.Session == nil {
		errs = errors.Join(errs, fmt.Errorf("no session provided"))
	}
	if cfg.ChunkRows <= 0 {
		errs = errors.Join(errs, fmt.Errorf("chunk rows must be positive, got %d", cfg.ChunkRows))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("no logger provided"))
	}

	return errs
}

// ChunkedFetcher splits a fetch range into planned request chunks and merges their results.
type ChunkedFetcher struct {
	cfg *ChunkedFetcherConfig
}

// Ensure the chunked fetcher implements the Fetcher interface.
var _ Fetcher = (*ChunkedFetcher)(nil)

// NewChunkedFetcher instantiates a new chunked fetcher.
func NewChunkedFetcher(cfg *ChunkedFetcherConfig) (*ChunkedFetcher, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating chunked fetcher config: %w", err)
	}

	return &ChunkedFetcher{cfg: cfg}, nil
}

// Fetch fetches the candles for [from, to), one request per planned chunk. Chunk failures abort
// the fetch with the chunk's error.
func (f *ChunkedFetcher) Fetch(ctx context.Context, symbol string, tf shared.Timeframe, from int64, to int64, maxRows int) (shared.Series, error) {
	creds, err := f.cfg.Session.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	rows := f.cfg.ChunkRows
	if maxRows > 0 {
		rows = min(rows, maxRows)
	}

	parts := make([]shared.Series, 0)
	var requests int
	for chunk := range interval.Plan(from, to, tf.Seconds(), rows) {
		requests++
		part, err := f.cfg.Source.FetchPrices(ctx, creds, symbol, tf.String(), chunk.From(), chunk.To(), maxRows)
		if err != nil {
			return nil, fmt.Errorf("fetching %s chunk [%s, %s]: %w", symbol, chunk.From(), chunk.To(), err)
		}

		parts = append(parts, part)
	}

	candles := shared.Merge(parts...)
	f.cfg.Logger.Debug().Msgf("fetched %d %s candles for %s across %d request(s)",
		len(candles), tf.String(), symbol, requests)

	return candles, nil
}
