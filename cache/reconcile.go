package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/dnldd/boxbreak/fetch"
	"github.com/dnldd/boxbreak/shared"
	"github.com/rs/zerolog"
)

// ReconcilerConfig represents the reconciler configuration.
type ReconcilerConfig struct {
	// Store persists candle records.
	Store Store
	// Fetcher fetches missing ranges.
	Fetcher fetch.Fetcher
	// MaxRows is the maximum number of rows requested per price request.
	MaxRows int
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *ReconcilerConfig) Validate() error {
	var errs error
	if cfg.Store == nil {
		errs = errors.Join(errs, fmt.Errorf("no store provided"))
	}
	if cfg.Fetcher == nil {
		errs = errors.Join(errs, fmt.Errorf("no fetcher provided"))
	}
	if cfg.MaxRows <= 0 {
		errs = errors.Join(errs, fmt.Errorf("max rows must be positive, got %d", cfg.MaxRows))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("no logger provided"))
	}

	return errs
}

// Reconciler serves candle windows from the cache, fetching only the ranges it is missing.
//
// Reconciling the same record concurrently is not supported.
type Reconciler struct {
	cfg *ReconcilerConfig
}

// NewReconciler instantiates a new reconciler.
func NewReconciler(cfg *ReconcilerConfig) (*Reconciler, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating reconciler config: %w", err)
	}

	return &Reconciler{cfg: cfg}, nil
}

// loadRange loads the cached rows within [start, end], treating unreadable records as absent.
func (r *Reconciler) loadRange(key string, start int64, end int64) shared.Series {
	cached, err := r.cfg.Store.LoadRange(key, start, end)
	if err != nil {
		if !errors.Is(err, shared.ErrInvalidCache) {
			r.cfg.Logger.Error().Msgf("loading cached range for %s: %v", key, err)
		} else {
			r.cfg.Logger.Warn().Msgf("ignoring invalid cache record %s: %v", key, err)
		}
		return shared.Series{}
	}

	return cached
}

// persist merges the fetched rows into the full record and writes it. An unreadable record is
// replaced outright so the bad rows do not survive the write.
func (r *Reconciler) persist(key string, fetched shared.Series) error {
	write := r.cfg.Store.Persist
	full, err := r.cfg.Store.Load(key)
	if err != nil {
		if !errors.Is(err, shared.ErrInvalidCache) {
			return fmt.Errorf("loading record %s: %w", key, err)
		}

		r.cfg.Logger.Warn().Msgf("rewriting invalid cache record %s: %v", key, err)
		full = shared.Series{}
		write = r.cfg.Store.Replace
	}

	updated := shared.Merge(full, fetched)
	err = write(key, updated)
	if err != nil {
		return fmt.Errorf("persisting record %s: %w", key, err)
	}

	r.cfg.Logger.Info().Msgf("record %s updated, %d rows", key, len(updated))

	return nil
}

// Reconcile returns the candles of the symbol's record within [start, end], fetching and
// persisting whatever the record is missing. Cache hits never write.
func (r *Reconciler) Reconcile(ctx context.Context, symbol string, kind Kind, tf shared.Timeframe, start int64, end int64) (shared.Series, error) {
	if start > end {
		return shared.Series{}, nil
	}

	key := kind.Key(symbol)
	cached := r.loadRange(key, start, end)

	cachedMin, cachedMax, ok := cached.Bounds()
	if !ok {
		r.cfg.Logger.Info().Msgf("no cached %s rows for %s in range, fetching [%s, %s]",
			kind, symbol, shared.UnixToTimestamp(start), shared.UnixToTimestamp(end))

		fetched, err := r.cfg.Fetcher.Fetch(ctx, symbol, tf, start, end, r.cfg.MaxRows)
		if err != nil {
			return nil, fmt.Errorf("fetching %s window: %w", key, err)
		}
		if len(fetched) == 0 {
			r.cfg.Logger.Warn().Msgf("no %s data obtained for %s", kind, symbol)
			return shared.Series{}, nil
		}

		err = r.persist(key, fetched)
		if err != nil {
			return nil, err
		}

		return fetched.Slice(start, end), nil
	}

	gaps := Gaps(cachedMin, cachedMax, start, end)
	if len(gaps) == 0 {
		r.cfg.Logger.Info().Msgf("cached %s range complete for %s (%d rows)", kind, symbol, len(cached))
		return cached, nil
	}

	r.cfg.Logger.Info().Msgf("%d cached %s rows for %s, fetching %d missing range(s)",
		len(cached), kind, symbol, len(gaps))

	parts := []shared.Series{cached}
	var fetchedRows int
	for _, gap := range gaps {
		fetched, err := r.cfg.Fetcher.Fetch(ctx, symbol, tf, gap.From, gap.To, r.cfg.MaxRows)
		if err != nil {
			return nil, fmt.Errorf("fetching %s gap [%d, %d]: %w", key, gap.From, gap.To, err)
		}

		fetchedRows += len(fetched)
		parts = append(parts, fetched)
	}

	window := shared.Merge(parts...)
	if fetchedRows == 0 {
		return window.Slice(start, end), nil
	}

	err := r.persist(key, window)
	if err != nil {
		return nil, err
	}

	return window.Slice(start, end), nil
}
