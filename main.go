package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/dnldd/boxbreak/cache"
	"github.com/dnldd/boxbreak/database"
	"github.com/dnldd/boxbreak/fetch"
	"github.com/dnldd/boxbreak/indicator"
	"github.com/dnldd/boxbreak/monitor"
	"github.com/dnldd/boxbreak/service"
	"github.com/dnldd/boxbreak/shared"
	"github.com/rs/zerolog"
)

// handleTermination processes context cancellation signals or interrupt signals from the OS.
func handleTermination(ctx context.Context, cancel context.CancelFunc) {
	// Listen for interrupt signals.
	signals := []os.Signal{os.Interrupt}
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, signals...)

	// Wait for the context to be cancelled or an interrupt signal.
	for {
		select {
		case <-ctx.Done():
			return

		case <-interrupt:
			cancel()
		}
	}
}

// newRecorder creates the configured result recorder, falling back to a noop recorder.
func newRecorder(ctx context.Context, cfg *Config, logger *zerolog.Logger) database.Recorder {
	recorderLogger := logger.With().Str("component", "recorder").Logger()

	switch {
	case cfg.RqliteEndpoint != "":
		db, err := database.NewDatabase(ctx, &database.DatabaseConfig{
			Endpoint: cfg.RqliteEndpoint,
			User:     cfg.RqliteUser,
			Pass:     cfg.RqlitePass,
			Logger:   &recorderLogger,
		})
		if err != nil {
			logger.Warn().Msgf("rqlite recorder unavailable, results will not be recorded: %v", err)
			return database.NewNoopRecorder()
		}
		return db
	case cfg.SQLitePath != "":
		rec, err := database.NewSQLiteRecorder(ctx, &database.SQLiteConfig{
			Path:   cfg.SQLitePath,
			Logger: &recorderLogger,
		})
		if err != nil {
			logger.Warn().Msgf("sqlite recorder unavailable, results will not be recorded: %v", err)
			return database.NewNoopRecorder()
		}
		return rec
	default:
		return database.NewNoopRecorder()
	}
}

// sources creates the price fetcher, the session refresher and the optional reference fetcher.
func sources(ctx context.Context, cfg *Config, logger *zerolog.Logger) (fetch.Fetcher, monitor.Refresher, fetch.Fetcher, error) {
	if cfg.ReplayFile != "" {
		replayLogger := logger.With().Str("component", "replay").Logger()
		replay, err := fetch.NewHistoricData(&fetch.HistoricDataConfig{
			FilePath: cfg.ReplayFile,
			Logger:   &replayLogger,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("creating replay source: %w", err)
		}

		return replay, nil, nil, nil
	}

	capitalLogger := logger.With().Str("component", "capital").Logger()
	capital, err := fetch.NewCapitalClient(&fetch.CapitalConfig{
		BaseURL:     cfg.CapitalURL,
		APIKey:      cfg.APIKey,
		Email:       cfg.Email,
		Password:    cfg.Password,
		LoginPolicy: fetch.LoginPolicy(),
		PricePolicy: fetch.PricePolicy(),
		Logger:      &capitalLogger,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating capital.com client: %w", err)
	}

	sessionLogger := logger.With().Str("component", "session").Logger()
	session, err := fetch.NewSession(&fetch.SessionConfig{
		Authenticator: capital,
		Logger:        &sessionLogger,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating session: %w", err)
	}

	err = session.Refresh(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("logging in: %w", err)
	}

	fetcherLogger := logger.With().Str("component", "fetcher").Logger()
	fetcher, err := fetch.NewChunkedFetcher(&fetch.ChunkedFetcherConfig{
		Source:    capital,
		Session:   session,
		ChunkRows: cfg.ChunkRows,
		Logger:    &fetcherLogger,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating fetcher: %w", err)
	}

	if cfg.SimpleFXURL == "" {
		return fetcher, session, nil, nil
	}

	referenceLogger := logger.With().Str("component", "simplefx").Logger()
	reference, err := fetch.NewSimpleFXClient(&fetch.SimpleFXConfig{
		BaseURL: cfg.SimpleFXURL,
		Policy:  fetch.ReferencePolicy(),
		Logger:  &referenceLogger,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating reference client: %w", err)
	}

	return fetcher, session, reference, nil
}

// run wires the pipeline and runs it once or on schedule.
func run(ctx context.Context, cfg *Config, logger *zerolog.Logger) error {
	start, end, err := cfg.Window()
	if err != nil {
		return err
	}

	tf, err := shared.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		return err
	}

	fetcher, session, reference, err := sources(ctx, cfg, logger)
	if err != nil {
		return err
	}

	storeLogger := logger.With().Str("component", "store").Logger()
	store, err := cache.NewBadgerStore(&cache.BadgerConfig{
		Path:   filepath.Join(cfg.CacheDir, "candles"),
		Logger: &storeLogger,
	})
	if err != nil {
		return fmt.Errorf("opening candle cache: %w", err)
	}
	defer store.Close()

	reconcilerLogger := logger.With().Str("component", "reconciler").Logger()
	reconciler, err := cache.NewReconciler(&cache.ReconcilerConfig{
		Store:   store,
		Fetcher: fetcher,
		MaxRows: cfg.MaxCandles,
		Logger:  &reconcilerLogger,
	})
	if err != nil {
		return fmt.Errorf("creating reconciler: %w", err)
	}

	monitorLogger := logger.With().Str("component", "monitor").Logger()
	watcher, err := monitor.NewMonitor(&monitor.Config{
		Fetcher:         fetcher,
		Cache:           reconciler,
		Session:         session,
		Window:          cfg.MonitorWindow,
		PollInterval:    cfg.PollInterval,
		RefreshInterval: cfg.SessionRefresh,
		MaxRows:         monitor.DefaultMaxRows,
		Logger:          &monitorLogger,
	})
	if err != nil {
		return fmt.Errorf("creating monitor: %w", err)
	}

	recorder := newRecorder(ctx, cfg, logger)
	defer recorder.Close()

	serviceLogger := logger.With().Str("component", "pipeline").Logger()
	svc, err := service.NewService(&service.Config{
		Symbols:            cfg.Symbols,
		Timeframe:          tf,
		Start:              start,
		End:                end,
		BoxDate:            cfg.BoxDate,
		BoxStart:           cfg.BoxStart,
		BoxEnd:             cfg.BoxEnd,
		AmplitudeThreshold: cfg.AmplitudeThreshold,
		Workers:            cfg.Workers,
		RSIPeriod:          indicator.DefaultRSIPeriod,
		Profile:            indicator.DefaultProfileConfig(),
		Reconciler:         reconciler,
		Reference:          reference,
		Watcher:            watcher,
		Recorder:           recorder,
		ReportPath:         cfg.ReportPath,
		Logger:             &serviceLogger,
	})
	if err != nil {
		return fmt.Errorf("creating pipeline: %w", err)
	}

	if cfg.Schedule != "" {
		return svc.RunScheduled(ctx, cfg.Schedule)
	}

	report, err := svc.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info().Msgf("run %s done: %d breakout(s), %d excluded, %d failed",
		report.RunID, len(report.Breakouts), len(report.Excluded), len(report.Failed))

	return nil
}

func main() {
	var cfg Config
	err := loadConfig(&cfg, "")
	if err != nil {
		log.Printf("loading config: %v", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Printf("creating logger: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleTermination(ctx, cancel)

	err = run(ctx, &cfg, &logger)
	if err != nil {
		logger.Error().Err(err).Msgf("pipeline failed")
		cancel()
		os.Exit(1)
	}
}
