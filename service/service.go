package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dnldd/boxbreak/cache"
	"github.com/dnldd/boxbreak/database"
	"github.com/dnldd/boxbreak/fetch"
	"github.com/dnldd/boxbreak/indicator"
	"github.com/dnldd/boxbreak/monitor"
	"github.com/dnldd/boxbreak/shared"
	"github.com/go-co-op/gocron"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// DefaultWorkers is the default number of concurrent per-symbol workers of each stage.
	DefaultWorkers = 2
	// DefaultAmplitudeThreshold is the default box amplitude percentage beyond which a symbol
	// is not monitored.
	DefaultAmplitudeThreshold = 1.0
	// referenceRows is the row limit of a reference feed request.
	referenceRows = 500
)

// Reconciler returns cached candles of a symbol, fetching what the cache is missing.
type Reconciler interface {
	Reconcile(ctx context.Context, symbol string, kind cache.Kind, tf shared.Timeframe, start int64, end int64) (shared.Series, error)
}

// Watcher watches a symbol for a breakout of its box.
type Watcher interface {
	Run(ctx context.Context, w monitor.Watch) (*monitor.Outcome, error)
}

// Ensure the cache reconciler and breakout monitor satisfy the pipeline's requirements.
var (
	_ Reconciler = (*cache.Reconciler)(nil)
	_ Watcher    = (*monitor.Monitor)(nil)
)

// Config represents the configuration of the pipeline service.
type Config struct {
	// Symbols represents the processed symbols.
	Symbols []string
	// Timeframe is the timeframe of the primary dataset.
	Timeframe shared.Timeframe
	// Start is the unix start time of the primary and volume profile datasets.
	Start int64
	// End is the unix end time of the primary and volume profile datasets.
	End int64
	// BoxDate is the date of the box window ("2006-01-02").
	BoxDate string
	// BoxStart is the utc hour the box window opens ("15:04").
	BoxStart string
	// BoxEnd is the utc hour the box window closes ("15:04").
	BoxEnd string
	// AmplitudeThreshold is the box amplitude percentage beyond which a symbol is not monitored.
	AmplitudeThreshold float64
	// Workers is the number of concurrent per-symbol workers of each stage.
	Workers int
	// RSIPeriod is the rsi smoothing window.
	RSIPeriod int
	// Profile is the volume profile configuration.
	Profile indicator.ProfileConfig
	// Reconciler reconciles the cached datasets.
	Reconciler Reconciler
	// Reference fetches the secondary feed the box is also evaluated on, optional.
	Reference fetch.Fetcher
	// Watcher watches the box for breakouts.
	Watcher Watcher
	// Recorder records monitored results, defaults to a noop recorder.
	Recorder database.Recorder
	// ReportPath is the downstream report file path, empty skips writing the report.
	ReportPath string
	// Now returns the current time, defaults to time.Now.
	Now func() time.Time
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error
	if len(cfg.Symbols) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no symbols provided"))
	}
	if cfg.Start > cfg.End {
		errs = errors.Join(errs, fmt.Errorf("start %s is after end %s",
			shared.UnixToTimestamp(cfg.Start), shared.UnixToTimestamp(cfg.End)))
	}
	if cfg.BoxDate == "" {
		errs = errors.Join(errs, fmt.Errorf("no box date provided"))
	}
	if cfg.BoxStart == "" || cfg.BoxEnd == "" {
		errs = errors.Join(errs, fmt.Errorf("no box hours provided"))
	}
	if cfg.AmplitudeThreshold <= 0 {
		errs = errors.Join(errs, fmt.Errorf("amplitude threshold must be positive, got %f", cfg.AmplitudeThreshold))
	}
	if cfg.Workers <= 0 {
		errs = errors.Join(errs, fmt.Errorf("workers must be positive, got %d", cfg.Workers))
	}
	if cfg.RSIPeriod <= 0 {
		errs = errors.Join(errs, fmt.Errorf("rsi period must be positive, got %d", cfg.RSIPeriod))
	}
	err := cfg.Profile.Validate()
	if err != nil {
		errs = errors.Join(errs, fmt.Errorf("profile: %w", err))
	}
	if cfg.Reconciler == nil {
		errs = errors.Join(errs, fmt.Errorf("no reconciler provided"))
	}
	if cfg.Watcher == nil {
		errs = errors.Join(errs, fmt.Errorf("no watcher provided"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("no logger provided"))
	}

	return errs
}

// Report is the downstream surface of a pipeline run.
type Report struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`
	// Generated is the utc time the report was generated at.
	Generated string `json:"generated"`
	// Breakouts are the records of the symbols that broke out of their box.
	Breakouts []*shared.Record `json:"breakouts"`
	// Records are the records of every preprocessed symbol, in symbol order.
	Records []*shared.Record `json:"-"`
	// Excluded are the symbols excluded from monitoring by the amplitude filter.
	Excluded []string `json:"-"`
	// Failed are the symbols that failed a stage.
	Failed []string `json:"-"`
}

// Service represents the box breakout pipeline.
type Service struct {
	cfg      *Config
	boxFrom  int64
	boxTo    int64
	workers  chan struct{}
	recorder database.Recorder
	now      func() time.Time
	mtx      sync.Mutex
}

// NewService initializes a new pipeline service.
func NewService(cfg *Config) (*Service, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrConfiguration, err)
	}

	boxFrom, err := shared.HourOnDate(cfg.BoxDate, cfg.BoxStart)
	if err != nil {
		return nil, fmt.Errorf("%w: box start: %w", shared.ErrConfiguration, err)
	}
	boxTo, err := shared.HourOnDate(cfg.BoxDate, cfg.BoxEnd)
	if err != nil {
		return nil, fmt.Errorf("%w: box end: %w", shared.ErrConfiguration, err)
	}
	if boxFrom > boxTo {
		return nil, fmt.Errorf("%w: box start %s is after box end %s", shared.ErrConfiguration, cfg.BoxStart, cfg.BoxEnd)
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = database.NewNoopRecorder()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		cfg:      cfg,
		boxFrom:  boxFrom,
		boxTo:    boxTo,
		workers:  make(chan struct{}, cfg.Workers),
		recorder: recorder,
		now:      now,
	}, nil
}

// forEach runs the provided work for every symbol index, bounded by the worker pool.
func (s *Service) forEach(ctx context.Context, n int, work func(idx int)) {
	var wg sync.WaitGroup
	for idx := range n {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case s.workers <- struct{}{}:
		}

		wg.Add(1)
		go func(idx int) {
			defer func() {
				<-s.workers
				wg.Done()
			}()
			work(idx)
		}(idx)
	}

	wg.Wait()
}

// referenceBox evaluates the box window on the secondary feed. Failures yield no reference box.
func (s *Service) referenceBox(ctx context.Context, logger *zerolog.Logger, symbol string) *shared.BoxWindow {
	if s.cfg.Reference == nil {
		return nil
	}

	candles, err := s.cfg.Reference.Fetch(ctx, symbol, shared.FiveMinute, s.boxFrom, s.boxTo, referenceRows)
	if err != nil {
		logger.Warn().Msgf("fetching reference candles: %v", err)
		return nil
	}

	box := indicator.Box(candles, s.boxFrom, s.boxTo)
	if !box.Bounded() {
		logger.Warn().Msgf("no reference candles within the box window")
		return nil
	}

	return box
}

// Preprocess reconciles the symbol's datasets and computes its features.
func (s *Service) Preprocess(ctx context.Context, symbol string) (*shared.Record, error) {
	logger := s.cfg.Logger.With().Str("symbol", symbol).Logger()

	candles, err := s.cfg.Reconciler.Reconcile(ctx, symbol, cache.Primary, s.cfg.Timeframe, s.cfg.Start, s.cfg.End)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "reconciling %s candles", symbol)
	}
	if len(candles) == 0 {
		return nil, pkgerrors.Wrapf(shared.ErrNoData, "no %s candles", symbol)
	}

	rsi, err := indicator.RSIFeatures(candles, s.cfg.RSIPeriod)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "computing %s rsi", symbol)
	}

	box := indicator.Box(candles, s.boxFrom, s.boxTo)
	box.Symbol = symbol
	box.HourRange = fmt.Sprintf("%s-%s", s.cfg.BoxStart, s.cfg.BoxEnd)
	box.Reference = s.referenceBox(ctx, &logger, symbol)

	vpCandles, err := s.cfg.Reconciler.Reconcile(ctx, symbol, cache.VolumeProfile, shared.OneMinute, s.cfg.Start, s.cfg.End)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "reconciling %s volume profile candles", symbol)
	}

	var vp *shared.VolumeProfile
	if len(vpCandles) > 0 {
		vp, err = indicator.Profile(vpCandles, s.cfg.Start, s.cfg.Profile)
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "computing %s volume profile", symbol)
		}
	}

	_, lastTime, _ := candles.Bounds()
	rec := &shared.Record{
		Symbol:        symbol,
		Timeframe:     s.cfg.Timeframe.String(),
		LastTime:      lastTime,
		RSI:           *rsi,
		Box:           *box,
		VolumeProfile: vp,
	}

	logger.Info().Msgf("preprocessed %d candles, box bounded: %v, volume profile: %v",
		len(candles), box.Bounded(), vp != nil)

	return rec, nil
}

// watch monitors the record's box and attaches any breakout found.
func (s *Service) watch(ctx context.Context, rec *shared.Record) error {
	outcome, err := s.cfg.Watcher.Run(ctx, monitor.Watch{
		Symbol: rec.Symbol,
		High:   *rec.Box.High,
		Low:    *rec.Box.Low,
		BoxEnd: s.boxTo,
	})
	if err != nil {
		return pkgerrors.Wrapf(err, "watching %s", rec.Symbol)
	}

	rec.Breakout = outcome.Signal

	return nil
}

// fail tracks the provided symbol failure.
func (s *Service) fail(report *Report, logger *zerolog.Logger, symbol string, stage string, err error) {
	logger.Error().Stack().Err(err).Msgf("%s %s failed", symbol, stage)

	s.mtx.Lock()
	report.Failed = append(report.Failed, symbol)
	s.mtx.Unlock()
}

// Run executes a single pipeline run: preprocessing, the amplitude filter, breakout
// monitoring and the downstream report. Symbol failures never abort other symbols.
func (s *Service) Run(ctx context.Context) (*Report, error) {
	runID := uuid.New().String()
	logger := s.cfg.Logger.With().Str("run", runID).Logger()
	report := &Report{RunID: runID, Breakouts: []*shared.Record{}}

	symbols := s.cfg.Symbols
	logger.Info().Msgf("preprocessing %d symbol(s)", len(symbols))

	records := make([]*shared.Record, len(symbols))
	s.forEach(ctx, len(symbols), func(idx int) {
		rec, err := s.Preprocess(ctx, symbols[idx])
		if err != nil {
			s.fail(report, &logger, symbols[idx], "preprocess", err)
			return
		}

		records[idx] = rec
	})

	var watched []*shared.Record
	for _, rec := range records {
		if rec == nil {
			continue
		}

		report.Records = append(report.Records, rec)

		switch {
		case indicator.ExceedsAmplitude(&rec.Box, s.cfg.AmplitudeThreshold):
			logger.Warn().Msgf("%s box amplitude %.2f%% exceeds %.2f%%, not monitoring",
				rec.Symbol, *rec.Box.Amplitude, s.cfg.AmplitudeThreshold)
			report.Excluded = append(report.Excluded, rec.Symbol)
		case !rec.Box.Bounded():
			logger.Warn().Msgf("%s box is unbounded, not monitoring", rec.Symbol)
		default:
			watched = append(watched, rec)
		}
	}

	logger.Info().Msgf("%d symbol(s) preprocessed, %d excluded, monitoring %d",
		len(report.Records), len(report.Excluded), len(watched))

	monitored := make([]bool, len(watched))
	s.forEach(ctx, len(watched), func(idx int) {
		rec := watched[idx]
		err := s.watch(ctx, rec)
		if err != nil {
			s.fail(report, &logger, rec.Symbol, "monitor", err)
			return
		}

		monitored[idx] = true

		err = s.recorder.Record(ctx, runID, rec)
		if err != nil {
			logger.Error().Err(err).Msgf("recording %s", rec.Symbol)
		}
	})

	for idx, rec := range watched {
		if monitored[idx] && rec.Breakout != nil {
			report.Breakouts = append(report.Breakouts, rec)
		}
	}

	logger.Info().Msgf("%d breakout(s) found", len(report.Breakouts))

	err := ctx.Err()
	if err != nil {
		return report, err
	}

	report.Generated = shared.UnixToTimestamp(s.now().Unix())
	err = s.writeReport(report)
	if err != nil {
		return report, err
	}

	return report, nil
}

// writeReport writes the downstream report as indented json.
func (s *Service) writeReport(report *Report) error {
	if s.cfg.ReportPath == "" {
		return nil
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	dir := filepath.Dir(s.cfg.ReportPath)
	err = os.MkdirAll(dir, 0o755)
	if err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	err = os.WriteFile(s.cfg.ReportPath, data, 0o644)
	if err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	s.cfg.Logger.Info().Msgf("report written to %s", s.cfg.ReportPath)

	return nil
}

// RunScheduled runs the pipeline on the provided cron schedule, in lima time, until the
// context is done. Runs never overlap.
func (s *Service) RunScheduled(ctx context.Context, schedule string) error {
	_, loc, err := shared.LimaTime()
	if err != nil {
		return err
	}

	scheduler := gocron.NewScheduler(loc)
	scheduler.SingletonModeAll()

	_, err = scheduler.Cron(schedule).Do(func() {
		_, err := s.Run(ctx)
		if err != nil {
			s.cfg.Logger.Error().Err(err).Msgf("scheduled run failed")
		}
	})
	if err != nil {
		return fmt.Errorf("%w: scheduling %q: %w", shared.ErrConfiguration, schedule, err)
	}

	s.cfg.Logger.Info().Msgf("pipeline scheduled on %q", schedule)

	scheduler.StartAsync()
	<-ctx.Done()
	scheduler.Stop()

	return nil
}
