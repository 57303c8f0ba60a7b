package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dnldd/boxbreak/cache"
	"github.com/dnldd/boxbreak/fetch"
	"github.com/dnldd/boxbreak/shared"
	"github.com/rs/zerolog"
)

const (
	// DefaultWindow is the default watch duration past the box end.
	DefaultWindow = time.Hour * 2
	// DefaultPollInterval is the default live polling cadence.
	DefaultPollInterval = time.Second * 60
	// DefaultRefreshInterval is the default session refresh cadence while polling.
	DefaultRefreshInterval = time.Minute * 25
	// DefaultMaxRows is the default row limit of a single poll.
	DefaultMaxRows = 500
	// watchTimeframe is the timeframe of watched candles.
	watchTimeframe = shared.FiveMinute
)

// State represents a breakout watch state.
type State int

const (
	DecideMode State = iota
	HistoricalScan
	LivePoll
	Signaled
	Expired
)

// String stringifies the provided state.
func (s State) String() string {
	switch s {
	case DecideMode:
		return "DECIDE_MODE"
	case HistoricalScan:
		return "HISTORICAL_SCAN"
	case LivePoll:
		return "LIVE_POLL"
	case Signaled:
		return "SIGNALED"
	case Expired:
		return "EXPIRED"
	default:
		return "unknown"
	}
}

// Reconciler returns cached candles of a symbol, fetching what the cache is missing.
type Reconciler interface {
	Reconcile(ctx context.Context, symbol string, kind cache.Kind, tf shared.Timeframe, start int64, end int64) (shared.Series, error)
}

// Ensure the cache reconciler satisfies the monitor's requirements.
var _ Reconciler = (*cache.Reconciler)(nil)

// Refresher refreshes session credentials.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Watch describes a single breakout watch.
type Watch struct {
	Symbol string
	High   float64
	Low    float64
	// BoxEnd is the unix time the box window closes, watching starts from it.
	BoxEnd int64
}

// Outcome is the terminal result of a watch.
type Outcome struct {
	// Mode is the watch mode taken, HistoricalScan or LivePoll.
	Mode State
	// State is the terminal state, Signaled or Expired.
	State State
	// Signal is the breakout found, nil when the watch expired.
	Signal *shared.BreakoutSignal
	// Polls is the number of fetches issued.
	Polls int
}

// Config represents the breakout monitor configuration.
type Config struct {
	// Fetcher fetches watched candles.
	Fetcher fetch.Fetcher
	// Cache serves historical scans from the watch feed cache, optional. Historical scans read
	// the fetcher directly when unset.
	Cache Reconciler
	// Session refreshes the fetcher's credentials while polling, optional.
	Session Refresher
	// Window is the watch duration past the box end.
	Window time.Duration
	// PollInterval is the live polling cadence.
	PollInterval time.Duration
	// RefreshInterval is the session refresh cadence while polling.
	RefreshInterval time.Duration
	// MaxRows is the row limit of a single fetch.
	MaxRows int
	// Now returns the current time, defaults to time.Now.
	Now func() time.Time
	// Sleep blocks for the provided duration or until the context is done, defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error
	if cfg.Fetcher == nil {
		errs = errors.Join(errs, fmt.Errorf("no fetcher provided"))
	}
	if cfg.Window <= 0 {
		errs = errors.Join(errs, fmt.Errorf("watch window must be positive, got %s", cfg.Window))
	}
	if cfg.PollInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("poll interval must be positive, got %s", cfg.PollInterval))
	}
	if cfg.Session != nil && cfg.RefreshInterval <= 0 {
		errs = errors.Join(errs, fmt.Errorf("refresh interval must be positive, got %s", cfg.RefreshInterval))
	}
	if cfg.MaxRows <= 0 {
		errs = errors.Join(errs, fmt.Errorf("max rows must be positive, got %d", cfg.MaxRows))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("no logger provided"))
	}

	return errs
}

// sleep blocks for the provided duration or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Monitor watches for closes breaking out of a box window.
type Monitor struct {
	cfg *Config
}

// NewMonitor instantiates a new breakout monitor.
func NewMonitor(cfg *Config) (*Monitor, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating monitor config: %w", err)
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}

	return &Monitor{cfg: cfg}, nil
}

// Run watches the provided box until a close breaks out of it or the watch window expires.
// Watches entirely in the past are decided by a single historical scan.
func (m *Monitor) Run(ctx context.Context, w Watch) (*Outcome, error) {
	end := w.BoxEnd + int64(m.cfg.Window/time.Second)
	logger := m.cfg.Logger.With().Str("symbol", w.Symbol).Logger()

	if end <= m.cfg.Now().Unix() {
		logger.Info().Msgf("historical scan from %s to %s",
			shared.UnixToTimestamp(w.BoxEnd), shared.UnixToTimestamp(end))
		return m.scan(ctx, &logger, w, end)
	}

	logger.Info().Msgf("live polling until %s (max %d min)",
		shared.UnixToTimestamp(end), int(m.cfg.Window.Minutes()))
	return m.poll(ctx, &logger, w, end)
}

// historical returns the watched candles within [from, to], through the cache when configured.
func (m *Monitor) historical(ctx context.Context, symbol string, from int64, to int64) (shared.Series, error) {
	if m.cfg.Cache != nil {
		return m.cfg.Cache.Reconcile(ctx, symbol, cache.Watch, watchTimeframe, from, to)
	}

	return m.cfg.Fetcher.Fetch(ctx, symbol, watchTimeframe, from, to, m.cfg.MaxRows)
}

// scan checks the full watch window in one reconciliation.
func (m *Monitor) scan(ctx context.Context, logger *zerolog.Logger, w Watch, end int64) (*Outcome, error) {
	outcome := &Outcome{Mode: HistoricalScan, State: Expired, Polls: 1}

	candles, err := m.historical(ctx, w.Symbol, w.BoxEnd, end)
	if err != nil {
		return nil, fmt.Errorf("fetching historical watch candles for %s: %w", w.Symbol, err)
	}
	if len(candles) == 0 {
		logger.Warn().Msg("no candles in historical watch window")
		return outcome, nil
	}

	signal := shared.CheckBreakout(candles, w.High, w.Low)
	if signal == nil {
		logger.Info().Msgf("no breakout within %d min", int(m.cfg.Window.Minutes()))
		return outcome, nil
	}

	logger.Info().Msgf("breakout %s close=%.2f at %s", signal.State,
		signal.CandleClose, shared.UnixToTimestamp(signal.SignalTime))
	outcome.State = Signaled
	outcome.Signal = signal

	return outcome, nil
}

// poll repeatedly fetches newly available candles until a breakout or expiry. Fetch and
// refresh failures are logged and never end the watch.
func (m *Monitor) poll(ctx context.Context, logger *zerolog.Logger, w Watch, end int64) (*Outcome, error) {
	outcome := &Outcome{Mode: LivePoll, State: Expired}
	lastChecked := w.BoxEnd
	var tokenAge time.Duration

	for {
		now := m.cfg.Now().Unix()
		if now >= end {
			logger.Info().Msg("watch window expired without a breakout")
			return outcome, nil
		}

		if m.cfg.Session != nil {
			tokenAge += m.cfg.PollInterval
			if tokenAge >= m.cfg.RefreshInterval {
				err := m.cfg.Session.Refresh(ctx)
				if err != nil {
					logger.Error().Msgf("refreshing session: %v", err)
				} else {
					tokenAge = 0
					logger.Info().Msg("session refreshed")
				}
			}
		}

		outcome.Polls++
		candles, err := m.cfg.Fetcher.Fetch(ctx, w.Symbol, watchTimeframe, lastChecked, now, m.cfg.MaxRows)
		if err != nil {
			logger.Warn().Msgf("fetching watch candles: %v, retrying", err)
		} else if len(candles) > 0 {
			signal := shared.CheckBreakout(candles, w.High, w.Low)
			if signal != nil {
				logger.Info().Msgf("breakout %s close=%.2f at %s", signal.State,
					signal.CandleClose, shared.UnixToTimestamp(signal.SignalTime))
				outcome.State = Signaled
				outcome.Signal = signal
				return outcome, nil
			}

			_, last, _ := candles.Bounds()
			lastChecked = max(lastChecked, last)
		}

		logger.Debug().Msgf("no breakout, %d min left, next check in %s",
			(end-now)/60, m.cfg.PollInterval)

		err = m.cfg.Sleep(ctx, m.cfg.PollInterval)
		if err != nil {
			return nil, fmt.Errorf("watching %s: %w", w.Symbol, err)
		}
	}
}
