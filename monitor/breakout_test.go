package monitor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dnldd/boxbreak/cache"
	"github.com/dnldd/boxbreak/shared"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mtx sync.Mutex
	now int64
	// nows, when set, are returned in order before falling back to now.
	nows []int64
}

func (c *fakeClock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if len(c.nows) > 0 {
		now := c.nows[0]
		c.nows = c.nows[1:]
		return time.Unix(now, 0)
	}

	return time.Unix(c.now, 0)
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.now += int64(d / time.Second)
	return nil
}

// fetchCall records a single fetch.
type fetchCall struct {
	From int64
	To   int64
}

// fakeFetcher serves candles from a fixed upstream series, failing the configured polls.
type fakeFetcher struct {
	mtx      sync.Mutex
	upstream shared.Series
	calls    []fetchCall
	failOn   map[int]bool
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, tf shared.Timeframe, from int64, to int64, _ int) (shared.Series, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.calls = append(f.calls, fetchCall{From: from, To: to})
	if f.failOn[len(f.calls)] {
		return nil, &shared.NetworkError{Op: "prices", Attempts: 21, Err: errors.New("timeout")}
	}
	if tf != shared.FiveMinute {
		return nil, errors.New("unexpected timeframe")
	}

	return f.upstream.Slice(from, to), nil
}

// fakeRefresher counts session refreshes.
type fakeRefresher struct {
	refreshes int
	err       error
}

func (r *fakeRefresher) Refresh(_ context.Context) error {
	r.refreshes++
	return r.err
}

func closeCandle(ts int64, close float64) shared.Candle {
	return shared.Candle{Time: ts, Open: close, High: close, Low: close, Close: close, Volume: 1}
}

func testMonitor(t *testing.T, fetcher *fakeFetcher, refresher Refresher, clock *fakeClock) *Monitor {
	logger := zerolog.New(nil)
	monitor, err := NewMonitor(&Config{
		Fetcher:         fetcher,
		Session:         refresher,
		Window:          DefaultWindow,
		PollInterval:    DefaultPollInterval,
		RefreshInterval: DefaultRefreshInterval,
		MaxRows:         DefaultMaxRows,
		Now:             clock.Now,
		Sleep:           clock.Sleep,
		Logger:          &logger,
	})
	assert.NoError(t, err)

	return monitor
}

func TestConfigValidate(t *testing.T) {
	logger := zerolog.New(nil)
	baseCfg := &Config{
		Fetcher:         &fakeFetcher{},
		Session:         &fakeRefresher{},
		Window:          DefaultWindow,
		PollInterval:    DefaultPollInterval,
		RefreshInterval: DefaultRefreshInterval,
		MaxRows:         DefaultMaxRows,
		Logger:          &logger,
	}

	tests := []struct {
		name        string
		modify      func(cfg *Config)
		wantErr     bool
		errContains []string
	}{
		{
			name:    "valid config returns nil",
			modify:  func(cfg *Config) {},
			wantErr: false,
		},
		{
			name:    "no session needs no refresh interval",
			modify:  func(cfg *Config) { cfg.Session = nil; cfg.RefreshInterval = 0 },
			wantErr: false,
		},
		{
			name:        "session without refresh interval",
			modify:      func(cfg *Config) { cfg.RefreshInterval = 0 },
			wantErr:     true,
			errContains: []string{"refresh interval must be positive"},
		},
		{
			name:    "multiple missing fields",
			modify:  func(cfg *Config) { *cfg = Config{} },
			wantErr: true,
			errContains: []string{
				"no fetcher provided",
				"watch window must be positive",
				"poll interval must be positive",
				"max rows must be positive",
				"no logger provided",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *baseCfg
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				for _, substr := range tt.errContains {
					assert.True(t, strings.Contains(err.Error(), substr))
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHistoricalScan(t *testing.T) {
	const boxEnd = int64(36000)
	fetcher := &fakeFetcher{upstream: shared.Series{
		closeCandle(boxEnd+300, 105),
		closeCandle(boxEnd+600, 108),
		closeCandle(boxEnd+900, 95),
	}}
	clock := &fakeClock{now: boxEnd + 7200}
	monitor := testMonitor(t, fetcher, &fakeRefresher{}, clock)

	// Ensure the first crossing of a past watch is signaled from a single fetch.
	outcome, err := monitor.Run(context.Background(), Watch{Symbol: "US500", High: 107, Low: 100, BoxEnd: boxEnd})
	assert.NoError(t, err)
	assert.Equal(t, outcome.Mode, HistoricalScan)
	assert.Equal(t, outcome.State, Signaled)
	assert.Equal(t, outcome.Signal.State, shared.Above)
	assert.Equal(t, outcome.Signal.CandleClose, float64(108))
	assert.Equal(t, outcome.Signal.SignalTime, boxEnd+600)
	assert.Equal(t, len(fetcher.calls), 1)
	assert.Equal(t, fetcher.calls[0], fetchCall{From: boxEnd, To: boxEnd + 7200})

	// Ensure a past watch without crossings expires.
	outcome, err = monitor.Run(context.Background(), Watch{Symbol: "US500", High: 200, Low: 50, BoxEnd: boxEnd})
	assert.NoError(t, err)
	assert.Equal(t, outcome.State, Expired)
	assert.Nil(t, outcome.Signal)

	// Ensure a past watch without candles expires.
	outcome, err = monitor.Run(context.Background(), Watch{Symbol: "US500", High: 107, Low: 100, BoxEnd: 0})
	assert.NoError(t, err)
	assert.Equal(t, outcome.State, Expired)

	// Ensure historical fetch failures surface.
	fetcher.failOn = map[int]bool{len(fetcher.calls) + 1: true}
	_, err = monitor.Run(context.Background(), Watch{Symbol: "US500", High: 107, Low: 100, BoxEnd: boxEnd})
	assert.Error(t, err)
	assert.True(t, shared.IsNetworkError(err))
}

func TestHistoricalScanCached(t *testing.T) {
	const boxEnd = int64(36000)
	upstream := make(shared.Series, 0)
	for ts := boxEnd; ts <= boxEnd+7200; ts += 300 {
		upstream = append(upstream, closeCandle(ts, 103))
	}
	upstream[2] = closeCandle(boxEnd+600, 108)
	fetcher := &fakeFetcher{upstream: upstream}

	logger := zerolog.New(nil)
	store, err := cache.NewBadgerStore(&cache.BadgerConfig{InMemory: true, Logger: &logger})
	assert.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reconciler, err := cache.NewReconciler(&cache.ReconcilerConfig{
		Store:   store,
		Fetcher: fetcher,
		MaxRows: DefaultMaxRows,
		Logger:  &logger,
	})
	assert.NoError(t, err)

	clock := &fakeClock{now: boxEnd + 7200}
	monitor, err := NewMonitor(&Config{
		Fetcher:      fetcher,
		Cache:        reconciler,
		Window:       DefaultWindow,
		PollInterval: DefaultPollInterval,
		MaxRows:      DefaultMaxRows,
		Now:          clock.Now,
		Sleep:        clock.Sleep,
		Logger:       &logger,
	})
	assert.NoError(t, err)

	// Ensure repeated historical scans of a watch are served from the watch feed cache.
	watch := Watch{Symbol: "US500", High: 107, Low: 100, BoxEnd: boxEnd}
	for range 2 {
		outcome, err := monitor.Run(context.Background(), watch)
		assert.NoError(t, err)
		assert.Equal(t, outcome.Mode, HistoricalScan)
		assert.Equal(t, outcome.State, Signaled)
		assert.Equal(t, outcome.Signal.SignalTime, boxEnd+600)
	}
	assert.Equal(t, len(fetcher.calls), 1)
	assert.Equal(t, fetcher.calls[0], fetchCall{From: boxEnd, To: boxEnd + 7200})

	cached, err := store.Load(cache.Watch.Key("US500"))
	assert.NoError(t, err)
	assert.Equal(t, len(cached), len(upstream))
}

func TestLivePollExpiry(t *testing.T) {
	const boxEnd = int64(36000)
	fetcher := &fakeFetcher{upstream: shared.Series{closeCandle(boxEnd+300, 120)}}

	// The watch is live when its mode is decided but has expired by the first poll.
	clock := &fakeClock{nows: []int64{boxEnd + 7199}, now: boxEnd + 7200}
	monitor := testMonitor(t, fetcher, &fakeRefresher{}, clock)

	// Ensure an expired live watch ends without any fetch.
	outcome, err := monitor.Run(context.Background(), Watch{Symbol: "US500", High: 107, Low: 100, BoxEnd: boxEnd})
	assert.NoError(t, err)
	assert.Equal(t, outcome.Mode, LivePoll)
	assert.Equal(t, outcome.State, Expired)
	assert.Nil(t, outcome.Signal)
	assert.Equal(t, outcome.Polls, 0)
	assert.Equal(t, len(fetcher.calls), 0)
}

func TestLivePoll(t *testing.T) {
	const boxEnd = int64(36000)
	fetcher := &fakeFetcher{upstream: shared.Series{
		closeCandle(boxEnd+300, 104),
		closeCandle(boxEnd+600, 103),
		closeCandle(boxEnd+2100, 99),
	}}
	clock := &fakeClock{now: boxEnd}
	monitor := testMonitor(t, fetcher, &fakeRefresher{}, clock)

	// Ensure live polls advance the last checked pointer until a crossing.
	outcome, err := monitor.Run(context.Background(), Watch{Symbol: "US500", High: 107, Low: 100, BoxEnd: boxEnd})
	assert.NoError(t, err)
	assert.Equal(t, outcome.Mode, LivePoll)
	assert.Equal(t, outcome.State, Signaled)
	assert.Equal(t, outcome.Signal.State, shared.Below)
	assert.Equal(t, outcome.Signal.SignalTime, boxEnd+2100)
	assert.Equal(t, outcome.Polls, 36)

	// The first polls see no candles and leave the pointer unchanged.
	assert.Equal(t, fetcher.calls[0], fetchCall{From: boxEnd, To: boxEnd})
	assert.Equal(t, fetcher.calls[4], fetchCall{From: boxEnd, To: boxEnd + 240})
	assert.Equal(t, fetcher.calls[5], fetchCall{From: boxEnd, To: boxEnd + 300})
	// Polls after candles arrive resume from the latest candle seen.
	assert.Equal(t, fetcher.calls[6], fetchCall{From: boxEnd + 300, To: boxEnd + 360})
	assert.Equal(t, fetcher.calls[11], fetchCall{From: boxEnd + 600, To: boxEnd + 660})
}

func TestLivePollFailures(t *testing.T) {
	const boxEnd = int64(36000)
	fetcher := &fakeFetcher{
		upstream: shared.Series{closeCandle(boxEnd+120, 110)},
		failOn:   map[int]bool{1: true, 2: true, 3: true},
	}
	clock := &fakeClock{now: boxEnd + 60}
	refresher := &fakeRefresher{}
	monitor := testMonitor(t, fetcher, refresher, clock)

	// Ensure fetch failures are retried on the next tick rather than ending the watch.
	outcome, err := monitor.Run(context.Background(), Watch{Symbol: "US500", High: 107, Low: 100, BoxEnd: boxEnd})
	assert.NoError(t, err)
	assert.Equal(t, outcome.State, Signaled)
	assert.Equal(t, outcome.Signal.State, shared.Above)
	assert.Equal(t, outcome.Polls, 4)
	assert.Equal(t, refresher.refreshes, 0)
}

func TestLivePollRefresh(t *testing.T) {
	const boxEnd = int64(36000)
	fetcher := &fakeFetcher{upstream: shared.Series{}}
	clock := &fakeClock{now: boxEnd}
	refresher := &fakeRefresher{}
	monitor := testMonitor(t, fetcher, refresher, clock)

	// Ensure sessions are refreshed every 25 polls over the two hour window.
	outcome, err := monitor.Run(context.Background(), Watch{Symbol: "US500", High: 107, Low: 100, BoxEnd: boxEnd})
	assert.NoError(t, err)
	assert.Equal(t, outcome.State, Expired)
	assert.Equal(t, outcome.Polls, 120)
	assert.Equal(t, refresher.refreshes, 4)

	// Ensure failed refreshes are retried every poll until one succeeds, without ending the watch.
	refresher = &fakeRefresher{err: errors.New("login unavailable")}
	clock = &fakeClock{now: boxEnd}
	monitor = testMonitor(t, &fakeFetcher{}, refresher, clock)
	outcome, err = monitor.Run(context.Background(), Watch{Symbol: "US500", High: 107, Low: 100, BoxEnd: boxEnd})
	assert.NoError(t, err)
	assert.Equal(t, outcome.State, Expired)
	assert.Equal(t, refresher.refreshes, 120-24)
}

func TestLivePollCancellation(t *testing.T) {
	const boxEnd = int64(36000)
	logger := zerolog.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := &fakeClock{now: boxEnd}
	monitor, err := NewMonitor(&Config{
		Fetcher:      &fakeFetcher{},
		Window:       DefaultWindow,
		PollInterval: DefaultPollInterval,
		MaxRows:      DefaultMaxRows,
		Now:          clock.Now,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return sleep(ctx, d)
		},
		Logger: &logger,
	})
	assert.NoError(t, err)

	// Ensure a cancelled context ends the watch at the next sleep.
	_, err = monitor.Run(ctx, Watch{Symbol: "US500", High: 107, Low: 100, BoxEnd: boxEnd})
	assert.True(t, errors.Is(err, context.Canceled))
}
