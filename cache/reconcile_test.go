package cache

import (
	"context"
	"errors"
	"sync"
	"testing"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dnldd/boxbreak/shared"
	"github.com/google/go-cmp/cmp"
	"github.com/peterldowns/testy/assert"
	"github.com/rs/zerolog"
)

// fetchCall records a single fetch.
type fetchCall struct {
	Symbol string
	TF     shared.Timeframe
	From   int64
	To     int64
}

// fakeFetcher serves rows from a fixed upstream series.
type fakeFetcher struct {
	mtx      sync.Mutex
	upstream shared.Series
	calls    []fetchCall
	err      error
}

func (f *fakeFetcher) Fetch(_ context.Context, symbol string, tf shared.Timeframe, from int64, to int64, _ int) (shared.Series, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()

	f.calls = append(f.calls, fetchCall{symbol, tf, from, to})
	if f.err != nil {
		return nil, f.err
	}

	return f.upstream.Slice(from, to), nil
}

// countingStore counts the writes made to the wrapped store.
type countingStore struct {
	Store
	persists int
	replaces int
}

func (s *countingStore) Persist(key string, series shared.Series) error {
	s.persists++
	return s.Store.Persist(key, series)
}

func (s *countingStore) Replace(key string, series shared.Series) error {
	s.replaces++
	return s.Store.Replace(key, series)
}

// invalidStore fails every read with an invalid cache error.
type invalidStore struct {
	countingStore
}

func (s *invalidStore) Load(key string) (shared.Series, error) {
	return nil, shared.ErrInvalidCache
}

func (s *invalidStore) LoadRange(key string, start int64, end int64) (shared.Series, error) {
	return nil, shared.ErrInvalidCache
}

func testReconciler(t *testing.T, store Store, fetcher *fakeFetcher) *Reconciler {
	logger := zerolog.New(nil)
	reconciler, err := NewReconciler(&ReconcilerConfig{
		Store:   store,
		Fetcher: fetcher,
		MaxRows: 1000,
		Logger:  &logger,
	})
	assert.NoError(t, err)

	return reconciler
}

func TestReconcilerConfigValidate(t *testing.T) {
	cfg := &ReconcilerConfig{}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Equal(t, err.Error(), "no store provided\nno fetcher provided\n"+
		"max rows must be positive, got 0\nno logger provided")
}

func TestReconcile(t *testing.T) {
	store := &countingStore{Store: testStore(t)}
	fetcher := &fakeFetcher{upstream: testSeries(0, 6000, 60)}
	reconciler := testReconciler(t, store, fetcher)
	ctx := context.Background()

	// Ensure an empty cache fetches the entire window and persists it.
	series, err := reconciler.Reconcile(ctx, "US500", Primary, shared.OneMinute, 1200, 2400)
	assert.NoError(t, err)
	if !cmp.Equal(series, testSeries(1200, 2400, 60)) {
		t.Errorf("unexpected window: %v", cmp.Diff(testSeries(1200, 2400, 60), series))
	}
	assert.Equal(t, len(fetcher.calls), 1)
	assert.Equal(t, fetcher.calls[0], fetchCall{"US500", shared.OneMinute, 1200, 2400})
	assert.Equal(t, store.persists, 1)

	// Ensure a request within the cached range is a pure cache hit.
	series, err = reconciler.Reconcile(ctx, "US500", Primary, shared.OneMinute, 1200, 2400)
	assert.NoError(t, err)
	assert.Equal(t, len(series), 21)
	assert.Equal(t, len(fetcher.calls), 1)
	assert.Equal(t, store.persists, 1)

	// Ensure only the leading and trailing gaps are fetched.
	series, err = reconciler.Reconcile(ctx, "US500", Primary, shared.OneMinute, 600, 3000)
	assert.NoError(t, err)
	if !cmp.Equal(series, testSeries(600, 3000, 60)) {
		t.Errorf("unexpected window: %v", cmp.Diff(testSeries(600, 3000, 60), series))
	}
	assert.Equal(t, len(fetcher.calls), 3)
	assert.Equal(t, fetcher.calls[1], fetchCall{"US500", shared.OneMinute, 600, 1199})
	assert.Equal(t, fetcher.calls[2], fetchCall{"US500", shared.OneMinute, 2401, 3000})
	assert.Equal(t, store.persists, 2)

	// Ensure the persisted record covers every reconciled window.
	full, err := store.Load("US500")
	assert.NoError(t, err)
	assert.NoError(t, full.Validate())
	first, last, ok := full.Bounds()
	assert.True(t, ok)
	assert.Equal(t, first, int64(600))
	assert.Equal(t, last, int64(3000))

	// Ensure gaps without upstream rows are fetched but never written.
	series, err = reconciler.Reconcile(ctx, "US500", Primary, shared.OneMinute, 2400, 3030)
	assert.NoError(t, err)
	assert.Equal(t, len(series), 11)
	assert.Equal(t, len(fetcher.calls), 4)
	assert.Equal(t, store.persists, 2)

	// Ensure a disjoint window is fetched in full and merged into the existing record.
	_, err = reconciler.Reconcile(ctx, "US500", Primary, shared.OneMinute, 4800, 5400)
	assert.NoError(t, err)
	full, err = store.Load("US500")
	assert.NoError(t, err)
	assert.Equal(t, len(full), len(testSeries(600, 3000, 60))+len(testSeries(4800, 5400, 60)))
	assert.Equal(t, store.persists, 3)

	// Ensure the volume profile record is kept apart from the primary record.
	series, err = reconciler.Reconcile(ctx, "US500", VolumeProfile, shared.OneMinute, 0, 300)
	assert.NoError(t, err)
	assert.Equal(t, len(series), 6)
	vp, err := store.Load("US500_vp")
	assert.NoError(t, err)
	assert.Equal(t, len(vp), 6)
	full, err = store.Load("US500")
	assert.NoError(t, err)
	assert.Equal(t, full[0].Time, int64(600))

	// Ensure inverted windows are empty without any fetch.
	calls := len(fetcher.calls)
	series, err = reconciler.Reconcile(ctx, "US500", Primary, shared.OneMinute, 3000, 600)
	assert.NoError(t, err)
	assert.Equal(t, len(series), 0)
	assert.Equal(t, len(fetcher.calls), calls)
}

func TestReconcileEmptyUpstream(t *testing.T) {
	store := &countingStore{Store: testStore(t)}
	fetcher := &fakeFetcher{upstream: shared.Series{}}
	reconciler := testReconciler(t, store, fetcher)

	// Ensure an empty fetch yields an empty series without writing.
	series, err := reconciler.Reconcile(context.Background(), "US500", Primary, shared.OneMinute, 0, 600)
	assert.NoError(t, err)
	assert.NotNil(t, series)
	assert.Equal(t, len(series), 0)
	assert.Equal(t, store.persists, 0)
}

func TestReconcileFetchError(t *testing.T) {
	store := &countingStore{Store: testStore(t)}
	fetcher := &fakeFetcher{upstream: testSeries(0, 600, 60)}
	reconciler := testReconciler(t, store, fetcher)
	ctx := context.Background()

	_, err := reconciler.Reconcile(ctx, "US500", Primary, shared.OneMinute, 0, 300)
	assert.NoError(t, err)

	// Ensure fetch failures surface and leave the record untouched.
	fetcher.err = &shared.NetworkError{Op: "prices", Attempts: 21, Err: errors.New("timeout")}
	_, err = reconciler.Reconcile(ctx, "US500", Primary, shared.OneMinute, 0, 600)
	assert.Error(t, err)
	assert.True(t, shared.IsNetworkError(err))
	assert.Equal(t, store.persists, 1)

	full, err := store.Load("US500")
	assert.NoError(t, err)
	assert.Equal(t, len(full), 6)
}

func TestReconcileInvalidCache(t *testing.T) {
	store := &invalidStore{countingStore{Store: testStore(t)}}
	fetcher := &fakeFetcher{upstream: testSeries(0, 600, 60)}
	reconciler := testReconciler(t, store, fetcher)

	// Ensure invalid records are treated as absent, forcing a full fetch.
	series, err := reconciler.Reconcile(context.Background(), "US500", Primary, shared.OneMinute, 0, 600)
	assert.NoError(t, err)
	assert.Equal(t, len(series), 11)
	assert.Equal(t, len(fetcher.calls), 1)
	assert.Equal(t, fetcher.calls[0], fetchCall{"US500", shared.OneMinute, 0, 600})
	assert.Equal(t, store.persists, 0)
	assert.Equal(t, store.replaces, 1)
}

func TestReconcileRepairsMalformedRow(t *testing.T) {
	backing := testStore(t)
	store := &countingStore{Store: backing}
	fetcher := &fakeFetcher{upstream: testSeries(0, 600, 60)}
	reconciler := testReconciler(t, store, fetcher)
	ctx := context.Background()

	// A malformed row outside the requested window.
	err := backing.db.Update(func(txn *badger.Txn) error {
		return txn.Set(rowKey(prefix("US500"), 10000), []byte{1, 2, 3})
	})
	assert.NoError(t, err)

	// Ensure the first reconcile fetches and replaces the record, dropping the malformed row.
	series, err := reconciler.Reconcile(ctx, "US500", Primary, shared.OneMinute, 0, 600)
	assert.NoError(t, err)
	assert.Equal(t, len(series), 11)
	assert.Equal(t, len(fetcher.calls), 1)
	assert.Equal(t, store.replaces, 1)
	assert.Equal(t, store.persists, 0)

	// Ensure repeated reconciles are cache hits.
	for range 2 {
		series, err = reconciler.Reconcile(ctx, "US500", Primary, shared.OneMinute, 0, 600)
		assert.NoError(t, err)
		assert.Equal(t, len(series), 11)
	}
	assert.Equal(t, len(fetcher.calls), 1)
	assert.Equal(t, store.replaces, 1)

	full, err := backing.Load("US500")
	assert.NoError(t, err)
	if !cmp.Equal(full, testSeries(0, 600, 60)) {
		t.Errorf("unexpected record: %v", cmp.Diff(testSeries(0, 600, 60), full))
	}
}
