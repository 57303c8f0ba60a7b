package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dnldd/boxbreak/shared"
	"github.com/rs/zerolog"
)

const (
	// recordPrefix namespaces candle rows.
	recordPrefix = "candles/"
	// timeSize is the encoded size of a row time.
	timeSize = 8
	// valueSize is the encoded size of a row's prices and volume.
	valueSize = 40
)

// BadgerConfig represents the badger store configuration.
type BadgerConfig struct {
	// Path is the on-disk directory of the store.
	Path string
	// InMemory keeps the store in memory only, the path is ignored.
	InMemory bool
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *BadgerConfig) Validate() error {
	var errs error
	if cfg.Path == "" && !cfg.InMemory {
		errs = errors.Join(errs, fmt.Errorf("no store path provided"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("no logger provided"))
	}

	return errs
}

// BadgerStore persists candle records as one badger entry per row, keyed by record and an order
// preserving encoding of the row time. Range reads are prefix seeks.
type BadgerStore struct {
	cfg *BadgerConfig
	db  *badger.DB
}

// Ensure the badger store implements the Store interface.
var _ Store = (*BadgerStore)(nil)

// NewBadgerStore opens a badger store.
func NewBadgerStore(cfg *BadgerConfig) (*BadgerStore, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating badger config: %w", err)
	}

	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store: %w", err)
	}

	return &BadgerStore{cfg: cfg, db: db}, nil
}

// Close closes the store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// prefix returns the row key prefix of the provided record key.
func prefix(key string) []byte {
	var b strings.Builder
	b.WriteString(recordPrefix)
	b.WriteString(url.PathEscape(key))
	b.WriteString("/")
	return []byte(b.String())
}

// rowKey returns the key of the row at the provided time. Flipping the sign bit makes the
// big-endian encoding sort in time order.
func rowKey(p []byte, ts int64) []byte {
	k := make([]byte, len(p)+timeSize)
	copy(k, p)
	binary.BigEndian.PutUint64(k[len(p):], uint64(ts)^(1<<63))
	return k
}

// encodeRow encodes a row's prices and volume.
func encodeRow(c *shared.Candle) []byte {
	v := make([]byte, valueSize)
	binary.BigEndian.PutUint64(v[0:], math.Float64bits(c.Open))
	binary.BigEndian.PutUint64(v[8:], math.Float64bits(c.High))
	binary.BigEndian.PutUint64(v[16:], math.Float64bits(c.Low))
	binary.BigEndian.PutUint64(v[24:], math.Float64bits(c.Close))
	binary.BigEndian.PutUint64(v[32:], math.Float64bits(c.Volume))
	return v
}

// decodeTime decodes the row time stored in the provided key.
func decodeTime(p []byte, k []byte) (int64, error) {
	if len(k) != len(p)+timeSize {
		return 0, fmt.Errorf("%w: row key %x has unexpected length %d", shared.ErrInvalidCache, k, len(k))
	}

	return int64(binary.BigEndian.Uint64(k[len(p):]) ^ (1 << 63)), nil
}

// decodeRow decodes the row at the provided time from its stored value.
func decodeRow(ts int64, v []byte) (shared.Candle, error) {
	if len(v) != valueSize {
		return shared.Candle{}, fmt.Errorf("%w: row %d value has unexpected length %d", shared.ErrInvalidCache, ts, len(v))
	}

	return shared.Candle{
		Time:   ts,
		Open:   math.Float64frombits(binary.BigEndian.Uint64(v[0:])),
		High:   math.Float64frombits(binary.BigEndian.Uint64(v[8:])),
		Low:    math.Float64frombits(binary.BigEndian.Uint64(v[16:])),
		Close:  math.Float64frombits(binary.BigEndian.Uint64(v[24:])),
		Volume: math.Float64frombits(binary.BigEndian.Uint64(v[32:])),
	}, nil
}

// scan reads the rows of the record from the provided start time, stopping after end. Row values
// past end are never decoded.
func (s *BadgerStore) scan(key string, start int64, end int64) (shared.Series, error) {
	p := prefix(key)
	series := make(shared.Series, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(rowKey(p, start)); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			ts, err := decodeTime(p, item.Key())
			if err != nil {
				return err
			}
			if ts > end {
				break
			}

			var candle shared.Candle
			err = item.Value(func(v []byte) error {
				var err error
				candle, err = decodeRow(ts, v)
				return err
			})
			if err != nil {
				return err
			}

			series = append(series, candle)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading record %s: %w", key, err)
	}

	return series, nil
}

// keys returns the stored row keys of the record, readable or not.
func (s *BadgerStore) keys(key string) ([][]byte, error) {
	p := prefix(key)
	var keys [][]byte

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = p
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing record %s: %w", key, err)
	}

	return keys, nil
}

// Load returns the full record for the key.
func (s *BadgerStore) Load(key string) (shared.Series, error) {
	return s.scan(key, math.MinInt64, math.MaxInt64)
}

// LoadRange returns the rows of the record with times within [start, end].
func (s *BadgerStore) LoadRange(key string, start int64, end int64) (shared.Series, error) {
	if start > end {
		return shared.Series{}, nil
	}

	return s.scan(key, start, end)
}

// Persist writes the provided rows into the record for the key. Existing rows sharing a time
// are overwritten, all other rows are kept.
func (s *BadgerStore) Persist(key string, series shared.Series) error {
	p := prefix(key)
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for idx := range series {
		err := wb.Set(rowKey(p, series[idx].Time), encodeRow(&series[idx]))
		if err != nil {
			return fmt.Errorf("writing record %s row %d: %w", key, series[idx].Time, err)
		}
	}

	err := wb.Flush()
	if err != nil {
		return fmt.Errorf("flushing record %s: %w", key, err)
	}

	s.cfg.Logger.Debug().Msgf("persisted %d rows for record %s", len(series), key)

	return nil
}

// Replace rewrites the record for the key to hold exactly the provided rows. Stored rows absent
// from the series are removed, including unreadable ones.
func (s *BadgerStore) Replace(key string, series shared.Series) error {
	existing, err := s.keys(key)
	if err != nil {
		return err
	}

	p := prefix(key)
	keep := make(map[string]struct{}, len(series))
	for idx := range series {
		keep[string(rowKey(p, series[idx].Time))] = struct{}{}
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	var dropped int
	for _, k := range existing {
		if _, ok := keep[string(k)]; ok {
			continue
		}

		err := wb.Delete(k)
		if err != nil {
			return fmt.Errorf("removing record %s row %x: %w", key, k, err)
		}
		dropped++
	}

	for idx := range series {
		err := wb.Set(rowKey(p, series[idx].Time), encodeRow(&series[idx]))
		if err != nil {
			return fmt.Errorf("writing record %s row %d: %w", key, series[idx].Time, err)
		}
	}

	err = wb.Flush()
	if err != nil {
		return fmt.Errorf("flushing record %s: %w", key, err)
	}

	s.cfg.Logger.Debug().Msgf("replaced record %s with %d rows, %d removed", key, len(series), dropped)

	return nil
}
