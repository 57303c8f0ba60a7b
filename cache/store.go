package cache

import (
	"github.com/dnldd/boxbreak/shared"
)

// Store persists candle records by key. Persisted records only grow, a replace is the only way
// rows are removed.
type Store interface {
	// Load returns the full record for the key, empty when absent.
	Load(key string) (shared.Series, error)
	// LoadRange returns the rows of the record with times within [start, end].
	LoadRange(key string, start int64, end int64) (shared.Series, error)
	// Persist writes the provided rows into the record for the key.
	Persist(key string, series shared.Series) error
	// Replace rewrites the record for the key to hold exactly the provided rows.
	Replace(key string, series shared.Series) error
}

// Kind represents the dataset kind of a cache record.
type Kind int

const (
	// Primary is the configured timeframe dataset.
	Primary Kind = iota
	// VolumeProfile is the one minute volume profile feed.
	VolumeProfile
	// Watch is the five minute breakout watch feed.
	Watch
)

const (
	// vpSuffix tags volume profile record keys.
	vpSuffix = "_vp"
	// watchSuffix tags breakout watch record keys.
	watchSuffix = "_watch"
)

// String stringifies the provided kind.
func (k Kind) String() string {
	switch k {
	case Primary:
		return "primary"
	case VolumeProfile:
		return "volume-profile"
	case Watch:
		return "watch"
	default:
		return "unknown"
	}
}

// Key returns the record key of the provided symbol for the kind.
func (k Kind) Key(symbol string) string {
	switch k {
	case VolumeProfile:
		return symbol + vpSuffix
	case Watch:
		return symbol + watchSuffix
	default:
		return symbol
	}
}
