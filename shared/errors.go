package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCache indicates an unreadable or malformed persisted record.
	ErrInvalidCache = errors.New("invalid cache record")
	// ErrConfiguration indicates missing or invalid required configuration.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrNoData indicates no data could be obtained for a requested range.
	ErrNoData = errors.New("no data")
	// ErrNoSession indicates no session credentials are available.
	ErrNoSession = errors.New("no session credentials")
	// ErrInvalidCandles indicates source candles violating the series invariants.
	ErrInvalidCandles = errors.New("invalid candles")
)

// NetworkError is the error surfaced once a network call exhausts its retry budget, or fails
// with a non-retryable response.
type NetworkError struct {
	// Op names the failed operation.
	Op string
	// Attempts is the number of attempts made.
	Attempts int
	// StatusCode is the last http status code received, zero for transport failures.
	StatusCode int
	// Err is the last error encountered.
	Err error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed after %d attempt(s), status %d: %v", e.Op, e.Attempts, e.StatusCode, e.Err)
	}

	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError checks whether the provided error is or wraps a network error.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
