package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dnldd/boxbreak/shared"
	"github.com/rs/zerolog"
)

const (
	// requestTimeout is the default per-attempt request timeout.
	requestTimeout = time.Second * 20
	// maxRetryDelay caps the delay between attempts.
	maxRetryDelay = time.Minute
)

// StatusError represents a non-2xx api response.
type StatusError struct {
	// Code is the http status code.
	Code int
	// Body is the raw response body.
	Body []byte
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, string(e.Body))
}

// RetryPolicy describes how a network call is retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay before the second attempt.
	InitialDelay time.Duration
	// Multiplier is the growth factor applied to the delay after every attempt.
	Multiplier float64
	// MaxDelay caps the delay between attempts, zero uses the default cap.
	MaxDelay time.Duration
	// Timeout bounds every attempt, zero disables the per-attempt bound.
	Timeout time.Duration
	// Retryable reports whether a failed attempt should be retried, nil uses IsRetryable.
	Retryable func(err error) bool
}

// LoginPolicy returns the retry policy for session logins.
func LoginPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  4,
		InitialDelay: time.Second,
		Multiplier:   2.0,
		Timeout:      requestTimeout,
	}
}

// PricePolicy returns the retry policy for price lookups.
func PricePolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  21,
		InitialDelay: time.Millisecond * 500,
		Multiplier:   1.5,
		Timeout:      requestTimeout,
	}
}

// ReferencePolicy returns the retry policy for reference candle lookups.
func ReferencePolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  6,
		InitialDelay: time.Second,
		Multiplier:   1.5,
		Timeout:      requestTimeout,
	}
}

// Validate asserts the policy is usable.
func (p *RetryPolicy) Validate() error {
	var errs error
	if p.MaxAttempts < 1 {
		errs = errors.Join(errs, fmt.Errorf("max attempts must be at least 1, got %d", p.MaxAttempts))
	}
	if p.InitialDelay < 0 {
		errs = errors.Join(errs, fmt.Errorf("initial delay cannot be negative, got %s", p.InitialDelay))
	}
	if p.Multiplier < 1 {
		errs = errors.Join(errs, fmt.Errorf("multiplier must be at least 1, got %f", p.Multiplier))
	}

	return errs
}

// IsRetryable classifies transport failures, timeouts, throttling and server errors as transient.
// Cancellation and missing session tokens are permanent.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, shared.ErrNoSession) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.Code == http.StatusRequestTimeout,
			statusErr.Code == http.StatusTooManyRequests,
			statusErr.Code >= http.StatusInternalServerError:
			return true
		default:
			return false
		}
	}

	return true
}

// backOff creates the exponential backoff schedule for the policy.
func (p *RetryPolicy) backOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialDelay
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	exp.MaxInterval = maxRetryDelay
	if p.MaxDelay > 0 {
		exp.MaxInterval = p.MaxDelay
	}
	exp.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.MaxAttempts-1)), ctx)
}

// Do runs the provided call under the retry policy. A call exhausting its attempts, or failing
// with a non-retryable error, surfaces as a *shared.NetworkError wrapping the last error.
func (p *RetryPolicy) Do(ctx context.Context, op string, logger *zerolog.Logger, call func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	var attempts int
	operation := func() error {
		attempts++

		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}

		err := call(attemptCtx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}

		return err
	}

	notify := func(err error, delay time.Duration) {
		logger.Warn().Msgf("%s attempt %d/%d failed: %v, retrying in %s",
			op, attempts, p.MaxAttempts, err, delay)
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	if err == nil {
		return nil
	}

	netErr := &shared.NetworkError{Op: op, Attempts: attempts, Err: err}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		netErr.StatusCode = statusErr.Code
	}

	logger.Error().Msgf("%s failed after %d attempt(s): %v", op, attempts, err)

	return netErr
}
