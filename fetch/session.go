package fetch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dnldd/boxbreak/shared"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// Credentials represents the opaque session tokens required by the price api.
type Credentials struct {
	CST           string
	SecurityToken string
}

// Authenticator issues session credentials.
type Authenticator interface {
	Login(ctx context.Context) (*Credentials, error)
}

// SessionConfig represents the session holder configuration.
type SessionConfig struct {
	// Authenticator issues fresh credentials.
	Authenticator Authenticator
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *SessionConfig) Validate() error {
	var errs error
	if cfg.Authenticator == nil {
		errs = errors.Join(errs, fmt.Errorf("no authenticator provided"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("no logger provided"))
	}

	return errs
}

// Session holds the current session credentials. Credentials are swapped atomically so in-flight
// requests keep the tokens they started with.
type Session struct {
	cfg   *SessionConfig
	creds atomic.Pointer[Credentials]
}

// NewSession instantiates a new session holder without credentials.
func NewSession(cfg *SessionConfig) (*Session, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating session config: %w", err)
	}

	return &Session{cfg: cfg}, nil
}

// Credentials returns the current credentials.
func (s *Session) Credentials() (*Credentials, error) {
	creds := s.creds.Load()
	if creds == nil {
		return nil, shared.ErrNoSession
	}

	return creds, nil
}

// Set replaces the current credentials.
func (s *Session) Set(creds *Credentials) {
	s.creds.Store(creds)
}

// Refresh logs in for fresh credentials. On failure the current credentials are kept.
func (s *Session) Refresh(ctx context.Context) error {
	creds, err := s.cfg.Authenticator.Login(ctx)
	if err != nil {
		return fmt.Errorf("refreshing session: %w", err)
	}

	s.creds.Store(creds)
	s.cfg.Logger.Debug().Msg("session credentials refreshed")

	return nil
}

// Ensure returns the current credentials, logging in when none are held.
func (s *Session) Ensure(ctx context.Context) (*Credentials, error) {
	creds, err := s.Credentials()
	if err == nil {
		return creds, nil
	}

	err = s.Refresh(ctx)
	if err != nil {
		return nil, err
	}

	return s.Credentials()
}
