package database

import (
	"context"

	"github.com/dnldd/boxbreak/shared"
)

// NoopRecorder discards records, it is used when no result store is configured.
type NoopRecorder struct{}

// Ensure the noop recorder implements the Recorder interface.
var _ Recorder = (*NoopRecorder)(nil)

// NewNoopRecorder initializes a new noop recorder.
func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

// Record discards the provided record.
func (n *NoopRecorder) Record(_ context.Context, _ string, _ *shared.Record) error { return nil }

// Close is a no-op.
func (n *NoopRecorder) Close() error { return nil }
