package database

import (
	"context"
	"time"

	"github.com/dnldd/boxbreak/shared"
	"github.com/google/uuid"
)

// Recorder defines the requirements for recording pipeline results.
type Recorder interface {
	// Record stores the provided symbol record under the provided run.
	Record(ctx context.Context, runID string, rec *shared.Record) error
	// Close releases the recorder's resources.
	Close() error
}

// recordColumns lists the result columns in insertion order.
const recordColumns = "id, run, symbol, timeframe, lastts, rsi, boxhigh, boxlow, amplitude, hourrange, " +
	"poc, val, vah, totalvolume, breakout, breakoutclose, breakouttime, createdon"

// createRecordTableSQL creates the result table, shared by every sql backed recorder.
const createRecordTableSQL = "CREATE TABLE IF NOT EXISTS breakout_record (id TEXT PRIMARY KEY, run TEXT NOT NULL, " +
	"symbol TEXT NOT NULL, timeframe TEXT, lastts INTEGER, rsi REAL, boxhigh REAL, boxlow REAL, amplitude REAL, " +
	"hourrange TEXT, poc REAL, val REAL, vah REAL, totalvolume REAL, breakout TEXT, breakoutclose REAL, " +
	"breakouttime INTEGER, createdon INTEGER NOT NULL)"

// createRecordRunIndexSQL indexes results by run.
const createRecordRunIndexSQL = "CREATE INDEX IF NOT EXISTS idx_breakout_record_run ON breakout_record(run)"

// persistRecordSQL inserts a single result row.
const persistRecordSQL = "INSERT INTO breakout_record(" + recordColumns + ") VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)"

// nullable converts an optional float to a sql parameter.
func nullable(v *float64) any {
	if v == nil {
		return nil
	}

	return *v
}

// recordParams returns the positional parameters persisting the provided record.
func recordParams(runID string, rec *shared.Record, now time.Time) []any {
	params := []any{
		uuid.New().String(),
		runID,
		rec.Symbol,
		rec.Timeframe,
		rec.LastTime,
		nullable(rec.RSI.Last),
		nullable(rec.Box.High),
		nullable(rec.Box.Low),
		nullable(rec.Box.Amplitude),
		rec.Box.HourRange,
	}

	vp := rec.VolumeProfile
	if vp == nil {
		params = append(params, nil, nil, nil, nil)
	} else {
		params = append(params, vp.POC, vp.ValueAreaLow, vp.ValueAreaHigh, vp.TotalVolume)
	}

	sig := rec.Breakout
	if sig == nil {
		params = append(params, nil, nil, nil)
	} else {
		params = append(params, sig.State.String(), sig.CandleClose, sig.SignalTime)
	}

	return append(params, now.Unix())
}
