package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// logMaxSize is the size in megabytes a log file rotates at.
	logMaxSize = 5
	// logMaxBackups is the number of rotated log files kept.
	logMaxBackups = 5
)

// newLogger creates the application logger, writing to the console and the rotating log file
// when one is provided.
func newLogger(level string, logFile string) (zerolog.Logger, error) {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("parsing log level: %w", err)
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}}
	if logFile != "" {
		err := os.MkdirAll(filepath.Dir(logFile), 0o755)
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("creating log directory: %w", err)
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    logMaxSize,
			MaxBackups: logMaxBackups,
		})
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger()
	return logger, nil
}
