package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dnldd/boxbreak/fetch"
	"github.com/dnldd/boxbreak/shared"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// placeholders are template values that count as missing.
var placeholders = []string{"123456", "your-key-here", "changeme", "xxx", "placeholder"}

// Config is the configuration struct for the service.
type Config struct {
	// Symbols represents the processed symbols.
	Symbols []string
	// Timeframe is the resolution code of the primary dataset.
	Timeframe string
	// StartVP is the start date or timestamp of the datasets.
	StartVP string
	// EndVP is the end date or timestamp of the datasets.
	EndVP string
	// BoxDate is the date of the box window, defaults to today in lima.
	BoxDate string
	// BoxStart is the utc hour the box window opens.
	BoxStart string
	// BoxEnd is the utc hour the box window closes.
	BoxEnd string
	// Email is the capital.com account email.
	Email string
	// Password is the capital.com account password.
	Password string
	// APIKey is the capital.com api key.
	APIKey string
	// CapitalURL is the capital.com api base url.
	CapitalURL string
	// SimpleFXURL is the reference feed base url, empty disables the reference feed.
	SimpleFXURL string
	// MaxCandles is the row limit of a single price request.
	MaxCandles int
	// ChunkRows is the number of bars per fetch chunk.
	ChunkRows int
	// CacheDir is the candle cache directory.
	CacheDir string
	// AmplitudeThreshold is the box amplitude percentage beyond which a symbol is not monitored.
	AmplitudeThreshold float64
	// MonitorWindow is the watch duration past the box end.
	MonitorWindow time.Duration
	// PollInterval is the live polling cadence.
	PollInterval time.Duration
	// SessionRefresh is the session refresh cadence while polling.
	SessionRefresh time.Duration
	// Workers is the number of concurrent per-symbol workers.
	Workers int
	// RqliteEndpoint is the rqlite result store endpoint.
	RqliteEndpoint string
	// RqliteUser is the rqlite user.
	RqliteUser string
	// RqlitePass is the rqlite user pass.
	RqlitePass string
	// SQLitePath is the sqlite result store path.
	SQLitePath string
	// ReportPath is the downstream report path.
	ReportPath string
	// Schedule is the cron schedule of pipeline runs, empty runs once.
	Schedule string
	// ReplayFile is a recorded candle file replacing the broker apis.
	ReplayFile string
	// LogLevel is the log level.
	LogLevel string
	// LogFile is the rotating log file path.
	LogFile string

	registeredFlags map[string]bool
}

// isMissing checks whether the provided value is empty or a template placeholder.
func isMissing(value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return true
	}

	for _, p := range placeholders {
		if value == p {
			return true
		}
	}

	return false
}

// Window returns the unix range of the datasets.
func (cfg *Config) Window() (int64, int64, error) {
	start, err := shared.ParseUTC(cfg.StartVP)
	if err != nil {
		return 0, 0, fmt.Errorf("startvp: %w", err)
	}

	end, err := shared.ParseUTC(cfg.EndVP)
	if err != nil {
		return 0, 0, fmt.Errorf("endvp: %w", err)
	}

	return start.Unix(), end.Unix(), nil
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	if len(cfg.Symbols) == 0 {
		errs = errors.Join(errs, fmt.Errorf("no symbols provided"))
	}

	if cfg.ReplayFile == "" {
		if isMissing(cfg.Email) {
			errs = errors.Join(errs, fmt.Errorf("no capital.com email provided"))
		}
		if isMissing(cfg.Password) {
			errs = errors.Join(errs, fmt.Errorf("no capital.com password provided"))
		}
		if isMissing(cfg.APIKey) {
			errs = errors.Join(errs, fmt.Errorf("no capital.com api key provided"))
		}
	}

	_, err := shared.ParseTimeframe(cfg.Timeframe)
	if err != nil {
		errs = errors.Join(errs, err)
	}

	switch {
	case cfg.StartVP == "" || cfg.EndVP == "":
		errs = errors.Join(errs, fmt.Errorf("no startvp or endvp provided"))
	default:
		start, end, err := cfg.Window()
		switch {
		case err != nil:
			errs = errors.Join(errs, err)
		case start > end:
			errs = errors.Join(errs, fmt.Errorf("startvp %s is after endvp %s", cfg.StartVP, cfg.EndVP))
		}
	}

	_, err = shared.HourOnDate(cfg.BoxDate, cfg.BoxStart)
	if err != nil {
		errs = errors.Join(errs, fmt.Errorf("box start: %w", err))
	}
	_, err = shared.HourOnDate(cfg.BoxDate, cfg.BoxEnd)
	if err != nil {
		errs = errors.Join(errs, fmt.Errorf("box end: %w", err))
	}

	if cfg.MaxCandles <= 0 {
		errs = errors.Join(errs, fmt.Errorf("maxcandles must be positive, got %d", cfg.MaxCandles))
	}
	if cfg.ChunkRows <= 0 {
		errs = errors.Join(errs, fmt.Errorf("chunkrows must be positive, got %d", cfg.ChunkRows))
	}
	if cfg.Workers <= 0 {
		errs = errors.Join(errs, fmt.Errorf("workers must be positive, got %d", cfg.Workers))
	}
	if cfg.AmplitudeThreshold <= 0 {
		errs = errors.Join(errs, fmt.Errorf("amplitudethreshold must be positive, got %f", cfg.AmplitudeThreshold))
	}
	if cfg.MonitorWindow <= 0 || cfg.PollInterval <= 0 || cfg.SessionRefresh <= 0 {
		errs = errors.Join(errs, fmt.Errorf("monitorwindow, pollinterval and sessionrefresh must be positive"))
	}
	if cfg.CacheDir == "" {
		errs = errors.Join(errs, fmt.Errorf("no cache directory provided"))
	}

	_, err = zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		errs = errors.Join(errs, fmt.Errorf("loglevel: %w", err))
	}

	return errs
}

// splitList splits a comma separated list, dropping empty entries.
func splitList(value string) []string {
	var list []string
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			list = append(list, entry)
		}
	}

	return list
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
// The environment variable of the same name takes precedence over the provided fallback as the
// flag's default.
func (cfg *Config) registerFlag(name string, value interface{}, fallback string, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(name)
	if defValue == "" {
		defValue = fallback
	}

	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	if d, ok := value.(*time.Duration); ok {
		var def time.Duration
		if defValue != "" {
			parsed, err := time.ParseDuration(defValue)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			def = parsed
		}
		flag.DurationVar(d, name, def, usage)
		return nil
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			def, _ = strconv.ParseBool(defValue)
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			def, _ = strconv.Atoi(defValue)
		}
		flag.IntVar(value.(*int), name, def, usage)
	case reflect.Float64:
		var def float64
		if defValue != "" {
			def, _ = strconv.ParseFloat(defValue, 64)
		}
		flag.Float64Var(value.(*float64), name, def, usage)
	case reflect.Slice:
		// Only handle []string
		if val.Elem().Type().Elem().Kind() == reflect.String {
			flag.Func(name, usage, func(s string) error {
				*value.(*[]string) = splitList(s)
				return nil
			})
			// Set default if not provided via flag
			if def := splitList(defValue); len(def) > 0 {
				*value.(*[]string) = def
			}
		} else {
			return fmt.Errorf("%s: unsupported slice type", name)
		}
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	today, _, err := shared.LimaTime()
	if err != nil {
		return err
	}

	flags := []struct {
		name     string
		value    interface{}
		fallback string
		usage    string
	}{
		{"symbols", &cfg.Symbols, "", "the processed symbols"},
		{"timeframe", &cfg.Timeframe, shared.OneMinute.String(), "the primary dataset resolution"},
		{"startvp", &cfg.StartVP, "", "the dataset start date or timestamp"},
		{"endvp", &cfg.EndVP, "", "the dataset end date or timestamp"},
		{"boxdate", &cfg.BoxDate, today.Format(shared.DateLayout), "the box window date"},
		{"boxstart", &cfg.BoxStart, "08:00", "the box window utc start hour"},
		{"boxend", &cfg.BoxEnd, "09:55", "the box window utc end hour"},
		{"email", &cfg.Email, "", "the capital.com account email"},
		{"password", &cfg.Password, "", "the capital.com account password"},
		{"apikey", &cfg.APIKey, "", "the capital.com api key"},
		{"capitalurl", &cfg.CapitalURL, fetch.DefaultCapitalURL, "the capital.com api url"},
		{"simplefxurl", &cfg.SimpleFXURL, fetch.DefaultSimpleFXURL, "the reference feed url, empty disables it"},
		{"maxcandles", &cfg.MaxCandles, "1000", "the row limit of a price request"},
		{"chunkrows", &cfg.ChunkRows, "500", "the number of bars per fetch chunk"},
		{"cachedir", &cfg.CacheDir, "data_loader", "the candle cache directory"},
		{"amplitudethreshold", &cfg.AmplitudeThreshold, "1.0", "the box amplitude percentage filter"},
		{"monitorwindow", &cfg.MonitorWindow, "2h", "the watch duration past the box end"},
		{"pollinterval", &cfg.PollInterval, "60s", "the live polling cadence"},
		{"sessionrefresh", &cfg.SessionRefresh, "25m", "the session refresh cadence"},
		{"workers", &cfg.Workers, "2", "the number of concurrent per-symbol workers"},
		{"rqliteendpoint", &cfg.RqliteEndpoint, "", "the rqlite result store endpoint"},
		{"rqliteuser", &cfg.RqliteUser, "", "the rqlite user"},
		{"rqlitepass", &cfg.RqlitePass, "", "the rqlite user pass"},
		{"sqlitepath", &cfg.SQLitePath, "", "the sqlite result store path"},
		{"reportpath", &cfg.ReportPath, "breakouts.json", "the downstream report path"},
		{"schedule", &cfg.Schedule, "", "the cron schedule of runs, empty runs once"},
		{"replayfile", &cfg.ReplayFile, "", "a recorded candle file replacing the broker apis"},
		{"loglevel", &cfg.LogLevel, "info", "the log level"},
		{"logfile", &cfg.LogFile, "logs/strategy.log", "the rotating log file"},
	}

	// Register command line arguments using loaded environment variables as defaults.
	for _, f := range flags {
		err := cfg.registerFlag(f.name, f.value, f.fallback, f.usage)
		if err != nil {
			return err
		}
	}

	// Parse command-line flags.
	flag.Parse()

	err = cfg.Validate()
	if err != nil {
		return fmt.Errorf("%w: %w", shared.ErrConfiguration, err)
	}

	return nil
}
