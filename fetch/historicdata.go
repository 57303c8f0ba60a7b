package fetch

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dnldd/boxbreak/shared"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// HistoricDataConfig represents the historic data source configuration.
type HistoricDataConfig struct {
	// FilePath is the filepath to the historic market data. The file holds either a price api
	// payload or an array of normalized candles.
	FilePath string
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *HistoricDataConfig) Validate() error {
	var errs error
	if cfg.FilePath == "" {
		errs = errors.Join(errs, fmt.Errorf("no historic data file path provided"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("no logger provided"))
	}

	return errs
}

// HistoricData replays candles loaded from a file, serving fetches without network access.
type HistoricData struct {
	cfg     *HistoricDataConfig
	candles shared.Series
}

// Ensure historic data implements the Fetcher interface.
var _ Fetcher = (*HistoricData)(nil)

// loadHistoricData loads and parses the historic data at the provided file path.
func loadHistoricData(filepath string, logger *zerolog.Logger) (shared.Series, error) {
	readb, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("reading historic data from file with path '%s': %v", filepath, err)
	}

	if !gjson.ValidBytes(readb) {
		return nil, fmt.Errorf("historic data file '%s' is not valid json", filepath)
	}

	if gjson.GetBytes(readb, "prices").Exists() {
		return ParseCandles(readb, logger)
	}

	data := gjson.ParseBytes(readb).Array()
	candles := make(shared.Series, 0, len(data))
	for idx := range data {
		candles = append(candles, shared.Candle{
			Time:   data[idx].Get("time").Int(),
			Open:   data[idx].Get("open").Float(),
			High:   data[idx].Get("high").Float(),
			Low:    data[idx].Get("low").Float(),
			Close:  data[idx].Get("close").Float(),
			Volume: data[idx].Get("volume").Float(),
		})
	}

	return checkSeries(shared.Merge(candles))
}

// NewHistoricData initializes a new historic data source.
func NewHistoricData(cfg *HistoricDataConfig) (*HistoricData, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating historic data config: %w", err)
	}

	candles, err := loadHistoricData(cfg.FilePath, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("loading historic data: %w", err)
	}

	first, last, ok := candles.Bounds()
	if ok {
		cfg.Logger.Info().Msgf("loaded %d historic candles covering %.2f hours, from %s, to %s",
			len(candles), float64(last-first)/3600, shared.UnixToTimestamp(first), shared.UnixToTimestamp(last))
	}

	return &HistoricData{
		cfg:     cfg,
		candles: candles,
	}, nil
}

// Fetch returns the loaded candles within [from, to], limited to the earliest maxRows. The
// symbol and timeframe are ignored, the file holds a single feed.
func (h *HistoricData) Fetch(_ context.Context, _ string, _ shared.Timeframe, from int64, to int64, maxRows int) (shared.Series, error) {
	candles := h.candles.Slice(from, to)
	if maxRows > 0 && len(candles) > maxRows {
		candles = candles[:maxRows]
	}

	return candles, nil
}
