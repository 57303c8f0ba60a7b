package fetch

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dnldd/boxbreak/shared"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// DefaultSimpleFXURL is the default simplefx candles api base url.
const DefaultSimpleFXURL = "https://candles-core.simplefx.com"

// SimpleFXConfig represents the configuration for the simplefx candles client.
type SimpleFXConfig struct {
	// BaseURL is the simplefx candles api base url.
	BaseURL string
	// Policy is the retry policy for candle lookups.
	Policy RetryPolicy
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *SimpleFXConfig) Validate() error {
	var errs error
	if cfg.BaseURL == "" {
		errs = errors.Join(errs, fmt.Errorf("no simplefx base url provided"))
	}
	err := cfg.Policy.Validate()
	if err != nil {
		errs = errors.Join(errs, fmt.Errorf("simplefx policy: %w", err))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("no logger provided"))
	}

	return errs
}

// SimpleFXClient represents the simplefx candles api client, used as a reference price feed.
type SimpleFXClient struct {
	cfg   *SimpleFXConfig
	httpc *resty.Client
}

// Ensure the simplefx client implements the Fetcher interface.
var _ Fetcher = (*SimpleFXClient)(nil)

// NewSimpleFXClient instantiates a new simplefx candles client.
func NewSimpleFXClient(cfg *SimpleFXConfig) (*SimpleFXClient, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating simplefx config: %w", err)
	}

	httpc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(requestTimeout).
		SetHeader("Accept", "application/json")

	return &SimpleFXClient{
		cfg:   cfg,
		httpc: httpc,
	}, nil
}

// parseReferenceCandles parses simplefx candle rows into a series.
func parseReferenceCandles(body []byte) (shared.Series, error) {
	data := gjson.GetBytes(body, "data").Array()
	candles := make(shared.Series, 0, len(data))

	for idx := range data {
		row := data[idx]
		candles = append(candles, shared.Candle{
			Time:   row.Get("time").Int(),
			Open:   row.Get("open").Float(),
			High:   row.Get("high").Float(),
			Low:    row.Get("low").Float(),
			Close:  row.Get("close").Float(),
			Volume: row.Get("volume").Float(),
		})
	}

	return checkSeries(shared.Merge(candles))
}

// Fetch fetches the reference candles for [from, to] at the timeframe's period. The feed is not
// paginated, results are trimmed to the latest maxRows.
func (c *SimpleFXClient) Fetch(ctx context.Context, symbol string, tf shared.Timeframe, from int64, to int64, maxRows int) (shared.Series, error) {
	var body []byte
	op := fmt.Sprintf("simplefx candles %s %s", symbol, tf.String())
	err := c.cfg.Policy.Do(ctx, op, c.cfg.Logger, func(ctx context.Context) error {
		resp, err := c.httpc.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"symbol":   symbol,
				"cPeriod":  strconv.FormatInt(tf.Seconds(), 10),
				"timeFrom": strconv.FormatInt(from, 10),
				"timeTo":   strconv.FormatInt(to, 10),
			}).
			Get("/api/v3/candles")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return &StatusError{Code: resp.StatusCode(), Body: resp.Body()}
		}

		body = resp.Body()
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles, err := parseReferenceCandles(body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", op, err)
	}
	if maxRows > 0 && len(candles) > maxRows {
		candles = candles[len(candles)-maxRows:]
	}

	return candles, nil
}
