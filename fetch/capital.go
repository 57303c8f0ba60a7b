package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dnldd/boxbreak/shared"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	// DefaultCapitalURL is the default capital.com api base url.
	DefaultCapitalURL = "https://api-capital.backend-capital.com"
	// pricesNotFound is the capital.com error code for ranges without prices.
	pricesNotFound = "error.prices.not-found"
)

// CapitalConfig represents the configuration for the capital.com client.
type CapitalConfig struct {
	// BaseURL is the capital.com api base url.
	BaseURL string
	// APIKey is the capital.com api key.
	APIKey string
	// Email is the account identifier.
	Email string
	// Password is the account password.
	Password string
	// LoginPolicy is the retry policy for session logins.
	LoginPolicy RetryPolicy
	// PricePolicy is the retry policy for price lookups.
	PricePolicy RetryPolicy
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *CapitalConfig) Validate() error {
	var errs error
	if cfg.BaseURL == "" {
		errs = errors.Join(errs, fmt.Errorf("no capital.com base url provided"))
	}
	if cfg.APIKey == "" {
		errs = errors.Join(errs, fmt.Errorf("no capital.com api key provided"))
	}
	if cfg.Email == "" {
		errs = errors.Join(errs, fmt.Errorf("no capital.com email provided"))
	}
	if cfg.Password == "" {
		errs = errors.Join(errs, fmt.Errorf("no capital.com password provided"))
	}
	err := cfg.LoginPolicy.Validate()
	if err != nil {
		errs = errors.Join(errs, fmt.Errorf("login policy: %w", err))
	}
	err = cfg.PricePolicy.Validate()
	if err != nil {
		errs = errors.Join(errs, fmt.Errorf("price policy: %w", err))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("no logger provided"))
	}

	return errs
}

// CapitalClient represents the capital.com price and session api client.
type CapitalClient struct {
	cfg   *CapitalConfig
	httpc *resty.Client
}

// Ensure the capital client satisfies the price source and authenticator interfaces.
var _ PriceSource = (*CapitalClient)(nil)
var _ Authenticator = (*CapitalClient)(nil)

// NewCapitalClient instantiates a new capital.com client.
func NewCapitalClient(cfg *CapitalConfig) (*CapitalClient, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating capital.com config: %w", err)
	}

	httpc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(requestTimeout).
		SetHeader("Accept", "application/json")

	return &CapitalClient{
		cfg:   cfg,
		httpc: httpc,
	}, nil
}

// Login creates a new capital.com session, returning its credential tokens.
func (c *CapitalClient) Login(ctx context.Context) (*Credentials, error) {
	var creds *Credentials
	err := c.cfg.LoginPolicy.Do(ctx, "capital.com login", c.cfg.Logger, func(ctx context.Context) error {
		resp, err := c.httpc.R().
			SetContext(ctx).
			SetHeader("X-CAP-API-KEY", c.cfg.APIKey).
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]string{
				"identifier": c.cfg.Email,
				"password":   c.cfg.Password,
			}).
			Post("/api/v1/session")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return &StatusError{Code: resp.StatusCode(), Body: resp.Body()}
		}

		cst := resp.Header().Get("CST")
		token := resp.Header().Get("X-SECURITY-TOKEN")
		if cst == "" || token == "" {
			return fmt.Errorf("%w: login response is missing tokens (cst set: %v, security token set: %v)",
				shared.ErrNoSession, cst != "", token != "")
		}

		creds = &Credentials{CST: cst, SecurityToken: token}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.cfg.Logger.Info().Msg("capital.com login successful")

	return creds, nil
}

// ParseCandles normalizes capital.com price rows into a series. Every bid/ask pair collapses to
// its midpoint and snapshot times convert to unix seconds. Midpoint lows and highs are widened to
// cover the midpoint open and close.
func ParseCandles(body []byte, logger *zerolog.Logger) (shared.Series, error) {
	data := gjson.GetBytes(body, "prices").Array()
	candles := make(shared.Series, 0, len(data))

	mid := func(row gjson.Result, path string) float64 {
		return (row.Get(path+".bid").Float() + row.Get(path+".ask").Float()) / 2
	}

	for idx := range data {
		row := data[idx]

		ts, err := shared.ParseUTC(row.Get("snapshotTimeUTC").String())
		if err != nil {
			return nil, fmt.Errorf("parsing price row %d snapshot time: %w", idx, err)
		}

		candles = append(candles, shared.Candle{
			Time:   ts.Unix(),
			Open:   mid(row, "openPrice"),
			High:   mid(row, "highPrice"),
			Low:    mid(row, "lowPrice"),
			Close:  mid(row, "closePrice"),
			Volume: row.Get("lastTradedVolume").Float(),
		})
	}

	series := shared.Merge(candles)
	var widened int
	for idx := range series {
		if series[idx].Widen() {
			widened++
		}
	}
	if widened > 0 {
		logger.Warn().Msgf("widened the midpoint range of %d price row(s) to cover open and close", widened)
	}

	return checkSeries(series)
}

// checkSeries asserts the provided parsed series satisfies the series invariants.
func checkSeries(series shared.Series) (shared.Series, error) {
	err := series.Validate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidCandles, err)
	}

	return series, nil
}

// isNotFound checks whether the response reports a range without prices.
func isNotFound(resp *resty.Response) bool {
	if resp.StatusCode() != http.StatusNotFound {
		return false
	}

	return bytes.Contains(resp.Body(), []byte(pricesNotFound))
}

// FetchPrices fetches the prices for the provided symbol and utc timestamp range. Ranges without
// prices yield an empty series.
func (c *CapitalClient) FetchPrices(ctx context.Context, creds *Credentials, symbol string, resolution string, from string, to string, max int) (shared.Series, error) {
	if creds == nil {
		return nil, shared.ErrNoSession
	}

	var body []byte
	op := fmt.Sprintf("capital.com prices %s %s [%s, %s]", symbol, resolution, from, to)
	err := c.cfg.PricePolicy.Do(ctx, op, c.cfg.Logger, func(ctx context.Context) error {
		resp, err := c.httpc.R().
			SetContext(ctx).
			SetHeader("X-SECURITY-TOKEN", creds.SecurityToken).
			SetHeader("CST", creds.CST).
			SetPathParam("symbol", symbol).
			SetQueryParams(map[string]string{
				"resolution": resolution,
				"max":        strconv.Itoa(max),
				"from":       from,
				"to":         to,
			}).
			Get("/api/v1/prices/{symbol}")
		if err != nil {
			return err
		}
		if isNotFound(resp) {
			body = nil
			return nil
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

	if body == nil {
		return shared.Series{}, nil
	}

	return ParseCandles(body, c.cfg.Logger)
}
