// Package exchange fetches INR/USD conversion rates and keeps the last good
// pair available when the rate provider is not.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"savings/internal/core"
)

const (
	DefaultBaseURL = "https://v6.exchangerate-api.com/v6"
	DefaultTimeout = 10 * time.Second
)

var ErrBadResponse = errors.New("unexpected exchange rate response")

// Client talks to an exchangerate-api v6 compatible endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

type latestResponse struct {
	Result          string                     `json:"result"`
	ErrorType       string                     `json:"error-type"`
	BaseCode        string                     `json:"base_code"`
	ConversionRates map[string]decimal.Decimal `json:"conversion_rates"`
}

// FetchLatest returns the INR and USD quotes for one unit of base.
func (c *Client) FetchLatest(ctx context.Context, base core.Currency) (core.Rates, error) {
	endpoint := fmt.Sprintf("%s/%s/latest/%s", c.baseURL, url.PathEscape(c.apiKey), base)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.Rates{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.Rates{}, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return core.Rates{}, fmt.Errorf("%w: HTTP status %d", ErrBadResponse, resp.StatusCode)
	}

	var body latestResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return core.Rates{}, fmt.Errorf("decode rates: %w", err)
	}
	if body.Result != "success" {
		if body.ErrorType != "" {
			return core.Rates{}, fmt.Errorf("%w: %s", ErrBadResponse, body.ErrorType)
		}
		return core.Rates{}, fmt.Errorf("%w: result %q", ErrBadResponse, body.Result)
	}

	inr, ok := body.ConversionRates[string(core.INR)]
	if !ok || !inr.IsPositive() {
		return core.Rates{}, fmt.Errorf("%w: missing INR rate", ErrBadResponse)
	}
	usd, ok := body.ConversionRates[string(core.USD)]
	if !ok {
		if base != core.USD {
			return core.Rates{}, fmt.Errorf("%w: missing USD rate", ErrBadResponse)
		}
		usd = decimal.NewFromInt(1)
	}

	rates := core.Rates{
		Base:        base,
		INR:         inr,
		USD:         usd,
		LastUpdated: c.now(),
	}
	if err := rates.Validate(); err != nil {
		return core.Rates{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return rates, nil
}
