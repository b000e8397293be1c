// File: internal/provider/alphavantage.go
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"candlecast/internal/candle"
)

// Reason classifies why a provider fetch did not yield usable candles.
type Reason string

const (
	ReasonNetwork       Reason = "network"
	ReasonStatus        Reason = "status"
	ReasonMalformed     Reason = "malformed"
	ReasonProviderError Reason = "provider_error"
	ReasonRateLimited   Reason = "rate_limited"
	ReasonEmpty         Reason = "empty"
	ReasonInvalid       Reason = "invalid"
)

// FetchError carries a Reason alongside the underlying cause.
type FetchError struct {
	Reason Reason
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("alphavantage %s: %v", e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func fail(r Reason, format string, args ...any) error {
	return &FetchError{Reason: r, Err: fmt.Errorf(format, args...)}
}

type dailyBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

type dailyPayload struct {
	Series       map[string]dailyBar `json:"Time Series (Daily)"`
	ErrorMessage string              `json:"Error Message"`
	Note         string              `json:"Note"`
	Information  string              `json:"Information"`
}

// fetchDaily calls TIME_SERIES_DAILY with compact output and returns the
// newest `days` candles in ascending order.
func fetchDaily(ctx context.Context, httpClient *http.Client, baseURL, symbol, apiKey string, days int) ([]candle.Candle, error) {
	q := url.Values{}
	q.Set("function", "TIME_SERIES_DAILY")
	q.Set("symbol", symbol)
	q.Set("outputsize", "compact")
	q.Set("apikey", apiKey)
	u := baseURL + "/query?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fail(ReasonNetwork, "build request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fail(ReasonNetwork, "get: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fail(ReasonStatus, "http %d", resp.StatusCode)
	}

	var payload dailyPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fail(ReasonMalformed, "decode: %w", err)
	}
	switch {
	case payload.ErrorMessage != "":
		return nil, fail(ReasonProviderError, "%s", payload.ErrorMessage)
	case payload.Note != "":
		return nil, fail(ReasonRateLimited, "%s", payload.Note)
	case payload.Information != "":
		return nil, fail(ReasonRateLimited, "%s", payload.Information)
	case len(payload.Series) == 0:
		return nil, fail(ReasonEmpty, "no daily series in response")
	}
	return parseDaily(payload.Series, days)
}

func parseDaily(series map[string]dailyBar, days int) ([]candle.Candle, error) {
	dates := make([]string, 0, len(series))
	for d := range series {
		dates = append(dates, d)
	}
	// YYYY-MM-DD sorts lexically
	sort.Strings(dates)
	if days > 0 && len(dates) > days {
		dates = dates[len(dates)-days:]
	}

	out := make([]candle.Candle, 0, len(dates))
	for _, d := range dates {
		day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(d), time.UTC)
		if err != nil {
			return nil, fail(ReasonMalformed, "date %q: %w", d, err)
		}
		bar := series[d]
		c := candle.Candle{X: day.UnixMilli()}
		for _, f := range []struct {
			name string
			raw  string
			dst  *float64
		}{
			{"open", bar.Open, &c.O},
			{"high", bar.High, &c.H},
			{"low", bar.Low, &c.L},
			{"close", bar.Close, &c.C},
		} {
			v, err := decimal.NewFromString(strings.TrimSpace(f.raw))
			if err != nil {
				return nil, fail(ReasonMalformed, "%s %s %q: %w", d, f.name, f.raw, err)
			}
			*f.dst = v.Round(2).InexactFloat64()
		}
		vol, err := decimal.NewFromString(strings.TrimSpace(bar.Volume))
		if err != nil {
			return nil, fail(ReasonMalformed, "%s volume %q: %w", d, bar.Volume, err)
		}
		c.V = vol.IntPart()
		if err := c.Validate(); err != nil {
			return nil, &FetchError{Reason: ReasonInvalid, Err: err}
		}
		out = append(out, c)
	}
	return out, nil
}
