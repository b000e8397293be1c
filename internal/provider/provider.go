// Package provider supplies daily OHLCV candles for a single symbol, from
// Alpha Vantage when an API key is configured and from a synthetic generator
// otherwise. Callers never see a failure: every upstream problem is logged
// and answered with synthetic data.
package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"candlecast/internal/candle"
	"candlecast/internal/metrics"
)

// Source is what Provider needs from anything that yields candles.
type Source interface {
	FetchCandles(ctx context.Context) []candle.Candle
}

type Options struct {
	APIKey            string
	BaseURL           string
	Symbol            string
	Days              int
	Timeout           time.Duration
	RequestsPerMinute int
	HTTPClient        *http.Client
	Synthetic         *Generator
	Logger            zerolog.Logger
}

type Provider struct {
	apiKey  string
	baseURL string
	symbol  string
	days    int
	timeout time.Duration

	http    *http.Client
	limiter *rate.Limiter
	synth   *Generator
	log     zerolog.Logger
}

func New(opts Options) *Provider {
	if opts.Days <= 0 {
		opts.Days = 30
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Synthetic == nil {
		opts.Synthetic = NewGenerator(SyntheticConfig{
			Days: opts.Days, BasePrice: 150, Amplitude: 10, Noise: 2, Volatility: 3,
		}, nil, nil)
	}
	var lim *rate.Limiter
	if opts.RequestsPerMinute > 0 {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return &Provider{
		apiKey:  opts.APIKey,
		baseURL: opts.BaseURL,
		symbol:  opts.Symbol,
		days:    opts.Days,
		timeout: opts.Timeout,
		http:    opts.HTTPClient,
		limiter: lim,
		synth:   opts.Synthetic,
		log:     opts.Logger,
	}
}

// FetchCandles returns a non-empty, ascending, invariant-valid slice.
func (p *Provider) FetchCandles(ctx context.Context) []candle.Candle {
	if p.apiKey == "" {
		metrics.ProviderRequestsTotal.WithLabelValues("synthetic").Inc()
		return p.synth.Generate()
	}

	out, err := p.fetchRemote(ctx)
	if err != nil {
		reason := ReasonNetwork
		var fe *FetchError
		if errors.As(err, &fe) {
			reason = fe.Reason
		}
		p.log.Warn().Err(err).Str("reason", string(reason)).Str("symbol", p.symbol).
			Msg("provider fetch failed, using synthetic data")
		metrics.ProviderFallbacksTotal.WithLabelValues(string(reason)).Inc()
		metrics.ProviderRequestsTotal.WithLabelValues("synthetic").Inc()
		return p.synth.Generate()
	}
	metrics.ProviderRequestsTotal.WithLabelValues("alphavantage").Inc()
	return out
}

func (p *Provider) fetchRemote(ctx context.Context) ([]candle.Candle, error) {
	if p.limiter != nil && !p.limiter.Allow() {
		return nil, fail(ReasonRateLimited, "local request budget exhausted")
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	out, err := fetchDaily(ctx, p.http, p.baseURL, p.symbol, p.apiKey, p.days)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fail(ReasonEmpty, "no candles parsed")
	}
	return out, nil
}
