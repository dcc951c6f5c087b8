// Package collyfetcher implements the page fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"go.uber.org/zap"

	"github.com/JakeFAU/vacancy-ingest/internal/metrics"
	"github.com/JakeFAU/vacancy-ingest/internal/vacancy"
)

// Config controls collector behavior.
type Config struct {
	Timeout          time.Duration
	MaxAttempts      int
	RateLimitBackoff time.Duration
	// Proxy is used when a request does not name its own.
	Proxy string
}

// Throttle delays an attempt until the host may be contacted again.
type Throttle interface {
	Wait(ctx context.Context, rawURL string) error
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithThrottle applies a per-host limiter before every attempt.
func WithThrottle(t Throttle) Option {
	return func(f *Fetcher) { f.throttle = t }
}

// WithLogger sets the fetcher logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Fetcher implements vacancy.Fetcher using a fresh Colly collector per attempt.
type Fetcher struct {
	cfg       Config
	transport *http.Transport
	retry     *RateLimitRetryPolicy
	throttle  Throttle
	logger    *zap.Logger

	proxyMu         sync.Mutex
	proxyTransports map[string]*http.Transport
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, opts ...Option) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	f := &Fetcher{
		cfg:             cfg,
		transport:       newHTTPTransport(),
		retry:           NewRateLimitRetryPolicy(cfg.MaxAttempts, cfg.RateLimitBackoff),
		logger:          zap.NewNop(),
		proxyTransports: make(map[string]*http.Transport),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch GETs the URL, retrying only while the site answers 429.
// A non-200 status yields ErrTransientFetch; a network failure yields ErrTransport without retry.
func (f *Fetcher) Fetch(ctx context.Context, request vacancy.FetchRequest) (vacancy.Page, error) {
	log := f.logger.With(zap.String("url", request.URL))
	transport, err := f.transportFor(request.Proxy)
	if err != nil {
		return vacancy.Page{}, fmt.Errorf("fetch %s: %w: %w", request.URL, vacancy.ErrTransport, err)
	}
	start := time.Now()

	for attempt := 1; ; attempt++ {
		if f.throttle != nil {
			if err := f.throttle.Wait(ctx, request.URL); err != nil {
				return vacancy.Page{}, fmt.Errorf("throttle: %w", err)
			}
		}

		page, err := f.attempt(ctx, transport, request.URL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return vacancy.Page{}, fmt.Errorf("fetch canceled: %w", ctxErr)
			}
			metrics.ObserveFetch(request.URL, metrics.FetchTransport)
			log.Warn("fetch transport failure", zap.Int("attempt", attempt), zap.Error(err))
			return vacancy.Page{}, fmt.Errorf("fetch %s: %w: %w", request.URL, vacancy.ErrTransport, err)
		}
		page.Attempts = attempt

		switch {
		case page.StatusCode == http.StatusOK:
			metrics.ObserveFetch(request.URL, metrics.FetchOK)
			page.Duration = time.Since(start)
			return page, nil
		case f.retry.ShouldRetry(page.StatusCode, attempt):
			metrics.ObserveFetch(request.URL, metrics.FetchRateLimited)
			backoff := f.retry.Backoff(attempt)
			log.Debug("rate limited, backing off", zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
			if err := sleep(ctx, backoff); err != nil {
				return vacancy.Page{}, fmt.Errorf("rate limit backoff: %w", err)
			}
			metrics.ObserveRateLimitDelay(metrics.SanitizeHost(request.URL), backoff)
		case page.StatusCode == http.StatusTooManyRequests:
			metrics.ObserveFetch(request.URL, metrics.FetchRateLimited)
			log.Warn("rate limit retries exhausted", zap.Int("attempts", attempt))
			return vacancy.Page{}, fmt.Errorf("fetch %s: %w: still rate limited after %d attempts",
				request.URL, vacancy.ErrTransientFetch, attempt)
		default:
			metrics.ObserveFetch(request.URL, metrics.FetchStatus)
			log.Warn("unexpected status", zap.Int("status", page.StatusCode))
			return vacancy.Page{}, fmt.Errorf("fetch %s: %w: status %d",
				request.URL, vacancy.ErrTransientFetch, page.StatusCode)
		}
	}
}

func (f *Fetcher) attempt(ctx context.Context, transport http.RoundTripper, rawURL string) (vacancy.Page, error) {
	var (
		result   vacancy.Page
		fetchErr error
	)
	collector := f.buildCollector(ctx, transport, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return vacancy.Page{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	transport http.RoundTripper,
	result *vacancy.Page,
	fetchErr *error,
) *colly.Collector {
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.StdlibContext(ctx),
	)
	collector.WithTransport(transport)
	collector.SetRequestTimeout(f.cfg.Timeout)
	extensions.RandomUserAgent(collector)

	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	result *vacancy.Page,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.logger.Debug("fetch attempt",
			zap.String("url", r.URL.String()),
			zap.String("user_agent", r.Headers.Get("User-Agent")),
		)
	})

	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = vacancy.Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) transportFor(proxy string) (*http.Transport, error) {
	if proxy == "" {
		proxy = f.cfg.Proxy
	}
	if proxy == "" {
		return f.transport, nil
	}

	f.proxyMu.Lock()
	defer f.proxyMu.Unlock()
	if t, ok := f.proxyTransports[proxy]; ok {
		return t, nil
	}
	proxyURL, err := url.Parse(proxy)
	if err != nil || proxyURL.Host == "" {
		return nil, errors.Join(fmt.Errorf("invalid proxy %q", proxy), err)
	}
	t := f.transport.Clone()
	t.Proxy = http.ProxyURL(proxyURL)
	f.proxyTransports[proxy] = t
	return t, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
