// Package fetch implements the resilient client for the upstream
// Transfermarkt API: bounded retries with exponential backoff, mandatory
// inter-request spacing, and failure classification.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mlsdata/transfermkt-ingest/internal/metrics"
)

// Config controls client behavior.
type Config struct {
	BaseURL   string
	ProbePath string
	UserAgent string
	// Timeout bounds each individual HTTP attempt.
	Timeout time.Duration
	// MaxRetries is the number of attempts after the first.
	MaxRetries int
	// RetryDelay is the base backoff; attempt n waits
	// RetryDelay * BackoffMultiplier^(n-1).
	RetryDelay        time.Duration
	BackoffMultiplier float64
	// RateLimitDelay is the minimum spacing applied before every first
	// attempt, the primary backpressure protecting the upstream.
	RateLimitDelay time.Duration
}

// Client performs one logical remote read per Fetch call. Each instance
// carries its own limiter, so spacing is per-client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	// sleep is swappable in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Client with sane defaults for unset knobs.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}
	limit := rate.Inf
	if cfg.RateLimitDelay > 0 {
		limit = rate.Every(cfg.RateLimitDelay)
	}
	limiter := rate.NewLimiter(limit, 1)
	// Spend the initial token so even the client's first request waits
	// out the configured spacing.
	if cfg.RateLimitDelay > 0 {
		limiter.Allow()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// Fetch performs a GET against endpoint and returns the payload, or nil
// when the read failed. Ordinary remote failures never surface as errors;
// the returned error is non-nil only when ctx ends. 404 is terminal with
// no retry; 429, 5xx, network failures and unparseable 2xx bodies are
// retried within the attempt budget; any other status is terminal.
func (c *Client) Fetch(ctx context.Context, endpoint string) ([]byte, error) {
	url := c.url(endpoint)

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		var delay time.Duration
		if attempt == 0 {
			// Spacing applies even on the happy path.
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		} else {
			delay = c.backoff(attempt)
			metrics.FetchRetries.Inc()
			if err := c.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		metrics.FetchAttempts.Inc()
		c.logger.Info("fetching endpoint",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.cfg.MaxRetries+1),
			zap.Duration("delay", delay))

		payload, outcome := c.attempt(ctx, url)
		switch outcome {
		case outcomeSuccess:
			return payload, nil
		case outcomeTerminal:
			return nil, nil
		case outcomeCanceled:
			return nil, ctx.Err()
		case outcomeRetryable:
			// next attempt
		}
	}

	metrics.FetchFailures.WithLabelValues("retries_exhausted").Inc()
	c.logger.Error("all retry attempts failed", zap.String("endpoint", endpoint))
	return nil, nil
}

// Probe issues a single lightweight connectivity check against the
// configured probe endpoint. Unlike Fetch it reports failure as an error,
// because a failed probe aborts the whole run.
func (c *Client) Probe(ctx context.Context) error {
	url := c.url(c.cfg.ProbePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck // nothing useful to do
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe %s: status %d", url, resp.StatusCode)
	}
	return nil
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetryable
	outcomeTerminal
	outcomeCanceled
)

func (c *Client) attempt(ctx context.Context, url string) ([]byte, outcome) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		metrics.FetchFailures.WithLabelValues("bad_request").Inc()
		c.logger.Error("building request failed", zap.String("url", url), zap.Error(err))
		return nil, outcomeTerminal
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, outcomeCanceled
		}
		// Timeouts and connection failures count against the retry
		// budget like a server error.
		var netErr net.Error
		if errors.As(err, &netErr) || isConnError(err) {
			c.logger.Warn("network failure", zap.String("url", url), zap.Error(err))
			return nil, outcomeRetryable
		}
		metrics.FetchFailures.WithLabelValues("unexpected").Inc()
		c.logger.Error("unexpected request error", zap.String("url", url), zap.Error(err))
		return nil, outcomeTerminal
	}
	defer resp.Body.Close() //nolint:errcheck // nothing useful to do

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("reading response body failed", zap.String("url", url), zap.Error(err))
		return nil, outcomeRetryable
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if !json.Valid(body) {
			// A malformed body may be transient.
			c.logger.Warn("invalid JSON response", zap.String("url", url))
			return nil, outcomeRetryable
		}
		return body, outcomeSuccess
	case resp.StatusCode == http.StatusNotFound:
		metrics.FetchFailures.WithLabelValues("not_found").Inc()
		c.logger.Warn("resource not found", zap.String("url", url))
		return nil, outcomeTerminal
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("rate limited by upstream", zap.String("url", url))
		return nil, outcomeRetryable
	case resp.StatusCode >= http.StatusInternalServerError:
		c.logger.Warn("server error", zap.String("url", url), zap.Int("status", resp.StatusCode))
		return nil, outcomeRetryable
	default:
		metrics.FetchFailures.WithLabelValues("unexpected_status").Inc()
		c.logger.Error("unexpected status",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode))
		return nil, outcomeTerminal
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := float64(c.cfg.RetryDelay)
	for i := 1; i < attempt; i++ {
		delay *= c.cfg.BackoffMultiplier
	}
	return time.Duration(delay)
}

func (c *Client) url(endpoint string) string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(endpoint, "/")
}

func (c *Client) setHeaders(req *http.Request) {
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
}

func isConnError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
