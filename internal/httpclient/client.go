// Package httpclient implements the rate-limit-aware JSON GET used for every
// call to the remote API.
//
// A 429 response is retried after base+uniform[0,jitter) with the query
// parameters only sent on the first attempt. A 500 response is logged and
// reported as a nil document. Any other status is decoded as JSON.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/nextrequest-crawler/internal/clock/system"
	"github.com/JakeFAU/nextrequest-crawler/internal/crawler"
	"github.com/JakeFAU/nextrequest-crawler/internal/metrics"
)

var (
	// ErrRateLimitExhausted is returned once the 429 retry budget is spent.
	ErrRateLimitExhausted = errors.New("rate limit retries exhausted")
	// ErrNetwork wraps transport failures that survived every retry.
	ErrNetwork = errors.New("network failure")
)

// StatusError reports a response whose body could not be decoded.
type StatusError struct {
	URL    string
	Status int
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d: %v", e.URL, e.Status, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Config tunes the client.
type Config struct {
	Timeout   time.Duration
	UserAgent string
	// RateLimitBaseDelay is the fixed part of the wait after a 429.
	RateLimitBaseDelay time.Duration
	// RateLimitJitter bounds the random part of the wait after a 429.
	RateLimitJitter time.Duration
	// MaxRateLimitRetries caps consecutive 429 retries. Zero means unbounded.
	MaxRateLimitRetries int
	MaxNetworkRetries   int
	ResendParamsOnRetry bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		UserAgent:           "nextrequest-crawler/1.0",
		RateLimitBaseDelay:  5 * time.Second,
		RateLimitJitter:     10 * time.Second,
		MaxRateLimitRetries: 50,
		MaxNetworkRetries:   3,
	}
}

// Waiter paces requests before they are sent.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Client performs GET requests against the remote API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter Waiter
	sleeper crawler.Sleeper
	jitter  func(limit time.Duration) time.Duration
	retry   *ExponentialRetryPolicy
	logger  *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLimiter installs a proactive request pacer.
func WithLimiter(w Waiter) Option {
	return func(c *Client) { c.limiter = w }
}

// WithSleeper overrides how the client waits between retries.
func WithSleeper(s crawler.Sleeper) Option {
	return func(c *Client) { c.sleeper = s }
}

// WithJitter overrides the random source for the 429 jitter.
func WithJitter(fn func(limit time.Duration) time.Duration) Option {
	return func(c *Client) { c.jitter = fn }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a Client.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		sleeper: system.New(),
		jitter:  randomJitter,
		retry:   NewExponentialRetryPolicy(cfg.MaxNetworkRetries),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches rawURL and decodes the JSON body. It returns (nil, nil) when
// the server answers 500.
func (c *Client) Get(ctx context.Context, rawURL string, params url.Values) (crawler.Document, error) {
	sendParams := true
	rateRetries := 0
	netAttempt := 0

	for {
		var query url.Values
		if sendParams || c.cfg.ResendParamsOnRetry {
			query = params
		}

		status, body, err := c.do(ctx, rawURL, query)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("GET %s: %w", rawURL, ctxErr)
			}
			if !c.retry.ShouldRetry(err, netAttempt) {
				return nil, fmt.Errorf("%w: GET %s: %w", ErrNetwork, rawURL, err)
			}
			delay := c.retry.Backoff(netAttempt)
			netAttempt++
			c.logger.Warn("request failed, retrying",
				zap.String("url", rawURL),
				zap.Int("attempt", netAttempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if err := c.sleeper.Sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("GET %s: %w", rawURL, err)
			}
			continue
		}

		switch status {
		case http.StatusTooManyRequests:
			if c.cfg.MaxRateLimitRetries > 0 && rateRetries >= c.cfg.MaxRateLimitRetries {
				return nil, fmt.Errorf("%w: GET %s after %d retries", ErrRateLimitExhausted, rawURL, rateRetries)
			}
			rateRetries++
			sendParams = false
			delay := c.RateLimitDelay()
			c.logger.Info("response 429: too many requests",
				zap.String("url", rawURL),
				zap.Duration("delay", delay),
				zap.Int("retry", rateRetries),
			)
			metrics.ObserveRateLimitDelay(rawURL, delay)
			if err := c.sleeper.Sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("GET %s: %w", rawURL, err)
			}
		case http.StatusInternalServerError:
			c.logger.Error("remote server error", zap.String("url", rawURL), zap.Int("status", status))
			return nil, nil
		default:
			c.logger.Debug("response", zap.String("url", rawURL), zap.Int("status", status))
			return decode(rawURL, status, body)
		}
	}
}

// RateLimitDelay returns the wait applied after a 429, drawn from
// [base, base+jitter).
func (c *Client) RateLimitDelay() time.Duration {
	return c.cfg.RateLimitBaseDelay + c.jitter(c.cfg.RateLimitJitter)
}

func (c *Client) do(ctx context.Context, rawURL string, query url.Values) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return 0, nil, err
		}
	}

	target := rawURL
	if len(query) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return 0, nil, fmt.Errorf("parse url: %w", err)
		}
		q := u.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decode(rawURL string, status int, body []byte) (crawler.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc crawler.Document
	if err := dec.Decode(&doc); err != nil {
		return nil, &StatusError{URL: rawURL, Status: status, Err: err}
	}
	return doc, nil
}
