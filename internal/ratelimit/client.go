// Package ratelimit paces and retries outbound requests to external data
// sources.
package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const maxBodyBytes = 256 << 20

var ErrConfig = errors.New("ratelimit: invalid config")

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

type Config struct {
	// Name labels metrics and logs, usually the source name.
	Name string

	// Only one rate unit may be set.
	RequestsPerSecond float64
	RequestsPerMinute float64
	RequestsPerHour   float64

	MaxRetries  int
	Timeout     time.Duration // per attempt
	BackoffBase time.Duration // wait is BackoffBase * 2^attempt
}

// Interval derives the minimum spacing between dispatches.
func (c Config) Interval() (time.Duration, error) {
	set := 0
	var iv time.Duration
	for _, r := range []struct {
		n    float64
		unit time.Duration
	}{
		{c.RequestsPerSecond, time.Second},
		{c.RequestsPerMinute, time.Minute},
		{c.RequestsPerHour, time.Hour},
	} {
		if r.n < 0 {
			return 0, fmt.Errorf("%w: negative rate", ErrConfig)
		}
		if r.n > 0 {
			set++
			iv = time.Duration(float64(r.unit) / r.n)
		}
	}
	if set > 1 {
		return 0, fmt.Errorf("%w: only one of requests per second, minute or hour may be set", ErrConfig)
	}
	return iv, nil
}

type Options struct {
	Method string
	Header http.Header
	Query  url.Values
	Body   []byte
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Stats struct {
	TotalRequests      int64 `json:"totalRequests"`
	SuccessfulRequests int64 `json:"successfulRequests"`
	FailedRequests     int64 `json:"failedRequests"`
}

// Observer receives one call per attempt. observability.Metrics implements it.
type Observer interface {
	ObserveOutbound(client, outcome string, seconds float64)
}

type Client struct {
	cfg      Config
	interval time.Duration
	doer     Doer
	log      *slog.Logger
	obs      Observer

	mu   sync.Mutex // held while pacing
	last time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	total, ok, failed atomic.Int64
}

type Option func(*Client)

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

func WithObserver(o Observer) Option { return func(c *Client) { c.obs = o } }

// WithClock replaces the wall clock and the sleeper, for tests.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		c.now = now
		c.sleep = sleep
	}
}

func New(cfg Config, doer Doer, opts ...Option) (*Client, error) {
	iv, err := cfg.Interval()
	if err != nil {
		return nil, err
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must be >= 0", ErrConfig)
	}
	if doer == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	c := &Client{
		cfg:      cfg,
		interval: iv,
		doer:     doer,
		log:      slog.Default(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) Stats() Stats {
	return Stats{
		TotalRequests:      c.total.Load(),
		SuccessfulRequests: c.ok.Load(),
		FailedRequests:     c.failed.Load(),
	}
}

// Request performs one logical request, pacing every attempt and retrying
// failures with exponential backoff. Non-2xx statuses count as failures.
func (c *Client) Request(ctx context.Context, endpoint string, opts Options) (*Response, error) {
	c.total.Add(1)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.cfg.BackoffBase << (attempt - 1)
			c.log.Debug("retrying request",
				"client", c.cfg.Name, "endpoint", redact(endpoint), "attempt", attempt+1, "wait", wait, "err", lastErr)
			if err := c.sleep(ctx, wait); err != nil {
				lastErr = errors.Join(err, lastErr)
				break
			}
		}
		if err := c.pace(ctx); err != nil {
			lastErr = errors.Join(err, lastErr)
			break
		}

		attempts++
		resp, err := c.attempt(ctx, endpoint, opts)
		if err == nil {
			c.ok.Add(1)
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			lastErr = errors.Join(ctx.Err(), err)
			break
		}
	}

	c.failed.Add(1)
	c.log.Warn("request failed",
		"client", c.cfg.Name, "endpoint", redact(endpoint), "attempts", attempts, "err", lastErr)
	return nil, &NetworkError{Endpoint: redact(endpoint), Cause: lastErr, Attempts: attempts}
}

// pace suspends the caller until the minimum interval since the previous
// dispatch on this client has passed.
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interval > 0 && !c.last.IsZero() {
		if wait := c.interval - c.now().Sub(c.last); wait > 0 {
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	c.last = c.now()
	return nil
}

func (c *Client) attempt(ctx context.Context, endpoint string, opts Options) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := buildRequest(actx, endpoint, opts)
	if err != nil {
		return nil, err
	}

	start := c.now()
	resp, err := c.doer.Do(req)
	if err != nil {
		c.observe("error", start)
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err // drop the URL, it may carry credentials
		}
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		c.observe("status_"+statusClass(resp.StatusCode), start)
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.observe("error", start)
		return nil, fmt.Errorf("read body: %w", err)
	}
	c.observe("ok", start)
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body}, nil
}

func (c *Client) observe(outcome string, start time.Time) {
	if c.obs != nil {
		c.obs.ObserveOutbound(c.cfg.Name, outcome, c.now().Sub(start).Seconds())
	}
}

func buildRequest(ctx context.Context, endpoint string, opts Options) (*http.Request, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if len(opts.Query) > 0 {
		q := u.Query()
		for k, vs := range opts.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// redact strips the query string so API keys never reach logs or errors.
func redact(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}
