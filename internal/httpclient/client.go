// Package httpclient is the outbound HTTP client used for calls to external
// services. It retries connection failures and a fixed set of server error
// statuses with exponential backoff.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/tjfontaine/service-template/internal/config"
)

// DefaultRetryStatuses are retried until MaxRetries is reached.
var DefaultRetryStatuses = []int{
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	MaxRetries    int
	BackoffFactor time.Duration
	RetryStatuses []int
	Headers       map[string]string
	RateLimit     float64 // requests per second, 0 disables
	RateBurst     int
}

// FromConfig builds a client Config from application configuration.
func FromConfig(baseURL string, c config.HTTPClientConfig) Config {
	return Config{
		BaseURL:       baseURL,
		Timeout:       c.Timeout,
		MaxRetries:    c.MaxRetries,
		BackoffFactor: time.Duration(c.BackoffFactor * float64(time.Second)),
		RateLimit:     c.RateLimit,
		RateBurst:     c.RateBurst,
	}
}

type Client struct {
	http    *http.Client
	cfg     Config
	retry   map[int]bool
	limiter *rate.Limiter
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

type Option func(*Client)

// WithTransport sets the base transport. It is still wrapped for tracing.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.Transport = otelhttp.NewTransport(rt)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

func New(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if len(cfg.RetryStatuses) == 0 {
		cfg.RetryStatuses = DefaultRetryStatuses
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		cfg:    cfg,
		retry:  make(map[int]bool, len(cfg.RetryStatuses)),
		logger: slog.Default(),
		sleep:  sleepContext,
	}
	for _, s := range cfg.RetryStatuses {
		c.retry[s] = true
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// JSON decodes the body into dst.
func (r *Response) JSON(dst any) error {
	if err := json.Unmarshal(r.Body, dst); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// Request describes one call. Body is JSON-encoded unless it is []byte or
// url.Values.
type Request struct {
	Method   string
	Endpoint string
	Query    url.Values
	Body     any
	Header   http.Header
}

// URL resolves endpoint against the base URL. Absolute endpoints are used as is.
func (c *Client) URL(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	if c.cfg.BaseURL == "" {
		return endpoint
	}
	return c.cfg.BaseURL + "/" + strings.TrimLeft(endpoint, "/")
}

// Backoff returns the delay before retry attempt n (n >= 1).
func (c *Client) Backoff(n int) time.Duration {
	if n < 1 || c.cfg.BackoffFactor <= 0 {
		return 0
	}
	return time.Duration(float64(c.cfg.BackoffFactor) * math.Pow(2, float64(n-1)))
}

func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case url.Values:
		return []byte(b.Encode()), "application/x-www-form-urlencoded", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request body: %w", err)
		}
		return data, "application/json", nil
	}
}

// Do sends req, retrying as configured. Non-2xx final responses become a
// *StatusError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	target := c.URL(req.Endpoint)
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}
	body, contentType, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.Backoff(attempt)); err != nil {
				return nil, err
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("failed to wait for rate limiter: %w", err)
			}
		}

		resp, err := c.attempt(ctx, req, target, body, contentType)
		if err != nil {
			if isTimeout(err) {
				c.logger.LogAttrs(ctx, slog.LevelError, "outbound request timed out",
					slog.String("method", req.Method),
					slog.String("url", target),
					slog.Duration("elapsed", time.Since(start)),
				)
				return nil, fmt.Errorf("%w after %s: %s %s", ErrTimeout, c.cfg.Timeout, req.Method, target)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if c.retry[resp.StatusCode] && attempt < c.cfg.MaxRetries {
			continue
		}

		c.logger.LogAttrs(ctx, slog.LevelInfo, "outbound request",
			slog.Int("status", resp.StatusCode),
			slog.String("method", req.Method),
			slog.String("url", target),
			slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
		)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return resp, newStatusError(req.Method, target, resp.StatusCode, resp.Body)
		}
		return resp, nil
	}

	c.logger.LogAttrs(ctx, slog.LevelError, "outbound connection failed",
		slog.String("method", req.Method),
		slog.String("url", target),
		slog.String("error", lastErr.Error()),
	)
	return nil, fmt.Errorf("%w: connection failed after %d retries: %s %s: %v",
		ErrRetryExhausted, c.cfg.MaxRetries, req.Method, target, lastErr)
}

func (c *Client) attempt(ctx context.Context, req Request, target string, body []byte, contentType string) (*Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, target, rdr)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	hr.Header.Set("Accept", "application/json")
	if contentType != "" {
		hr.Header.Set("Content-Type", contentType)
	}
	for k, v := range c.cfg.Headers {
		hr.Header.Set(k, v)
	}
	for k, vs := range req.Header {
		hr.Header[k] = vs
	}

	resp, err := c.http.Do(hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) Get(ctx context.Context, endpoint string, query url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Endpoint: endpoint, Query: query})
}

func (c *Client) Post(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPost, Endpoint: endpoint, Body: body})
}

func (c *Client) Put(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPut, Endpoint: endpoint, Body: body})
}

func (c *Client) Patch(ctx context.Context, endpoint string, body any) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodPatch, Endpoint: endpoint, Body: body})
}

func (c *Client) Delete(ctx context.Context, endpoint string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodDelete, Endpoint: endpoint})
}

// GetJSON issues a GET and decodes a 2xx body into dst.
func (c *Client) GetJSON(ctx context.Context, endpoint string, query url.Values, dst any) error {
	resp, err := c.Get(ctx, endpoint, query)
	if err != nil {
		return err
	}
	return resp.JSON(dst)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
