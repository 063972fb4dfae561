package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RetryConfig defines retry behavior for API calls
type RetryConfig struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors []int // HTTP status codes that should be retried
}

// DefaultRetryConfig returns sensible retry defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		BackoffFactor:   2.0,
		RetryableErrors: []int{429, 500, 502, 503, 504}, // Rate limit + server errors
	}
}

// APIError is a non-2xx response from a Google API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api status %d", e.StatusCode)
	}
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Message)
}

// Client wraps an HTTP client with rate limiting and optional retries.
type Client struct {
	client      *http.Client
	retryConfig RetryConfig
	limiter     *rate.Limiter
}

// New creates a Client. A requestsPerSecond of zero or less disables rate limiting.
func New(base *http.Client, retry RetryConfig, requestsPerSecond float64) *Client {
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &Client{
		client:      base,
		retryConfig: retry,
		limiter:     rate.NewLimiter(limit, 1),
	}
}

// Do executes an HTTP request with rate limiting and a single attempt.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.client.Do(req)
}

// DoWithRetry executes an HTTP request, retrying transport errors and
// retryable status codes with exponential backoff. When retries run out on a
// retryable status, the last response is returned.
func (c *Client) DoWithRetry(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = b
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(&backoff.ExponentialBackOff{
		InitialInterval:     c.retryConfig.InitialDelay,
		RandomizationFactor: 0.25,
		Multiplier:          c.retryConfig.BackoffFactor,
		MaxInterval:         c.retryConfig.MaxDelay,
		Clock:               backoff.SystemClock,
	}, uint64(max(0, c.retryConfig.MaxRetries))), req.Context())

	var resp, last *http.Response
	op := func() error {
		r := req.Clone(req.Context())
		if body != nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
		}
		res, err := c.Do(r)
		if err != nil {
			if req.Context().Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if c.shouldRetry(res.StatusCode) {
			buf, _ := io.ReadAll(res.Body)
			_ = res.Body.Close()
			res.Body = io.NopCloser(bytes.NewReader(buf))
			last = res
			return fmt.Errorf("retryable status %d", res.StatusCode)
		}
		resp = res
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().
			Err(err).
			Dur("delay", wait).
			Str("method", req.Method).
			Str("url", req.URL.String()).
			Msg("HTTP request failed, retrying")
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		if last != nil && req.Context().Err() == nil {
			return last, nil
		}
		return nil, err
	}
	return resp, nil
}

// shouldRetry determines if a status code should trigger a retry
func (c *Client) shouldRetry(statusCode int) bool {
	for _, code := range c.retryConfig.RetryableErrors {
		if statusCode == code {
			return true
		}
	}
	return false
}

// DoJSON sends body (if any) as JSON and decodes a 2xx response into out.
// Non-2xx responses become *APIError.
func (c *Client) DoJSON(ctx context.Context, method, url string, body, out interface{}, retry bool) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	do := c.Do
	if retry {
		do = c.DoWithRetry
	}
	resp, err := do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Status: resp.Status, Message: errorMessage(raw)}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts error.message from a Google API error body, falling
// back to the trimmed body.
func errorMessage(raw []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
