package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
)

func fastRetry() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

// TestDoWithRetryRecovers tests that a retryable status is retried until success
func TestDoWithRetryRecovers(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("body not replayed: %q", body)
		}
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New(srv.Client(), fastRetry(), 0)
	req, _ := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader("payload"))
	resp, err := c.DoWithRetry(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

// TestDoWithRetryExhausted tests that the last response is returned once retries run out
func TestDoWithRetryExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := fastRetry()
	cfg.MaxRetries = 2
	c := New(srv.Client(), cfg, 0)
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.DoWithRetry(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

// TestDoJSONSingleAttempt tests that DoJSON without retry surfaces the API error at once
func TestDoJSONSingleAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":500,"message":"backend unavailable"}}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), fastRetry(), 0)
	err := c.DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, false)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 500 || apiErr.Message != "backend unavailable" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoJSONDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type %q", r.Header.Get("Content-Type"))
		}
		_, _ = w.Write([]byte(`{"name":"operations/abc"}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), DefaultRetryConfig(), 100)
	var out struct {
		Name string `json:"name"`
	}
	if err := c.DoJSON(context.Background(), http.MethodPost, srv.URL, map[string]string{"a": "b"}, &out, true); err != nil {
		t.Fatalf("do: %v", err)
	}
	if out.Name != "operations/abc" {
		t.Fatalf("name %q", out.Name)
	}
}

func TestValidator(t *testing.T) {
	var v Validator
	v.Required("project", "")
	v.Positive("disk-size", 0)
	v.GCSPath("output", "/tmp/out")
	v.GCSPath("logging", "gs://bucket/logs")
	v.OneOf("operation", "zip", "gzip", "bzip2")
	err := v.Err()
	if err == nil {
		t.Fatalf("expected errors")
	}
	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("expected multierror, got %T", err)
	}
	if len(merr.Errors) != 4 {
		t.Fatalf("expected 4 errors, got %d: %v", len(merr.Errors), err)
	}
	var verr ValidationError
	if !errors.As(merr.Errors[0], &verr) || verr.Field != "project" {
		t.Fatalf("unexpected first error %v", merr.Errors[0])
	}

	var ok Validator
	ok.Required("project", "p")
	if ok.Err() != nil {
		t.Fatalf("expected no error, got %v", ok.Err())
	}
}
