package pipelines

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/3cpo-dev/gpipe/internal/poller"
	"github.com/3cpo-dev/gpipe/internal/telemetry"
	"github.com/3cpo-dev/gpipe/internal/transport"
	"github.com/3cpo-dev/gpipe/pkg/api"
)

func newTestClient(t *testing.T, h http.Handler) (*Client, *telemetry.Collector) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	m := telemetry.NewCollector(true)
	return NewClient(transport.New(srv.Client(), transport.DefaultRetryConfig(), 0), srv.URL, m), m
}

func TestClientRun(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1alpha2/pipelines:run" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req api.RunPipelineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.EphemeralPipeline == nil || req.EphemeralPipeline.Name != "fastqc" {
			t.Errorf("unexpected request %+v", req)
		}
		fmt.Fprint(w, `{"name":"operations/ENq5","done":false,"metadata":{"@type":"type.googleapis.com/google.genomics.v1.OperationMetadata"}}`)
	}))

	req, err := BuildFastQC(baseParams())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	op, err := c.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if op.Name != "operations/ENq5" || op.Done {
		t.Fatalf("unexpected operation %+v", op)
	}
	if len(op.Metadata) == 0 {
		t.Fatalf("metadata must pass through")
	}
}

func TestClientCreate(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1alpha2/pipelines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var p api.Pipeline
		_ = json.NewDecoder(r.Body).Decode(&p)
		p.PipelineID = "pl-1"
		_ = json.NewEncoder(w).Encode(p)
	}))
	out, err := c.Create(context.Background(), SamtoolsPipeline("my-project"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out.PipelineID != "pl-1" || out.Name != "samtools index" {
		t.Fatalf("unexpected pipeline %+v", out)
	}
}

func TestClientUnauthorized(t *testing.T) {
	c, m := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"Genomics API has not been enabled"}}`)
	}))
	_, err := c.GetOperation(context.Background(), "operations/x")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	var apiErr *transport.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 403 {
		t.Fatalf("expected wrapped APIError, got %v", err)
	}
	var errs float64
	for _, s := range m.Metrics() {
		if s.Name == "gpipe_api_errors" {
			errs += s.Value
		}
	}
	if errs != 1 {
		t.Fatalf("expected one recorded error, got %v", errs)
	}
}

func TestClientCancelAndList(t *testing.T) {
	var cancelled int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1alpha2/operations/abc:cancel":
			atomic.AddInt32(&cancelled, 1)
			fmt.Fprint(w, `{}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1alpha2/operations":
			if r.URL.Query().Get("filter") != "projectId = my-project" {
				t.Errorf("unexpected filter %q", r.URL.Query().Get("filter"))
			}
			if r.URL.Query().Get("pageToken") == "" {
				fmt.Fprint(w, `{"operations":[{"name":"operations/1","done":true}],"nextPageToken":"t2"}`)
				return
			}
			fmt.Fprint(w, `{"operations":[{"name":"operations/2"},{"name":"operations/3"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	if err := c.CancelOperation(context.Background(), "operations/abc"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled != 1 {
		t.Fatalf("cancel not called")
	}
	ops, err := c.ListOperations(context.Background(), "my-project", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ops) != 3 || ops[2].Name != "operations/3" {
		t.Fatalf("unexpected operations %+v", ops)
	}
	ops, err = c.ListOperations(context.Background(), "my-project", 1)
	if err != nil || len(ops) != 1 {
		t.Fatalf("expected 1 operation, got %d (%v)", len(ops), err)
	}
}

// TestClientWithPoller tests the client as the poller's status querier
func TestClientWithPoller(t *testing.T) {
	var gets int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1alpha2/operations/job-1" {
			http.NotFound(w, r)
			return
		}
		n := atomic.AddInt32(&gets, 1)
		fmt.Fprintf(w, `{"name":"operations/job-1","done":%t}`, n >= 2)
	}))

	p := poller.New(c, 1)
	p.Sleep = func(ctx context.Context, d time.Duration) error { return nil }
	op, err := p.Poll(context.Background(), &api.Operation{Name: "operations/job-1"})
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !op.Done || gets != 2 {
		t.Fatalf("expected done after 2 queries, got done=%t queries=%d", op.Done, gets)
	}
}
