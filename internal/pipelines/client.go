package pipelines

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/gpipe/internal/telemetry"
	"github.com/3cpo-dev/gpipe/internal/transport"
	"github.com/3cpo-dev/gpipe/pkg/api"
)

// DefaultEndpoint is the Genomics API base URL.
const DefaultEndpoint = "https://genomics.googleapis.com"

const apiVersion = "v1alpha2"

// ErrUnauthorized wraps 401 and 403 responses.
var ErrUnauthorized = errors.New("unauthorized")

// Client talks to the Pipelines API. Run, Create, GetOperation and
// CancelOperation make a single attempt; read-only listings are retried.
type Client struct {
	http     *transport.Client
	endpoint string
	metrics  *telemetry.Collector
}

// NewClient returns a Client for endpoint (DefaultEndpoint when empty).
func NewClient(c *transport.Client, endpoint string, metrics *telemetry.Collector) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{http: c, endpoint: strings.TrimRight(endpoint, "/"), metrics: metrics}
}

func (c *Client) url(path string) string {
	return c.endpoint + "/" + apiVersion + "/" + strings.TrimLeft(path, "/")
}

func (c *Client) call(ctx context.Context, method, name, u string, body, out interface{}, retry bool) error {
	start := time.Now()
	err := c.http.DoJSON(ctx, method, u, body, out, retry)
	labels := map[string]string{"method": name}
	c.metrics.Timer("gpipe_api_duration", time.Since(start), labels)
	c.metrics.Counter("gpipe_api_requests", 1, labels)
	if err != nil {
		c.metrics.Counter("gpipe_api_errors", 1, labels)
		var apiErr *transport.APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%s: %w: %w", name, ErrUnauthorized, err)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Run submits a pipeline run and returns the new operation.
func (c *Client) Run(ctx context.Context, req *api.RunPipelineRequest) (*api.Operation, error) {
	var op api.Operation
	if err := c.call(ctx, http.MethodPost, "pipelines.run", c.url("pipelines:run"), req, &op, false); err != nil {
		return nil, err
	}
	log.Debug().Str("operation", op.Name).Msg("Pipeline submitted")
	return &op, nil
}

// Create persists a pipeline definition and returns it with its id.
func (c *Client) Create(ctx context.Context, p *api.Pipeline) (*api.Pipeline, error) {
	var out api.Pipeline
	if err := c.call(ctx, http.MethodPost, "pipelines.create", c.url("pipelines"), p, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOperation fetches the current snapshot of the named operation.
func (c *Client) GetOperation(ctx context.Context, name string) (*api.Operation, error) {
	if name == "" {
		return nil, errors.New("operations.get: empty operation name")
	}
	var op api.Operation
	if err := c.call(ctx, http.MethodGet, "operations.get", c.url(name), nil, &op, false); err != nil {
		return nil, err
	}
	return &op, nil
}

// CancelOperation asks the service to cancel the named operation.
func (c *Client) CancelOperation(ctx context.Context, name string) error {
	return c.call(ctx, http.MethodPost, "operations.cancel", c.url(name+":cancel"), struct{}{}, nil, false)
}

type operationList struct {
	Operations    []api.Operation `json:"operations"`
	NextPageToken string          `json:"nextPageToken"`
}

// ListOperations returns up to limit operations of project, newest first as
// served. A limit of zero or less means all pages.
func (c *Client) ListOperations(ctx context.Context, project string, limit int) ([]api.Operation, error) {
	var out []api.Operation
	token := ""
	for {
		q := url.Values{}
		q.Set("filter", "projectId = "+project)
		if token != "" {
			q.Set("pageToken", token)
		}
		var page operationList
		if err := c.call(ctx, http.MethodGet, "operations.list", c.url("operations")+"?"+q.Encode(), nil, &page, true); err != nil {
			return nil, err
		}
		out = append(out, page.Operations...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		token = page.NextPageToken
	}
}
