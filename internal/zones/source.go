package zones

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/gpipe/internal/transport"
)

// Source values accepted in configuration.
const (
	SourceStatic = "static"
	SourceLive   = "live"
)

// DefaultComputeEndpoint is the Compute Engine API base URL.
const DefaultComputeEndpoint = "https://compute.googleapis.com"

// Source supplies the reference zone list.
type Source interface {
	Zones(ctx context.Context) ([]string, error)
}

// StaticSource returns a fixed list.
type StaticSource []string

func (s StaticSource) Zones(ctx context.Context) ([]string, error) {
	out := make([]string, len(s))
	copy(out, s)
	return out, ctx.Err()
}

// LiveSource lists the zones of a project through the Compute Engine API.
type LiveSource struct {
	Client   *transport.Client
	Endpoint string
	Project  string
}

type zoneList struct {
	Items []struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

// Zones returns zone names in the order the API serves them, following pages.
func (s *LiveSource) Zones(ctx context.Context) ([]string, error) {
	if s.Project == "" {
		return nil, fmt.Errorf("live zone listing requires a project")
	}
	endpoint := s.Endpoint
	if endpoint == "" {
		endpoint = DefaultComputeEndpoint
	}
	base := fmt.Sprintf("%s/compute/v1/projects/%s/zones", endpoint, url.PathEscape(s.Project))

	var out []string
	token := ""
	for {
		u := base
		if token != "" {
			u += "?pageToken=" + url.QueryEscape(token)
		}
		var page zoneList
		if err := s.Client.DoJSON(ctx, http.MethodGet, u, nil, &page, true); err != nil {
			return nil, fmt.Errorf("list zones: %w", err)
		}
		for _, it := range page.Items {
			out = append(out, it.Name)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}
	log.Debug().Str("project", s.Project).Int("zones", len(out)).Msg("Listed zones")
	return out, nil
}

// NewSource builds the Source named by kind. An empty kind means static.
func NewSource(kind string, client *transport.Client, endpoint, project string) (Source, error) {
	switch kind {
	case "", SourceStatic:
		return StaticSource(Static), nil
	case SourceLive:
		return &LiveSource{Client: client, Endpoint: endpoint, Project: project}, nil
	default:
		return nil, fmt.Errorf("unknown zone source %q (want %s or %s)", kind, SourceStatic, SourceLive)
	}
}
