package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes requested when falling back to application default credentials.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/cloud-platform",
	"https://www.googleapis.com/auth/genomics",
}

// NewHTTPClient returns an authorized HTTP client. A non-empty token is used
// as a static bearer token; otherwise application default credentials are
// looked up for scopes.
func NewHTTPClient(ctx context.Context, token string, timeout time.Duration, scopes ...string) (*http.Client, error) {
	var c *http.Client
	if token != "" {
		c = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))
	} else {
		if len(scopes) == 0 {
			scopes = DefaultScopes
		}
		var err error
		c, err = google.DefaultClient(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("default credentials: %w", err)
		}
	}
	c.Timeout = timeout
	return c, nil
}
