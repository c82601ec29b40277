package invalidate

import (
	"context"
	"os"

	liberrors "github.com/matzehuels/libcdn/pkg/errors"
	"github.com/matzehuels/libcdn/pkg/httputil"
	"github.com/matzehuels/libcdn/pkg/integrations"
)

// HTTPPurger posts {"paths": [...]} to a purge endpoint. The endpoint
// answers with {"id": "..."}.
type HTTPPurger struct {
	client *integrations.Client
	url    string
}

// NewHTTPPurger creates a purger for url. A non-empty token is sent as a
// bearer token.
func NewHTTPPurger(url, token string) *HTTPPurger {
	headers := map[string]string{"Accept": "application/json"}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return &HTTPPurger{client: integrations.NewClient(nil, 0, headers), url: url}
}

// NewHTTPPurgerFromEnv reads the token from the named environment variable.
func NewHTTPPurgerFromEnv(url, tokenEnv string) *HTTPPurger {
	var token string
	if tokenEnv != "" {
		token = os.Getenv(tokenEnv)
	}
	return NewHTTPPurger(url, token)
}

// Invalidate implements Purger.
func (h *HTTPPurger) Invalidate(ctx context.Context, paths []string) (string, error) {
	request := struct {
		Paths []string `json:"paths"`
	}{Paths: paths}

	var resp struct {
		ID string `json:"id"`
	}
	err := httputil.RetryWithBackoff(ctx, func() error {
		return h.client.Post(ctx, h.url, request, &resp)
	})
	if err != nil {
		return "", liberrors.Wrap(liberrors.ErrCodeInvalidationFailure, err, "purge %d path(s)", len(paths))
	}
	return resp.ID, nil
}
