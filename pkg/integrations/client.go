package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/matzehuels/libcdn/pkg/cache"
	liberrors "github.com/matzehuels/libcdn/pkg/errors"
	"github.com/matzehuels/libcdn/pkg/httputil"
	"github.com/matzehuels/libcdn/pkg/observability"
)

// Client provides shared HTTP functionality for all API clients.
// It handles caching, retry logic, rate limiting and common request headers.
type Client struct {
	http     *http.Client
	download *http.Client
	cache    cache.Cache
	keyer    cache.Keyer
	ttl      time.Duration
	limiter  *rate.Limiter
	headers  map[string]string
}

// NewClient creates a Client with the given cache and default headers.
// Headers are applied to all requests made through this client.
// Pass nil for c to disable caching and nil for headers if no default
// headers are needed.
func NewClient(c cache.Cache, ttl time.Duration, headers map[string]string) *Client {
	if c == nil {
		c = cache.NewNullCache()
	}
	return &Client{
		http:     NewHTTPClient(),
		download: NewDownloadClient(),
		cache:    c,
		keyer:    cache.NewDefaultKeyer(),
		ttl:      ttl,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		headers:  headers,
	}
}

// SetRateLimit bounds outgoing requests to rps per second with the given
// burst. A non-positive rps removes the limit.
func (c *Client) SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
}

// SetKeyer replaces the cache keyer, e.g. with a [cache.ScopedKeyer].
func (c *Client) SetKeyer(k cache.Keyer) {
	if k != nil {
		c.keyer = k
	}
}

// Cached retrieves a value from cache or executes fetch and caches the result.
// If refresh is true, the cache is bypassed and fetch is always called.
// The fetch function should populate v; on success, v is stored in the cache.
func (c *Client) Cached(ctx context.Context, namespace, key string, refresh bool, v any, fetch func() error) error {
	k := c.keyer.HTTPKey(namespace, key)
	if !refresh {
		if data, ok, _ := c.cache.Get(ctx, k); ok && json.Unmarshal(data, v) == nil {
			observability.Cache().OnCacheHit(ctx, "http")
			return nil
		}
		observability.Cache().OnCacheMiss(ctx, "http")
	}
	if err := httputil.RetryWithBackoff(ctx, fetch); err != nil {
		return err
	}
	if data, err := json.Marshal(v); err == nil {
		if c.cache.Set(ctx, k, data, c.ttl) == nil {
			observability.Cache().OnCacheSet(ctx, "http", len(data))
		}
	}
	return nil
}

// Get performs an HTTP GET request and JSON-decodes the response into v.
func (c *Client) Get(ctx context.Context, url string, v any) error {
	return c.GetWithHeaders(ctx, url, nil, v)
}

// GetWithHeaders performs an HTTP GET with additional headers merged with defaults.
// Request-specific headers override client defaults for the same key.
func (c *Client) GetWithHeaders(ctx context.Context, url string, headers map[string]string, v any) error {
	return c.do(ctx, c.http, http.MethodGet, url, headers, nil, v)
}

// GetBytes performs an HTTP GET request and returns the response body.
func (c *Client) GetBytes(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	body, err := c.doRequest(ctx, c.http, http.MethodGet, url, headers, nil)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// Stream performs an HTTP GET request without a client timeout and returns
// the response body for the caller to consume and close. Redirects are
// followed.
func (c *Client) Stream(ctx context.Context, url string, headers map[string]string) (io.ReadCloser, error) {
	return c.doRequest(ctx, c.download, http.MethodGet, url, headers, nil)
}

// Post JSON-encodes body, POSTs it and decodes the response into v.
// Pass nil for v to discard the response.
func (c *Client) Post(ctx context.Context, url string, body, v any) error {
	return c.do(ctx, c.http, http.MethodPost, url, nil, body, v)
}

// Patch JSON-encodes body, PATCHes it and decodes the response into v.
func (c *Client) Patch(ctx context.Context, url string, body, v any) error {
	return c.do(ctx, c.http, http.MethodPatch, url, nil, body, v)
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, url string, headers map[string]string, body, v any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
		headers = withHeader(headers, "Content-Type", "application/json")
	}

	resp, err := c.doRequest(ctx, hc, method, url, headers, payload)
	if err != nil {
		return err
	}
	defer resp.Close()
	if v == nil {
		_, _ = io.Copy(io.Discard, resp)
		return nil
	}
	if err := json.NewDecoder(resp).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, hc *http.Client, method, url string, headers map[string]string, body io.Reader) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	hooks := observability.HTTP()
	hooks.OnRequest(ctx, method, req.URL.Host, req.URL.Path)
	start := time.Now()

	resp, err := hc.Do(req)
	if err != nil {
		hooks.OnError(ctx, method, req.URL.Host, req.URL.Path, err)
		return nil, &httputil.RetryableError{Err: fmt.Errorf("%w: %v", ErrNetwork, err)}
	}
	hooks.OnResponse(ctx, method, req.URL.Host, req.URL.Path, resp.StatusCode, time.Since(start))

	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func checkStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, readMessage(resp))
	case code == http.StatusTooManyRequests,
		code == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &liberrors.RateLimitedError{RetryAfter: retryAfter, Message: readMessage(resp)}
	case code >= 500:
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &httputil.RetryableError{
			Err:   fmt.Errorf("%w: status %d", ErrNetwork, code),
			After: time.Duration(secs) * time.Second,
		}
	default:
		return &StatusError{StatusCode: code, Message: readMessage(resp)}
	}
}

// readMessage extracts the "message" field GitHub-style APIs put in error
// bodies, falling back to the raw body.
func readMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return body.Message
	}
	return string(bytes.TrimSpace(data))
}

func withHeader(headers map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	out[key] = value
	return out
}
