// Package integrations provides the shared HTTP client for remote APIs.
//
// # Overview
//
// [Client] is embedded by the typed API clients in subpackages ([github]
// and [gitlab]). It centralizes the concerns every remote call shares:
//
//   - Default headers (authentication, API version)
//   - Response caching through a [cache.Cache] with a configurable TTL
//   - Retry with exponential backoff for transient failures
//   - Client-side rate limiting with golang.org/x/time/rate
//   - Observability hooks for every request
//
// # Errors
//
// Responses are mapped onto sentinel errors so callers never inspect status
// codes directly:
//
//   - 404 → [ErrNotFound]
//   - 409 → [ErrConflict]
//   - 429, or 403 with an exhausted rate limit → [errors.RateLimitedError]
//   - 5xx and transport failures → [ErrNetwork], wrapped as retryable
//   - any other 4xx → [*StatusError]
//
// # Caching
//
// [Client.Cached] stores JSON-encoded values under keys produced by a
// [cache.Keyer]. Pass refresh=true to bypass the cache:
//
//	var refs []ref
//	err := c.Cached(ctx, "github", "tags:"+repo, refresh, &refs, func() error {
//	    return c.Get(ctx, url, &refs)
//	})
package integrations
