package integrations

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const httpTimeout = 30 * time.Second

var (
	// ErrNotFound is returned when a repository, ref or file doesn't exist.
	ErrNotFound = errors.New("resource not found")

	// ErrNetwork is returned for HTTP failures (timeouts, connection errors, 5xx responses).
	ErrNetwork = errors.New("network error")

	// ErrConflict is returned when the server rejects a write because the
	// resource changed (409 Conflict).
	ErrConflict = errors.New("conflict")
)

// StatusError is returned for unexpected 4xx responses.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// IsStatus reports whether err is a *StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// NewHTTPClient creates an HTTP client with a standard timeout for API requests.
// Tarball downloads use [NewDownloadClient] instead.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}

// NewDownloadClient creates an HTTP client without an overall timeout.
// Downloads are bounded by the request context.
func NewDownloadClient() *http.Client {
	return &http.Client{}
}

// URLEncode percent-encodes a string for use in URLs.
// This is a convenience wrapper around [url.QueryEscape].
func URLEncode(s string) string { return url.QueryEscape(s) }

// PathEscape percent-encodes each segment of a slash-separated path.
func PathEscape(p string) string {
	return (&url.URL{Path: p}).EscapedPath()
}
