// Package httputil provides retry helpers for remote API calls.
//
// # Retry
//
// [Retry] re-runs an operation when it fails with an error wrapped in
// [RetryableError]. Transport failures and 5xx responses are wrapped by the
// shared API client; everything else (404, validation errors, conflicts) is
// returned immediately:
//
//	err := httputil.RetryWithBackoff(ctx, func() error {
//	    return client.Get(ctx, url, &v)
//	})
//
// The delay doubles after each failed attempt, or follows the server's
// Retry-After when that is longer. [RetryWithBackoff] uses
// 3 attempts with a 1 second initial delay.
//
// Publish transactions are not retried as a whole: a conflict
// on the content ref must be resolved by recomputing the transaction.
package httputil
