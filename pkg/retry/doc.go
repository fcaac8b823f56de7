// Package retry runs an operation with exponential backoff and jitter.
//
// Basic usage:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    return rdb.Ping(ctx).Err()
//	})
//
// Errors wrapped with Permanent stop the loop at once; DoWithRetryable takes
// a custom classifier. NextDelay overrides the backoff entirely, which is how
// the HTTP client honours Retry-After.
package retry
