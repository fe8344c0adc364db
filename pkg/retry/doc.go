// Package retry retries an operation with exponential backoff.
//
//	fd, err := retry.DoWithResult(ctx, retry.Quick(), func() (int, error) {
//	    return openSocket()
//	})
//
// Wrap an error with NonRetryable to stop immediately, for example when the
// kernel reports that the netlink protocol is not supported.
package retry
