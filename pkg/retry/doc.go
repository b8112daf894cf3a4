// Package retry runs an operation again after transient failures, waiting
// with exponential backoff between attempts.
//
// The audit-log client only uses it when fetch.max_attempts is above 1. By
// default a run makes exactly one request and relies on the next scheduled
// run to recover.
//
//	err := retry.Do(ctx, func() error {
//		page, err = fetch()
//		return err
//	}, &retry.Config{MaxAttempts: 3, Backoff: retry.DefaultExponentialBackoff()})
package retry
