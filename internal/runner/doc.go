// Package runner fans a single poll invocation out over the configured
// inputs, a bounded number at a time.
package runner
