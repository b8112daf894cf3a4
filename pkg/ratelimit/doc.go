// Package ratelimit spaces out API requests made against the same Tenable
// domain.
//
// Inputs pointing at one domain usually share its per-account request quota,
// so the poller hands every client for that domain the same limiter from a
// Registry. A zero rate disables limiting.
//
//	reg := ratelimit.NewRegistry(60, time.Minute)
//	lim := reg.For("cloud.tenable.com")
//	if err := lim.Wait(ctx); err != nil {
//		return err
//	}
package ratelimit
