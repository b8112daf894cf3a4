// Package collector is the incremental fetcher: one bounded, resumable pass
// over the audit-log API for a single input.
//
// A run loads the input's watermark, asks the API for events received after
// the watermark's calendar day, emits the ones strictly newer than the
// watermark and stores the newest timestamp seen as the next watermark.
//
// The API returns a single page. When that page is full and the events it
// holds do not reach the end of the requested day, the rest of the day can
// never be fetched; the watermark is moved to the next UTC midnight and the
// loss is logged as a warning.
package collector
