// Package sink delivers normalized audit events to their destination.
//
// Every run writes its events, calls Flush once, and only then is the
// checkpoint advanced. A sink that fails to Write or Flush makes the run
// skip the checkpoint so the same events are delivered again next time.
//
// Backends:
//   - stdout and file: one compact JSON object per line
//   - s3: one gzip-compressed JSON-lines object per run
package sink
