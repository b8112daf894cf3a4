package sink

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// stdoutMu serializes writers sharing the process stdout
var stdoutMu sync.Mutex

// JSONLinesSink writes each event as one line. Every line is issued as a
// single Write under mu, so sinks sharing a writer never interleave lines.
type JSONLinesSink struct {
	w      io.Writer
	mu     *sync.Mutex
	closer io.Closer
	count  int
}

// NewJSONLinesSink writes to w. mu may be shared with other sinks on the same
// writer; nil gives the sink its own lock.
func NewJSONLinesSink(w io.Writer, mu *sync.Mutex) *JSONLinesSink {
	if mu == nil {
		mu = &sync.Mutex{}
	}
	return &JSONLinesSink{w: w, mu: mu}
}

// OpenFileSink appends to the file at path, creating it and its directory
func OpenFileSink(path string) (*JSONLinesSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, sinkError(err, "failed to create sink directory")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, sinkError(err, "failed to open sink file %s", path)
	}

	s := NewJSONLinesSink(f, nil)
	s.closer = f
	return s, nil
}

func (s *JSONLinesSink) Write(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return sinkError(err, "write aborted")
	}

	line, err := encodeLine(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return sinkError(err, "failed to write event")
	}
	s.count++
	return nil
}

// Flush syncs file-backed sinks to disk
func (s *JSONLinesSink) Flush(ctx context.Context) error {
	f, ok := s.w.(*os.File)
	if !ok || s.closer == nil {
		return nil
	}
	if err := f.Sync(); err != nil {
		return sinkError(err, "failed to sync sink file")
	}
	return nil
}

// Close closes the underlying file. Shared writers such as stdout stay open.
func (s *JSONLinesSink) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// Count returns the number of events written
func (s *JSONLinesSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
