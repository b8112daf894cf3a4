package sink

import (
	"context"
	"os"
	"strings"

	"auditpoller/pkg/config"
	errs "auditpoller/pkg/errors"
	"auditpoller/pkg/logger"

	"github.com/goccy/go-json"
)

// Event is one record handed to a sink. Data holds the compact JSON of the
// normalized audit event.
type Event struct {
	Time   int64           `json:"time"`
	Host   string          `json:"host"`
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

// Sink receives the events of one run
type Sink interface {
	Write(ctx context.Context, ev Event) error
	// Flush makes everything written so far durable at the destination
	Flush(ctx context.Context) error
	Close() error
}

// Sink types accepted in configuration
const (
	TypeStdout = "stdout"
	TypeFile   = "file"
	TypeS3     = "s3"
)

// New builds the sink configured for one input
func New(ctx context.Context, cfg config.SinkConfig, input string, log logger.Logger) (Sink, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	switch strings.ToLower(cfg.Type) {
	case "", TypeStdout:
		return NewJSONLinesSink(os.Stdout, &stdoutMu), nil
	case TypeFile:
		return OpenFileSink(cfg.Path)
	case TypeS3:
		client, err := NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return NewS3Sink(client, cfg.S3, input, log), nil
	default:
		return nil, errs.New(errs.ErrorTypeConfig, "unknown sink type %q", cfg.Type)
	}
}

// encodeLine renders ev as one JSON line
func encodeLine(ev Event) ([]byte, error) {
	line, err := json.Marshal(ev)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeSink, err, "failed to encode event")
	}
	return append(line, '\n'), nil
}

func sinkError(err error, format string, args ...interface{}) error {
	return errs.Wrap(errs.ErrorTypeSink, err, format, args...)
}
