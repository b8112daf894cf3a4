package sink

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"auditpoller/pkg/config"
	errs "auditpoller/pkg/errors"
	"auditpoller/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// PutObjectAPI is the slice of the S3 client the sink needs
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client loads the default AWS configuration for cfg's region and
// endpoint. A custom endpoint switches to path-style addressing.
func NewS3Client(ctx context.Context, cfg config.S3Config) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeConfig, err, "failed to load AWS config")
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

// S3Sink buffers a run's events as gzip-compressed JSON lines and uploads
// them as one object on Flush. Empty batches upload nothing.
type S3Sink struct {
	client PutObjectAPI
	bucket string
	prefix string
	input  string
	logger logger.Logger

	now   func() time.Time
	newID func() string

	mu    sync.Mutex
	buf   bytes.Buffer
	gz    *gzip.Writer
	count int
}

// NewS3Sink creates a sink uploading to cfg.Bucket under cfg.Prefix/input
func NewS3Sink(client PutObjectAPI, cfg config.S3Config, input string, log logger.Logger) *S3Sink {
	if log == nil {
		log = logger.GetLogger()
	}
	return &S3Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		input:  input,
		logger: log.WithFields(map[string]interface{}{"sink": TypeS3, "input": input}),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
}

func (s *S3Sink) Write(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return sinkError(err, "write aborted")
	}

	line, err := encodeLine(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gz == nil {
		// a batch left by a failed Flush is kept; the new gzip member is appended
		if s.count == 0 {
			s.buf.Reset()
		}
		gz, err := gzip.NewWriterLevel(&s.buf, gzip.BestSpeed)
		if err != nil {
			return sinkError(err, "failed to start gzip stream")
		}
		s.gz = gz
	}
	if _, err := s.gz.Write(line); err != nil {
		return sinkError(err, "failed to compress event")
	}
	s.count++
	return nil
}

// ObjectKey returns the key for a batch uploaded at t
func (s *S3Sink) ObjectKey(t time.Time, id string) string {
	t = t.UTC()
	return path.Join(
		s.prefix,
		s.input,
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%d-%s.jsonl.gz", t.Unix(), id),
	)
}

// Flush uploads the buffered batch. On failure the batch is kept so a later
// Flush can retry it.
func (s *S3Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return nil
	}

	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			return sinkError(err, "failed to finish gzip stream")
		}
		s.gz = nil
	}

	key := s.ObjectKey(s.now(), s.newID())
	body := s.buf.Bytes()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		s.logger.ErrorWithFields("failed to upload event batch", map[string]interface{}{
			"bucket": s.bucket,
			"key":    key,
			"events": s.count,
			"error":  err.Error(),
		})
		return sinkError(err, "failed to upload s3://%s/%s", s.bucket, key)
	}

	s.logger.InfoWithFields("uploaded event batch", map[string]interface{}{
		"bucket": s.bucket,
		"key":    key,
		"events": s.count,
		"bytes":  len(body),
	})

	s.buf.Reset()
	s.count = 0
	return nil
}

// Close drops anything not flushed
func (s *S3Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count > 0 {
		s.logger.WarnWithFields("discarding unflushed events", map[string]interface{}{
			"events": s.count,
		})
	}
	s.gz = nil
	s.buf.Reset()
	s.count = 0
	return nil
}
