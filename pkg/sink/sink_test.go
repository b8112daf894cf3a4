package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"auditpoller/pkg/config"
	errs "auditpoller/pkg/errors"
	"auditpoller/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent(ts int64) Event {
	return Event{
		Time:   ts,
		Host:   "cloud.tenable.com",
		Source: "/audit-log/v1/events",
		Data:   json.RawMessage(`{"id":"e1","received":"2023-11-14T22:15:00Z"}`),
	}
}

func TestEncodeLine(t *testing.T) {
	line, err := encodeLine(testEvent(1700000100))
	require.NoError(t, err)
	assert.Equal(t,
		`{"time":1700000100,"host":"cloud.tenable.com","source":"/audit-log/v1/events","data":{"id":"e1","received":"2023-11-14T22:15:00Z"}}`+"\n",
		string(line))
}

func TestJSONLinesSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONLinesSink(&buf, nil)

	require.NoError(t, s.Write(context.Background(), testEvent(1)))
	require.NoError(t, s.Write(context.Background(), testEvent(2)))
	require.NoError(t, s.Flush(context.Background()))
	require.NoError(t, s.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, 2, s.Count())

	var got Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &got))
	assert.Equal(t, int64(2), got.Time)
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }

func TestJSONLinesSinkWriteError(t *testing.T) {
	s := NewJSONLinesSink(failingWriter{}, nil)
	err := s.Write(context.Background(), testEvent(1))
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeSink, errs.TypeOf(err))
}

func TestJSONLinesSinkSharedWriterKeepsLinesWhole(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	a := NewJSONLinesSink(&buf, &mu)
	b := NewJSONLinesSink(&buf, &mu)

	var wg sync.WaitGroup
	for _, s := range []*JSONLinesSink{a, b} {
		wg.Add(1)
		go func(s *JSONLinesSink) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = s.Write(context.Background(), testEvent(int64(i)))
			}
		}(s)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 200)
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)), line)
	}
}

func TestOpenFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "events.jsonl")

	for i := 0; i < 2; i++ {
		s, err := OpenFileSink(path)
		require.NoError(t, err)
		require.NoError(t, s.Write(context.Background(), testEvent(int64(i))))
		require.NoError(t, s.Flush(context.Background()))
		require.NoError(t, s.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
}

type fakeS3 struct {
	mu     sync.Mutex
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.inputs = append(f.inputs, params)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func newTestS3Sink(client PutObjectAPI) *S3Sink {
	s := NewS3Sink(client, config.S3Config{Bucket: "audit-bucket", Prefix: "audit"}, "tenable_prod", logger.NewTestLogger())
	s.now = func() time.Time { return time.Unix(1700003600, 0) }
	s.newID = func() string { return "fixed-id" }
	return s
}

func gunzipLines(t *testing.T, body []byte) []string {
	t.Helper()
	r, err := gzip.NewReader(bytes.NewReader(body))
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func TestS3SinkUploadsBatch(t *testing.T) {
	client := &fakeS3{}
	s := newTestS3Sink(client)

	require.NoError(t, s.Write(context.Background(), testEvent(1700000100)))
	require.NoError(t, s.Write(context.Background(), testEvent(1700003600)))
	require.NoError(t, s.Flush(context.Background()))

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "audit-bucket", aws.ToString(in.Bucket))
	assert.Equal(t, "audit/tenable_prod/2023/11/14/1700003600-fixed-id.jsonl.gz", aws.ToString(in.Key))
	assert.Equal(t, "gzip", aws.ToString(in.ContentEncoding))

	lines := gunzipLines(t, client.bodies[0])
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"time":1700000100`)

	require.NoError(t, s.Flush(context.Background()))
	assert.Len(t, client.inputs, 1, "second flush has nothing to upload")
}

func TestS3SinkSkipsEmptyBatch(t *testing.T) {
	client := &fakeS3{}
	s := newTestS3Sink(client)
	require.NoError(t, s.Flush(context.Background()))
	assert.Empty(t, client.inputs)
}

func TestS3SinkKeepsBatchAfterFailedUpload(t *testing.T) {
	client := &fakeS3{err: errors.New("access denied")}
	s := newTestS3Sink(client)

	require.NoError(t, s.Write(context.Background(), testEvent(1)))
	err := s.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeSink, errs.TypeOf(err))

	client.err = nil
	require.NoError(t, s.Write(context.Background(), testEvent(2)))
	require.NoError(t, s.Flush(context.Background()))

	require.Len(t, client.bodies, 1)
	assert.Len(t, gunzipLines(t, client.bodies[0]), 2)
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(context.Background(), config.SinkConfig{Type: TypeStdout}, "x", logger.NewTestLogger())
	require.NoError(t, err)
	assert.IsType(t, &JSONLinesSink{}, s)
	require.NoError(t, s.Close())

	path := filepath.Join(t.TempDir(), "e.jsonl")
	s, err = New(context.Background(), config.SinkConfig{Type: TypeFile, Path: path}, "x", logger.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = New(context.Background(), config.SinkConfig{Type: "kafka"}, "x", logger.NewTestLogger())
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeConfig, errs.TypeOf(err))
}
