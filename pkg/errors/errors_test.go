package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	assert.Equal(t, "server_error error (code 500): boom", (&Error{Type: ErrorTypeServerError, Message: "boom", Code: 500}).Error())
	assert.Equal(t, "config error: missing secret", New(ErrorTypeConfig, "missing %s", "secret").Error())
}

func TestErrorStringIncludesCause(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "wrapped",
			err:  Wrap(ErrorTypeNetwork, fmt.Errorf("dial tcp: connection refused"), "request failed"),
			want: "network error: request failed: dial tcp: connection refused",
		},
		{
			name: "wrapped with code",
			err:  &Error{Type: ErrorTypeParsing, Message: "failed to parse JSON", Code: 200, Err: fmt.Errorf("unexpected EOF")},
			want: "parsing error (code 200): failed to parse JSON: unexpected EOF",
		},
		{
			name: "nested",
			err:  Wrap(ErrorTypeSink, Wrap(ErrorTypeSink, fmt.Errorf("disk full"), "failed to write event"), "write event for prod"),
			want: "sink error: write event for prod: sink error: failed to write event: disk full",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, tt.err, tt.want)
		})
	}
}

func TestTypeOf(t *testing.T) {
	base := Wrap(ErrorTypeCheckpoint, fmt.Errorf("bad digits"), "corrupt checkpoint")
	wrapped := fmt.Errorf("load: %w", base)

	assert.Equal(t, ErrorTypeCheckpoint, TypeOf(wrapped))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(fmt.Errorf("plain")))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(nil))
	assert.EqualError(t, base.Unwrap(), "bad digits")
}

func TestTypeForStatus(t *testing.T) {
	tests := []struct {
		code int
		want ErrorType
	}{
		{0, ErrorTypeNetwork},
		{401, ErrorTypeAuth},
		{403, ErrorTypeAuth},
		{404, ErrorTypeNotFound},
		{429, ErrorTypeRateLimit},
		{500, ErrorTypeServerError},
		{503, ErrorTypeServerError},
		{400, ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, TypeForStatus(tt.code))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrorTypeNetwork))
	assert.True(t, IsRetryable(ErrorTypeServerError))
	assert.False(t, IsRetryable(ErrorTypeAuth))
	assert.False(t, IsRetryable(ErrorTypeConfig))
}
