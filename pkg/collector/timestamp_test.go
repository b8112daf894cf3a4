package collector

import (
	"testing"

	errs "auditpoller/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"2023-11-14T22:13:20Z", 1700000000},
		{"2023-11-14T22:13:20.987Z", 1700000000},
		{"2023-11-14T22:13:20.123456789Z", 1700000000},
		{"2023-11-14T23:13:20+01:00", 1700000000},
		{"2023-11-14T23:13:20.5+0100", 1700000000},
		{"2023-11-14T22:13:20", 1700000000},
		{"2023-11-14 22:13:20", 1700000000},
		{"2023-11-14 22:13:20.25", 1700000000},
		{"  2023-11-14T22:13:20Z ", 1700000000},
		{"1700000000", 1700000000},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimestamp(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTimestampRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "yesterday", "2023-13-40T00:00:00Z", "99999999999999999999"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseTimestamp(in)
			require.Error(t, err)

			var tsErr *TimestampError
			require.ErrorAs(t, err, &tsErr)
			assert.Equal(t, in, tsErr.Value)
			assert.Equal(t, errs.ErrorTypeParsing, errs.TypeOf(err))
		})
	}
}
