package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptionalTime(t *testing.T) {
	cases := []struct {
		name     string
		value    string
		endOfDay bool
		want     string
		wantNil  bool
		wantErr  bool
	}{
		{name: "empty yields nil", value: "", wantNil: true},
		{name: "whitespace yields nil", value: "   ", wantNil: true},
		{name: "rfc3339", value: "2026-03-01T14:30:00Z", want: "2026-03-01T14:30:00Z"},
		{name: "rfc3339 with offset normalizes to utc", value: "2026-03-01T14:30:00+02:00", want: "2026-03-01T12:30:00Z"},
		{name: "bare date", value: "2026-03-01", want: "2026-03-01T00:00:00Z"},
		{name: "bare date end of day", value: "2026-03-01", endOfDay: true, want: "2026-03-01T23:59:59.999999999Z"},
		{name: "rfc3339 ignores end of day", value: "2026-03-01T14:30:00Z", endOfDay: true, want: "2026-03-01T14:30:00Z"},
		{name: "garbage", value: "yesterday", wantErr: true},
		{name: "wrong date order", value: "01-03-2026", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseOptionalTime(tc.value, tc.endOfDay)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			want, err := time.Parse(time.RFC3339Nano, tc.want)
			require.NoError(t, err)
			assert.True(t, got.Equal(want), "got %s, want %s", got, want)
		})
	}
}
