package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"standard go", "30s", 30 * time.Second, false},
		{"standard compound", "1h30m", 90 * time.Minute, false},
		{"days short", "30d", 30 * Day, false},
		{"days word", "30 days", 30 * Day, false},
		{"weeks", "2 weeks", 2 * Week, false},
		{"mixed extended", "1w2d12h", Week + 2*Day + 12*time.Hour, false},
		{"word hours", "3 hours", 3 * time.Hour, false},
		{"word minutes", "45 mins", 45 * time.Minute, false},
		{"negative", "-1d", -Day, false},
		{"empty", "", 0, true},
		{"garbage", "soon", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		input time.Duration
		want  string
	}{
		{0, "0s"},
		{30 * time.Second, "30s"},
		{90 * time.Minute, "1h30m"},
		{Day, "1d"},
		{Week + 2*Day + 12*time.Hour, "1w2d12h"},
		{500 * time.Millisecond, "500ms"},
		{-2 * Day, "-2d"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.input))
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{time.Second, time.Minute, Day, Week, 36 * time.Hour} {
		parsed, err := Parse(Format(d))
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}
}

func TestMustParsePanics(t *testing.T) {
	assert.Panics(t, func() { MustParse("whenever") })
	assert.Equal(t, 2*Day, MustParse("2d"))
}
