package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreset_TableName(t *testing.T) {
	p := Preset{}
	assert.Equal(t, "presets", p.TableName())
}

func TestValidPresetName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"anime-hevc", true},
		{"Movies_4K", true},
		{"p7", true},
		{"", false},
		{"two words", false},
		{"slash/name", false},
		{"dotted.name", false},
		{"../escape", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, ValidPresetName(tt.name), "name %q", tt.name)
	}
}

func TestPreset_SettingsRoundTrip(t *testing.T) {
	p := Preset{Name: "anime-hevc"}

	in := map[string]any{
		"ffmpeg.video_codec": "hevc_nvenc",
		"ffmpeg.cq":          26,
		"transfer.method":    "prefer_sftp",
	}
	require.NoError(t, p.SetSettings(in))

	out, err := p.SettingsMap()
	require.NoError(t, err)
	assert.Equal(t, "hevc_nvenc", out["ffmpeg.video_codec"])
	assert.EqualValues(t, 26, out["ffmpeg.cq"])
	assert.Equal(t, "prefer_sftp", out["transfer.method"])
}

func TestPreset_SettingsMapEmpty(t *testing.T) {
	p := Preset{Name: "empty"}
	out, err := p.SettingsMap()
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestPreset_Validate(t *testing.T) {
	p := Preset{Name: "ok-name"}
	require.NoError(t, p.Validate())

	p.Name = "not ok"
	assert.ErrorIs(t, p.Validate(), ErrInvalidPresetName)
}

func TestPreset_BeforeCreateDefaults(t *testing.T) {
	p := Preset{Name: "fresh"}
	require.NoError(t, p.BeforeCreate(nil))
	assert.Equal(t, "{}", p.Settings)
}
