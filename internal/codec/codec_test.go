package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseVideo(t *testing.T) {
	tests := []struct {
		input string
		want  Video
		ok    bool
	}{
		{"hevc", VideoHEVC, true},
		{"h265", VideoHEVC, true},
		{"HEVC", VideoHEVC, true},
		{"hev1", VideoHEVC, true},
		{"libx265", VideoHEVC, true},
		{"hevc_nvenc", VideoHEVC, true},
		{"h264", VideoH264, true},
		{"avc1", VideoH264, true},
		{"vp9", VideoVP9, true},
		{"vp09", VideoVP9, true},
		{"libvpx-vp9", VideoVP9, true},
		{"av1", VideoAV1, true},
		{"mpeg2video", VideoMPEG2, true},
		{"  h264  ", VideoH264, true},
		{"dirac", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseVideo(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeAndMatch(t *testing.T) {
	assert.Equal(t, "hevc", Normalize("H265"))
	assert.Equal(t, "h264", Normalize("AVC"))
	assert.Equal(t, "weirdcodec", Normalize("WeirdCodec"))

	assert.True(t, Match("hevc", "h265"))
	assert.True(t, Match("libx265", "hevc_nvenc"))
	assert.False(t, Match("h264", "hevc"))
}

func TestFamilyMatches(t *testing.T) {
	assert.True(t, FamilyHEVC.Matches("hevc"))
	assert.True(t, FamilyHEVC.Matches("h265"))
	assert.True(t, FamilyHEVC.Matches("hvc1"))
	assert.False(t, FamilyHEVC.Matches("h264"))

	assert.True(t, FamilyVP9.Matches("vp9"))
	assert.True(t, FamilyVP9.Matches("vp09"))
	assert.False(t, FamilyVP9.Matches("vp8"))
}

func TestFamilyMarkers(t *testing.T) {
	assert.Equal(t, "h265", FamilyHEVC.Marker())
	assert.Equal(t, "vp9", FamilyVP9.Marker())

	f, ok := FamilyForMarker("h265")
	assert.True(t, ok)
	assert.Equal(t, FamilyHEVC, f)

	f, ok = FamilyForMarker("VP9")
	assert.True(t, ok)
	assert.Equal(t, FamilyVP9, f)

	_, ok = FamilyForMarker("h264")
	assert.False(t, ok)
}

func TestFamilyForEncoder(t *testing.T) {
	tests := []struct {
		encoder string
		family  Family
		ok      bool
	}{
		{"hevc_nvenc", FamilyHEVC, true},
		{"libx265", FamilyHEVC, true},
		{"vp9_nvenc", FamilyVP9, true},
		{"libvpx-vp9", FamilyVP9, true},
		{"libx264", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.encoder, func(t *testing.T) {
			f, ok := FamilyForEncoder(tt.encoder)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.family, f)
		})
	}
}

func TestEncoderSelection(t *testing.T) {
	assert.Equal(t, "hevc_nvenc", FamilyHEVC.HardwareEncoder())
	assert.Equal(t, "libx265", FamilyHEVC.SoftwareEncoder())
	assert.Equal(t, "vp9_nvenc", FamilyVP9.HardwareEncoder())
	assert.Equal(t, "libvpx-vp9", FamilyVP9.SoftwareEncoder())

	assert.True(t, IsHardwareEncoder("hevc_nvenc"))
	assert.True(t, IsHardwareEncoder("vp9_nvenc"))
	assert.False(t, IsHardwareEncoder("libx265"))
}

func TestAudioEncoder(t *testing.T) {
	enc, reencode := AudioCopy.Encoder()
	assert.False(t, reencode)
	assert.Empty(t, enc)

	enc, reencode = AudioAAC.Encoder()
	assert.True(t, reencode)
	assert.Equal(t, "aac", enc)

	enc, reencode = AudioOpus.Encoder()
	assert.True(t, reencode)
	assert.Equal(t, "libopus", enc)
}
