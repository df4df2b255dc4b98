// Package codec provides a codec registry for transcoding targets and the
// source codecs reported by probes. It consolidates canonical names, probe
// and encoder aliases, filename markers, and ffmpeg encoder mappings used
// throughout recodarr.
package codec

import "strings"

// Family represents a target codec family for transcoding.
type Family string

// Target codec families.
const (
	FamilyHEVC Family = "hevc"
	FamilyVP9  Family = "vp9"
)

// String returns the string representation of the family.
func (f Family) String() string {
	return string(f)
}

// Marker returns the filename marker for this family: "h265" for HEVC,
// "vp9" for VP9. The marker is inserted before the release tag in encoded
// filenames.
func (f Family) Marker() string {
	switch f {
	case FamilyHEVC:
		return "h265"
	case FamilyVP9:
		return "vp9"
	default:
		return string(f)
	}
}

// Markers returns every known filename marker. Used when stripping or
// replacing a stale marker from a previously encoded name.
func Markers() []string {
	return []string{"h265", "vp9"}
}

// FamilyForMarker maps a filename marker back to its family.
func FamilyForMarker(marker string) (Family, bool) {
	switch strings.ToLower(marker) {
	case "h265":
		return FamilyHEVC, true
	case "vp9":
		return FamilyVP9, true
	default:
		return "", false
	}
}

// FFmpeg encoder names recognised as transcoding targets.
const (
	EncoderHEVCNVENC = "hevc_nvenc"
	EncoderX265      = "libx265"
	EncoderVP9NVENC  = "vp9_nvenc"
	EncoderVPX       = "libvpx-vp9"
)

// FamilyForEncoder maps an ffmpeg encoder name to its target family.
func FamilyForEncoder(encoder string) (Family, bool) {
	switch encoder {
	case EncoderHEVCNVENC, EncoderX265:
		return FamilyHEVC, true
	case EncoderVP9NVENC, EncoderVPX:
		return FamilyVP9, true
	default:
		return "", false
	}
}

// IsHardwareEncoder reports whether the encoder name is an NVENC variant.
func IsHardwareEncoder(encoder string) bool {
	return strings.HasSuffix(encoder, "_nvenc")
}

// HardwareEncoder returns the NVENC encoder for the family.
func (f Family) HardwareEncoder() string {
	if f == FamilyVP9 {
		return EncoderVP9NVENC
	}
	return EncoderHEVCNVENC
}

// SoftwareEncoder returns the CPU encoder for the family.
func (f Family) SoftwareEncoder() string {
	if f == FamilyVP9 {
		return EncoderVPX
	}
	return EncoderX265
}

// Video represents a canonical video codec name as reported by probes.
type Video string

// Canonical video codec names.
const (
	VideoH264  Video = "h264"
	VideoHEVC  Video = "hevc"
	VideoVP8   Video = "vp8"
	VideoVP9   Video = "vp9"
	VideoAV1   Video = "av1"
	VideoMPEG2 Video = "mpeg2"
	VideoMPEG4 Video = "mpeg4"
	VideoVC1   Video = "vc1"
)

// String returns the string representation of the video codec.
func (v Video) String() string {
	return string(v)
}

// videoInfo holds the canonical name and every known alias for a codec,
// including encoder names, so probe output and configuration both resolve.
type videoInfo struct {
	Name    Video
	Aliases []string
}

var videoRegistry = map[Video]*videoInfo{
	VideoH264: {
		Name: VideoH264,
		Aliases: []string{
			"h264", "avc", "avc1", "h.264", "x264",
			"libx264", "h264_nvenc", "h264_qsv", "h264_vaapi",
		},
	},
	VideoHEVC: {
		Name: VideoHEVC,
		Aliases: []string{
			"hevc", "h265", "h.265", "hev1", "hvc1", "x265",
			"libx265", "hevc_nvenc", "hevc_qsv", "hevc_vaapi",
		},
	},
	VideoVP8: {
		Name:    VideoVP8,
		Aliases: []string{"vp8", "libvpx"},
	},
	VideoVP9: {
		Name:    VideoVP9,
		Aliases: []string{"vp9", "vp09", "libvpx-vp9", "vp9_nvenc", "vp9_qsv"},
	},
	VideoAV1: {
		Name:    VideoAV1,
		Aliases: []string{"av1", "av01", "libaom-av1", "libsvtav1", "av1_nvenc"},
	},
	VideoMPEG2: {
		Name:    VideoMPEG2,
		Aliases: []string{"mpeg2", "mpeg2video"},
	},
	VideoMPEG4: {
		Name:    VideoMPEG4,
		Aliases: []string{"mpeg4", "xvid", "divx"},
	},
	VideoVC1: {
		Name:    VideoVC1,
		Aliases: []string{"vc1", "wmv3"},
	},
}

// videoAliases maps every alias (lowercased) to its canonical codec.
var videoAliases = map[string]Video{}

func init() {
	for _, info := range videoRegistry {
		for _, alias := range info.Aliases {
			videoAliases[strings.ToLower(alias)] = info.Name
		}
	}
}

// ParseVideo resolves a codec string (probe output, encoder name, or alias)
// to its canonical codec.
func ParseVideo(s string) (Video, bool) {
	v, ok := videoAliases[strings.ToLower(strings.TrimSpace(s))]
	return v, ok
}

// Normalize converts a codec string to its canonical name, returning the
// lowercased input unchanged when it is unknown.
func Normalize(name string) string {
	if v, ok := ParseVideo(name); ok {
		return string(v)
	}
	return strings.ToLower(strings.TrimSpace(name))
}

// Match reports whether two codec strings resolve to the same codec.
func Match(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Matches reports whether a probed codec string already belongs to this
// target family. This backs the skip-reencode check.
func (f Family) Matches(probed string) bool {
	return Normalize(probed) == string(f)
}

// Audio represents an audio handling policy from configuration.
type Audio string

// Audio policies.
const (
	AudioCopy Audio = "copy"
	AudioAAC  Audio = "aac"
	AudioAC3  Audio = "ac3"
	AudioOpus Audio = "opus"
)

// Encoder returns the ffmpeg encoder name for an audio policy and whether
// re-encoding is required at all (copy requires none).
func (a Audio) Encoder() (string, bool) {
	switch a {
	case AudioAAC:
		return "aac", true
	case AudioAC3:
		return "ac3", true
	case AudioOpus:
		return "libopus", true
	default:
		return "", false
	}
}
