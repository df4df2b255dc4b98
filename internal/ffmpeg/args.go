package ffmpeg

import (
	"os"
	"strconv"

	"github.com/jmylchreest/recodarr/internal/codec"
	"github.com/jmylchreest/recodarr/internal/config"
)

// Encode passes. Software two-pass encodes run the builder twice; pass
// zero is a plain single-pass encode.
const (
	passSingle = 0
	passFirst  = 1
	passSecond = 2
)

// BuildArgs produces the complete, deterministic ffmpeg argument list for
// an encode. All input streams are mapped, subtitles are copied, and the
// video settings follow the configured encoder parameters.
func BuildArgs(family codec.Family, hardware bool, cfg config.FFmpegConfig, input, output string) []string {
	return buildArgs(family, hardware, cfg, input, output, passSingle)
}

func buildArgs(family codec.Family, hardware bool, cfg config.FFmpegConfig, input, output string, pass int) []string {
	b := NewCommandBuilder("").
		LogLevel("error").
		HideBanner().
		Stats().
		Overwrite().
		Input(input).
		MapAll()

	if hardware {
		buildHardwareVideoArgs(b, family, cfg)
	} else {
		buildSoftwareVideoArgs(b, family, cfg, output, pass)
	}

	if pass == passFirst {
		// First analysis pass: no audio, discard the output.
		b.OutputArgs("-an", "-sn", "-f", "null")
		b.Output(os.DevNull)
		return b.Build().Args
	}

	buildAudioArgs(b, cfg)
	b.CopySubtitles()
	b.Output(output)
	return b.Build().Args
}

// buildHardwareVideoArgs emits the NVENC parameter set.
func buildHardwareVideoArgs(b *CommandBuilder, family codec.Family, cfg config.FFmpegConfig) {
	b.VideoCodec(family.HardwareEncoder())

	if cfg.EncodePreset != "" {
		b.VideoPreset(cfg.EncodePreset)
	}
	if cfg.Tune != "" {
		b.OutputArgs("-tune", cfg.Tune)
	}
	if cfg.RCMode != "" {
		b.OutputArgs("-rc", cfg.RCMode)
	}
	if cfg.CQ > 0 {
		b.OutputArgs("-cq", strconv.Itoa(cfg.CQ))
	}

	// NVENC clamps to its default bitrate unless told otherwise; zero
	// hands rate control entirely to the CQ target.
	if cfg.Bitrate != "" {
		b.OutputArgs("-b:v", cfg.Bitrate)
	} else {
		b.OutputArgs("-b:v", "0")
	}
	if cfg.Maxrate != "" {
		b.OutputArgs("-maxrate", cfg.Maxrate)
	}

	if cfg.Lookahead > 0 {
		b.OutputArgs("-rc-lookahead", strconv.Itoa(cfg.Lookahead))
	}
	if cfg.BFrames > 0 {
		b.OutputArgs("-bf", strconv.Itoa(cfg.BFrames))
	}
	if cfg.BRefMode != "" {
		b.OutputArgs("-b_ref_mode", cfg.BRefMode)
	}
	if cfg.SpatialAQ {
		b.OutputArgs("-spatial-aq", "1")
		if cfg.AQStrength > 0 {
			b.OutputArgs("-aq-strength", strconv.Itoa(cfg.AQStrength))
		}
	}
	if cfg.TemporalAQ {
		b.OutputArgs("-temporal-aq", "1")
	}
	if cfg.Multipass != "" {
		b.OutputArgs("-multipass", cfg.Multipass)
	}
	if cfg.TwoPass {
		b.OutputArgs("-2pass", "1")
	}

	if family == codec.FamilyHEVC && cfg.Profile != "" {
		b.OutputArgs("-profile:v", cfg.Profile)
		if cfg.Profile == "main10" {
			b.OutputArgs("-pix_fmt", "p010le")
		}
	}
}

// buildSoftwareVideoArgs emits the libx265 / libvpx-vp9 parameter set.
func buildSoftwareVideoArgs(b *CommandBuilder, family codec.Family, cfg config.FFmpegConfig, output string, pass int) {
	b.VideoCodec(family.SoftwareEncoder())

	switch family {
	case codec.FamilyVP9:
		// Constant quality mode wants an explicit zero bitrate.
		b.OutputArgs("-b:v", "0")
		if cfg.CRF > 0 {
			b.OutputArgs("-crf", strconv.Itoa(cfg.CRF))
		}
		b.OutputArgs("-deadline", "good")
		b.OutputArgs("-cpu-used", strconv.Itoa(cpuUsedForPreset(cfg.CPUPreset)))
		b.OutputArgs("-row-mt", "1")
		if cfg.TwoPass && pass != passSingle {
			b.OutputArgs("-pass", strconv.Itoa(pass), "-passlogfile", passLogPath(output))
		}

	default:
		if cfg.CPUPreset != "" {
			b.VideoPreset(cfg.CPUPreset)
		}
		if cfg.CRF > 0 {
			b.OutputArgs("-crf", strconv.Itoa(cfg.CRF))
		}
		if cfg.Tune != "" {
			b.OutputArgs("-tune", cfg.Tune)
		}
		if cfg.TwoPass && pass != passSingle {
			b.OutputArgs("-x265-params", "pass="+strconv.Itoa(pass)+":stats="+passLogPath(output))
		}
	}
}

// buildAudioArgs emits the audio policy: pass-through by default,
// re-encode when a codec is configured.
func buildAudioArgs(b *CommandBuilder, cfg config.FFmpegConfig) {
	encoder, reencode := codec.Audio(cfg.AudioCodec).Encoder()
	if !reencode {
		b.AudioCodec("copy")
		return
	}

	b.AudioCodec(encoder)
	if cfg.AudioBitrate != "" {
		b.AudioBitrate(cfg.AudioBitrate)
	}
}

// passLogPath returns the two-pass stats file path for an output.
func passLogPath(output string) string {
	return output + ".passlog"
}

// cpuUsedForPreset translates an x264-style speed preset to the libvpx
// cpu-used scale (0 slowest, 8 fastest).
func cpuUsedForPreset(preset string) int {
	switch preset {
	case "ultrafast":
		return 8
	case "superfast":
		return 7
	case "veryfast":
		return 6
	case "faster":
		return 5
	case "fast":
		return 4
	case "medium":
		return 3
	case "slow":
		return 2
	case "slower":
		return 1
	case "veryslow":
		return 0
	default:
		return 3
	}
}
