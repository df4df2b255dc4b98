package ffmpeg

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/recodarr/internal/codec"
	"github.com/jmylchreest/recodarr/internal/config"
	"github.com/jmylchreest/recodarr/internal/models"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

// skipIfNoFFprobe skips the test if ffprobe is not installed.
func skipIfNoFFprobe(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}
	return path
}

func newTestEncoder(cfg config.FFmpegConfig) *Encoder {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return NewEncoder(cfg, logger)
}

func nvencConfig() config.FFmpegConfig {
	return config.FFmpegConfig{
		VideoCodec:   "hevc_nvenc",
		GPUEnabled:   true,
		EncodePreset: "p5",
		RCMode:       "vbr",
		CQ:           28,
		Lookahead:    32,
		BFrames:      3,
		BRefMode:     "each",
		SpatialAQ:    true,
		AQStrength:   8,
		TemporalAQ:   true,
		Multipass:    "qres",
		Profile:      "main10",
		AudioCodec:   "copy",
	}
}

func x265Config() config.FFmpegConfig {
	return config.FFmpegConfig{
		VideoCodec: "libx265",
		CPUPreset:  "medium",
		CRF:        24,
		AudioCodec: "copy",
	}
}

func TestCommandBuilder_Build(t *testing.T) {
	cmd := NewCommandBuilder("/usr/bin/ffmpeg").
		LogLevel("error").
		HideBanner().
		Stats().
		Overwrite().
		Input("/tmp/in.mkv").
		MapAll().
		VideoCodec("libx265").
		AudioCodec("copy").
		CopySubtitles().
		Output("/tmp/out.mkv").
		Build()

	assert.Equal(t, "/usr/bin/ffmpeg", cmd.Binary)
	assert.Equal(t, []string{
		"-loglevel", "error",
		"-hide_banner", "-stats",
		"-y",
		"-i", "/tmp/in.mkv",
		"-map", "0",
		"-c:v", "libx265",
		"-c:a", "copy",
		"-c:s", "copy",
		"/tmp/out.mkv",
	}, cmd.Args)
	assert.Equal(t, "/tmp/in.mkv", cmd.Input)
	assert.Equal(t, "/tmp/out.mkv", cmd.Output)
}

func TestEncodedName(t *testing.T) {
	tests := []struct {
		name     string
		original string
		family   codec.Family
		tag      string
		want     string
	}{
		{
			name:     "plain name gains marker and tag",
			original: "Show.S01E01.1080p.mkv",
			family:   codec.FamilyHEVC,
			tag:      "Z3D",
			want:     "Show.S01E01.1080p.h265.Z3D.mkv",
		},
		{
			name:     "already encoded name is unchanged",
			original: "Show.S01E01.1080p.h265.Z3D.mkv",
			family:   codec.FamilyHEVC,
			tag:      "Z3D",
			want:     "Show.S01E01.1080p.h265.Z3D.mkv",
		},
		{
			name:     "stale marker from another family is replaced",
			original: "Show.S01E01.h265.Z3D.mkv",
			family:   codec.FamilyVP9,
			tag:      "Z3D",
			want:     "Show.S01E01.vp9.Z3D.mkv",
		},
		{
			name:     "directory components pass through",
			original: "tv/Show/Season 01/Show.S01E01.mkv",
			family:   codec.FamilyHEVC,
			tag:      "Z3D",
			want:     "tv/Show/Season 01/Show.S01E01.h265.Z3D.mkv",
		},
		{
			name:     "no release tag",
			original: "movie.2020.mkv",
			family:   codec.FamilyHEVC,
			tag:      "",
			want:     "movie.2020.h265.mkv",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodedName(tt.original, tt.family, tt.tag))
		})
	}
}

func TestBuildArgs_NVENC(t *testing.T) {
	args := BuildArgs(codec.FamilyHEVC, true, nvencConfig(), "/in.mkv", "/out.mkv")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-c:v hevc_nvenc")
	assert.Contains(t, joined, "-preset p5")
	assert.Contains(t, joined, "-rc vbr")
	assert.Contains(t, joined, "-cq 28")
	assert.Contains(t, joined, "-b:v 0")
	assert.Contains(t, joined, "-rc-lookahead 32")
	assert.Contains(t, joined, "-bf 3")
	assert.Contains(t, joined, "-b_ref_mode each")
	assert.Contains(t, joined, "-spatial-aq 1")
	assert.Contains(t, joined, "-aq-strength 8")
	assert.Contains(t, joined, "-temporal-aq 1")
	assert.Contains(t, joined, "-multipass qres")
	assert.Contains(t, joined, "-profile:v main10")
	assert.Contains(t, joined, "-pix_fmt p010le")
	assert.Contains(t, joined, "-map 0")
	assert.Contains(t, joined, "-c:a copy")
	assert.Contains(t, joined, "-c:s copy")
	assert.Equal(t, "/out.mkv", args[len(args)-1])
	assert.NotContains(t, joined, "-2pass")
}

func TestBuildArgs_NVENCTwoPass(t *testing.T) {
	cfg := nvencConfig()
	cfg.TwoPass = true

	args := BuildArgs(codec.FamilyHEVC, true, cfg, "/in.mkv", "/out.mkv")
	joined := strings.Join(args, " ")

	// NVENC two-pass stays a single invocation.
	assert.Contains(t, joined, "-2pass 1")
	assert.Equal(t, "/out.mkv", args[len(args)-1])
}

func TestBuildArgs_X265(t *testing.T) {
	args := BuildArgs(codec.FamilyHEVC, false, x265Config(), "/in.mkv", "/out.mkv")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-c:v libx265")
	assert.Contains(t, joined, "-preset medium")
	assert.Contains(t, joined, "-crf 24")
	assert.Contains(t, joined, "-c:a copy")
	assert.NotContains(t, joined, "x265-params")
	assert.Equal(t, "/out.mkv", args[len(args)-1])
}

func TestBuildArgs_X265TwoPass(t *testing.T) {
	cfg := x265Config()
	cfg.TwoPass = true

	first := buildArgs(codec.FamilyHEVC, false, cfg, "/in.mkv", "/out.mkv", passFirst)
	joinedFirst := strings.Join(first, " ")

	assert.Contains(t, joinedFirst, "-x265-params pass=1:stats=/out.mkv.passlog")
	assert.Contains(t, joinedFirst, "-an -sn -f null")
	assert.Equal(t, os.DevNull, first[len(first)-1])
	assert.NotContains(t, joinedFirst, "-c:a")

	second := buildArgs(codec.FamilyHEVC, false, cfg, "/in.mkv", "/out.mkv", passSecond)
	joinedSecond := strings.Join(second, " ")

	assert.Contains(t, joinedSecond, "-x265-params pass=2:stats=/out.mkv.passlog")
	assert.Contains(t, joinedSecond, "-c:a copy")
	assert.Equal(t, "/out.mkv", second[len(second)-1])
}

func TestBuildArgs_VPX(t *testing.T) {
	cfg := config.FFmpegConfig{
		VideoCodec: "libvpx-vp9",
		CPUPreset:  "fast",
		CRF:        31,
		AudioCodec: "opus",
	}

	args := BuildArgs(codec.FamilyVP9, false, cfg, "/in.mkv", "/out.webm")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-c:v libvpx-vp9")
	assert.Contains(t, joined, "-b:v 0")
	assert.Contains(t, joined, "-crf 31")
	assert.Contains(t, joined, "-deadline good")
	assert.Contains(t, joined, "-cpu-used 4")
	assert.Contains(t, joined, "-row-mt 1")
	assert.Contains(t, joined, "-c:a libopus")
}

func TestBuildArgs_VPXTwoPass(t *testing.T) {
	cfg := config.FFmpegConfig{
		VideoCodec: "libvpx-vp9",
		CRF:        31,
		TwoPass:    true,
	}

	first := buildArgs(codec.FamilyVP9, false, cfg, "/in.mkv", "/out.webm", passFirst)
	joined := strings.Join(first, " ")

	assert.Contains(t, joined, "-pass 1")
	assert.Contains(t, joined, "-passlogfile /out.webm.passlog")
	assert.Equal(t, os.DevNull, first[len(first)-1])
}

func TestBuildArgs_AudioReencode(t *testing.T) {
	cfg := x265Config()
	cfg.AudioCodec = "aac"
	cfg.AudioBitrate = "128k"

	args := BuildArgs(codec.FamilyHEVC, false, cfg, "/in.mkv", "/out.mkv")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-c:a aac")
	assert.Contains(t, joined, "-b:a 128k")
	assert.NotContains(t, joined, "-c:a copy")
}

func TestBuildArgs_Deterministic(t *testing.T) {
	cfg := nvencConfig()
	a := BuildArgs(codec.FamilyHEVC, true, cfg, "/in.mkv", "/out.mkv")
	b := BuildArgs(codec.FamilyHEVC, true, cfg, "/in.mkv", "/out.mkv")
	assert.Equal(t, a, b)
}

func TestSentinel(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "movie.h265.Z3D.mkv")

	require.NoError(t, WriteSentinel(output))

	sentinel := SentinelPath(output)
	assert.FileExists(t, sentinel)
	assert.True(t, IsSentinel(filepath.Base(sentinel)))
	assert.False(t, IsSentinel("movie.h265.Z3D.mkv"))
	assert.Equal(t, output, TargetFromSentinel(sentinel))

	require.NoError(t, ClearSentinel(output))
	assert.NoFileExists(t, sentinel)

	// Clearing an absent sentinel is not an error.
	require.NoError(t, ClearSentinel(output))
}

func TestRemovePassLogs(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.mkv")

	logs := []string{
		output + ".passlog",
		output + ".passlog-0.log",
		output + ".passlog.cutree",
	}
	for _, p := range logs {
		require.NoError(t, os.WriteFile(p, []byte("stats"), 0o644))
	}

	removePassLogs(output)
	for _, p := range logs {
		assert.NoFileExists(t, p)
	}
}

func TestScanCRorLF(t *testing.T) {
	input := "line one\rline two\nline three"

	advance, token, err := scanCRorLF([]byte(input), false)
	require.NoError(t, err)
	assert.Equal(t, "line one", string(token))
	assert.Equal(t, 9, advance)

	rest := input[advance:]
	advance, token, err = scanCRorLF([]byte(rest), false)
	require.NoError(t, err)
	assert.Equal(t, "line two", string(token))

	rest = rest[advance:]
	_, token, err = scanCRorLF([]byte(rest), true)
	require.NoError(t, err)
	assert.Equal(t, "line three", string(token))
}

func TestParseProgressLine(t *testing.T) {
	line := "frame= 1234 fps=48.5 q=28.0 size=  102400KiB time=00:12:34.56 bitrate=1113.6kbits/s speed=1.62x"

	m := frameRe.FindStringSubmatch(line)
	require.Len(t, m, 2)
	assert.Equal(t, "1234", m[1])

	m = fpsRe.FindStringSubmatch(line)
	require.Len(t, m, 2)
	assert.Equal(t, "48.5", m[1])

	m = timeRe.FindStringSubmatch(line)
	require.Len(t, m, 5)
	assert.Equal(t, []string{"00", "12", "34", "56"}, m[1:])

	m = speedRe.FindStringSubmatch(line)
	require.Len(t, m, 2)
	assert.Equal(t, "1.62", m[1])
}

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"25/1", 25},
		{"30000/1001", 29.97},
		{"24", 24},
		{"0/0", 0},
		{"garbage", 0},
		{"", 0},
	}

	for _, tt := range tests {
		got := parseFramerate(tt.input)
		assert.InDelta(t, tt.want, got, 0.01, "input %q", tt.input)
	}
}

func TestProbeResult_Summarise(t *testing.T) {
	raw := `{
		"format": {
			"filename": "movie.mkv",
			"nb_streams": 4,
			"format_name": "matroska,webm",
			"duration": "5400.320000",
			"size": "4294967296",
			"bit_rate": "6363000"
		},
		"streams": [
			{"index": 0, "codec_name": "hev1", "codec_type": "video", "width": 1920, "height": 1080, "avg_frame_rate": "24000/1001"},
			{"index": 1, "codec_name": "aac", "codec_type": "audio", "channels": 6, "tags": {"language": "eng"}},
			{"index": 2, "codec_name": "ac3", "codec_type": "audio", "channels": 2, "tags": {"language": "ger"}},
			{"index": 3, "codec_name": "subrip", "codec_type": "subtitle", "tags": {"language": "eng"}},
			{"index": 4, "codec_name": "mjpeg", "codec_type": "video", "width": 600, "height": 882}
		]
	}`

	var result ProbeResult
	require.NoError(t, json.Unmarshal([]byte(raw), &result))

	info := result.Summarise()
	assert.Equal(t, "hevc", info.VideoCodec)
	assert.Equal(t, "matroska,webm", info.Container)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.Equal(t, "1920x1080", info.Resolution())
	assert.InDelta(t, 5400.32, info.DurationSecs, 0.001)
	assert.Equal(t, int64(4294967296), info.Size)
	assert.Equal(t, int64(6363000), info.Bitrate)
	assert.InDelta(t, 23.976, info.Framerate, 0.001)
	assert.True(t, info.HasVideo())

	require.Len(t, info.AudioTracks, 2)
	assert.Equal(t, "aac", info.PrimaryAudioCodec())
	assert.Equal(t, "eng", info.AudioTracks[0].Language)
	assert.Equal(t, 6, info.AudioTracks[0].Channels)

	require.Len(t, info.SubtitleTracks, 1)
	assert.Equal(t, "subrip", info.SubtitleTracks[0].Codec)
}

func TestProbeResult_SummariseAudioOnly(t *testing.T) {
	result := ProbeResult{
		Format: ProbeFormat{FormatName: "mp3"},
		Streams: []ProbeStream{
			{Index: 0, CodecName: "mp3", CodecType: "audio", Channels: 2},
		},
	}

	info := result.Summarise()
	assert.False(t, info.HasVideo())
	assert.Empty(t, info.Resolution())
	assert.Len(t, info.AudioTracks, 1)
}

func TestMakeProgressUpdate(t *testing.T) {
	t.Run("single pass", func(t *testing.T) {
		p := Progress{OutTime: 30 * time.Minute, FPS: 48, Speed: 2.0}
		u := makeProgressUpdate(p, 3600, 0, 100)

		assert.InDelta(t, 50.0, u.Percent, 0.001)
		assert.Equal(t, 48.0, u.FPS)
		assert.Equal(t, 2.0, u.Speed)
		// 1800s remaining at 2x realtime.
		assert.Equal(t, int64(900), u.ETASeconds)
	})

	t.Run("second pass maps onto upper half", func(t *testing.T) {
		p := Progress{OutTime: 30 * time.Minute, Speed: 1.0}
		u := makeProgressUpdate(p, 3600, 50, 50)

		assert.InDelta(t, 75.0, u.Percent, 0.001)
	})

	t.Run("overshoot clamps to pass span", func(t *testing.T) {
		p := Progress{OutTime: 2 * time.Hour, Speed: 1.0}
		u := makeProgressUpdate(p, 3600, 0, 100)

		assert.InDelta(t, 100.0, u.Percent, 0.001)
		assert.Equal(t, int64(0), u.ETASeconds)
	})

	t.Run("unknown duration reports only rates", func(t *testing.T) {
		p := Progress{OutTime: time.Minute, FPS: 30, Speed: 1.5}
		u := makeProgressUpdate(p, 0, 0, 100)

		assert.Zero(t, u.Percent)
		assert.Zero(t, u.ETASeconds)
		assert.Equal(t, 30.0, u.FPS)
	})
}

func TestCpuUsedForPreset(t *testing.T) {
	assert.Equal(t, 8, cpuUsedForPreset("ultrafast"))
	assert.Equal(t, 4, cpuUsedForPreset("fast"))
	assert.Equal(t, 3, cpuUsedForPreset("medium"))
	assert.Equal(t, 0, cpuUsedForPreset("veryslow"))
	assert.Equal(t, 3, cpuUsedForPreset("unknown"))
}

func TestEncoder_SelectSoftware(t *testing.T) {
	t.Run("gpu disabled forces software", func(t *testing.T) {
		cfg := nvencConfig()
		cfg.GPUEnabled = false
		enc := newTestEncoder(cfg)

		sel, err := enc.Select(context.Background())
		require.NoError(t, err)
		assert.Equal(t, codec.EncoderX265, sel.Encoder)
		assert.Equal(t, codec.FamilyHEVC, sel.Family)
		assert.False(t, sel.Hardware)
	})

	t.Run("software codec never probes hardware", func(t *testing.T) {
		enc := newTestEncoder(x265Config())

		sel, err := enc.Select(context.Background())
		require.NoError(t, err)
		assert.Equal(t, codec.EncoderX265, sel.Encoder)
		assert.False(t, sel.Hardware)
	})

	t.Run("unknown codec is invalid config", func(t *testing.T) {
		cfg := x265Config()
		cfg.VideoCodec = "librav1e"
		enc := newTestEncoder(cfg)

		_, err := enc.Select(context.Background())
		require.Error(t, err)
		assert.Equal(t, models.ErrorKindInvalidConfig, models.KindOf(err))
	})
}

func TestEncoder_Family(t *testing.T) {
	enc := newTestEncoder(nvencConfig())
	assert.Equal(t, codec.FamilyHEVC, enc.Family())

	cfg := nvencConfig()
	cfg.VideoCodec = "libvpx-vp9"
	enc.UpdateConfig(cfg)
	assert.Equal(t, codec.FamilyVP9, enc.Family())
}

func TestEncoder_CleanupFailed(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "out.mkv")

	require.NoError(t, os.WriteFile(output, []byte("partial"), 0o644))
	require.NoError(t, WriteSentinel(output))
	require.NoError(t, os.WriteFile(output+".passlog", []byte("stats"), 0o644))

	enc := newTestEncoder(x265Config())
	enc.cleanupFailed(output)

	assert.NoFileExists(t, output)
	assert.NoFileExists(t, SentinelPath(output))
	assert.NoFileExists(t, output+".passlog")
}

func TestBinaryInfo_HasEncoder(t *testing.T) {
	info := &BinaryInfo{
		Encoders: []string{"libx264", "libx265", "libvpx-vp9", "aac"},
	}

	assert.True(t, info.HasEncoder("libx265"))
	assert.True(t, info.HasEncoder("aac"))
	assert.False(t, info.HasEncoder("hevc_nvenc"))
}

func TestBinaryDetector_Detect(t *testing.T) {
	skipIfNoFFmpeg(t)
	skipIfNoFFprobe(t)

	ctx := context.Background()
	detector := NewBinaryDetector("", "")

	info, err := detector.Detect(ctx)
	require.NoError(t, err)
	require.NotNil(t, info)

	assert.NotEmpty(t, info.FFmpegPath)
	assert.NotEmpty(t, info.FFprobePath)
	assert.NotEmpty(t, info.Version)
	assert.Greater(t, info.MajorVersion, 0)
}

func TestBinaryDetector_Caching(t *testing.T) {
	skipIfNoFFmpeg(t)
	skipIfNoFFprobe(t)

	ctx := context.Background()
	detector := NewBinaryDetector("", "").WithCacheTTL(1 * time.Hour)

	info1, err := detector.Detect(ctx)
	require.NoError(t, err)

	// Second detection returns the cached result.
	info2, err := detector.Detect(ctx)
	require.NoError(t, err)

	assert.Equal(t, info1.FFmpegPath, info2.FFmpegPath)
	assert.Equal(t, info1.Version, info2.Version)
}

func TestProber_ProbeMissingFile(t *testing.T) {
	ffprobe := skipIfNoFFprobe(t)

	prober := NewProber(ffprobe)
	_, err := prober.Probe(context.Background(), "/nonexistent/file.mkv")
	assert.Error(t, err)
}
