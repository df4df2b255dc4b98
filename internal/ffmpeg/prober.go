package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/recodarr/internal/codec"
)

// ProbeResult contains the raw ffprobe output.
type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
}

// ProbeFormat contains container format information.
type ProbeFormat struct {
	Filename   string            `json:"filename"`
	NumStreams int               `json:"nb_streams"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

// ProbeStream contains stream information.
type ProbeStream struct {
	Index         int               `json:"index"`
	CodecName     string            `json:"codec_name"`
	CodecType     string            `json:"codec_type"`
	Profile       string            `json:"profile"`
	Width         int               `json:"width,omitempty"`
	Height        int               `json:"height,omitempty"`
	PixFmt        string            `json:"pix_fmt,omitempty"`
	Channels      int               `json:"channels,omitempty"`
	ChannelLayout string            `json:"channel_layout,omitempty"`
	SampleRate    string            `json:"sample_rate,omitempty"`
	RFrameRate    string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate  string            `json:"avg_frame_rate,omitempty"`
	Duration      string            `json:"duration,omitempty"`
	BitRate       string            `json:"bit_rate,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// AudioTrack describes one audio stream of a probed file.
type AudioTrack struct {
	Index    int    `json:"index"`
	Codec    string `json:"codec"`
	Channels int    `json:"channels"`
	Language string `json:"language,omitempty"`
}

// SubtitleTrack describes one subtitle stream of a probed file.
type SubtitleTrack struct {
	Index    int    `json:"index"`
	Codec    string `json:"codec"`
	Language string `json:"language,omitempty"`
}

// MediaInfo is the probe summary the pipeline records on a job.
type MediaInfo struct {
	VideoCodec   string  `json:"video_codec"`
	Container    string  `json:"container"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	DurationSecs float64 `json:"duration_secs"`
	Bitrate      int64   `json:"bitrate"`
	Size         int64   `json:"size"`
	Framerate    float64 `json:"framerate,omitempty"`

	AudioTracks    []AudioTrack    `json:"audio_tracks,omitempty"`
	SubtitleTracks []SubtitleTrack `json:"subtitle_tracks,omitempty"`
}

// Resolution returns "WIDTHxHEIGHT", or "" when the file has no video.
func (m *MediaInfo) Resolution() string {
	if m.Width == 0 && m.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", m.Width, m.Height)
}

// PrimaryAudioCodec returns the codec of the first audio track.
func (m *MediaInfo) PrimaryAudioCodec() string {
	if len(m.AudioTracks) == 0 {
		return ""
	}
	return m.AudioTracks[0].Codec
}

// HasVideo returns true when a video stream was found.
func (m *MediaInfo) HasVideo() bool {
	return m.VideoCodec != ""
}

// Prober runs ffprobe against local files.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a new file prober.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     30 * time.Second,
	}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe probes a file and returns the raw result.
func (p *Prober) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("probe timeout after %v", p.timeout)
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var result ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	return &result, nil
}

// ProbeMedia probes a file and returns the summarised media info.
func (p *Prober) ProbeMedia(ctx context.Context, path string) (*MediaInfo, error) {
	result, err := p.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return result.Summarise(), nil
}

// Summarise converts a raw probe result into the pipeline's media view.
// The video codec is normalised to its canonical name so that tag
// variants (hev1, hvc1, vp09) compare equal.
func (r *ProbeResult) Summarise() *MediaInfo {
	info := &MediaInfo{
		Container:    r.Format.FormatName,
		DurationSecs: r.DurationSecs(),
		Bitrate:      r.Bitrate(),
		Size:         r.Size(),
	}

	for _, stream := range r.Streams {
		switch stream.CodecType {
		case "video":
			// Cover art shows up as a second "video" stream; keep the first
			// real one.
			if info.VideoCodec != "" {
				continue
			}
			info.VideoCodec = codec.Normalize(stream.CodecName)
			info.Width = stream.Width
			info.Height = stream.Height
			info.Framerate = stream.Framerate()

		case "audio":
			info.AudioTracks = append(info.AudioTracks, AudioTrack{
				Index:    stream.Index,
				Codec:    stream.CodecName,
				Channels: stream.Channels,
				Language: stream.Tags["language"],
			})

		case "subtitle":
			info.SubtitleTracks = append(info.SubtitleTracks, SubtitleTrack{
				Index:    stream.Index,
				Codec:    stream.CodecName,
				Language: stream.Tags["language"],
			})
		}
	}

	return info
}

// DurationSecs returns the container duration in seconds.
func (r *ProbeResult) DurationSecs() float64 {
	if r.Format.Duration == "" {
		return 0
	}
	dur, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return dur
}

// Bitrate returns the overall bitrate in bits per second.
func (r *ProbeResult) Bitrate() int64 {
	if r.Format.BitRate == "" {
		return 0
	}
	br, err := strconv.ParseInt(r.Format.BitRate, 10, 64)
	if err != nil {
		return 0
	}
	return br
}

// Size returns the container size in bytes.
func (r *ProbeResult) Size() int64 {
	if r.Format.Size == "" {
		return 0
	}
	size, err := strconv.ParseInt(r.Format.Size, 10, 64)
	if err != nil {
		return 0
	}
	return size
}

// VideoStream returns the first video stream, or nil.
func (r *ProbeResult) VideoStream() *ProbeStream {
	for i := range r.Streams {
		if r.Streams[i].CodecType == "video" {
			return &r.Streams[i]
		}
	}
	return nil
}

// Framerate returns the stream framerate in frames per second.
func (s *ProbeStream) Framerate() float64 {
	if s.AvgFrameRate != "" {
		if f := parseFramerate(s.AvgFrameRate); f > 0 {
			return f
		}
	}
	if s.RFrameRate != "" {
		return parseFramerate(s.RFrameRate)
	}
	return 0
}

// parseFramerate parses a framerate string like "30000/1001" or "25/1".
func parseFramerate(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}

	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}

	return num / den
}
