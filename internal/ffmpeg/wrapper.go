// Package ffmpeg wraps the ffmpeg and ffprobe binaries for file
// transcoding: probing sources, building encoder argument lists, running
// encodes with progress reporting, and verifying outputs.
package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Command represents one ffmpeg invocation.
type Command struct {
	Binary string
	Args   []string
	Input  string
	Output string

	cmd     *exec.Cmd
	started time.Time
	mu      sync.RWMutex

	// Recent stderr lines for error reporting.
	stderrLines []string
	stderrMu    sync.RWMutex
}

// Progress is the encoder state parsed from one ffmpeg stderr status line.
type Progress struct {
	Frame   int64         `json:"frame"`
	FPS     float64       `json:"fps"`
	OutTime time.Duration `json:"out_time"`
	Speed   float64       `json:"speed"`
	Bitrate string        `json:"bitrate,omitempty"`
}

// CommandBuilder builds ffmpeg commands with a fluent API.
type CommandBuilder struct {
	binary     string
	globalArgs []string
	inputArgs  []string
	input      string
	outputArgs []string
	output     string
	logLevel   string
	overwrite  bool
}

// NewCommandBuilder creates a new ffmpeg command builder.
func NewCommandBuilder(ffmpegPath string) *CommandBuilder {
	return &CommandBuilder{
		binary:   ffmpegPath,
		logLevel: "error",
	}
}

// LogLevel sets the ffmpeg log level.
func (b *CommandBuilder) LogLevel(level string) *CommandBuilder {
	b.logLevel = level
	return b
}

// HideBanner hides the ffmpeg banner.
func (b *CommandBuilder) HideBanner() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-hide_banner")
	return b
}

// Overwrite enables output file overwriting.
func (b *CommandBuilder) Overwrite() *CommandBuilder {
	b.overwrite = true
	return b
}

// Stats enables periodic progress lines on stderr.
func (b *CommandBuilder) Stats() *CommandBuilder {
	b.globalArgs = append(b.globalArgs, "-stats")
	return b
}

// Input sets the input file.
func (b *CommandBuilder) Input(input string) *CommandBuilder {
	b.input = input
	return b
}

// InputArgs adds arbitrary input arguments.
func (b *CommandBuilder) InputArgs(args ...string) *CommandBuilder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// VideoCodec sets the video codec.
func (b *CommandBuilder) VideoCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:v", codec)
	return b
}

// AudioCodec sets the audio codec.
func (b *CommandBuilder) AudioCodec(codec string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:a", codec)
	return b
}

// AudioBitrate sets the audio bitrate.
func (b *CommandBuilder) AudioBitrate(bitrate string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-b:a", bitrate)
	return b
}

// VideoPreset sets the encoder preset.
func (b *CommandBuilder) VideoPreset(preset string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-preset", preset)
	return b
}

// MapAll maps every input stream into the output.
func (b *CommandBuilder) MapAll() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-map", "0")
	return b
}

// CopySubtitles passes subtitle streams through unchanged.
func (b *CommandBuilder) CopySubtitles() *CommandBuilder {
	b.outputArgs = append(b.outputArgs, "-c:s", "copy")
	return b
}

// OutputArgs adds arbitrary output arguments.
func (b *CommandBuilder) OutputArgs(args ...string) *CommandBuilder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output destination.
func (b *CommandBuilder) Output(output string) *CommandBuilder {
	b.output = output
	return b
}

// Build assembles the final command.
func (b *CommandBuilder) Build() *Command {
	var args []string

	args = append(args, "-loglevel", b.logLevel)
	args = append(args, b.globalArgs...)

	if b.overwrite {
		args = append(args, "-y")
	}

	args = append(args, b.inputArgs...)
	args = append(args, "-i", b.input)
	args = append(args, b.outputArgs...)
	args = append(args, b.output)

	return &Command{
		Binary:      b.binary,
		Args:        args,
		Input:       b.input,
		Output:      b.output,
		stderrLines: make([]string, 0, 100),
	}
}

// NewCommand wraps prebuilt arguments in a runnable command.
func NewCommand(binary string, args []string, input, output string) *Command {
	return &Command{
		Binary:      binary,
		Args:        args,
		Input:       input,
		Output:      output,
		stderrLines: make([]string, 0, 100),
	}
}

// String returns the command as a string.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Run executes the command and waits for completion.
func (c *Command) Run(ctx context.Context) error {
	c.mu.Lock()
	c.cmd = exec.CommandContext(ctx, c.Binary, c.Args...)
	c.started = time.Now()
	c.mu.Unlock()

	return c.cmd.Run()
}

// Kill terminates the ffmpeg process.
func (c *Command) Kill() error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	return cmd.Process.Kill()
}

// Signal sends a signal to the ffmpeg process.
func (c *Command) Signal(sig os.Signal) error {
	c.mu.RLock()
	cmd := c.cmd
	c.mu.RUnlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	return cmd.Process.Signal(sig)
}

// PID returns the process id, or 0 when not running.
func (c *Command) PID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// IsRunning returns true while the process is alive.
func (c *Command) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cmd == nil || c.cmd.Process == nil {
		return false
	}
	return c.cmd.ProcessState == nil
}

// Duration returns how long the command has been running.
func (c *Command) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

// RunWithProgress runs the command, parsing stderr status lines into the
// progress channel. The channel is not closed; the caller owns it.
func (c *Command) RunWithProgress(ctx context.Context, progressCh chan<- Progress) error {
	c.mu.Lock()
	c.cmd = exec.CommandContext(ctx, c.Binary, c.Args...)
	c.started = time.Now()

	stderr, err := c.cmd.StderrPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("getting stderr pipe: %w", err)
	}
	c.mu.Unlock()

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("starting command: %w", err)
	}

	done := make(chan struct{})
	go c.parseProgress(stderr, progressCh, done)

	waitErr := c.cmd.Wait()
	<-done
	return waitErr
}

var (
	frameRe   = regexp.MustCompile(`frame=\s*(\d+)`)
	fpsRe     = regexp.MustCompile(`fps=\s*([\d.]+)`)
	bitrateRe = regexp.MustCompile(`bitrate=\s*([\d.]+\s*\w+/s)`)
	timeRe    = regexp.MustCompile(`time=(\d+):(\d+):(\d+).(\d+)`)
	speedRe   = regexp.MustCompile(`speed=\s*([\d.]+)x`)
)

// parseProgress parses ffmpeg status output from stderr. Status lines are
// carriage-return separated; everything else is captured for diagnostics.
func (c *Command) parseProgress(r io.Reader, progressCh chan<- Progress, done chan struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(r)
	scanner.Split(scanCRorLF)

	progress := Progress{}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		c.recordStderr(line)

		updated := false
		if m := frameRe.FindStringSubmatch(line); len(m) > 1 {
			progress.Frame, _ = strconv.ParseInt(m[1], 10, 64)
			updated = true
		}
		if m := fpsRe.FindStringSubmatch(line); len(m) > 1 {
			progress.FPS, _ = strconv.ParseFloat(m[1], 64)
			updated = true
		}
		if m := bitrateRe.FindStringSubmatch(line); len(m) > 1 {
			progress.Bitrate = m[1]
			updated = true
		}
		if m := timeRe.FindStringSubmatch(line); len(m) > 4 {
			hours, _ := strconv.Atoi(m[1])
			mins, _ := strconv.Atoi(m[2])
			secs, _ := strconv.Atoi(m[3])
			centis, _ := strconv.Atoi(m[4])
			progress.OutTime = time.Duration(hours)*time.Hour +
				time.Duration(mins)*time.Minute +
				time.Duration(secs)*time.Second +
				time.Duration(centis)*10*time.Millisecond
			updated = true
		}
		if m := speedRe.FindStringSubmatch(line); len(m) > 1 {
			progress.Speed, _ = strconv.ParseFloat(m[1], 64)
			updated = true
		}

		if !updated || progressCh == nil {
			continue
		}
		select {
		case progressCh <- progress:
		default:
			// Don't block if channel is full
		}
	}
}

// scanCRorLF splits on both \r and \n: ffmpeg rewrites its status line
// with carriage returns and only emits newlines for diagnostics.
func scanCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// recordStderr keeps the most recent stderr lines for error reporting.
func (c *Command) recordStderr(line string) {
	const maxLines = 100

	c.stderrMu.Lock()
	defer c.stderrMu.Unlock()

	if len(c.stderrLines) >= maxLines {
		c.stderrLines = c.stderrLines[1:]
	}
	c.stderrLines = append(c.stderrLines, line)
}

// StderrLines returns the recent stderr lines captured from ffmpeg.
func (c *Command) StderrLines() []string {
	c.stderrMu.RLock()
	defer c.stderrMu.RUnlock()

	lines := make([]string, len(c.stderrLines))
	copy(lines, c.stderrLines)
	return lines
}

// LastStderr returns the final captured stderr line, typically the most
// specific error when an encode fails.
func (c *Command) LastStderr() string {
	c.stderrMu.RLock()
	defer c.stderrMu.RUnlock()

	for i := len(c.stderrLines) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(c.stderrLines[i]); s != "" {
			return s
		}
	}
	return ""
}
