package ffmpeg

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/recodarr/internal/codec"
)

// hwProbeTimeout bounds the synthetic encode. A working NVENC session
// finishes in well under a second.
const hwProbeTimeout = 20 * time.Second

// HardwareProber verifies that a GPU encoder actually works by running a
// short synthetic encode. Driver present but no usable session (no
// device, exhausted sessions, unsupported codec) all surface here, which
// a plain encoder listing cannot detect. Results are cached for the
// process lifetime.
type HardwareProber struct {
	detector *BinaryDetector
	logger   *slog.Logger

	mu      sync.Mutex
	results map[codec.Family]error
}

// NewHardwareProber creates a hardware prober.
func NewHardwareProber(detector *BinaryDetector, logger *slog.Logger) *HardwareProber {
	return &HardwareProber{
		detector: detector,
		logger:   logger.With("component", "hwprobe"),
		results:  make(map[codec.Family]error),
	}
}

// Available reports whether the hardware encoder for family works. The
// first call per family runs the probe; later calls return the cached
// verdict.
func (p *HardwareProber) Available(ctx context.Context, family codec.Family) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err, ok := p.results[family]; ok {
		return err
	}

	err := p.probe(ctx, family)
	p.results[family] = err

	if err != nil {
		p.logger.Warn("hardware encoder unavailable",
			"family", string(family),
			"encoder", family.HardwareEncoder(),
			"reason", err,
		)
	} else {
		p.logger.Info("hardware encoder available",
			"family", string(family),
			"encoder", family.HardwareEncoder(),
		)
	}

	return err
}

// Reset clears cached probe results, forcing re-detection.
func (p *HardwareProber) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = make(map[codec.Family]error)
}

// probe runs a ten-frame null encode against the family's GPU encoder.
func (p *HardwareProber) probe(ctx context.Context, family codec.Family) error {
	info, err := p.detector.Detect(ctx)
	if err != nil {
		return err
	}

	encoder := family.HardwareEncoder()
	if len(info.Encoders) > 0 && !info.HasEncoder(encoder) {
		return fmt.Errorf("encoder %s not compiled into ffmpeg", encoder)
	}

	ctx, cancel := context.WithTimeout(ctx, hwProbeTimeout)
	defer cancel()

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "lavfi",
		"-i", "nullsrc=s=320x240:d=1",
		"-frames:v", "10",
		"-c:v", encoder,
		"-f", "null", "-",
	}

	cmd := exec.CommandContext(ctx, info.FFmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := lastNonEmptyLine(string(output))
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("synthetic %s encode failed: %s", encoder, detail)
	}

	return nil
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
