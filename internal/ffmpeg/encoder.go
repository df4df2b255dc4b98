package ffmpeg

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/jmylchreest/recodarr/internal/codec"
	"github.com/jmylchreest/recodarr/internal/config"
	"github.com/jmylchreest/recodarr/internal/models"
)

// progressInterval caps how often onProgress callbacks fire.
const progressInterval = time.Second

// Selection is the encoder chosen for a job after hardware probing.
type Selection struct {
	Encoder  string
	Family   codec.Family
	Hardware bool
}

// ProgressUpdate is a throttled snapshot of a running encode.
type ProgressUpdate struct {
	Percent    float64
	FPS        float64
	Speed      float64
	ETASeconds int64
}

// ProgressFunc receives progress updates at most once per second.
type ProgressFunc func(ProgressUpdate)

// Result describes a completed, verified encode.
type Result struct {
	OutputPath string
	OutputSize int64
	Encoder    string
	Hardware   bool
	Elapsed    time.Duration
}

// Encoder transcodes files with ffmpeg. It owns binary detection,
// hardware probing, argument construction, progress reporting and
// post-encode verification. One encode runs at a time.
type Encoder struct {
	mu       sync.RWMutex
	cfg      config.FFmpegConfig
	detector *BinaryDetector
	hw       *HardwareProber

	logger *slog.Logger

	runMu   sync.Mutex
	current *Command
	monitor *ProcessMonitor
}

// NewEncoder creates an encoder from ffmpeg configuration.
func NewEncoder(cfg config.FFmpegConfig, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "encoder")
	detector := NewBinaryDetector(cfg.BinaryPath, cfg.FFprobePath)
	return &Encoder{
		cfg:      cfg,
		detector: detector,
		hw:       NewHardwareProber(detector, log),
		logger:   log,
	}
}

// UpdateConfig swaps the encoder configuration. Changing binary paths
// resets detection and hardware probe caches. Running encodes keep the
// configuration they started with.
func (e *Encoder) UpdateConfig(cfg config.FFmpegConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cfg.BinaryPath != e.cfg.BinaryPath || cfg.FFprobePath != e.cfg.FFprobePath {
		e.detector = NewBinaryDetector(cfg.BinaryPath, cfg.FFprobePath)
		e.hw = NewHardwareProber(e.detector, e.logger)
	}
	e.cfg = cfg
}

func (e *Encoder) snapshot() (config.FFmpegConfig, *BinaryDetector, *HardwareProber) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg, e.detector, e.hw
}

// Probe inspects a media file with ffprobe.
func (e *Encoder) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	_, detector, _ := e.snapshot()
	bin, err := detector.Detect(ctx)
	if err != nil {
		return nil, models.WrapPipelineError(models.ErrorKindEncoderUnavailable, err, "locating ffprobe")
	}
	info, err := NewProber(bin.FFprobePath).ProbeMedia(ctx, path)
	if err != nil {
		return nil, models.WrapPipelineError(models.ErrorKindEncoderFailed, err, "probing %s", filepath.Base(path))
	}
	return info, nil
}

// Family returns the configured target codec family.
func (e *Encoder) Family() codec.Family {
	cfg, _, _ := e.snapshot()
	family, _ := codec.FamilyForEncoder(cfg.VideoCodec)
	return family
}

// Select resolves which encoder a new encode would use right now,
// probing NVENC availability when the configuration asks for it.
func (e *Encoder) Select(ctx context.Context) (Selection, error) {
	cfg, _, hw := e.snapshot()
	return e.selectEncoder(ctx, cfg, hw)
}

func (e *Encoder) selectEncoder(ctx context.Context, cfg config.FFmpegConfig, hw *HardwareProber) (Selection, error) {
	family, ok := codec.FamilyForEncoder(cfg.VideoCodec)
	if !ok {
		return Selection{}, models.NewPipelineError(models.ErrorKindInvalidConfig, "unknown video codec %q", cfg.VideoCodec)
	}

	if !codec.IsHardwareEncoder(cfg.VideoCodec) || !cfg.GPUEnabled {
		return Selection{Encoder: family.SoftwareEncoder(), Family: family, Hardware: false}, nil
	}

	if err := hw.Available(ctx, family); err != nil {
		if cfg.ForceGPU {
			return Selection{}, models.WrapPipelineError(models.ErrorKindEncoderUnavailable, err,
				"%s unavailable and force_gpu is set", family.HardwareEncoder())
		}
		e.logger.Warn("falling back to software encoder",
			"hardware", family.HardwareEncoder(),
			"software", family.SoftwareEncoder(),
			"error", err)
		return Selection{Encoder: family.SoftwareEncoder(), Family: family, Hardware: false}, nil
	}
	return Selection{Encoder: family.HardwareEncoder(), Family: family, Hardware: true}, nil
}

// Encode transcodes input to output and verifies the result. A sentinel
// file marks the output as in-progress until the encode completes, so a
// crash mid-encode can be detected and cleaned up on the next start.
// Software encodes run two passes when two_pass is enabled; NVENC
// multipass happens inside a single invocation.
func (e *Encoder) Encode(ctx context.Context, input, output string, onProgress ProgressFunc) (*Result, error) {
	started := time.Now()
	cfg, detector, hw := e.snapshot()

	bin, err := detector.Detect(ctx)
	if err != nil {
		return nil, models.WrapPipelineError(models.ErrorKindEncoderUnavailable, err, "locating ffmpeg")
	}

	sel, err := e.selectEncoder(ctx, cfg, hw)
	if err != nil {
		return nil, err
	}

	info, err := NewProber(bin.FFprobePath).ProbeMedia(ctx, input)
	if err != nil {
		return nil, models.WrapPipelineError(models.ErrorKindEncoderFailed, err, "probing %s", filepath.Base(input))
	}
	if !info.HasVideo() {
		return nil, models.NewPipelineError(models.ErrorKindEncoderFailed, "no video stream in %s", filepath.Base(input))
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, models.WrapPipelineError(models.ErrorKindEncoderFailed, err, "creating output directory")
	}
	if err := WriteSentinel(output); err != nil {
		return nil, models.WrapPipelineError(models.ErrorKindEncoderFailed, err, "writing encode sentinel")
	}

	passes := []int{passSingle}
	if !sel.Hardware && cfg.TwoPass {
		passes = []int{passFirst, passSecond}
	}

	span := 100.0 / float64(len(passes))
	for i, pass := range passes {
		args := buildArgs(sel.Family, sel.Hardware, cfg, input, output, pass)
		cmd := NewCommand(bin.FFmpegPath, args, input, output)

		e.logger.Info("starting encode pass",
			"input", filepath.Base(input),
			"encoder", sel.Encoder,
			"pass", i+1,
			"passes", len(passes))
		e.logger.Debug("ffmpeg command", "command", cmd.String())

		err := e.runPass(ctx, cmd, cfg, sel.Hardware, info.DurationSecs, span*float64(i), span, onProgress)
		if err != nil {
			e.cleanupFailed(output)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if detail := cmd.LastStderr(); detail != "" {
				return nil, models.WrapPipelineError(models.ErrorKindEncoderFailed, err,
					"%s pass %d/%d: %s", sel.Encoder, i+1, len(passes), detail)
			}
			return nil, models.WrapPipelineError(models.ErrorKindEncoderFailed, err,
				"%s pass %d/%d", sel.Encoder, i+1, len(passes))
		}
	}
	removePassLogs(output)

	probed, err := NewProber(bin.FFprobePath).ProbeMedia(ctx, output)
	if err != nil {
		e.cleanupFailed(output)
		return nil, models.WrapPipelineError(models.ErrorKindEncoderFailed, err, "verifying encoded output")
	}
	if !sel.Family.Matches(probed.VideoCodec) {
		e.cleanupFailed(output)
		return nil, models.NewPipelineError(models.ErrorKindEncoderFailed,
			"output codec %q does not match target %s", probed.VideoCodec, sel.Family)
	}

	st, err := os.Stat(output)
	if err != nil {
		e.cleanupFailed(output)
		return nil, models.WrapPipelineError(models.ErrorKindEncoderFailed, err, "stat encoded output")
	}

	if err := ClearSentinel(output); err != nil {
		e.logger.Warn("clearing encode sentinel", "output", output, "error", err)
	}

	elapsed := time.Since(started)
	e.logger.Info("encode complete",
		"output", filepath.Base(output),
		"encoder", sel.Encoder,
		"size", st.Size(),
		"elapsed", elapsed.Round(time.Second).String())

	return &Result{
		OutputPath: output,
		OutputSize: st.Size(),
		Encoder:    sel.Encoder,
		Hardware:   sel.Hardware,
		Elapsed:    elapsed,
	}, nil
}

// runPass runs one ffmpeg invocation, pumping throttled progress
// callbacks and duty-cycling the process when a GPU limit applies.
// base and span map this pass onto the overall 0-100 range.
func (e *Encoder) runPass(ctx context.Context, cmd *Command, cfg config.FFmpegConfig, hardware bool, durationSecs, base, span float64, onProgress ProgressFunc) error {
	progressCh := make(chan Progress, 16)
	stop := make(chan struct{})
	var wg sync.WaitGroup

	if onProgress != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last time.Time
			for {
				select {
				case <-stop:
					return
				case p := <-progressCh:
					if time.Since(last) < progressInterval {
						continue
					}
					last = time.Now()
					onProgress(makeProgressUpdate(p, durationSecs, base, span))
				}
			}
		}()
	}

	throttleCtx, cancelThrottle := context.WithCancel(ctx)
	defer cancelThrottle()
	if hardware && cfg.GPULimit > 0 && cfg.GPULimit < 100 {
		e.logger.Info("limiting gpu encoder duty cycle", "gpu_limit", cfg.GPULimit)
		go throttleDutyCycle(throttleCtx, cmd, cfg.GPULimit)
	}

	e.setCurrent(cmd)
	go e.watchProcess(cmd, stop)

	err := cmd.RunWithProgress(ctx, progressCh)

	e.setCurrent(nil)
	e.stopMonitor()
	close(stop)
	wg.Wait()
	return err
}

// makeProgressUpdate converts a raw ffmpeg status line into percent and
// ETA terms. Percent is output time over input duration; ETA divides the
// remaining duration by the realtime speed factor.
func makeProgressUpdate(p Progress, durationSecs, base, span float64) ProgressUpdate {
	u := ProgressUpdate{FPS: p.FPS, Speed: p.Speed}
	if durationSecs <= 0 {
		return u
	}
	done := p.OutTime.Seconds()
	pct := done / durationSecs * 100
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	u.Percent = base + pct*span/100
	if p.Speed > 0 {
		remaining := durationSecs - done
		if remaining < 0 {
			remaining = 0
		}
		u.ETASeconds = int64(remaining / p.Speed)
	}
	return u
}

// throttleDutyCycle alternates SIGCONT and SIGSTOP over a one second
// window so the encoder occupies roughly limit percent of GPU time.
// The process is always resumed before returning.
func throttleDutyCycle(ctx context.Context, cmd *Command, limit int) {
	window := time.Second
	run := window * time.Duration(limit) / 100
	idle := window - run

	for {
		select {
		case <-ctx.Done():
			_ = cmd.Signal(syscall.SIGCONT)
			return
		case <-time.After(run):
		}
		if !cmd.IsRunning() {
			return
		}
		_ = cmd.Signal(syscall.SIGSTOP)
		select {
		case <-ctx.Done():
			_ = cmd.Signal(syscall.SIGCONT)
			return
		case <-time.After(idle):
		}
		_ = cmd.Signal(syscall.SIGCONT)
	}
}

// watchProcess attaches a resource monitor once the pass has a PID.
func (e *Encoder) watchProcess(cmd *Command, stop <-chan struct{}) {
	for i := 0; i < 50; i++ {
		select {
		case <-stop:
			return
		case <-time.After(100 * time.Millisecond):
		}
		if pid := cmd.PID(); pid > 0 {
			mon := NewProcessMonitor(pid)
			mon.Start()
			e.runMu.Lock()
			if e.current != cmd {
				e.runMu.Unlock()
				mon.Stop()
				return
			}
			e.monitor = mon
			e.runMu.Unlock()
			return
		}
	}
}

func (e *Encoder) setCurrent(cmd *Command) {
	e.runMu.Lock()
	e.current = cmd
	e.runMu.Unlock()
}

func (e *Encoder) stopMonitor() {
	e.runMu.Lock()
	mon := e.monitor
	e.monitor = nil
	e.runMu.Unlock()
	if mon != nil {
		mon.Stop()
	}
}

// cleanupFailed removes the partial output, its sentinel and any pass
// logs after a failed or cancelled encode.
func (e *Encoder) cleanupFailed(output string) {
	for _, p := range []string{output, SentinelPath(output)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("removing encode artefact", "path", p, "error", err)
		}
	}
	removePassLogs(output)
}

// removePassLogs deletes two-pass statistics files. libvpx appends
// "-0.log" to the prefix; x265 writes the stats file plus a cutree
// companion and .temp variants while flushing.
func removePassLogs(output string) {
	base := passLogPath(output)
	for _, p := range []string{
		base,
		base + "-0.log",
		base + ".temp",
		base + ".cutree",
		base + ".cutree.temp",
	} {
		_ = os.Remove(p)
	}
}

// Kill force-stops the running encode, if any.
func (e *Encoder) Kill() {
	e.runMu.Lock()
	cmd := e.current
	e.runMu.Unlock()
	if cmd != nil {
		_ = cmd.Kill()
	}
}

// Running reports whether an encode is in flight.
func (e *Encoder) Running() bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	return e.current != nil
}

// Stats returns resource usage of the running ffmpeg process.
func (e *Encoder) Stats() (ProcessStats, bool) {
	e.runMu.Lock()
	mon := e.monitor
	e.runMu.Unlock()
	if mon == nil {
		return ProcessStats{}, false
	}
	return mon.Stats(), true
}
