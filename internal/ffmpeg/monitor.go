package ffmpeg

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats is a resource snapshot of a running encode process.
type ProcessStats struct {
	PID            int32     `json:"pid"`
	CPUPercent     float64   `json:"cpu_percent"`
	MemoryRSSBytes uint64    `json:"memory_rss_bytes"`
	MemoryPercent  float32   `json:"memory_percent"`
	StartedAt      time.Time `json:"started_at"`
	Duration       string    `json:"duration"`
	LastUpdated    time.Time `json:"last_updated"`
}

// ProcessMonitor samples resource usage of an ffmpeg process while it
// runs. Sampling errors are expected near process exit and are ignored.
type ProcessMonitor struct {
	pid       int32
	startedAt time.Time
	interval  time.Duration

	mu    sync.RWMutex
	stats ProcessStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a monitor for the given pid.
func NewProcessMonitor(pid int) *ProcessMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessMonitor{
		pid:       int32(pid),
		startedAt: time.Now(),
		interval:  time.Second,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins sampling.
func (pm *ProcessMonitor) Start() {
	pm.wg.Add(1)
	go pm.loop()
}

// Stop ends sampling and waits for the loop to exit.
func (pm *ProcessMonitor) Stop() {
	pm.cancel()
	pm.wg.Wait()
}

// Stats returns the latest snapshot.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.stats
}

func (pm *ProcessMonitor) loop() {
	defer pm.wg.Done()

	proc, err := process.NewProcessWithContext(pm.ctx, pm.pid)
	if err != nil {
		return
	}

	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	pm.sample(proc)
	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.sample(proc)
		}
	}
}

func (pm *ProcessMonitor) sample(proc *process.Process) {
	now := time.Now()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.stats.PID = pm.pid
	pm.stats.StartedAt = pm.startedAt
	pm.stats.Duration = now.Sub(pm.startedAt).Round(time.Second).String()
	pm.stats.LastUpdated = now

	if cpu, err := proc.CPUPercentWithContext(pm.ctx); err == nil {
		pm.stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(pm.ctx); err == nil && mem != nil {
		pm.stats.MemoryRSSBytes = mem.RSS
	}
	if pct, err := proc.MemoryPercentWithContext(pm.ctx); err == nil {
		pm.stats.MemoryPercent = pct
	}
}
