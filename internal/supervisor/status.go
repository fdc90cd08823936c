package supervisor

import (
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStatus reports this instance's own resource usage, mirroring the
// teacher's publishStatuses CPU/RSS fields but for the single controlling
// process rather than a per-camera worker fleet.
type ProcessStatus struct {
	CPUPercent  float64
	MemRSSBytes uint64
	MemPercent  float64
	Timestamp   time.Time
}

type ProcessStatusHook func(ProcessStatus)

// StatusPublisher periodically samples this process's CPU/RSS via gopsutil
// and reports it through hook, grounded on the teacher's
// runStatusLoop/publishStatuses pair.
type StatusPublisher struct {
	interval time.Duration
	hook     ProcessStatusHook
	proc     *process.Process
}

func NewStatusPublisher(interval time.Duration, hook ProcessStatusHook) *StatusPublisher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	var proc *process.Process
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		proc = p
	} else {
		log.Printf("[supervisor] could not attach gopsutil to own process: %v", err)
	}
	return &StatusPublisher{interval: interval, hook: hook, proc: proc}
}

// Run samples and reports at interval until ctx is cancelled.
func (p *StatusPublisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.publish(now)
		}
	}
}

func (p *StatusPublisher) publish(now time.Time) {
	if p.hook == nil {
		return
	}
	status := ProcessStatus{Timestamp: now}
	if p.proc != nil {
		if cpu, err := p.proc.CPUPercent(); err == nil {
			status.CPUPercent = cpu
		}
		if memInfo, err := p.proc.MemoryInfo(); err == nil {
			status.MemRSSBytes = memInfo.RSS
		}
		if memP, err := p.proc.MemoryPercent(); err == nil {
			status.MemPercent = float64(memP)
		}
	}
	p.hook(status)
}

// envDurationSeconds parses an integer-seconds env var into a Duration,
// mirroring the teacher's helper of the same name in supervisor.go.
func envDurationSeconds(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		log.Printf("[supervisor] invalid value for %s=%q, using default %s", key, v, fallback)
		return fallback
	}
	return time.Duration(sec) * time.Second
}
