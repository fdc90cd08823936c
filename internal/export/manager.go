// Package export implements the post-acquisition subprocess pipeline hook,
// adapted from the teacher's internal/uplink package (ffmpeg subprocess
// lifecycle keyed by camera) and repurposed to launch an external
// post-processing job — a TIFF finalizer, a segmentation/quantification
// batch job, anything spec.md §1 names as an out-of-scope external
// collaborator — keyed by completed NDImage name instead of camera key.
package export

import (
	"context"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/events"
)

const defaultBin = "echo"

// Manager tracks at most one running export subprocess per NDImage name,
// mirroring uplink.Manager's one-ffmpeg-per-camera-key bookkeeping.
type Manager struct {
	bin  string
	args []string
	ttl  time.Duration
	hook StatusHook

	mu    sync.Mutex
	procs map[string]*exportProcess
}

type exportProcess struct {
	imageName string
	cancel    context.CancelFunc
	cmd       *exec.Cmd
	ttlTimer  *time.Timer
}

// NewManager builds an export manager that runs bin(args..., imageName) for
// every completed NDImage, auto-stopping it after ttl (0 disables the TTL)
// and reporting lifecycle transitions through hook (may be nil).
func NewManager(bin string, args []string, ttl time.Duration, hook StatusHook) *Manager {
	if bin == "" {
		bin = defaultBin
	}
	return &Manager{bin: bin, args: args, ttl: ttl, hook: hook, procs: make(map[string]*exportProcess)}
}

// Run consumes NDImageCreated/NDImageChanged events from stream until it is
// closed or ctx is cancelled, launching or refreshing an export subprocess
// per image name, and stops every tracked process on exit.
func (m *Manager) Run(ctx context.Context, stream *events.Stream) {
	defer m.stopAll("shutdown")
	for {
		e, ok := stream.Recv()
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		switch e.Type {
		case core.EventNDImageCreated, core.EventNDImageChanged:
			m.launch(e.Value)
		}
	}
}

func (m *Manager) launch(imageName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.procs[imageName]; ok {
		m.refreshTTL(existing)
		return
	}

	args := append(append([]string{}, m.args...), imageName)
	cmdCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(cmdCtx, m.bin, args...)

	if err := cmd.Start(); err != nil {
		cancel()
		m.report(Status{ImageName: imageName, Command: m.commandLine(args), State: "failed_to_start", Error: err.Error(), Timestamp: time.Now()})
		return
	}

	proc := &exportProcess{imageName: imageName, cancel: cancel, cmd: cmd}
	m.procs[imageName] = proc
	m.refreshTTL(proc)
	m.report(Status{ImageName: imageName, Command: m.commandLine(args), State: "started", Timestamp: time.Now()})

	go func() {
		err := cmd.Wait()
		exitCode := 0
		state := "exited"
		errMsg := ""
		if err != nil {
			state = "failed"
			errMsg = err.Error()
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			}
		}
		m.mu.Lock()
		if current, ok := m.procs[imageName]; ok && current == proc {
			delete(m.procs, imageName)
		}
		m.mu.Unlock()
		m.report(Status{ImageName: imageName, Command: m.commandLine(args), State: state, ExitCode: exitCode, Error: errMsg, Timestamp: time.Now()})
	}()
}

func (m *Manager) refreshTTL(proc *exportProcess) {
	if proc.ttlTimer != nil {
		proc.ttlTimer.Stop()
		proc.ttlTimer = nil
	}
	if m.ttl <= 0 {
		return
	}
	proc.ttlTimer = time.AfterFunc(m.ttl, func() {
		m.Stop(proc.imageName, "ttl expired")
	})
}

// Stop cancels the export subprocess tracked for imageName, if any.
func (m *Manager) Stop(imageName, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	proc, ok := m.procs[imageName]
	if !ok {
		return
	}
	m.stopProcessLocked(proc, reason)
	delete(m.procs, imageName)
}

func (m *Manager) stopAll(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, proc := range m.procs {
		m.stopProcessLocked(proc, reason)
		delete(m.procs, name)
	}
}

func (m *Manager) stopProcessLocked(proc *exportProcess, reason string) {
	if proc.ttlTimer != nil {
		proc.ttlTimer.Stop()
	}
	log.Printf("[export] stopping %s: %s", proc.imageName, reason)
	proc.cancel()
}

func (m *Manager) report(s Status) {
	if m.hook != nil {
		m.hook(s)
	}
}

func (m *Manager) commandLine(args []string) string {
	return m.bin + " " + strings.Join(args, " ")
}
