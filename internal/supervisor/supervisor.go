// Package supervisor implements the experiment supervisor of spec.md §4.8:
// the at-most-one-active-task slot that owns channel control and both
// acquisition tasks, translates task failures into events, and tracks
// device readiness in the background. Adapted from the teacher's
// internal/supervisor/supervisor.go (one worker per camera, status loop,
// uplink/engine wiring) generalized from "one worker per camera" to "one
// task slot for the whole instrument".
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/sua-org/scope-bus/internal/channel"
	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/events"
	"github.com/sua-org/scope-bus/internal/graph"
	"github.com/sua-org/scope-bus/internal/tasks"
)

type taskHandle struct {
	done chan struct{}
	err  error
}

// Supervisor serializes live view and multi-channel acquisition onto a
// single active-task slot, per spec.md §4.8.
type Supervisor struct {
	events.Sender

	hub     *graph.Hub
	control *channel.Control
	live    *tasks.LiveViewTask
	multi   *tasks.MultiChannelTask

	required []string

	mu          sync.Mutex
	busy        bool
	multiHandle *taskHandle

	readyMu      sync.Mutex
	everyPresent bool
}

func New(hub *graph.Hub, control *channel.Control, live *tasks.LiveViewTask, multi *tasks.MultiChannelTask, requiredDevices []string) *Supervisor {
	return &Supervisor{
		hub:      hub,
		control:  control,
		live:     live,
		multi:    multi,
		required: requiredDevices,
	}
}

// Control, LiveView, and MultiChannel expose the owned collaborators for
// callers (e.g. the MQTT bridge or an API facade) that need to inspect
// preset names or the live view frame without reaching into the hub
// directly.
func (s *Supervisor) Control() *channel.Control         { return s.control }
func (s *Supervisor) LiveView() *tasks.LiveViewTask      { return s.live }
func (s *Supervisor) MultiChannel() *tasks.MultiChannelTask { return s.multi }

// StartLiveView is idempotent: starting while already live returns nil;
// starting while the multi-channel task is running fails FailedPrecondition.
func (s *Supervisor) StartLiveView(ctx context.Context) error {
	if s.live.IsRunning() {
		return nil
	}
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return core.Errorf(core.FailedPrecondition, "Supervisor.StartLiveView", "another task is running")
	}
	s.busy = true
	s.mu.Unlock()

	if err := s.live.Start(ctx); err != nil {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
		s.reportFailure(err)
		return err
	}
	return nil
}

// StopLiveView is a no-op if nothing is running.
func (s *Supervisor) StopLiveView(ctx context.Context) error {
	if !s.live.IsRunning() {
		return nil
	}
	err := s.live.Stop(ctx)
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
	if err != nil {
		s.reportFailure(err)
	}
	return err
}

// AcquireMultiChannel launches the task asynchronously and stores its
// handle for WaitMultiChannel, failing FailedPrecondition if busy.
func (s *Supervisor) AcquireMultiChannel(ctx context.Context, imageName string, requests []channel.Request, userMetadata map[string]interface{}) error {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return core.Errorf(core.FailedPrecondition, "Supervisor.AcquireMultiChannel", "another task is running")
	}
	s.busy = true
	h := &taskHandle{done: make(chan struct{})}
	s.multiHandle = h
	s.mu.Unlock()

	go func() {
		err := s.multi.Acquire(ctx, imageName, requests, userMetadata)
		h.err = err
		close(h.done)

		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()

		if err != nil {
			s.reportFailure(err)
		}
	}()
	return nil
}

// WaitMultiChannel joins and propagates the most recently launched
// acquisition's result.
func (s *Supervisor) WaitMultiChannel(ctx context.Context) error {
	s.mu.Lock()
	h := s.multiHandle
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return core.Wrap(core.Cancelled, "Supervisor.WaitMultiChannel", ctx.Err())
	}
}

func (s *Supervisor) reportFailure(err error) {
	s.Emit(core.Event{Type: core.EventTaskStateChanged, Value: string(core.TaskError), Time: time.Now()})
	s.Emit(core.Event{Type: core.EventTaskMessage, Value: err.Error(), Time: time.Now()})
}

// WatchDeviceReadiness subscribes to the hub's connection-state events and
// emits TaskStateChanged("Ready") exactly when the required device set
// transitions from "one or more missing" to "all present", per spec.md
// §4.8. Run as a background goroutine; returns when ctx is cancelled or
// stream is closed.
func (s *Supervisor) WatchDeviceReadiness(ctx context.Context, stream *events.Stream) {
	s.hub.Subscribe(stream, nil)
	s.checkReadiness()
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
		if e.Type == core.EventDeviceConnectionStateChanged {
			s.checkReadiness()
		}
	}
}

func (s *Supervisor) checkReadiness() {
	connected := make(map[string]bool)
	for _, name := range s.hub.ListConnected() {
		connected[name] = true
	}
	allPresent := true
	for _, name := range s.required {
		if !connected[name] {
			allPresent = false
			break
		}
	}

	s.readyMu.Lock()
	transitioned := allPresent && !s.everyPresent
	s.everyPresent = allPresent
	s.readyMu.Unlock()

	if transitioned {
		s.Emit(core.Event{Type: core.EventTaskStateChanged, Value: string(core.TaskReady), Time: time.Now()})
	}
}
