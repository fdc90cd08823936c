package export

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sua-org/scope-bus/internal/core"
	"github.com/sua-org/scope-bus/internal/events"
)

func TestManagerLaunchesOnNDImageEvents(t *testing.T) {
	var mu sync.Mutex
	var statuses []Status
	hook := func(s Status) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, s)
	}

	m := NewManager("true", nil, 0, hook)
	stream := events.NewStream(8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, stream)
		close(done)
	}()

	stream.Send(core.Event{Type: core.EventNDImageCreated, Value: "exp1", Time: time.Now()})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(statuses)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	got := append([]Status{}, statuses...)
	mu.Unlock()
	if len(got) < 2 {
		t.Fatalf("expected at least started+exited statuses, got %+v", got)
	}
	if got[0].State != "started" {
		t.Fatalf("expected first status started, got %q", got[0].State)
	}

	cancel()
	stream.Close()
	<-done
}

func TestManagerStopCancelsTrackedProcess(t *testing.T) {
	m := NewManager("sleep", []string{"5"}, 0, nil)
	m.launch("exp1")

	m.mu.Lock()
	_, tracked := m.procs["exp1"]
	m.mu.Unlock()
	if !tracked {
		t.Fatalf("expected exp1 to be tracked after launch")
	}

	m.Stop("exp1", "test stop")
	time.Sleep(20 * time.Millisecond)
}
