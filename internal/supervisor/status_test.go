package supervisor

import (
	"context"
	"testing"
	"time"
)

func TestStatusPublisherPublishesOnInterval(t *testing.T) {
	got := make(chan ProcessStatus, 4)
	p := NewStatusPublisher(20*time.Millisecond, func(s ProcessStatus) { got <- s })

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	select {
	case s := <-got:
		if s.Timestamp.IsZero() {
			t.Fatalf("expected non-zero timestamp")
		}
	default:
		t.Fatalf("expected at least one status sample")
	}
}

func TestEnvDurationSecondsFallsBackOnInvalid(t *testing.T) {
	t.Setenv("SCOPEBUS_TEST_INTERVAL", "not-a-number")
	got := envDurationSeconds("SCOPEBUS_TEST_INTERVAL", 7*time.Second)
	if got != 7*time.Second {
		t.Fatalf("expected fallback 7s, got %s", got)
	}
}

func TestEnvDurationSecondsParsesValid(t *testing.T) {
	t.Setenv("SCOPEBUS_TEST_INTERVAL", "5")
	got := envDurationSeconds("SCOPEBUS_TEST_INTERVAL", 7*time.Second)
	if got != 5*time.Second {
		t.Fatalf("expected 5s, got %s", got)
	}
}
