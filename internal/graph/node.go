// Package graph implements the property-graph abstraction of spec.md §4.1,
// §4.3: per-property state machines (Node), the devices that own them, and
// the hub that fans requests out across devices. Grounded on
// original_source/src/device/device.{h,cpp} and
// original_source/src/device/prior/prior_proscan.h's PropertyNode.
package graph

import (
	"context"
	"sync"
	"time"

	"github.com/sua-org/scope-bus/internal/core"
)

// Value is an opaque device-native property value (spec.md §3): the core
// treats it as a string token except for equality.
type Value = string

// Getter reads the live value of a property from its owning device.
type Getter func(ctx context.Context) (Value, error)

// Setter dispatches a write of a property to its owning device. It returns
// once the device has accepted the request; it must not block until the
// device confirms completion (spec.md §4.1 "set is fire-and-forget").
type Setter func(ctx context.Context, v Value) error

// Node is one PropertyNode: a per-(device,property) state machine with a
// cached snapshot, pending-set tracking, and a wait primitive tied to the
// pending set clearing.
type Node struct {
	Name        string
	Description string
	Options     []string
	Readable    bool
	Writable    bool

	get Getter
	set Setter

	mu          sync.RWMutex
	valid       bool
	snapValue   Value
	snapSet     bool
	snapTime    time.Time
	pendingSet  *Value
	cond        *sync.Cond
}

// NewNode creates a property node. get/set may be nil for a node that is
// not readable/writable respectively.
func NewNode(name, description string, readable, writable bool, options []string, get Getter, set Setter) *Node {
	n := &Node{
		Name:        name,
		Description: description,
		Options:     options,
		Readable:    readable,
		Writable:    writable,
		get:         get,
		set:         set,
	}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// MarkValid flips Valid to true; it becomes true only once the owning
// device has connected and enumerated the node successfully (spec.md §3
// invariant).
func (n *Node) MarkValid() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.valid = true
}

func (n *Node) Valid() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.valid
}

// GetSnapshot is a pure read of the cached value; it never touches the
// device and always succeeds, per spec.md §4.1.
func (n *Node) GetSnapshot() (Value, time.Time, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.snapValue, n.snapTime, n.snapSet
}

// recordObservation updates the snapshot and pending-set state for a newly
// observed value. It returns the events that must be emitted by the caller
// (outside the node's own lock), preserving P2/P3 of spec.md §8.
type observationEvents struct {
	valueChanged      bool
	operationComplete bool
	completedValue    Value
}

func (n *Node) recordObservation(v Value, now time.Time) observationEvents {
	n.mu.Lock()
	defer n.mu.Unlock()

	var ev observationEvents
	if !n.snapSet || n.snapValue != v {
		n.snapValue = v
		n.snapSet = true
		n.snapTime = now
		ev.valueChanged = true
	} else {
		// Equal consecutive values never generate an event (P3), but the
		// timestamp still advances monotonically if it is later.
		if now.After(n.snapTime) {
			n.snapTime = now
		}
	}

	if n.pendingSet != nil && *n.pendingSet == v {
		n.pendingSet = nil
		ev.operationComplete = true
		ev.completedValue = v
		n.cond.Broadcast()
	}
	return ev
}

// Get reads the live value from the device, updates the snapshot, and
// reports which events the caller should emit.
func (n *Node) Get(ctx context.Context) (Value, observationEvents, error) {
	if n.get == nil {
		return "", observationEvents{}, core.Errorf(core.InvalidArgument, "Node.Get", "property %q is not readable", n.Name)
	}
	v, err := n.get(ctx)
	if err != nil {
		return "", observationEvents{}, err
	}
	return v, n.recordObservation(v, time.Now()), nil
}

// Set dispatches a write and records the pending value. It returns as soon
// as the driver accepts the request; completion is detected later via Get
// or a driver-pushed observation (ObserveExternal).
func (n *Node) Set(ctx context.Context, v Value) error {
	if n.set == nil {
		return core.Errorf(core.InvalidArgument, "Node.Set", "property %q is not writable", n.Name)
	}
	if err := n.set(ctx, v); err != nil {
		return err
	}
	n.mu.Lock()
	pv := v
	n.pendingSet = &pv
	n.mu.Unlock()
	return nil
}

// ObserveExternal feeds a value observed out-of-band (a poll loop or a
// vendor callback) into the same snapshot/pending-set machinery Get uses.
// This is how motion-bit fan-out and pseudo-property forwarding clear a
// pending set without another explicit Get call.
func (n *Node) ObserveExternal(v Value) observationEvents {
	return n.recordObservation(v, time.Now())
}

// PendingSet reports the outstanding set value, if any.
func (n *Node) PendingSet() (Value, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.pendingSet == nil {
		return "", false
	}
	return *n.pendingSet, true
}

// ClearPendingSet forces the pending-set to clear without a matching
// observation (used by drivers that need to give up on a stuck set, e.g.
// on disconnect). It does not emit OperationComplete.
func (n *Node) ClearPendingSet() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pendingSet = nil
	n.cond.Broadcast()
}

// WaitUntil blocks until the pending set clears or the deadline passes. If
// there is no pending set on entry, it returns immediately.
func (n *Node) WaitUntil(ctx context.Context, deadline time.Time) error {
	n.mu.Lock()
	if n.pendingSet == nil {
		n.mu.Unlock()
		return nil
	}

	done := make(chan struct{})
	go func() {
		n.mu.Lock()
		for n.pendingSet != nil {
			n.cond.Wait()
		}
		n.mu.Unlock()
		close(done)
	}()
	n.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return core.Errorf(core.DeadlineExceeded, "Node.WaitUntil", "property %q did not confirm within deadline", n.Name)
	case <-ctx.Done():
		// The caller moves on; the waiting goroutine stays blocked in
		// cond.Wait until pendingSet clears (a matching observation or
		// ClearPendingSet), and only then exits. This is an accepted
		// bounded leak, matched by the teacher's own fire-and-forget
		// goroutines.
		return core.Wrap(core.Cancelled, "Node.WaitUntil", ctx.Err())
	}
}
