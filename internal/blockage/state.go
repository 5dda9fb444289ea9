package blockage

import (
	"sync"
	"sync/atomic"
	"time"
)

// flag is a boolean that can be waited on.
//
// Writes happen under mu so a waiter can never miss a transition between
// checking the value and parking on cond. Reads that only need visibility
// use the atomic directly.
type flag struct {
	mu    sync.Mutex
	cond  *sync.Cond
	value atomic.Bool
}

func newFlag() *flag {
	f := new(flag)
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *flag) load() bool {
	return f.value.Load()
}

// set stores v and wakes every waiter.
func (f *flag) set(v bool) {
	f.mu.Lock()
	f.value.Store(v)
	f.mu.Unlock()
	f.cond.Broadcast()
}

// wait blocks until the flag equals want.
func (f *flag) wait(want bool) {
	f.mu.Lock()
	for f.value.Load() != want {
		f.cond.Wait()
	}
	f.mu.Unlock()
}

// state is the record shared by the watchdog goroutine and the script
// goroutine for one monitored engine.
type state struct {
	// anchor holds the monotonic clock reading that lastHeartbeat is
	// relative to. Immutable.
	anchor time.Time

	// lastHeartbeat is nanoseconds since anchor. Written by Heartbeat (and
	// Start), read by the watchdog.
	lastHeartbeat atomic.Int64

	shouldStop atomic.Bool

	// interruptDone is false while an interrupt is requested but has not
	// yet run.
	interruptDone *flag

	// stackReady is true while a captured stack awaits Heartbeat.
	stackReady *flag

	// requested numbers the interrupt requests. Written by the watchdog.
	requested atomic.Uint64

	// served is the last request answered, either by the interrupt handler
	// or by Heartbeat. Script goroutine only.
	served uint64

	// answeredByHeartbeat is set when Heartbeat answered a request before
	// the engine reached a safe point, leaving no stack to hand over.
	answeredByHeartbeat atomic.Bool

	// stack is written by the interrupt handler only while stackReady is
	// false, and read then cleared by Heartbeat only while it is true.
	stack []byte

	// set once by Start, before the watchdog goroutine exists
	interval  time.Duration
	threshold time.Duration
	observer  Observer

	// now returns the time since anchor; replaced in tests.
	now func() time.Duration
}

func newState() *state {
	s := &state{
		anchor:        time.Now(),
		interruptDone: newFlag(),
		stackReady:    newFlag(),
	}
	s.now = s.sinceAnchor
	s.lastHeartbeat.Store(int64(s.now()))
	return s
}

func (s *state) sinceAnchor() time.Duration {
	return time.Since(s.anchor)
}

func (s *state) heartbeatAt() time.Duration {
	return time.Duration(s.lastHeartbeat.Load())
}

func (s *state) markHeartbeat(now time.Duration) {
	s.lastHeartbeat.Store(int64(now))
}
