package blockage

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyStarted is returned by Start when the watchdog is running.
	ErrAlreadyStarted = errors.New("blockage: watchdog already started")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("blockage: watchdog closed")

	// ErrInvalidArgument is returned by Start for a nil observer or a
	// non-positive interval or threshold.
	ErrInvalidArgument = errors.New("blockage: invalid argument")
)

// DefaultMaxStackBytes bounds the size of a delivered stack. Larger stacks
// are reported with HasStack false.
const DefaultMaxStackBytes = 1 << 20

// Engine is the script engine being monitored.
type Engine interface {
	// RequestInterrupt asks the engine to call handler on the script
	// goroutine at its next safe point. It must not block, and may be
	// called from any goroutine. There is no bound on how long the engine
	// takes to honour the request.
	RequestInterrupt(handler func())

	// CaptureStack returns at most limit frames of the currently executing
	// code, innermost first. It is only called from within a handler passed
	// to RequestInterrupt.
	CaptureStack(limit int) []Frame
}

// Report describes one observed blockage.
type Report struct {
	// Blockage is the estimated time the script goroutine went without a
	// heartbeat, corrected for detection latency.
	Blockage time.Duration

	// Stack is the formatted call stack captured during the blockage.
	Stack string

	// HasStack is false if the captured stack could not be delivered, or if
	// the blockage ended before the engine reached a safe point. Stack is
	// then empty. JavaScript receives null.
	HasStack bool
}

// Observer receives reports. It runs synchronously on the script goroutine,
// inside Heartbeat.
type Observer func(Report)

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watchdog) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMaxFrames bounds the frames captured per interrupt.
func WithMaxFrames(n int) Option {
	return func(w *Watchdog) {
		if n > 0 {
			w.maxFrames = n
		}
	}
}

// WithMaxStackBytes bounds the size of a delivered stack.
func WithMaxStackBytes(n int) Option {
	return func(w *Watchdog) {
		if n > 0 {
			w.maxStackBytes = n
		}
	}
}

// Watchdog monitors one Engine. Create it alongside the engine, and Close
// it when the engine is torn down.
type Watchdog struct {
	engine        Engine
	state         *state
	logger        *slog.Logger
	id            string
	maxFrames     int
	maxStackBytes int

	// mu guards started and closed, and orders Start against Close.
	mu      sync.Mutex
	started bool
	closed  bool

	// stop is closed by Close to cut the threshold sleep short.
	stop chan struct{}
	// done is closed when the watchdog goroutine returns.
	done chan struct{}
}

// New creates a Watchdog for engine. Nothing runs until Start.
func New(engine Engine, opts ...Option) *Watchdog {
	w := &Watchdog{
		engine:        engine,
		state:         newState(),
		logger:        slog.New(slog.DiscardHandler),
		id:            uuid.NewString(),
		maxFrames:     DefaultMaxFrames,
		maxStackBytes: DefaultMaxStackBytes,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("watchdog", w.id))
	return w
}

// ID identifies the watchdog in logs and reports.
func (w *Watchdog) ID() string {
	return w.id
}

// Start registers the observer and begins monitoring. Heartbeat must then
// be called roughly every interval. A blockage is detected once the gap
// between heartbeats exceeds threshold.
//
// Only one Start may succeed per Watchdog; later calls return
// ErrAlreadyStarted and change nothing.
func (w *Watchdog) Start(observer Observer, interval, threshold time.Duration) error {
	if observer == nil {
		return fmt.Errorf("%w: nil observer", ErrInvalidArgument)
	}
	if interval <= 0 || threshold <= 0 {
		return fmt.Errorf("%w: interval %v, threshold %v", ErrInvalidArgument, interval, threshold)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.started {
		return ErrAlreadyStarted
	}
	w.started = true

	s := w.state
	s.observer = observer
	s.interval = interval
	s.threshold = threshold
	// The engine may have been idle for a long time before Start.
	s.markHeartbeat(s.now())

	go w.run()

	w.logger.Info("watchdog started",
		slog.Duration("interval", interval),
		slog.Duration("threshold", threshold))
	return nil
}

// run is the watchdog goroutine.
func (w *Watchdog) run() {
	defer close(w.done)
	s := w.state
	timer := time.NewTimer(s.threshold)
	defer timer.Stop()

	for !s.shouldStop.Load() {
		select {
		case <-w.stop:
			return
		case <-timer.C:
		}
		if !w.cycle() {
			return
		}
		timer.Reset(s.threshold)
	}
}

// cycle runs one detection cycle after the threshold sleep. It returns
// false if the watchdog must exit.
func (w *Watchdog) cycle() bool {
	s := w.state

	// shouldStop is deliberately not checked here: the heartbeat may be
	// stale because teardown is under way, and the checks below cover it.
	elapsed := (s.now() - s.heartbeatAt()).Truncate(time.Millisecond)
	if elapsed <= s.threshold {
		return true
	}
	w.logger.Debug("missed heartbeat", slog.Duration("elapsed", elapsed))

	s.interruptDone.set(false)
	gen := s.requested.Add(1)
	w.engine.RequestInterrupt(func() { w.interrupt(gen) })
	if s.shouldStop.Load() {
		return false
	}

	s.interruptDone.wait(true)
	if s.answeredByHeartbeat.Swap(false) {
		// already reported, without a stack
		return true
	}

	s.stackReady.set(true)
	if s.shouldStop.Load() {
		return false
	}

	s.stackReady.wait(false)
	return true
}

// Close retires the watchdog goroutine, waiting for it to exit. It is safe
// to call from any goroutine, including the script goroutine, and more
// than once. A Watchdog that was never started has nothing to retire.
func (w *Watchdog) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	w.mu.Unlock()

	if !started {
		return nil
	}

	s := w.state
	s.shouldStop.Store(true)
	close(w.stop)
	// Release a watchdog waiting for an interrupt that may never run.
	s.interruptDone.set(true)
	// Release a watchdog waiting for a heartbeat that may never come.
	s.stackReady.set(false)

	<-w.done
	w.logger.Debug("watchdog stopped")
	return nil
}
