package scripting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"github.com/joeycumines/goja-blocked-at/internal/goroutineid"
)

var (
	// ErrNotRunning is returned for operations on a runtime that was closed.
	ErrNotRunning = errors.New("event loop not running")

	// ErrClosed is the value scripts are interrupted with when the runtime
	// is closed underneath them.
	ErrClosed = errors.New("runtime closed")
)

// DefaultSyncTimeout is the maximum duration to wait for RunOnLoopSync operations.
const DefaultSyncTimeout = 5 * time.Second

// Runtime provides a goja runtime driven by a goja_nodejs event loop. The
// loop goroutine is the script goroutine: all goja.Runtime access MUST
// happen via RunOnLoop and friends.
//
// Runtime is also the engine seen by the blockage watchdog. It honours
// interrupt requests at safe points: every read of the JavaScript clock,
// and every explicit SafePoint call from Go host functions.
//
// Usage:
//
//	rt, err := NewRuntime(ctx)
//	if err != nil { ... }
//	defer rt.Close()
//
//	err = rt.RunOnLoopSync(func(vm *goja.Runtime) error {
//	    _, err := vm.RunString("console.log('hello')")
//	    return err
//	})
type Runtime struct {
	loop     *eventloop.EventLoop
	registry *require.Registry
	logger   *slog.Logger

	// vm is only touched on the loop goroutine, except for Interrupt.
	vm *goja.Runtime

	// timeout is the maximum duration to wait for RunOnLoopSync operations.
	// Set to 0 to disable timeout (not recommended).
	timeout time.Duration

	// loopOwner is claimed by the loop goroutine at initialization, for
	// deadlock prevention and safe point assertions.
	loopOwner goroutineid.Owner

	interruptMu      sync.Mutex
	interrupts       []func()
	interruptPending atomic.Bool

	// Loop goroutine only. See trackTimers.
	pendingTimers map[any]struct{}
	settled       []chan struct{}

	// mu protects started/stopped state and the cleanup hooks
	mu      sync.RWMutex
	started bool
	stopped bool
	hooks   []func() error
	// closed is closed once the first Close has stopped the loop.
	closed chan struct{}

	// ctx is the lifecycle context for Done() channel
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

// WithSyncTimeout overrides DefaultSyncTimeout.
func WithSyncTimeout(timeout time.Duration) Option {
	return func(rt *Runtime) {
		rt.timeout = timeout
	}
}

// NewRuntime creates a new Runtime with an initialized event loop.
// The event loop is automatically started and runs in a background goroutine.
// Call Close() when done to clean up resources.
//
// The provided context controls lifecycle - when canceled, the runtime stops.
func NewRuntime(ctx context.Context, opts ...Option) (*Runtime, error) {
	childCtx, cancel := context.WithCancel(context.Background())

	rt := &Runtime{
		logger:  slog.New(slog.DiscardHandler),
		timeout: DefaultSyncTimeout,
		ctx:     childCtx,
		cancel:  cancel,
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rt)
	}
	rt.registry = require.NewRegistry()

	rt.loop = eventloop.NewEventLoop(
		eventloop.WithRegistry(rt.registry),
		eventloop.EnableConsole(true),
	)

	rt.loop.Start()
	rt.mu.Lock()
	rt.started = true
	rt.mu.Unlock()

	// Claim the loop goroutine and hook the JS clock.
	initDone := make(chan error, 1)
	ok := rt.loop.RunOnLoop(func(vm *goja.Runtime) {
		rt.loopOwner.Claim()
		rt.vm = vm
		vm.SetTimeSource(rt.clock)
		initDone <- rt.trackTimers(vm)
	})
	if !ok {
		cancel()
		return nil, fmt.Errorf("failed to initialize: %w", ErrNotRunning)
	}
	if err := <-initDone; err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}

	// Handle external context cancellation
	if ctx.Done() != nil {
		context.AfterFunc(ctx, func() {
			_ = rt.Close()
		})
	}

	return rt, nil
}

// Registry returns the require.Registry for module registration.
// Modules must be registered before any script that uses them is executed.
func (rt *Runtime) Registry() *require.Registry {
	return rt.registry
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *slog.Logger {
	return rt.logger
}

// AddCleanupHook registers fn to run when the runtime is closed, before the
// event loop stops. Hooks run in reverse registration order. Hooks added
// after Close are run immediately.
func (rt *Runtime) AddCleanupHook(fn func() error) {
	rt.mu.Lock()
	if !rt.stopped {
		rt.hooks = append(rt.hooks, fn)
		rt.mu.Unlock()
		return
	}
	rt.mu.Unlock()
	if err := fn(); err != nil {
		rt.logger.Warn("cleanup hook failed", slog.Any("error", err))
	}
}

// Close runs the cleanup hooks, interrupts any running script, and stops
// the event loop. It's safe to call multiple times, from any goroutine.
// Off the loop goroutine, every call returns only once the loop has
// stopped. After Close is called, Done() channel will be closed.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	if rt.stopped {
		rt.mu.Unlock()
		if !rt.loopOwner.Owns() {
			<-rt.closed
		}
		return nil
	}
	rt.stopped = true
	hooks := rt.hooks
	rt.hooks = nil
	rt.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i](); err != nil {
			errs = append(errs, err)
		}
	}

	// Cancel the lifecycle context BEFORE stopping the loop
	// This ensures any goroutines waiting on Done() will unblock
	rt.cancel()

	if rt.loopOwner.Owns() {
		// Stop is synchronous and cannot complete from inside a job.
		rt.loop.StopNoWait()
	} else {
		// A script that never yields would otherwise hold the loop forever.
		rt.vm.Interrupt(ErrClosed)
		rt.loop.Terminate()
	}
	close(rt.closed)

	return errors.Join(errs...)
}

// Done returns a channel that is closed when the runtime is stopped.
func (rt *Runtime) Done() <-chan struct{} {
	return rt.ctx.Done()
}

// IsRunning returns true if the runtime is running (started and not stopped).
func (rt *Runtime) IsRunning() bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.started && !rt.stopped
}

// OnLoop reports whether the caller is running on the loop goroutine.
func (rt *Runtime) OnLoop() bool {
	return rt.loopOwner.Owns()
}

// RunOnLoop schedules a function to run on the event loop goroutine.
// Returns false if the event loop is not running.
//
// IMPORTANT: All goja.Runtime operations must happen inside this callback.
// The goja.Runtime passed to the callback must not be used outside the callback.
func (rt *Runtime) RunOnLoop(fn func(*goja.Runtime)) bool {
	if !rt.IsRunning() {
		return false
	}
	return rt.loop.RunOnLoop(fn)
}

// RunOnLoopSync schedules a function on the event loop and waits for completion.
// Returns an error if the event loop is not running or stops while waiting.
// If configured, will timeout after the Runtime's timeout duration.
func (rt *Runtime) RunOnLoopSync(fn func(*goja.Runtime) error) error {
	rt.mu.RLock()
	if !rt.started || rt.stopped {
		rt.mu.RUnlock()
		return ErrNotRunning
	}
	timeout := rt.timeout
	rt.mu.RUnlock()

	errCh := make(chan error, 1)
	ok := rt.loop.RunOnLoop(func(vm *goja.Runtime) {
		errCh <- fn(vm)
	})
	if !ok {
		return ErrNotRunning
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case err := <-errCh:
		return err
	case <-rt.Done():
		return errors.New("runtime stopped before completion")
	case <-timeoutCh:
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}

// SetInterval calls fn on the loop every interval until ClearInterval.
// It may be called from any goroutine, including the loop.
func (rt *Runtime) SetInterval(fn func(*goja.Runtime), interval time.Duration) *eventloop.Interval {
	return rt.loop.SetInterval(fn, interval)
}

// ClearInterval cancels an interval returned by SetInterval.
func (rt *Runtime) ClearInterval(i *eventloop.Interval) {
	rt.loop.ClearInterval(i)
}

// LoadScript compiles and runs JavaScript code in the runtime.
// Returns an error if the code fails to compile or execute.
func (rt *Runtime) LoadScript(name, code string) error {
	return rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		prg, err := goja.Compile(name, code, false)
		if err != nil {
			return fmt.Errorf("failed to compile %s: %w", name, err)
		}
		if _, err := vm.RunProgram(prg); err != nil {
			return fmt.Errorf("failed to run %s: %w", name, err)
		}
		return nil
	})
}

// SetGlobal sets a global variable in the JavaScript runtime.
func (rt *Runtime) SetGlobal(name string, value any) error {
	return rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		return vm.Set(name, value)
	})
}

// GetGlobal retrieves a global variable from the JavaScript runtime.
// Returns nil if the variable doesn't exist.
func (rt *Runtime) GetGlobal(name string) (any, error) {
	var result any
	err := rt.RunOnLoopSync(func(vm *goja.Runtime) error {
		val := vm.Get(name)
		if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
			return nil
		}
		result = val.Export()
		return nil
	})
	return result, err
}
