// Package blockedat exposes the blockage watchdog to JavaScript.
//
// Two modules are registered per runtime:
//
//	const blockedAt = require('blocked-at');
//	blockedAt((durationMs, stack) => { ... }, {interval: 50, threshold: 100});
//
// and the lower level 'blocked-at:native', exporting startWatchdog and
// heartbeat, for hosts that drive the heartbeat themselves.
package blockedat

import (
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/goja-blocked-at/internal/blockage"
	"github.com/joeycumines/goja-blocked-at/internal/scripting"
)

const (
	// ModuleName is the validating wrapper that also schedules heartbeats.
	ModuleName = "blocked-at"
	// NativeModuleName exports startWatchdog and heartbeat.
	NativeModuleName = "blocked-at:native"
)

// maxSafeInteger is Number.MAX_SAFE_INTEGER.
const maxSafeInteger = 1<<53 - 1

// Module is the per-runtime state behind both JavaScript modules.
type Module struct {
	rt       *scripting.Runtime
	watchdog *blockage.Watchdog
	logger   *slog.Logger
}

// Register creates the watchdog for rt, ties its teardown to rt.Close, and
// registers the modules with rt's registry.
func Register(rt *scripting.Runtime, opts ...blockage.Option) *Module {
	logger := rt.Logger()
	opts = append([]blockage.Option{blockage.WithLogger(logger)}, opts...)
	m := &Module{
		rt:       rt,
		watchdog: blockage.New(rt, opts...),
		logger:   logger,
	}
	rt.AddCleanupHook(m.watchdog.Close)
	rt.Registry().RegisterNativeModule(NativeModuleName, m.RequireNative)
	rt.Registry().RegisterNativeModule(ModuleName, m.Require)
	return m
}

// Watchdog returns the watchdog monitoring the runtime.
func (m *Module) Watchdog() *blockage.Watchdog {
	return m.watchdog
}

// Start starts the watchdog with a Go observer and schedules heartbeats on
// the runtime's loop, the same way the JavaScript module does.
func (m *Module) Start(observer blockage.Observer, interval, threshold time.Duration) error {
	if err := m.watchdog.Start(observer, interval, threshold); err != nil {
		return err
	}
	m.rt.SetInterval(m.heartbeat, interval)
	return nil
}

func (m *Module) heartbeat(*goja.Runtime) {
	m.watchdog.Heartbeat()
}

// Flush runs one heartbeat on the loop, so a blockage that ended after the
// last scheduled heartbeat is reported before the runtime is torn down.
func (m *Module) Flush() error {
	return m.rt.RunOnLoopSync(func(*goja.Runtime) error {
		m.watchdog.Heartbeat()
		return nil
	})
}

// RequireNative loads 'blocked-at:native'.
//
// startWatchdog(callback, intervalMs, thresholdMs) returns false if the
// watchdog was already started, and throws a TypeError for bad arguments.
// heartbeat() must be called about every intervalMs.
//
// There is no stopWatchdog: the watchdog lives as long as the runtime.
func (m *Module) RequireNative(runtime *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)

	_ = exports.Set("startWatchdog", func(call goja.FunctionCall) goja.Value {
		callback, ok := goja.AssertFunction(call.Argument(0))
		interval, intervalOK := millis(call.Argument(1))
		threshold, thresholdOK := millis(call.Argument(2))
		if !ok || !intervalOK || !thresholdOK {
			panic(runtime.NewTypeError("bad arguments"))
		}
		err := m.watchdog.Start(m.jsObserver(runtime, callback), interval, threshold)
		switch {
		case err == nil:
			return runtime.ToValue(true)
		case errors.Is(err, blockage.ErrAlreadyStarted), errors.Is(err, blockage.ErrClosed):
			return runtime.ToValue(false)
		default:
			panic(runtime.NewTypeError(err.Error()))
		}
	})

	_ = exports.Set("heartbeat", func(goja.FunctionCall) goja.Value {
		m.watchdog.Heartbeat()
		return goja.Undefined()
	})
}

// Require loads 'blocked-at', whose export validates its arguments like
// the Node.js package, starts the watchdog, and schedules the heartbeat.
func (m *Module) Require(runtime *goja.Runtime, module *goja.Object) {
	_ = module.Set("exports", func(call goja.FunctionCall) goja.Value {
		// options is destructured before anything else is checked
		v := call.Argument(1)
		if goja.IsUndefined(v) || goja.IsNull(v) {
			panic(runtime.NewTypeError("Cannot destructure property 'interval' of 'options' as it is %s.", v))
		}
		options := v.ToObject(runtime)
		option := func(name string) goja.Value {
			return options.Get(name)
		}

		callback, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(runtime.NewTypeError("callback must be a function"))
		}
		interval, ok := safeMillis(option("interval"))
		if !ok {
			panic(runtime.NewGoError(errors.New("invalid value for interval")))
		}
		threshold, ok := safeMillis(option("threshold"))
		if !ok {
			panic(runtime.NewGoError(errors.New("invalid value for threshold")))
		}

		if err := m.Start(m.jsObserver(runtime, callback), interval, threshold); err != nil {
			if errors.Is(err, blockage.ErrAlreadyStarted) || errors.Is(err, blockage.ErrClosed) {
				panic(runtime.NewGoError(errors.New("attempted to start addon twice")))
			}
			panic(runtime.NewGoError(err))
		}
		return goja.Undefined()
	})
}

// jsObserver adapts a JavaScript callback. It is only ever invoked from
// Heartbeat, on the loop goroutine. Exceptions are logged and dropped.
func (m *Module) jsObserver(runtime *goja.Runtime, callback goja.Callable) blockage.Observer {
	return func(report blockage.Report) {
		stack := goja.Null()
		if report.HasStack {
			stack = runtime.ToValue(report.Stack)
		}
		if _, err := callback(goja.Null(), runtime.ToValue(report.Blockage.Milliseconds()), stack); err != nil {
			m.logger.Warn("blockage callback threw", slog.Any("error", err))
		}
	}
}

// number returns v as a float64 if it is a JavaScript number.
func number(v goja.Value) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch n := v.Export().(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// millis converts a positive, finite number of milliseconds.
func millis(v goja.Value) (time.Duration, bool) {
	f, ok := number(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	return durationMillis(f), true
}

// safeMillis additionally rejects values above Number.MAX_SAFE_INTEGER.
func safeMillis(v goja.Value) (time.Duration, bool) {
	f, ok := number(v)
	if !ok || f > maxSafeInteger {
		return 0, false
	}
	return millis(v)
}

func durationMillis(f float64) time.Duration {
	if f >= float64(math.MaxInt64/int64(time.Millisecond)) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f * float64(time.Millisecond))
}
