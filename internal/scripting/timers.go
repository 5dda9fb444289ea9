package scripting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
)

// trackTimers wraps the timer globals installed by the event loop so the
// runtime knows which timers scripts still have pending. Timers scheduled
// from Go, such as the watchdog heartbeat, are not tracked and never keep
// a script alive.
func (rt *Runtime) trackTimers(vm *goja.Runtime) error {
	rt.pendingTimers = make(map[any]struct{})
	for _, t := range []struct {
		set, clear string
		repeating  bool
	}{
		{"setTimeout", "clearTimeout", false},
		{"setImmediate", "clearImmediate", false},
		{"setInterval", "clearInterval", true},
	} {
		if err := rt.wrapSchedule(vm, t.set, t.repeating); err != nil {
			return err
		}
		if err := rt.wrapClear(vm, t.clear); err != nil {
			return err
		}
	}
	return nil
}

func global(vm *goja.Runtime, name string) (goja.Callable, error) {
	fn, ok := goja.AssertFunction(vm.Get(name))
	if !ok {
		return nil, fmt.Errorf("global %s is not a function", name)
	}
	return fn, nil
}

func (rt *Runtime) wrapSchedule(vm *goja.Runtime, name string, repeating bool) error {
	schedule, err := global(vm, name)
	if err != nil {
		return err
	}
	return vm.Set(name, func(call goja.FunctionCall) goja.Value {
		callback, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			// not a timer the loop will run
			return mustCall(schedule, call.This, call.Arguments...)
		}

		var key any
		args := slices.Clone(call.Arguments)
		args[0] = vm.ToValue(func(inner goja.FunctionCall) goja.Value {
			if !repeating {
				delete(rt.pendingTimers, key)
			}
			// the loop discards errors from timer callbacks
			var interrupted *goja.InterruptedError
			if _, err := callback(goja.Undefined(), inner.Arguments...); err != nil && !errors.As(err, &interrupted) {
				rt.logger.Warn("timer callback threw", slog.String("timer", name), slog.Any("error", err))
			}
			rt.checkSettled()
			return goja.Undefined()
		})

		handle := mustCall(schedule, call.This, args...)
		if k, ok := timerKey(handle); ok {
			key = k
			rt.pendingTimers[key] = struct{}{}
		}
		return handle
	})
}

func (rt *Runtime) wrapClear(vm *goja.Runtime, name string) error {
	cancel, err := global(vm, name)
	if err != nil {
		return err
	}
	return vm.Set(name, func(call goja.FunctionCall) goja.Value {
		if key, ok := timerKey(call.Argument(0)); ok {
			delete(rt.pendingTimers, key)
		}
		v := mustCall(cancel, call.This, call.Arguments...)
		rt.checkSettled()
		return v
	})
}

// timerKey returns the loop's handle behind v, if v is one.
func timerKey(v goja.Value) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch h := v.Export().(type) {
	case *eventloop.Timer, *eventloop.Interval, *eventloop.Immediate:
		return h, true
	}
	return nil, false
}

// mustCall rethrows the error of a wrapped global as a JavaScript
// exception.
func mustCall(fn goja.Callable, this goja.Value, args ...goja.Value) goja.Value {
	v, err := fn(this, args...)
	if err != nil {
		panic(err)
	}
	return v
}

// checkSettled releases the WaitSettled callers once no timer is pending.
func (rt *Runtime) checkSettled() {
	if len(rt.pendingTimers) > 0 || len(rt.settled) == 0 {
		return
	}
	for _, ch := range rt.settled {
		close(ch)
	}
	rt.settled = nil
}

// WaitSettled blocks until no timer scheduled by a script remains pending,
// like Node.js exiting once its event loop has nothing left to do. Timers
// scheduled from Go do not count.
//
// It returns ErrNotRunning if the runtime is closed first, and ctx.Err()
// if ctx is done first.
func (rt *Runtime) WaitSettled(ctx context.Context) error {
	settled := make(chan struct{})
	if !rt.RunOnLoop(func(*goja.Runtime) {
		rt.settled = append(rt.settled, settled)
		rt.checkSettled()
	}) {
		return ErrNotRunning
	}
	select {
	case <-settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-rt.Done():
		return ErrNotRunning
	}
}
