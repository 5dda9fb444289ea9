package scripting

import (
	"log/slog"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/goja-blocked-at/internal/blockage"
)

// Source names goja gives Go-implemented frames and code run by eval.
const (
	nativeSrcName = "<native>"
	evalSrcName   = "<eval>"
)

var _ blockage.Engine = (*Runtime)(nil)

// RequestInterrupt queues handler to run on the loop goroutine at the next
// safe point. It may be called from any goroutine and never blocks.
func (rt *Runtime) RequestInterrupt(handler func()) {
	rt.interruptMu.Lock()
	rt.interrupts = append(rt.interrupts, handler)
	rt.interruptPending.Store(true)
	rt.interruptMu.Unlock()
}

// SafePoint runs the interrupt handlers requested since the last safe
// point. Go host functions that may run for a long time, or that are called
// in tight loops, should call it. It must be called on the loop goroutine,
// and is a no-op anywhere else.
func (rt *Runtime) SafePoint() {
	if !rt.interruptPending.Load() {
		return
	}
	if !rt.loopOwner.Owns() {
		return
	}

	rt.interruptMu.Lock()
	handlers := rt.interrupts
	rt.interrupts = nil
	rt.interruptPending.Store(false)
	rt.interruptMu.Unlock()

	for _, handler := range handlers {
		rt.runInterrupt(handler)
	}
}

func (rt *Runtime) runInterrupt(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("interrupt handler panicked", slog.Any("panic", r))
		}
	}()
	handler()
}

// clock is the JavaScript time source. Scripts that spin read the clock,
// which makes every read a useful safe point.
func (rt *Runtime) clock() time.Time {
	rt.SafePoint()
	return time.Now()
}

// CaptureStack returns the JavaScript call stack, innermost first, without
// the native frames of the safe point that is running the handler.
func (rt *Runtime) CaptureStack(limit int) []blockage.Frame {
	if limit <= 0 || rt.vm == nil {
		return nil
	}
	// Headroom for the leading native frames that are dropped.
	stack := rt.vm.CaptureCallStack(limit+2, nil)
	for len(stack) > 0 && stack[0].SrcName() == nativeSrcName {
		stack = stack[1:]
	}
	if len(stack) > limit {
		stack = stack[:limit]
	}

	frames := make([]blockage.Frame, len(stack))
	for i := range stack {
		frames[i] = convertFrame(&stack[i])
	}
	return frames
}

func convertFrame(f *goja.StackFrame) blockage.Frame {
	pos := f.Position()
	return blockage.Frame{
		Function: f.FuncName(),
		Script:   f.SrcName(),
		Line:     pos.Line,
		Column:   pos.Column,
		Eval:     f.SrcName() == evalSrcName,
	}
}
