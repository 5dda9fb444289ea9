package blockage

import (
	"fmt"
	"log/slog"
	"time"
)

// interrupt runs on the script goroutine when the engine honours request
// gen. A request that Heartbeat already answered is ignored, so a handler
// the engine runs late never captures an unrelated stack. It must never
// panic into the engine.
func (w *Watchdog) interrupt(gen uint64) {
	s := w.state
	if gen <= s.served {
		return
	}
	s.served = gen
	defer s.interruptDone.set(true)
	defer func() {
		if r := recover(); r != nil {
			s.stack = s.stack[:0]
			w.logger.Error("stack capture panicked", slog.Any("panic", r))
		}
	}()

	if s.shouldStop.Load() {
		return
	}

	frames := w.engine.CaptureStack(w.maxFrames)
	if len(frames) > w.maxFrames {
		frames = frames[:w.maxFrames]
	}
	s.stack = AppendStack(s.stack[:0], frames)
}

// Heartbeat records that the script goroutine is making progress. If a
// stack was captured since the previous heartbeat, the observer receives
// it first, along with the estimated blockage.
//
// The engine may run code that never reaches a safe point, such as a loop
// that neither calls out nor reads the clock. If an interrupt is still
// pending when Heartbeat runs, the blockage is reported there and then,
// with no stack.
//
// Heartbeat must be called on the script goroutine, roughly every interval
// passed to Start. Calls before Start only refresh the timestamp.
func (w *Watchdog) Heartbeat() {
	s := w.state
	now := s.now()

	if s.stackReady.load() {
		if s.shouldStop.Load() {
			s.stack = s.stack[:0]
		} else {
			w.deliver(now)
		}
		s.stackReady.set(false)
	} else if gen := s.requested.Load(); gen > s.served && !s.shouldStop.Load() {
		s.served = gen
		w.deliverWithoutStack(now)
		s.answeredByHeartbeat.Store(true)
		s.interruptDone.set(true)
	}

	s.markHeartbeat(now)
}

// deliverWithoutStack reports a blockage that ended before the engine
// reached a safe point.
func (w *Watchdog) deliverWithoutStack(now time.Duration) {
	s := w.state
	report := Report{
		Blockage: estimateBlockage(now-s.heartbeatAt(), s.interval),
	}
	w.logger.Debug("blockage observed without a safe point",
		slog.Duration("blockage", report.Blockage))
	if err := notify(s.observer, report); err != nil {
		w.logger.Error("observer failed", slog.Any("error", err))
	}
}

// deliver builds the report for the pending stack and hands it to the
// observer. The stack buffer is cleared whatever the observer does.
func (w *Watchdog) deliver(now time.Duration) {
	s := w.state

	report := Report{
		Blockage: estimateBlockage(now-s.heartbeatAt(), s.interval),
	}
	if len(s.stack) <= w.maxStackBytes {
		report.Stack = string(s.stack)
		report.HasStack = true
	} else {
		w.logger.Warn("captured stack too large",
			slog.Int("bytes", len(s.stack)),
			slog.Int("limit", w.maxStackBytes))
	}
	s.stack = s.stack[:0]

	w.logger.Debug("blockage observed",
		slog.Duration("blockage", report.Blockage),
		slog.Int("frames", CountFrames(report.Stack)))

	if err := notify(s.observer, report); err != nil {
		w.logger.Error("observer failed", slog.Any("error", err))
	}
}

// estimateBlockage corrects the gap between heartbeats for detection
// latency: on average the blockage began half an interval after the last
// heartbeat. The result is whole milliseconds and never negative.
func estimateBlockage(gap, interval time.Duration) time.Duration {
	gap = gap.Truncate(time.Millisecond)
	bias := (interval / 2).Truncate(time.Millisecond)
	if gap < bias {
		return 0
	}
	return gap - bias
}

func notify(observer Observer, report Report) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	observer(report)
	return nil
}
