package report

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/goja-blocked-at/internal/blockage"
)

// Dispatcher adapts watchdog reports to records, filters them, and fans
// them out to sinks. Observe is a blockage.Observer: it runs on the script
// goroutine, so failures are logged rather than returned.
type Dispatcher struct {
	runID  string
	source string
	filter *Filter
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time

	written atomic.Int64
	dropped atomic.Int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithFilter drops records that do not match f.
func WithFilter(f *Filter) DispatcherOption {
	return func(d *Dispatcher) {
		d.filter = f
	}
}

// WithSink adds a sink. Sinks are written in the order added.
func WithSink(s Sink) DispatcherOption {
	return func(d *Dispatcher) {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher returns a dispatcher for reports about source.
func NewDispatcher(source string, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		runID:  uuid.NewString(),
		source: source,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("run", d.runID))
	return d
}

// RunID returns the id stamped on every record.
func (d *Dispatcher) RunID() string {
	return d.runID
}

// Written returns the number of records that passed the filter.
func (d *Dispatcher) Written() int64 {
	return d.written.Load()
}

// Dropped returns the number of records rejected by the filter.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Observe implements blockage.Observer.
func (d *Dispatcher) Observe(r blockage.Report) {
	rec := NewRecord(d.runID, d.source, d.now(), r)

	if d.filter != nil {
		ok, err := d.filter.Match(rec)
		if err != nil {
			d.logger.Warn("filter failed, writing record", slog.Any("error", err))
		} else if !ok {
			d.dropped.Add(1)
			d.logger.Debug("record filtered", slog.Duration("blockage", rec.Blockage()))
			return
		}
	}
	d.written.Add(1)

	for _, s := range d.sinks {
		if err := s.Write(rec); err != nil {
			d.logger.Error("sink write failed", slog.Any("error", err))
		}
	}
}
