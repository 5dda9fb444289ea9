// Package report turns watchdog reports into records and writes them to
// sinks: human readable text, JSON lines, or a CBOR sequence.
package report

import (
	"time"

	"github.com/joeycumines/goja-blocked-at/internal/blockage"
)

// Record is a report as persisted by sinks.
type Record struct {
	// RunID identifies the dispatcher, so records from concurrent runs
	// sharing a log can be told apart.
	RunID string `json:"run_id" cbor:"run_id"`
	// Source names what was being watched, e.g. a script path.
	Source     string    `json:"source,omitempty" cbor:"source,omitempty"`
	Time       time.Time `json:"time" cbor:"time"`
	BlockageMs int64     `json:"blockage_ms" cbor:"blockage_ms"`
	// Stack is nil when the stack was unavailable.
	Stack  *string `json:"stack" cbor:"stack"`
	Frames int     `json:"frames" cbor:"frames"`
}

// NewRecord converts r. Time is when the blockage was reported.
func NewRecord(runID, source string, at time.Time, r blockage.Report) Record {
	rec := Record{
		RunID:      runID,
		Source:     source,
		Time:       at,
		BlockageMs: r.Blockage.Milliseconds(),
	}
	if r.HasStack {
		stack := r.Stack
		rec.Stack = &stack
		rec.Frames = blockage.CountFrames(stack)
	}
	return rec
}

// Blockage returns the blockage duration.
func (r Record) Blockage() time.Duration {
	return time.Duration(r.BlockageMs) * time.Millisecond
}
