// Package testutil documents engineering heuristics and timing constants
// with rationale for test infrastructure decisions.

// Watchdog tests measure wall clock gaps, so every constant here trades
// test duration against scheduler noise on loaded CI machines.
package testutil

import "time"

// WatchdogInterval is the heartbeat interval used by watchdog tests.
//
// Rationale:
//   - Heartbeat timers on the event loop jitter by a few milliseconds
//   - 10ms keeps the estimate error (interval/2) small relative to blockages
//   - Shorter intervals spend most of the test in timer overhead
const WatchdogInterval = 10 * time.Millisecond

// WatchdogThreshold is the blockage threshold used by watchdog tests.
//
// Rationale:
//   - Must be well above WatchdogInterval plus GC pauses to avoid false positives
//   - 50ms is the smallest value that never reported an idle loop under -race
const WatchdogThreshold = 50 * time.Millisecond

// BlockDuration is how long tests keep the loop busy to trigger a report.
//
// Rationale:
//   - Four thresholds gives the watchdog room to wake, interrupt, and capture
//   - Reported values are expected in [BlockDuration - threshold/2 - interval, BlockDuration + slack)
const BlockDuration = 200 * time.Millisecond

// ReportTimeout bounds how long tests wait for a report to be delivered.
//
// Rationale:
//   - Delivery happens at the first heartbeat after the blockage ends
//   - 2 seconds absorbs slow CI scheduling without hiding real hangs
const ReportTimeout = 2 * time.Second

// TeardownTimeout bounds Close on a runtime with an active watchdog.
//
// Rationale:
//   - Close joins the watchdog goroutine, which may be mid-sleep
//   - A hang here is a deadlock, so the bound only needs to be generous
const TeardownTimeout = 5 * time.Second

// PollingInterval is the default interval between condition checks
// in Poll() and WaitForState() utilities.
//
// Usage:
//
//	Poll(ctx, condition, timeout, PollingInterval)
//	WaitForState(ctx, getter, predicate, timeout, PollingInterval)
const PollingInterval = 10 * time.Millisecond
