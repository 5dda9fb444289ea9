// Package blockage detects when a cooperatively scheduled, single-threaded
// script engine stops yielding to its scheduler for longer than a threshold.
//
// A Watchdog runs one background goroutine per monitored engine. The script
// goroutine calls Heartbeat periodically. When the gap since the last
// heartbeat exceeds the threshold, the watchdog asks the engine to run an
// interrupt handler at its next safe point. The handler captures the current
// call stack, and the next Heartbeat delivers the blockage duration and stack
// to the Observer.
//
// # Handshake
//
// Detection, capture and consumption are serialized by two flags:
//
//	watchdog                          script goroutine
//	--------                          ----------------
//	interruptDone = false
//	RequestInterrupt(interrupt)  -->  interrupt(): capture stack
//	wait interruptDone           <--  interruptDone = true
//	stackReady = true
//	wait !stackReady             <--  Heartbeat(): observer(report)
//	                                  stackReady = false
//
// If Heartbeat runs while the request is still unanswered, the engine
// reached no safe point during the blockage. Heartbeat then answers the
// request itself, reporting the blockage without a stack, and the handler
// the engine runs later for that request does nothing.
//
// The script goroutine never blocks on this protocol. The watchdog checks
// for shutdown after requesting the interrupt and after publishing the
// stack, and Close forces both flags, so teardown cannot deadlock no matter
// which wait the watchdog is parked in.
package blockage
