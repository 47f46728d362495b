// Package tracker turns raw activity events into working/idle sessions.
//
// A Tracker owns the idle deadline: every activity event pushes it forward
// and its expiry ends the session. While a session is open an AliveNotifier
// sends heartbeats at half the idle timeout. A Manager polls the collector
// for the tracking policy and starts, stops or retunes the Tracker.
//
// Each component serializes its own state behind one mutex. Timers are
// scheduled on a quartz.Clock and carry a generation number; a callback
// whose generation is no longer current does nothing, so a timer that fires
// after being replaced or stopped cannot act.
package tracker
