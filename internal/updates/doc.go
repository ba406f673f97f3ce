// Package updates keeps a client in sync with the server's update stream.
//
// The server numbers mutations with monotonic cursors: pts for the common
// scope and for each channel, qts for a second class of common events, and
// seq for envelopes. The Manager checks every incoming update against the
// local cursor of its scope:
//
//	expected = local + ptsCount
//	pts < expected   already applied, dropped
//	pts > expected   gap, fetch the difference instead
//	pts == expected  applied, cursor advanced, dispatched
//
// qts uses expected = local + 1. Updates without a cursor always apply.
//
// # Passes
//
// Every entry point (HandleEnvelope, CatchUp, Start, Reset, the idle
// watchdog) runs as a pass: it acquires a single weighted semaphore, does
// its work including any nested recovery, and writes the changed cursors to
// storage before releasing it. Recovery loops are plain calls inside the
// pass that triggered them.
//
// # Accepted loss
//
// When the server answers a difference request with "too long", the cursor
// is moved to the server's value and the skipped range is lost. This is
// logged at warn level and counted, never retried.
package updates
