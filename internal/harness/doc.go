// Package harness runs the update engine against scripted scenarios.
//
// A scenario seeds storage and a fake server, feeds the engine a flow of
// steps and records every observable effect: RPC calls, dispatched
// updates, storage writes and errors. Assertions check the trace and the
// final state, and the whole run can be compared against a golden file.
//
// # Scenario Format
//
//	name: gap_recovery
//	description: "What this scenario validates"
//	self: {user_id: 1}
//	catch_up: false
//	stored:
//	  cursors: {pts: 105, qts: 0, date: 1000, seq: 1}
//	  channels: {77: 40}
//	server:
//	  state: {pts: 130, qts: 0, date: 1100, seq: 1}
//	  differences:
//	    - {_: updates.differenceEmpty, date: 1100, seq: 1}
//	flow:
//	  - start: true
//	  - envelope: {_: updatesTooLong}
//	assertions:
//	  - type: trace_count
//	    event: call:getDifference
//	    count: 1
//	  - type: cursors
//	    expect: {pts: 105, qts: 0, date: 1100, seq: 1}
//
// Envelopes and difference pages are wire objects in their JSON form,
// written as YAML.
//
// # Assertion Types
//
//   - trace_count: an event label occurs exactly count times
//   - trace_order: event labels occur in the given order
//   - cursors: the in-memory cursors after the flow
//   - stored: the cursors in storage after the flow
//   - channel_pts: the in-memory pts of one channel
//   - error_count: how many errors reached the error handler
//
// Event labels are kind:name, for example call:getDifference,
// dispatch:updateNewMessage, persist:cursors or error:RECOVERY_FAILED.
//
// # Determinism
//
// Every run uses fresh in-memory fakes and sequential pass ids, so the
// same scenario always produces the same trace.
package harness
