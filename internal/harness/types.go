package harness

import (
	"github.com/roach88/ptsync/internal/state"
)

// Trace event kinds.
const (
	KindCall     = "call"
	KindDispatch = "dispatch"
	KindPersist  = "persist"
	KindError    = "error"
)

// TraceEvent is one observable effect of the engine, in the order it
// happened.
type TraceEvent struct {
	Kind string `json:"kind"`
	// Step is the index of the flow step that caused the event.
	Step int `json:"step"`
	// Name is the RPC method, the update type, "cursors"/"channels" for
	// writes, or the error code.
	Name string `json:"name"`
	// Data is the request, the update's wire form, the written fields or
	// the error message.
	Data any `json:"data,omitempty"`
}

// Label is the kind and name joined by a colon, as used by assertions.
func (e TraceEvent) Label() string {
	return e.Kind + ":" + e.Name
}

// FinalState is the engine and storage state after the flow.
type FinalState struct {
	Known          bool            `json:"known"`
	Cursors        state.Cursors   `json:"cursors"`
	Channels       map[int64]int64 `json:"channels"`
	Stored         *state.Cursors  `json:"stored,omitempty"`
	StoredChannels map[int64]int64 `json:"stored_channels"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every engine effect in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	State FinalState `json:"state"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Count returns how many events carry label.
func (r *Result) Count(label string) int {
	n := 0
	for _, e := range r.Trace {
		if e.Label() == label {
			n++
		}
	}
	return n
}
