package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/ptsync/internal/state"
)

// AssertionError is returned when an assertion fails.
// It includes the trace labels to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] step %d %s\n", i+1, event.Step, event.Label())
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertTraceCount:
		return assertTraceCount(result, a)
	case AssertTraceOrder:
		return assertTraceOrder(result.Trace, a)
	case AssertCursors:
		return assertCursors(a.Type, result.State.Cursors, true, a, result.Trace)
	case AssertStored:
		var stored state.Cursors
		if result.State.Stored != nil {
			stored = *result.State.Stored
		}
		return assertCursors(a.Type, stored, result.State.Stored != nil, a, result.Trace)
	case AssertChannelPts:
		return assertChannelPts(result, a)
	case AssertErrorCount:
		return assertErrorCount(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertTraceCount checks that an event label occurs exactly Count times.
func assertTraceCount(result *Result, a Assertion) error {
	if got := result.Count(a.Event); got != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%s %d times", a.Event, a.Count),
			Actual:   fmt.Sprintf("%d times", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertTraceOrder checks that the labels occur in the given order.
// Other events may occur in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(a.Events) && event.Label() == a.Events[next] {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: strings.Join(a.Events, " -> "),
		Actual:   fmt.Sprintf("%s not found after %s", a.Events[next], strings.Join(a.Events[:next], " -> ")),
		Trace:    trace,
	}
}

func assertCursors(kind string, got state.Cursors, present bool, a Assertion, trace []TraceEvent) error {
	want := a.Expect.toCursors()
	if present && got == want {
		return nil
	}
	actual := "nothing stored"
	if present {
		actual = formatCursors(got)
	}
	return &AssertionError{
		Type:     kind,
		Expected: formatCursors(want),
		Actual:   actual,
		Trace:    trace,
	}
}

func assertChannelPts(result *Result, a Assertion) error {
	got, ok := result.State.Channels[a.Channel]
	if ok && got == a.Pts {
		return nil
	}
	actual := "no pts"
	if ok {
		actual = fmt.Sprintf("pts=%d", got)
	}
	return &AssertionError{
		Type:     AssertChannelPts,
		Expected: fmt.Sprintf("channel %d pts=%d", a.Channel, a.Pts),
		Actual:   actual,
		Trace:    result.Trace,
	}
}

func assertErrorCount(result *Result, a Assertion) error {
	got := 0
	for _, e := range result.Trace {
		if e.Kind == KindError {
			got++
		}
	}
	if got == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertErrorCount,
		Expected: fmt.Sprintf("%d errors", a.Count),
		Actual:   fmt.Sprintf("%d errors", got),
		Trace:    result.Trace,
	}
}

func formatCursors(c state.Cursors) string {
	return fmt.Sprintf("pts=%d qts=%d date=%d seq=%d", c.Pts, c.Qts, c.Date, c.Seq)
}
