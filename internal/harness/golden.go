package harness

import (
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/ptsync/internal/tl"
)

// TraceSnapshot is what a golden file holds: the trace and the final state
// of one scenario, serialized as canonical JSON.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
	State        FinalState
}

// toCanonicalMap converts the snapshot to the value tree MarshalCanonical
// accepts. Event data is already in that form.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"kind": event.Kind,
			"step": event.Step,
			"name": event.Name,
		}
		if event.Data != nil {
			eventMap["data"] = event.Data
		}
		traceList[i] = eventMap
	}

	st := s.State
	stateMap := map[string]any{
		"known":           st.Known,
		"cursors":         cursorMap(st.Cursors.Pts, st.Cursors.Qts, st.Cursors.Date, st.Cursors.Seq),
		"channels":        channelTree(st.Channels),
		"stored_channels": channelTree(st.StoredChannels),
	}
	if st.Stored != nil {
		stateMap["stored"] = cursorMap(st.Stored.Pts, st.Stored.Qts, st.Stored.Date, st.Stored.Seq)
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
		"state":         stateMap,
	}
}

func cursorMap(pts, qts, date, seq int64) map[string]any {
	return map[string]any{"pts": pts, "qts": qts, "date": date, "seq": seq}
}

// MarshalSnapshot renders the golden form of a result: canonical JSON
// followed by a newline.
func MarshalSnapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Trace:        result.Trace,
		State:        result.State,
	}
	data, err := tl.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot %s: %w", name, err)
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Assertion failures are reported through t as well.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Opt) error {
	t.Helper()

	result, err := Run(scenario, opts...)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := MarshalSnapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
