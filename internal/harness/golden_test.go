package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ptsync/internal/state"
)

// TestScenarios runs every scenario under testdata/scenarios and compares
// its trace with the golden file of the same name.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name, "file name and scenario name differ")

			require.NoError(t, RunWithGolden(t, scenario))
		})
	}
}

func TestMarshalSnapshot_Canonical(t *testing.T) {
	result := NewResult()
	result.Trace = append(result.Trace,
		TraceEvent{Kind: KindCall, Step: 0, Name: "getState", Data: map[string]any{}},
		TraceEvent{Kind: KindError, Step: 1, Name: "NOT_STARTED", Data: "boom"},
	)
	result.State = FinalState{
		Cursors:        state.Cursors{Pts: 3},
		Channels:       map[int64]int64{12: 5, 7: 1},
		StoredChannels: map[int64]int64{},
	}

	data, err := MarshalSnapshot("tiny", result)
	require.NoError(t, err)

	want := `{"scenario_name":"tiny","state":{"channels":{"12":5,"7":1},` +
		`"cursors":{"date":0,"pts":3,"qts":0,"seq":0},"known":false,"stored_channels":{}},` +
		`"trace":[{"data":{},"kind":"call","name":"getState","step":0},` +
		`{"data":"boom","kind":"error","name":"NOT_STARTED","step":1}]}` + "\n"
	assert.Equal(t, want, string(data))
}

func TestMarshalSnapshot_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "scenario_c_gap.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalSnapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := MarshalSnapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}
