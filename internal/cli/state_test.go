package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ptsync/internal/state"
)

func cursorsAt(pts int64) state.Cursors {
	return state.Cursors{Pts: pts}
}

func TestState_Empty(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ptsync.db")

	stdout, _, err := execute(t, "state", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "no update state stored\n", stdout)
}

func TestState_Text(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ptsync.db")
	seedStore(t, dbPath, state.Cursors{Pts: 100, Qts: 3, Date: 1700, Seq: 9}, map[int64]int64{77: 40, 12: 5})

	stdout, _, err := execute(t, "state", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "pts=100 qts=3 date=1700 seq=9\nchannel 12: pts=5\nchannel 77: pts=40\n", stdout)
}

func TestState_JSON(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ptsync.db")
	seedStore(t, dbPath, state.Cursors{Pts: 100, Qts: 3, Date: 1700, Seq: 9}, map[int64]int64{77: 40})

	stdout, _, err := execute(t, "state", "--db", dbPath, "--format", "json")
	require.NoError(t, err)

	var view StateView
	resp := decodeResponse(t, stdout, &view)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, view.Known)
	assert.Equal(t, state.Cursors{Pts: 100, Qts: 3, Date: 1700, Seq: 9}, view.Cursors)
	assert.Equal(t, []ChannelCursor{{ChannelID: 77, Pts: 40}}, view.Channels)
	assert.Nil(t, view.Self)
}

func TestReset_ClearsState(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ptsync.db")
	seedStore(t, dbPath, state.Cursors{Pts: 100}, map[int64]int64{77: 40, 78: 2})

	stdout, _, err := execute(t, "reset", "--db", dbPath, "--format", "json")
	require.NoError(t, err)

	var result ResetResult
	decodeResponse(t, stdout, &result)
	assert.Equal(t, ResetResult{HadState: true, Channels: 2}, result)

	stdout, _, err = execute(t, "state", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "no update state stored\n", stdout)
}

func TestReset_NothingStored(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ptsync.db")

	stdout, _, err := execute(t, "reset", "--db", dbPath)
	require.NoError(t, err)
	assert.Equal(t, "nothing to reset\n", stdout)
}
