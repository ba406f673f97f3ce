package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ptsync/internal/state"
	"github.com/roach88/ptsync/internal/tl"
)

func writeEnvelopes(t *testing.T, dir string, envs ...tl.Envelope) string {
	t.Helper()
	var buf bytes.Buffer
	for _, env := range envs {
		data, err := tl.Marshal(env)
		require.NoError(t, err)
		buf.Write(data)
		buf.WriteString("\n\n")
	}
	path := filepath.Join(dir, "envelopes.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func friendMessage(id int32, pts int64) tl.Updates {
	return tl.Updates{
		Updates: tl.UpdateList{tl.UpdateNewMessage{
			Message:  tl.Message{ID: id, Peer: tl.UserPeer(5), Date: 1000, Text: "hi"},
			Pts:      pts,
			PtsCount: 1,
		}},
		Users: []tl.User{{ID: 5, AccessHash: 35}},
		Date:  1000,
	}
}

func TestReplay_AppliesEnvelopes(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, filepath.Join(dir, "ptsync.db"), state.Cursors{Pts: 100, Date: 900}, nil)
	_, srv := newFakeServer(t, tl.UpdatesState{Pts: 100, Date: 900})
	cfgPath := writeConfig(t, dir, srv.URL, "")

	file := writeEnvelopes(t, dir,
		friendMessage(1, 101),
		tl.UpdateShortMessage{ID: 2, UserID: 5, Message: "again", Pts: 102, PtsCount: 1, Date: 1001},
		friendMessage(1, 101),
	)

	stdout, _, err := execute(t, "replay", "--config", cfgPath, file, "--format", "json")
	require.NoError(t, err)

	var result ReplayResult
	resp := decodeResponse(t, stdout, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, result.Envelopes)
	require.Len(t, result.Updates, 2, "the repeated envelope is a duplicate")
	assert.Contains(t, string(result.Updates[1]), `"text":"again"`)
	assert.Equal(t, int64(102), result.State.Cursors.Pts)
	assert.Empty(t, result.Errors)
}

func TestReplay_GapIsFilledFromServer(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, filepath.Join(dir, "ptsync.db"), state.Cursors{Pts: 100, Date: 900}, nil)
	server, srv := newFakeServer(t, tl.UpdatesState{Pts: 110, Date: 1100})
	server.queue(tl.Difference{
		NewMessages: []tl.Message{{ID: 9, Peer: tl.UserPeer(5), Date: 1050, Text: "missed"}},
		Users:       []tl.User{{ID: 5, AccessHash: 35}},
		State:       tl.UpdatesState{Pts: 110, Date: 1100},
	})
	cfgPath := writeConfig(t, dir, srv.URL, "")

	file := writeEnvelopes(t, dir, friendMessage(10, 110))

	stdout, _, err := execute(t, "replay", "--config", cfgPath, file)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"text":"missed"`)
	assert.Contains(t, stdout, "replayed 1 envelopes, dispatched 1 updates")
	assert.Contains(t, stdout, "pts=110")
	assert.Contains(t, server.methods(), "updates.getDifference")
}

func TestReplay_NoDispatch(t *testing.T) {
	dir := t.TempDir()
	seedStore(t, filepath.Join(dir, "ptsync.db"), state.Cursors{Pts: 100}, nil)
	_, srv := newFakeServer(t, tl.UpdatesState{Pts: 100})
	cfgPath := writeConfig(t, dir, srv.URL, "")

	file := writeEnvelopes(t, dir, friendMessage(1, 101))

	stdout, _, err := execute(t, "replay", "--config", cfgPath, "--no-dispatch", file, "--format", "json")
	require.NoError(t, err)

	var result ReplayResult
	decodeResponse(t, stdout, &result)
	assert.Empty(t, result.Updates)
	assert.Equal(t, int64(101), result.State.Cursors.Pts, "cursors still advance")
}

func TestReplay_BadLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "envelopes.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"_\":\"updatesEmpty\"}\n{\"_\":\"nope\"}\n"), 0o644))

	stdout, _, err := execute(t, "replay", "--db", filepath.Join(dir, "ptsync.db"), path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "Error [E_INPUT]")
	assert.Contains(t, stdout, "envelopes.jsonl:2")
}

func TestReplay_MissingFile(t *testing.T) {
	_, _, err := execute(t, "replay", filepath.Join(t.TempDir(), "none.jsonl"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}
