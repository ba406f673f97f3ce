package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ptsync/internal/state"
	"github.com/roach88/ptsync/internal/store"
	"github.com/roach88/ptsync/internal/tl"
)

// fakeServer answers the engine's RPC calls from a fixed state. Queued
// differences are served in order, then differenceEmpty.
type fakeServer struct {
	mu    sync.Mutex
	state tl.UpdatesState
	diffs []tl.DifferenceResult
	calls []string
}

func newFakeServer(t *testing.T, s tl.UpdatesState) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{state: s}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) queue(d tl.DifferenceResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diffs = append(f.diffs, d)
}

func (f *fakeServer) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeServer) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	method := r.URL.Path[1:]
	f.calls = append(f.calls, method)

	var obj tl.Object
	switch method {
	case "updates.getState":
		obj = f.state
	case "updates.getDifference":
		if len(f.diffs) > 0 {
			obj = f.diffs[0]
			f.diffs = f.diffs[1:]
		} else {
			obj = tl.DifferenceEmpty{Date: f.state.Date, Seq: f.state.Seq}
		}
	case "updates.getChannelDifference":
		var req tl.GetChannelDifferenceRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		obj = tl.ChannelDifferenceEmpty{Final: true, Pts: req.Pts}
	case "help.getConfig":
		obj = tl.Config{}
	default:
		http.Error(w, `{"code":"METHOD_INVALID","message":"unknown method"}`, http.StatusBadRequest)
		return
	}

	data, err := tl.Marshal(obj)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

// writeConfig writes a config file pointing at endpoint and returns its
// path. extra is appended verbatim.
func writeConfig(t *testing.T, dir, endpoint, extra string) string {
	t.Helper()
	path := filepath.Join(dir, "ptsync.yaml")
	content := fmt.Sprintf(`database: %s
rpc:
  endpoint: %s
  max_retries: 0
log:
  level: error
%s`, filepath.Join(dir, "ptsync.db"), endpoint, extra)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// seedStore writes cursors and channel pts into a fresh database.
func seedStore(t *testing.T, path string, c state.Cursors, channels map[int64]int64) {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.PersistCursors(ctx, state.Changes{Pts: &c.Pts, Qts: &c.Qts, Date: &c.Date, Seq: &c.Seq}))
	if len(channels) > 0 {
		require.NoError(t, st.SetManyChannelPts(ctx, channels))
	}
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func decodeResponse(t *testing.T, out string, data any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &raw), "output: %s", out)
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}
}

func findCommand(t *testing.T, name string) *cobra.Command {
	t.Helper()
	sub, _, err := NewRootCommand().Find([]string{name})
	require.NoError(t, err)
	return sub
}
