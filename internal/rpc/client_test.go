package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ptsync/internal/tl"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return New(server.URL, "secret",
		WithHTTPClient(server.Client()),
		WithRetries(3, time.Millisecond, 5*time.Millisecond),
	)
}

func writeObject(t *testing.T, w http.ResponseWriter, o tl.Object) {
	t.Helper()
	data, err := tl.Marshal(o)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func TestClient_GetDifference(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/updates.getDifference", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req tl.GetDifferenceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, tl.GetDifferenceRequest{Pts: 100, Qts: 2, Date: 50}, req)

		writeObject(t, w, tl.DifferenceSlice{
			NewMessages:       []tl.Message{{ID: 1, Peer: tl.UserPeer(5), Text: "hi"}},
			IntermediateState: tl.UpdatesState{Pts: 110, Qts: 2, Date: 60, Seq: 4},
		})
	})

	diff, err := client.GetDifference(context.Background(), tl.GetDifferenceRequest{Pts: 100, Qts: 2, Date: 50})
	require.NoError(t, err)

	slice, ok := diff.(tl.DifferenceSlice)
	require.True(t, ok, "got %T", diff)
	assert.Equal(t, int64(110), slice.IntermediateState.Pts)
	require.Len(t, slice.NewMessages, 1)
	assert.Equal(t, "hi", slice.NewMessages[0].Text)
}

func TestClient_GetChannelDifference(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req tl.GetChannelDifferenceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(77), req.Channel.ChannelID)
		assert.Equal(t, int64(100), req.Limit)
		writeObject(t, w, tl.ChannelDifferenceEmpty{Final: true, Pts: req.Pts})
	})

	diff, err := client.GetChannelDifference(context.Background(), tl.GetChannelDifferenceRequest{
		Channel: tl.InputChannel{ChannelID: 77, AccessHash: 9},
		Pts:     12,
		Limit:   100,
	})
	require.NoError(t, err)
	assert.Equal(t, tl.ChannelDifferenceEmpty{Final: true, Pts: 12}, diff)
}

func TestClient_GetStateAndConfig(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/updates.getState":
			writeObject(t, w, tl.UpdatesState{Pts: 1, Qts: 2, Date: 3, Seq: 4})
		case "/help.getConfig":
			writeObject(t, w, tl.Config{ThisDC: 2})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	s, err := client.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tl.UpdatesState{Pts: 1, Qts: 2, Date: 3, Seq: 4}, s)

	cfg, err := client.GetConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), cfg.ThisDC)
}

func TestClient_RetriesTransientFailure(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeObject(t, w, tl.UpdatesState{Pts: 9})
	})

	s, err := client.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), s.Pts)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.GetState(context.Background())

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"CHANNEL_INVALID","message":"no such channel"}`))
	})

	_, err := client.GetChannelDifference(context.Background(), tl.GetChannelDifferenceRequest{})

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, "CHANNEL_INVALID", httpErr.Code)
	assert.Equal(t, "updates.getChannelDifference: http 400 CHANNEL_INVALID: no such channel", httpErr.Error())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_UnexpectedResultType(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeObject(t, w, tl.UpdatesState{})
	})

	_, err := client.GetDifference(context.Background(), tl.GetDifferenceRequest{})
	assert.Error(t, err)
}

func TestRetryDelay(t *testing.T) {
	c := New("http://example.invalid", "", WithRetries(3, 100*time.Millisecond, time.Second))

	assert.Equal(t, 100*time.Millisecond, c.retryDelay(1, ""))
	assert.Equal(t, 200*time.Millisecond, c.retryDelay(2, ""))
	assert.Equal(t, 400*time.Millisecond, c.retryDelay(3, ""))
	assert.Equal(t, time.Second, c.retryDelay(10, ""))
	assert.Equal(t, time.Second, c.retryDelay(1, "30"), "Retry-After is capped")
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
}

func TestWaitWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, waitWithContext(ctx, time.Hour), context.Canceled)
}
