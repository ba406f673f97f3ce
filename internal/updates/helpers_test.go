package updates

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roach88/ptsync/internal/state"
	"github.com/roach88/ptsync/internal/testutil"
	"github.com/roach88/ptsync/internal/tl"
)

const (
	selfID   int64 = 1
	friendID int64 = 5
	chanID   int64 = 77
)

type fixture struct {
	storage   *testutil.Storage
	transport *testutil.Transport
	peers     *testutil.Peers
	rec       *testutil.Recorder
	errs      *testutil.Errors
	m         *Manager
}

// newFixture builds a Manager whose storage already holds local. The server
// reports the same cursors until a test says otherwise.
func newFixture(t *testing.T, local state.Cursors, opts ...Opt) *fixture {
	t.Helper()

	f := &fixture{
		storage:   testutil.NewStorage().Seed(local),
		transport: testutil.NewTransport(tl.UpdatesState{Pts: local.Pts, Qts: local.Qts, Date: local.Date, Seq: local.Seq}),
		peers:     testutil.NewPeers(testutil.User(friendID), testutil.Channel(chanID)),
		rec:       &testutil.Recorder{},
		errs:      &testutil.Errors{},
	}
	base := []Opt{
		WithLogger(zaptest.NewLogger(t)),
		WithErrorHandler(f.errs.Handle),
		WithSelf(tl.Self{UserID: selfID}),
		WithPassIDs(testutil.NewSequentialIDs("pass").Next),
	}
	f.m = New(f.storage, f.transport, f.peers, f.rec, append(base, opts...)...)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	require.NoError(t, f.m.Start(context.Background()))
}

func (f *fixture) handle(t *testing.T, env tl.Envelope) {
	t.Helper()
	require.NoError(t, f.m.HandleEnvelope(context.Background(), env, false))
}

func (f *fixture) snapshot(t *testing.T) Snapshot {
	t.Helper()
	s, err := f.m.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func privateMessage(id int32, from int64) tl.Message {
	p := tl.UserPeer(from)
	return tl.Message{ID: id, Peer: tl.UserPeer(from), From: &p, Date: 1000 + int64(id), Text: "hello"}
}

func channelMessage(id int32, channelID int64) tl.Message {
	return tl.Message{ID: id, Peer: tl.ChannelPeer(channelID), Date: 1000 + int64(id), Text: "post"}
}

func newMessage(id int32, pts, count int64) tl.UpdateNewMessage {
	return tl.UpdateNewMessage{Message: privateMessage(id, friendID), Pts: pts, PtsCount: count}
}

func newChannelMessage(id int32, pts, count int64) tl.UpdateNewChannelMessage {
	return tl.UpdateNewChannelMessage{Message: channelMessage(id, chanID), Pts: pts, PtsCount: count}
}

// push wraps updates in a plain envelope carrying the fixture's entities.
func push(updates ...tl.Update) tl.Updates {
	return tl.Updates{
		Updates: updates,
		Users:   []tl.User{*testutil.User(friendID).User},
		Chats:   []tl.Chat{*testutil.Channel(chanID).Chat},
	}
}
