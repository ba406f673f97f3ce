package updates

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ptsync/internal/state"
	"github.com/roach88/ptsync/internal/tl"
)

func TestSequencer_AcceptDuplicateGap(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 1})
	f.start(t)

	// Accepted: expected = 100 + 5.
	f.handle(t, push(newMessage(1, 105, 5)))
	assert.Equal(t, int64(105), f.snapshot(t).Cursors.Pts)
	require.Len(t, f.rec.Updates(), 1)
	assert.Empty(t, f.transport.Calls())

	// Duplicate: expected 106.
	f.handle(t, push(newMessage(2, 105, 1)))
	assert.Equal(t, int64(105), f.snapshot(t).Cursors.Pts)
	assert.Len(t, f.rec.Updates(), 1)
	assert.Empty(t, f.transport.Calls())

	// Gap: the server state wins, the pushed update is dropped.
	f.transport.QueueDifference(tl.Difference{
		NewMessages: []tl.Message{privateMessage(3, friendID)},
		Users:       []tl.User{{ID: friendID, AccessHash: 35}},
		State:       tl.UpdatesState{Pts: 118, Date: 50, Seq: 1},
	})
	f.handle(t, push(newMessage(9, 120, 5)))

	assert.Equal(t, int64(118), f.snapshot(t).Cursors.Pts)
	calls := f.transport.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "getDifference", calls[0].Method)
	assert.Equal(t, int64(105), calls[0].Pts)

	got := f.rec.Updates()
	require.Len(t, got, 2)
	msg, ok := tl.MessageOf(got[1])
	require.True(t, ok)
	assert.Equal(t, int32(3), msg.ID)
	assert.Empty(t, f.errs.All())
}

func TestSequencer_ChannelWithoutBaselineAcceptsGap(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 1})
	f.start(t)

	f.handle(t, push(newChannelMessage(1, 10, 1)))

	assert.Empty(t, f.rec.Updates())
	assert.Empty(t, f.transport.Calls())
	assert.Equal(t, int64(10), f.snapshot(t).Channels[chanID])

	// The adopted baseline orders the next update.
	f.handle(t, push(newChannelMessage(2, 11, 1)))
	assert.Len(t, f.rec.Updates(), 1)
	assert.Equal(t, int64(11), f.snapshot(t).Channels[chanID])
}

func TestSequencer_ContiguousUpdatesDispatchOnce(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 1})
	f.start(t)

	pts := int64(100)
	var batch []tl.Update
	for i := int32(1); i <= 10; i++ {
		count := int64(i%3 + 1)
		pts += count
		batch = append(batch, newMessage(i, pts, count))
	}
	f.handle(t, push(batch[:4]...))
	f.handle(t, push(batch[4:]...))

	assert.Equal(t, pts, f.snapshot(t).Cursors.Pts)
	got := f.rec.Updates()
	require.Len(t, got, 10)
	for i, u := range got {
		msg, _ := tl.MessageOf(u)
		assert.Equal(t, int32(i+1), msg.ID)
	}
	assert.Empty(t, f.transport.Calls())
}

func TestSequencer_GapTriggersOneRecovery(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 1})
	f.start(t)

	f.handle(t, push(newMessage(1, 150, 1)))

	assert.Equal(t, 1, f.transport.CallCount("getDifference"))
	assert.Empty(t, f.rec.Updates())
}

func TestSequencer_Qts(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Qts: 4, Date: 1, Seq: 1})
	f.start(t)

	stopped := func(qts int64) tl.UpdateBotStopped {
		return tl.UpdateBotStopped{UserID: friendID, Date: 2, Stopped: true, Qts: qts}
	}

	f.handle(t, push(stopped(5)))
	assert.Equal(t, int64(5), f.snapshot(t).Cursors.Qts)
	assert.Len(t, f.rec.Updates(), 1)

	f.handle(t, push(stopped(5)))
	assert.Len(t, f.rec.Updates(), 1)
	assert.Empty(t, f.transport.Calls())

	f.handle(t, push(stopped(9)))
	assert.Equal(t, int64(5), f.snapshot(t).Cursors.Qts)
	assert.Equal(t, 1, f.transport.CallCount("getDifference"))
	assert.Len(t, f.rec.Updates(), 1)
}

func TestSequencer_Seq(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 10})
	f.start(t)

	env := push(newMessage(1, 101, 1))

	env.Seq = 10
	f.handle(t, env)
	assert.Empty(t, f.rec.Updates(), "already applied batch")

	env.Seq = 12
	f.handle(t, env)
	assert.Empty(t, f.rec.Updates(), "seq gap")
	assert.Equal(t, 1, f.transport.CallCount("getDifference"))

	env.Seq = 11
	env.Date = 2000
	f.handle(t, env)
	require.Len(t, f.rec.Updates(), 1)
	s := f.snapshot(t)
	assert.Equal(t, int64(11), s.Cursors.Seq)
	assert.Equal(t, int64(2000), s.Cursors.Date)
}

func TestSequencer_CombinedChecksSeqStart(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 10})
	f.start(t)

	f.handle(t, tl.UpdatesCombined{
		Updates:  tl.UpdateList{newMessage(1, 101, 1), newMessage(2, 102, 1)},
		Users:    []tl.User{{ID: friendID}},
		Date:     3000,
		SeqStart: 11,
		Seq:      12,
	})

	s := f.snapshot(t)
	assert.Equal(t, int64(12), s.Cursors.Seq)
	assert.Equal(t, int64(3000), s.Cursors.Date)
	assert.Len(t, f.rec.Updates(), 2)
}

func TestSequencer_UpdateShortAdvancesDate(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 1})
	f.start(t)

	f.handle(t, tl.UpdateShort{Update: tl.UpdateUserTyping{UserID: friendID, Action: "typing"}, Date: 700})

	require.Len(t, f.rec.Records(), 1)
	rec := f.rec.Records()[0]
	_, ok := rec.Peers.Lookup(tl.UserPeer(friendID))
	assert.True(t, ok, "peers resolved from cache")
	assert.Equal(t, int64(700), f.snapshot(t).Cursors.Date)
}

func TestSequencer_TypingFromUnknownUserIsDispatched(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 1})
	f.start(t)

	f.handle(t, tl.UpdateShort{Update: tl.UpdateUserTyping{UserID: 999, Action: "typing"}, Date: 700})

	require.Len(t, f.rec.Records(), 1)
	rec := f.rec.Records()[0]
	assert.IsType(t, tl.UpdateUserTyping{}, rec.Update)
	_, ok := rec.Peers.Lookup(tl.UserPeer(999))
	assert.False(t, ok)
	assert.Empty(t, f.transport.Calls(), "no recovery for non-message updates")
	assert.Equal(t, int64(700), f.snapshot(t).Cursors.Date)
}

func TestSequencer_ShortMessage(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 1})
	f.start(t)

	f.handle(t, tl.UpdateShortMessage{ID: 7, UserID: friendID, Message: "hi", Pts: 101, PtsCount: 1, Date: 50})

	require.Len(t, f.rec.Records(), 1)
	rec := f.rec.Records()[0]
	u, ok := rec.Update.(tl.UpdateNewMessage)
	require.True(t, ok)
	assert.Equal(t, int32(7), u.Message.ID)
	assert.Equal(t, "hi", u.Message.Text)
	assert.Equal(t, tl.UserPeer(friendID), u.Message.Peer)
	assert.Equal(t, tl.UserPeer(friendID), *u.Message.From)
	_, ok = rec.Peers.Lookup(tl.UserPeer(friendID))
	assert.True(t, ok)
	assert.Equal(t, int64(101), f.snapshot(t).Cursors.Pts)
}

func TestSequencer_OutgoingShortMessageFromSelf(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 1})
	f.start(t)

	f.handle(t, tl.UpdateShortMessage{ID: 8, UserID: friendID, Out: true, Pts: 101, PtsCount: 1})

	require.Len(t, f.rec.Updates(), 1)
	u := f.rec.Updates()[0].(tl.UpdateNewMessage)
	assert.Equal(t, tl.UserPeer(selfID), *u.Message.From)
	assert.True(t, u.Message.Out)
}

func TestSequencer_ShortChatMessage(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 1})
	f.start(t)

	err := f.peers.CacheFrom(context.Background(), tl.NewPeerIndex(nil, []tl.Chat{{ID: 300, Title: "group"}}))
	require.NoError(t, err)

	f.handle(t, tl.UpdateShortChatMessage{ID: 9, FromID: friendID, ChatID: 300, Pts: 101, PtsCount: 1})

	require.Len(t, f.rec.Records(), 1)
	rec := f.rec.Records()[0]
	u := rec.Update.(tl.UpdateNewMessage)
	assert.Equal(t, tl.ChatPeer(300), u.Message.Peer)
	_, ok := rec.Peers.Lookup(tl.ChatPeer(300))
	assert.True(t, ok)
}

func TestSequencer_ShortMessageUnknownPeerRecovers(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 1})
	f.start(t)

	f.handle(t, tl.UpdateShortMessage{ID: 7, UserID: 99, Pts: 101, PtsCount: 1})

	assert.Empty(t, f.rec.Updates())
	assert.Equal(t, 1, f.transport.CallCount("getDifference"))
	// The cursor did not move, so the difference re-delivers the message.
	assert.Equal(t, int64(100), f.snapshot(t).Cursors.Pts)
}

func TestSequencer_ShortSentMessageNeverDispatched(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 1})
	f.start(t)

	f.handle(t, tl.UpdateShortSentMessage{ID: 3, Pts: 101, PtsCount: 1, Date: 900, Out: true})

	assert.Empty(t, f.rec.Updates())
	s := f.snapshot(t)
	assert.Equal(t, int64(101), s.Cursors.Pts)
	assert.Equal(t, int64(900), s.Cursors.Date)
}

func TestSequencer_DummyAdvancesWithoutDispatch(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 1})
	f.start(t)

	f.handle(t, tl.NewDummyEnvelope(103, 3, 0))
	assert.Equal(t, int64(103), f.snapshot(t).Cursors.Pts)

	f.handle(t, push(newChannelMessage(1, 10, 1)))
	f.handle(t, tl.NewDummyEnvelope(12, 2, chanID))
	assert.Equal(t, int64(12), f.snapshot(t).Channels[chanID])

	assert.Empty(t, f.rec.Updates())
	assert.Empty(t, f.transport.Calls())
}

func TestSequencer_StubPeers(t *testing.T) {
	t.Run("unresolved stub recovers", func(t *testing.T) {
		f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 1})
		f.start(t)

		env := tl.Updates{
			Updates: tl.UpdateList{tl.UpdateNewMessage{Message: privateMessage(1, 42), Pts: 101, PtsCount: 1}},
			Users:   []tl.User{{ID: 42, Min: true}},
		}
		f.handle(t, env)

		assert.Empty(t, f.rec.Updates())
		assert.Equal(t, 1, f.transport.CallCount("getDifference"))
	})

	t.Run("known stub is replaced by the full entity", func(t *testing.T) {
		f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 1})
		f.start(t)

		env := tl.Updates{
			Updates: tl.UpdateList{newMessage(1, 101, 1)},
			Users:   []tl.User{{ID: friendID, Min: true}},
		}
		f.handle(t, env)

		require.Len(t, f.rec.Records(), 1)
		u, ok := f.rec.Records()[0].Peers.Lookup(tl.UserPeer(friendID))
		require.True(t, ok)
		assert.False(t, u.IsMin())
		assert.Empty(t, f.transport.Calls())
	})
}

func TestSequencer_SideEffects(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 10})
	f.transport.Config = tl.Config{ThisDC: 2, DcOptions: []tl.DcOption{{ID: 2, IPAddress: "10.0.0.2", Port: 443}}}
	f.start(t)

	// Discarded batch: nothing fires.
	dup := push(tl.UpdateConfig{})
	dup.Seq = 9
	f.handle(t, dup)
	assert.Zero(t, f.transport.CallCount("getConfig"))
	assert.Nil(t, f.snapshot(t).Config)

	f.handle(t, push(tl.UpdateConfig{}))
	assert.Equal(t, 1, f.transport.CallCount("getConfig"))
	require.NotNil(t, f.snapshot(t).Config)

	opts := []tl.DcOption{{ID: 4, IPAddress: "10.0.0.4", Port: 443}}
	f.handle(t, push(tl.UpdateDcOptions{Options: opts}))
	assert.Equal(t, opts, f.snapshot(t).Config.DcOptions)
	assert.Equal(t, 1, f.transport.CallCount("getConfig"), "patched in place")

	f.handle(t, tl.UpdateShort{Update: tl.UpdateUserName{UserID: selfID, Username: "renamed"}, Date: 5})
	assert.Equal(t, "renamed", f.snapshot(t).Self.Username)
	stored, found, err := f.storage.LoadSelf(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "renamed", stored.Username)

	assert.Len(t, f.rec.Updates(), 3)
}

func TestSequencer_DispatchPanicIsReported(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100, Date: 1, Seq: 1})
	f.rec.OnDispatch = func(u tl.Update) {
		if msg, ok := tl.MessageOf(u); ok && msg.ID == 1 {
			panic("boom")
		}
	}
	f.start(t)

	f.handle(t, push(newMessage(1, 101, 1), newMessage(2, 102, 1)))

	assert.Equal(t, int64(102), f.snapshot(t).Cursors.Pts)
	assert.Len(t, f.rec.Updates(), 1)
	errs := f.errs.All()
	require.Len(t, errs, 1)
	assert.True(t, IsDispatchError(errs[0]))
}

func TestSequencer_NotStarted(t *testing.T) {
	f := newFixture(t, state.Cursors{Pts: 100})

	f.handle(t, push(newMessage(1, 101, 1)))

	errs := f.errs.All()
	require.Len(t, errs, 1)
	var re *RuntimeError
	require.ErrorAs(t, errs[0], &re)
	assert.Equal(t, ErrCodeNotStarted, re.Code)
	assert.Empty(t, f.rec.Updates())
}
