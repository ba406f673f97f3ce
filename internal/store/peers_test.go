package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ptsync/internal/tl"
)

func TestSavePeers_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	user := tl.User{ID: 10, AccessHash: 111, Username: "alice"}
	channel := tl.Chat{ID: 20, AccessHash: 222, Title: "news", Channel: true}
	require.NoError(t, s.SavePeers(ctx, []tl.FullPeer{{User: &user}, {Chat: &channel}}))

	p, found, err := s.Peer(ctx, tl.UserPeer(10).MarkedID())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, user, *p.User)

	p, found, err = s.Peer(ctx, tl.ChannelPeer(20).MarkedID())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, channel, *p.Chat)

	_, found, err = s.Peer(ctx, tl.ChatPeer(20).MarkedID())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSavePeers_MinDoesNotReplaceFull(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	full := tl.User{ID: 10, AccessHash: 111, Username: "alice"}
	stub := tl.User{ID: 10, Username: "alice2", Min: true}
	require.NoError(t, s.SavePeers(ctx, []tl.FullPeer{{User: &full}}))
	require.NoError(t, s.SavePeers(ctx, []tl.FullPeer{{User: &stub}}))

	p, _, err := s.Peer(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, full, *p.User)

	// A full entity does replace a min one.
	other := tl.User{ID: 11, Min: true}
	otherFull := tl.User{ID: 11, AccessHash: 5}
	require.NoError(t, s.SavePeers(ctx, []tl.FullPeer{{User: &other}}))
	require.NoError(t, s.SavePeers(ctx, []tl.FullPeer{{User: &otherFull}}))

	p, _, err = s.Peer(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, otherFull, *p.User)
}

func TestSelf(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, found, err := s.LoadSelf(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	want := tl.Self{UserID: 7, Bot: true, Username: "robot"}
	require.NoError(t, s.SaveSelf(ctx, want))

	got, found, err := s.LoadSelf(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)
}
