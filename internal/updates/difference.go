package updates

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/ptsync/internal/state"
	"github.com/roach88/ptsync/internal/tl"
)

// fetchState initializes the common cursors from the server.
//
// getState may report a stale qts. A difference taken from that state
// reports the real one, so its state is adopted instead. Its contents are
// not dispatched.
func (p *pass) fetchState(ctx context.Context) error {
	s, err := p.m.transport.GetState(ctx)
	if err != nil {
		return NewRecoveryError(0, fmt.Errorf("get state: %w", err))
	}

	diff, err := p.m.transport.GetDifference(ctx, tl.GetDifferenceRequest{
		Pts:  s.Pts,
		Qts:  s.Qts,
		Date: s.Date,
	})
	if err != nil {
		return NewRecoveryError(0, fmt.Errorf("get difference: %w", err))
	}
	switch d := diff.(type) {
	case tl.DifferenceEmpty:
	case tl.DifferenceTooLong:
		s.Pts = d.Pts
	case tl.DifferenceSlice:
		s = d.IntermediateState
	case tl.Difference:
		s = d.State
	default:
		return fmt.Errorf("unexpected difference %T", diff)
	}

	p.st.Adopt(cursorsOf(s))
	p.log.Info("fetched update state",
		zap.Int64("pts", s.Pts),
		zap.Int64("qts", s.Qts),
		zap.Int64("date", s.Date),
		zap.Int64("seq", s.Seq),
	)
	return nil
}

// loadDifference pages through everything missed in the common scope.
func (p *pass) loadDifference(ctx context.Context) error {
	if !p.st.Known() {
		return p.fetchState(ctx)
	}
	if p.inDifference {
		// The outer loop is still paging and will cover this.
		return nil
	}
	p.inDifference = true
	defer func() { p.inDifference = false }()

	recoveries.WithLabelValues("common").Inc()
	for {
		c := p.st.Cursors()
		req := tl.GetDifferenceRequest{Pts: c.Pts, Qts: c.Qts, Date: c.Date}
		diff, err := p.m.transport.GetDifference(ctx, req)
		if err != nil {
			return NewRecoveryError(0, err)
		}

		switch d := diff.(type) {
		case tl.DifferenceEmpty:
			p.st.SetDate(d.Date)
			p.st.SetSeq(d.Seq)
			p.log.Debug("difference empty", zap.Int64("pts", c.Pts))
			return nil

		case tl.DifferenceTooLong:
			tooLong.WithLabelValues("common").Inc()
			p.log.Warn("difference too long, missed updates are lost",
				zap.Int64("from_pts", c.Pts),
				zap.Int64("pts", d.Pts),
			)
			p.st.SetPts(d.Pts)
			return nil

		case tl.DifferenceSlice:
			if err := p.applyPage(ctx, d.NewMessages, d.OtherUpdates, d.Users, d.Chats, fromDifference); err != nil {
				return err
			}
			p.st.Adopt(cursorsOf(d.IntermediateState))
			next := p.st.Cursors()
			if next.Pts == c.Pts && next.Qts == c.Qts && next.Date == c.Date {
				return NewStalledError(0, c.Pts)
			}
			p.log.Debug("difference slice applied", zap.Int64("pts", next.Pts))

		case tl.Difference:
			if err := p.applyPage(ctx, d.NewMessages, d.OtherUpdates, d.Users, d.Chats, fromDifference); err != nil {
				return err
			}
			p.st.Adopt(cursorsOf(d.State))
			p.log.Debug("difference applied", zap.Int64("pts", d.State.Pts))
			return nil

		default:
			return fmt.Errorf("unexpected difference %T", diff)
		}
	}
}

// loadChannelDifference pages through everything missed in one channel.
// The starting pts comes from the session cache, then storage when
// catching up, then fallback. Without any of them there is nothing to
// recover from and the call does nothing. The channel's access hash is
// taken from peers when the batch carried it, else from the cache.
func (p *pass) loadChannelDifference(ctx context.Context, channelID, fallback int64, peers *tl.PeerIndex) error {
	if p.inChannel[channelID] {
		return nil
	}

	pts, ok, err := p.localPts(ctx, channelID)
	if err != nil {
		return err
	}
	if !ok && fallback != 0 {
		pts, ok = fallback, true
	}
	if !ok {
		p.log.Debug("no channel baseline, skipping recovery", zap.Int64("channel", channelID))
		return nil
	}

	full, found := peers.Lookup(tl.ChannelPeer(channelID))
	if !found || full.Chat == nil || full.Chat.Min {
		full, found, err = p.m.peers.LookupByID(ctx, tl.ChannelPeer(channelID))
		if err != nil {
			return err
		}
	}
	if !found || full.Chat == nil {
		p.log.Warn("channel is not cached, cannot fetch its difference", zap.Int64("channel", channelID))
		return nil
	}
	input := tl.InputChannel{ChannelID: channelID, AccessHash: full.Chat.AccessHash}

	limit := ChannelDifferenceLimitUser
	if p.m.self.Bot {
		limit = ChannelDifferenceLimitBot
	}

	p.inChannel[channelID] = true
	defer delete(p.inChannel, channelID)

	recoveries.WithLabelValues("channel").Inc()
	for {
		req := tl.GetChannelDifferenceRequest{
			Channel: input,
			Pts:     pts,
			Limit:   limit,
			Force:   true,
		}
		if pts <= 0 {
			req.Pts = 1
			req.Limit = 1
		}

		diff, err := p.m.transport.GetChannelDifference(ctx, req)
		if err != nil {
			return NewRecoveryError(channelID, err)
		}

		final := true
		prev := pts
		switch d := diff.(type) {
		case tl.ChannelDifferenceEmpty:
			if d.Pts > pts {
				pts = d.Pts
			}

		case tl.ChannelDifferenceTooLong:
			tooLong.WithLabelValues("channel").Inc()
			if d.Dialog.Pts != 0 {
				pts = d.Dialog.Pts
			}
			p.log.Warn("channel difference too long, missed updates are lost",
				zap.Int64("channel", channelID),
				zap.Int64("from_pts", prev),
				zap.Int64("pts", pts),
			)
			if err := p.applyPage(ctx, d.Messages, nil, d.Users, d.Chats, fromChannelDifference); err != nil {
				return err
			}

		case tl.ChannelDifference:
			if err := p.applyPage(ctx, d.NewMessages, d.OtherUpdates, d.Users, d.Chats, fromChannelDifference); err != nil {
				return err
			}
			pts = d.Pts
			final = d.Final
			if !final && pts <= prev {
				return NewStalledError(channelID, prev)
			}

		default:
			return fmt.Errorf("unexpected channel difference %T", diff)
		}

		p.st.SetChannelPts(channelID, pts)
		if final {
			p.log.Debug("channel difference applied",
				zap.Int64("channel", channelID),
				zap.Int64("pts", pts),
			)
			return nil
		}
	}
}

// applyPage caches the page's entities, dispatches its new messages and
// routes its other updates back through process.
func (p *pass) applyPage(ctx context.Context, messages []tl.Message, others tl.UpdateList, users []tl.User, chats []tl.Chat, o origin) error {
	idx := tl.NewPeerIndex(users, chats)
	if err := p.m.peers.CacheFrom(ctx, idx); err != nil {
		p.m.reportError(err)
	}

	for _, msg := range messages {
		if msg.Empty {
			continue
		}
		u := tl.NewMessageUpdate(msg)
		if p.nd.take(u) {
			continue
		}
		p.dispatch(ctx, u, idx)
	}

	for _, u := range others {
		if err := p.process(ctx, u, idx, o); err != nil {
			return err
		}
	}
	return nil
}

func cursorsOf(s tl.UpdatesState) state.Cursors {
	return state.Cursors{Pts: s.Pts, Qts: s.Qts, Date: s.Date, Seq: s.Seq}
}
