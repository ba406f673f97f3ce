package updates

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/ptsync/internal/tl"
)

// batch is the common shape of plain and combined envelopes.
type batch struct {
	updates  tl.UpdateList
	users    []tl.User
	chats    []tl.Chat
	date     int64
	seqStart int64
	seq      int64
}

func (p *pass) handleEnvelope(ctx context.Context, env tl.Envelope) error {
	if !p.st.Known() {
		return NewNotStartedError()
	}

	switch e := env.(type) {
	case tl.UpdatesEmpty:
		return nil

	case tl.UpdatesTooLong:
		p.log.Debug("updates too long")
		return p.loadDifference(ctx)

	case tl.Updates:
		return p.handleBatch(ctx, batch{
			updates:  e.Updates,
			users:    e.Users,
			chats:    e.Chats,
			date:     e.Date,
			seqStart: e.Seq,
			seq:      e.Seq,
		})

	case tl.UpdatesCombined:
		return p.handleBatch(ctx, batch{
			updates:  e.Updates,
			users:    e.Users,
			chats:    e.Chats,
			date:     e.Date,
			seqStart: e.SeqStart,
			seq:      e.Seq,
		})

	case tl.UpdateShort:
		if err := p.process(ctx, e.Update, nil, fromPush); err != nil {
			return err
		}
		p.st.SetDate(e.Date)
		return nil

	case tl.UpdateShortMessage:
		return p.process(ctx, expandShortMessage(e, p.m.self.UserID), nil, fromPush)

	case tl.UpdateShortChatMessage:
		return p.process(ctx, expandShortChatMessage(e, p.m.self.UserID), nil, fromPush)

	case tl.UpdateShortSentMessage:
		// Our own send: the caller has the message already.
		if err := p.process(ctx, tl.NewDummyUpdate(e.Pts, e.PtsCount, 0), nil, fromPush); err != nil {
			return err
		}
		p.st.SetDate(e.Date)
		return nil

	default:
		return fmt.Errorf("unexpected envelope %T", env)
	}
}

func (p *pass) handleBatch(ctx context.Context, b batch) error {
	if b.seqStart != 0 {
		expected := p.st.Seq() + 1
		switch {
		case b.seqStart < expected:
			p.log.Debug("batch already applied",
				zap.Int64("seq_start", b.seqStart),
				zap.Int64("expected", expected),
			)
			return nil
		case b.seqStart > expected:
			gapsDetected.WithLabelValues("seq").Inc()
			p.log.Debug("seq gap",
				zap.Int64("seq_start", b.seqStart),
				zap.Int64("expected", expected),
			)
			return p.loadDifference(ctx)
		}
	}

	idx := tl.NewPeerIndex(b.users, b.chats)
	if err := p.m.peers.CacheFrom(ctx, idx); err != nil {
		// The batch still carries the entities; only the cache missed them.
		p.m.reportError(err)
	}
	if idx.HasMin() {
		ok, err := p.resolveStubs(ctx, idx)
		if err != nil {
			return err
		}
		if !ok {
			p.log.Debug("batch references unknown min entities")
			return p.loadDifference(ctx)
		}
	}

	for _, u := range b.updates {
		if err := p.process(ctx, u, idx, fromPush); err != nil {
			return err
		}
	}

	if b.seq != 0 && b.seq > p.st.Seq() {
		p.st.SetSeq(b.seq)
		p.st.SetDate(b.date)
	}
	return nil
}

// resolveStubs replaces min entities in idx with cached full ones. It
// reports false if any of them is unknown.
func (p *pass) resolveStubs(ctx context.Context, idx *tl.PeerIndex) (bool, error) {
	var stubs []tl.Peer
	for _, u := range idx.Users {
		if u.Min {
			stubs = append(stubs, tl.UserPeer(u.ID))
		}
	}
	for _, c := range idx.Chats {
		if c.Min {
			stubs = append(stubs, c.Peer())
		}
	}

	for _, ref := range stubs {
		full, ok, err := p.m.peers.ResolveStub(ctx, ref)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
		idx.Add(full)
	}
	return true, nil
}

// expandShortMessage rebuilds the new message update a private short
// message stands for.
func expandShortMessage(e tl.UpdateShortMessage, selfID int64) tl.Update {
	from := tl.UserPeer(e.UserID)
	if e.Out {
		from = tl.UserPeer(selfID)
	}
	return tl.UpdateNewMessage{
		Message: tl.Message{
			ID:          e.ID,
			Peer:        tl.UserPeer(e.UserID),
			From:        &from,
			Out:         e.Out,
			Mentioned:   e.Mentioned,
			MediaUnread: e.MediaUnread,
			Silent:      e.Silent,
			Date:        e.Date,
			Text:        e.Message,
			ReplyTo:     e.ReplyTo,
			FwdFrom:     e.FwdFrom,
			ViaBotID:    e.ViaBotID,
			Entities:    e.Entities,
			TTLPeriod:   e.TTLPeriod,
		},
		Pts:      e.Pts,
		PtsCount: e.PtsCount,
	}
}

// expandShortChatMessage does the same for basic group messages.
func expandShortChatMessage(e tl.UpdateShortChatMessage, selfID int64) tl.Update {
	from := tl.UserPeer(e.FromID)
	if e.Out {
		from = tl.UserPeer(selfID)
	}
	return tl.UpdateNewMessage{
		Message: tl.Message{
			ID:          e.ID,
			Peer:        tl.ChatPeer(e.ChatID),
			From:        &from,
			Out:         e.Out,
			Mentioned:   e.Mentioned,
			MediaUnread: e.MediaUnread,
			Silent:      e.Silent,
			Date:        e.Date,
			Text:        e.Message,
			ReplyTo:     e.ReplyTo,
			FwdFrom:     e.FwdFrom,
			ViaBotID:    e.ViaBotID,
			Entities:    e.Entities,
			TTLPeriod:   e.TTLPeriod,
		},
		Pts:      e.Pts,
		PtsCount: e.PtsCount,
	}
}
