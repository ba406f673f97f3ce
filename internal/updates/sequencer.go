package updates

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/ptsync/internal/tl"
)

// origin says where an update came from, which decides how much ordering
// can be checked locally.
type origin int

const (
	// fromPush: every cursor is checked.
	fromPush origin = iota
	// fromDifference: the server orders common updates and the page state
	// is adopted afterwards; channel updates are still checked.
	fromDifference
	// fromChannelDifference: the page pts is adopted afterwards.
	fromChannelDifference
)

func (o origin) checksPts(channelID int64) bool {
	switch o {
	case fromPush:
		return true
	case fromDifference:
		return channelID != 0
	default:
		return false
	}
}

func (o origin) checksQts() bool {
	return o == fromPush
}

type verdict int

const (
	accept verdict = iota
	duplicate
	gap
	noBaseline
)

// process runs one atomic update through the ordering checks, applies its
// side effects and hands it to the dispatcher.
func (p *pass) process(ctx context.Context, u tl.Update, peers *tl.PeerIndex, o origin) error {
	if v, ok := u.(tl.UpdateChannelTooLong); ok {
		return p.loadChannelDifference(ctx, v.ChannelID, v.Pts, peers)
	}

	channelID := tl.ChannelIDOf(u)
	pts, ptsCount, hasPts := tl.PtsOf(u)
	checkPts := hasPts && o.checksPts(channelID)
	qts, hasQts := tl.QtsOf(u)
	checkQts := hasQts && o.checksQts()

	if checkPts {
		v, err := p.checkPts(ctx, channelID, pts, ptsCount)
		if err != nil {
			return err
		}
		switch v {
		case duplicate:
			p.log.Debug("update already applied",
				zap.String("type", u.TypeName()),
				zap.Int64("channel", channelID),
				zap.Int64("pts", pts),
			)
			return nil
		case gap:
			if channelID != 0 {
				gapsDetected.WithLabelValues("channel").Inc()
				return p.loadChannelDifference(ctx, channelID, pts, peers)
			}
			gapsDetected.WithLabelValues("common").Inc()
			return p.loadDifference(ctx)
		case noBaseline:
			if o == fromPush {
				// Nothing to recover from. Take the update's pts as the
				// baseline and drop the update itself.
				p.log.Debug("no baseline for channel, accepting gap",
					zap.Int64("channel", channelID),
					zap.Int64("pts", pts),
				)
				p.st.SetChannelPts(channelID, pts)
				return nil
			}
			// The server sent it during recovery: it becomes the base
			// state and is still delivered.
			p.log.Debug("no baseline for channel, taking update as base",
				zap.Int64("channel", channelID),
				zap.Int64("pts", pts),
			)
		}
	}

	if checkQts {
		switch expected := p.st.Qts() + 1; {
		case qts < expected:
			p.log.Debug("qts update already applied", zap.Int64("qts", qts))
			return nil
		case qts > expected:
			gapsDetected.WithLabelValues("qts").Inc()
			return p.loadDifference(ctx)
		}
	}

	suppressed := tl.IsDummy(u) || p.nd.has(u)
	if !suppressed && peers == nil {
		resolved, ok, err := p.fetchPeersForShort(ctx, u)
		if err != nil {
			return err
		}
		if !ok {
			// Short forms must not be presented with guessed entities.
			gapsDetected.WithLabelValues("peer").Inc()
			p.log.Debug("short update references unknown peer", zap.String("type", u.TypeName()))
			return p.loadDifference(ctx)
		}
		peers = resolved
	}

	switch {
	case checkPts && channelID != 0:
		p.st.SetChannelPts(channelID, pts)
	case checkPts:
		p.st.SetPts(pts)
	}
	if checkQts {
		p.st.SetQts(qts)
	}

	p.applySideEffects(ctx, u)

	if suppressed {
		p.nd.take(u)
		return nil
	}
	p.dispatch(ctx, u, peers)
	return nil
}

// checkPts compares pts against the local cursor of its scope.
func (p *pass) checkPts(ctx context.Context, channelID, pts, ptsCount int64) (verdict, error) {
	local, ok, err := p.localPts(ctx, channelID)
	if err != nil {
		return accept, err
	}
	if !ok {
		return noBaseline, nil
	}

	expected := local + ptsCount
	switch {
	case pts < expected:
		return duplicate, nil
	case pts > expected:
		p.log.Debug("pts gap",
			zap.Int64("channel", channelID),
			zap.Int64("pts", pts),
			zap.Int64("expected", expected),
		)
		return gap, nil
	default:
		return accept, nil
	}
}

// localPts returns the cursor of a scope. Stored channel pts are consulted
// only in catch-up mode; otherwise a channel first seen in this session has
// no baseline. A channel pts of 0 is never a baseline.
func (p *pass) localPts(ctx context.Context, channelID int64) (int64, bool, error) {
	if channelID == 0 {
		return p.st.Pts(), p.st.Known(), nil
	}
	if pts, ok := p.st.ChannelPts(channelID); ok && pts != 0 {
		return pts, true, nil
	}
	if !p.m.catchUp {
		return 0, false, nil
	}

	pts, ok, err := p.m.storage.ChannelPts(ctx, channelID)
	if err != nil {
		return 0, false, fmt.Errorf("load channel %d pts: %w", channelID, err)
	}
	if !ok || pts == 0 {
		return 0, false, nil
	}
	p.st.LoadChannelPts(channelID, pts)
	return pts, true, nil
}

// fetchPeersForShort builds the entities for a peerless update. Messages
// need every peer they reference; ok is false if any of them is not
// cached. Other updates get whatever the cache holds.
func (p *pass) fetchPeersForShort(ctx context.Context, u tl.Update) (*tl.PeerIndex, bool, error) {
	idx := tl.NewPeerIndex(nil, nil)
	msg, strict := tl.MessageOf(u)
	refs := contextPeers(u)
	if strict {
		refs = msg.ReferencedPeers()
	}
	for _, ref := range refs {
		if ref.Kind == tl.PeerUser && ref.ID == p.m.self.UserID {
			continue
		}
		full, ok, err := p.m.peers.LookupByID(ctx, ref)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			if strict {
				return nil, false, nil
			}
			continue
		}
		idx.Add(full)
	}
	return idx, true, nil
}

// contextPeers lists the peers a non-message update is about.
func contextPeers(u tl.Update) []tl.Peer {
	switch v := u.(type) {
	case tl.UpdateBotStopped:
		return []tl.Peer{tl.UserPeer(v.UserID)}
	case tl.UpdateUserName:
		return []tl.Peer{tl.UserPeer(v.UserID)}
	case tl.UpdateUserTyping:
		return []tl.Peer{tl.UserPeer(v.UserID)}
	}
	if channelID := tl.ChannelIDOf(u); channelID != 0 {
		return []tl.Peer{tl.ChannelPeer(channelID)}
	}
	return nil
}

// applySideEffects runs once per applied update. Failures are reported but
// do not stop the pass.
func (p *pass) applySideEffects(ctx context.Context, u tl.Update) {
	switch v := u.(type) {
	case tl.UpdateConfig:
		p.refreshConfig(ctx)
	case tl.UpdateDcOptions:
		if p.m.serverCfg == nil {
			p.refreshConfig(ctx)
			return
		}
		p.m.serverCfg.DcOptions = v.Options
	case tl.UpdateUserName:
		if v.UserID == 0 || v.UserID != p.m.self.UserID {
			return
		}
		p.m.self.Username = v.Username
		if err := p.m.storage.SaveSelf(ctx, p.m.self); err != nil {
			p.m.reportError(err)
		}
	}
}

func (p *pass) refreshConfig(ctx context.Context) {
	cfg, err := p.m.transport.GetConfig(ctx)
	if err != nil {
		p.m.reportError(fmt.Errorf("refresh config: %w", err))
		return
	}
	p.m.serverCfg = &cfg
	p.log.Debug("server config refreshed", zap.Int("dc_options", len(cfg.DcOptions)))
}

// dispatch hands u to the dispatcher. A panicking dispatcher is reported
// and does not affect the pass.
func (p *pass) dispatch(ctx context.Context, u tl.Update, peers *tl.PeerIndex) {
	defer func() {
		if r := recover(); r != nil {
			p.m.reportError(NewDispatchError(u.TypeName(), r))
		}
	}()
	p.m.dispatcher.Dispatch(ctx, u, peers)
	updatesDispatched.WithLabelValues(u.TypeName()).Inc()
}
