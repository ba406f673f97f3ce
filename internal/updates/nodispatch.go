package updates

import "github.com/roach88/ptsync/internal/tl"

// noDispatchIndex remembers the identities of updates a caller already
// holds. Message ids and pts are kept per channel, 0 being the common scope.
//
// Each entry suppresses one delivery: take removes what it matches.
type noDispatchIndex struct {
	msgs map[int64]map[int32]struct{}
	pts  map[int64]map[int64]struct{}
	qts  map[int64]struct{}
}

func newNoDispatchIndex(env tl.Envelope) *noDispatchIndex {
	nd := &noDispatchIndex{
		msgs: make(map[int64]map[int32]struct{}),
		pts:  make(map[int64]map[int64]struct{}),
		qts:  make(map[int64]struct{}),
	}

	switch e := env.(type) {
	case tl.Updates:
		for _, u := range e.Updates {
			nd.add(u)
		}
	case tl.UpdatesCombined:
		for _, u := range e.Updates {
			nd.add(u)
		}
	case tl.UpdateShort:
		nd.add(e.Update)
	case tl.UpdateShortMessage:
		nd.addMsg(0, e.ID)
		nd.addPts(0, e.Pts)
	case tl.UpdateShortChatMessage:
		nd.addMsg(0, e.ID)
		nd.addPts(0, e.Pts)
	case tl.UpdateShortSentMessage:
		nd.addMsg(0, e.ID)
		nd.addPts(0, e.Pts)
	case tl.UpdatesEmpty, tl.UpdatesTooLong:
	}
	return nd
}

func (nd *noDispatchIndex) add(u tl.Update) {
	channelID := tl.ChannelIDOf(u)
	if pts, _, ok := tl.PtsOf(u); ok {
		nd.addPts(channelID, pts)
	}
	if qts, ok := tl.QtsOf(u); ok && qts != 0 {
		nd.qts[qts] = struct{}{}
	}
	if msg, ok := newMessageOf(u); ok {
		nd.addMsg(msg.ChannelID(), msg.ID)
	}
}

func (nd *noDispatchIndex) addMsg(channelID int64, id int32) {
	set, ok := nd.msgs[channelID]
	if !ok {
		set = make(map[int32]struct{})
		nd.msgs[channelID] = set
	}
	set[id] = struct{}{}
}

func (nd *noDispatchIndex) addPts(channelID, pts int64) {
	if pts == 0 {
		return
	}
	set, ok := nd.pts[channelID]
	if !ok {
		set = make(map[int64]struct{})
		nd.pts[channelID] = set
	}
	set[pts] = struct{}{}
}

// has reports whether u matches an entry, without consuming it.
func (nd *noDispatchIndex) has(u tl.Update) bool {
	return nd.match(u, false)
}

// take reports whether u matches an entry and removes every entry it
// matches.
func (nd *noDispatchIndex) take(u tl.Update) bool {
	return nd.match(u, true)
}

func (nd *noDispatchIndex) match(u tl.Update, consume bool) bool {
	if nd == nil {
		return false
	}
	found := false

	channelID := tl.ChannelIDOf(u)
	if pts, _, ok := tl.PtsOf(u); ok && pts != 0 {
		if set := nd.pts[channelID]; set != nil {
			if _, hit := set[pts]; hit {
				found = true
				if consume {
					delete(set, pts)
				}
			}
		}
	}
	if qts, ok := tl.QtsOf(u); ok {
		if _, hit := nd.qts[qts]; hit {
			found = true
			if consume {
				delete(nd.qts, qts)
			}
		}
	}
	if msg, ok := newMessageOf(u); ok {
		if set := nd.msgs[msg.ChannelID()]; set != nil {
			if _, hit := set[msg.ID]; hit {
				found = true
				if consume {
					delete(set, msg.ID)
				}
			}
		}
	}
	return found
}

func newMessageOf(u tl.Update) (tl.Message, bool) {
	switch v := u.(type) {
	case tl.UpdateNewMessage:
		return v.Message, true
	case tl.UpdateNewChannelMessage:
		return v.Message, true
	default:
		return tl.Message{}, false
	}
}
