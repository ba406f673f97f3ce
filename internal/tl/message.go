package tl

// Entity is a formatting entity. UserID is set for mention entities that
// reference a user by id.
type Entity struct {
	Kind   string `json:"kind"`
	Offset int32  `json:"offset"`
	Length int32  `json:"length"`
	UserID int64  `json:"user_id,omitempty"`
}

// ReplyHeader points at the message being replied to.
type ReplyHeader struct {
	MsgID int32 `json:"msg_id"`
	Peer  *Peer `json:"peer,omitempty"`
}

// FwdHeader describes the origin of a forwarded message.
type FwdHeader struct {
	From      *Peer `json:"from,omitempty"`
	SavedFrom *Peer `json:"saved_from,omitempty"`
	Date      int64 `json:"date"`
}

// MessageAction is the payload of a service message.
type MessageAction struct {
	Kind    string  `json:"kind"`
	UserIDs []int64 `json:"user_ids,omitempty"`
	ChatID  int64   `json:"chat_id,omitempty"`
	// ChannelID is set on migration actions.
	ChannelID int64 `json:"channel_id,omitempty"`
}

// Message is a full message record.
//
// Empty messages carry only ID and Peer. They appear in difference pages for
// deleted or inaccessible messages and are never dispatched.
type Message struct {
	ID          int32          `json:"id"`
	Peer        Peer           `json:"peer"`
	From        *Peer          `json:"from,omitempty"`
	Out         bool           `json:"out,omitempty"`
	Mentioned   bool           `json:"mentioned,omitempty"`
	MediaUnread bool           `json:"media_unread,omitempty"`
	Silent      bool           `json:"silent,omitempty"`
	Date        int64          `json:"date"`
	Text        string         `json:"text,omitempty"`
	ReplyTo     *ReplyHeader   `json:"reply_to,omitempty"`
	FwdFrom     *FwdHeader     `json:"fwd_from,omitempty"`
	ViaBotID    int64          `json:"via_bot_id,omitempty"`
	Entities    []Entity       `json:"entities,omitempty"`
	TTLPeriod   int32          `json:"ttl_period,omitempty"`
	Action      *MessageAction `json:"action,omitempty"`
	Empty       bool           `json:"empty,omitempty"`
}

// ChannelID returns the channel the message belongs to, or 0.
func (m Message) ChannelID() int64 {
	if m.Peer.Kind == PeerChannel {
		return m.Peer.ID
	}
	return 0
}

// ReferencedPeers lists every peer needed to present the message.
// Duplicates are removed, order is stable.
func (m Message) ReferencedPeers() []Peer {
	var out []Peer
	seen := make(map[Peer]struct{})
	add := func(p Peer) {
		if p.ID == 0 {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}

	add(m.Peer)
	if m.From != nil {
		add(*m.From)
	}
	if m.ReplyTo != nil && m.ReplyTo.Peer != nil {
		add(*m.ReplyTo.Peer)
	}
	if m.FwdFrom != nil {
		if m.FwdFrom.From != nil {
			add(*m.FwdFrom.From)
		}
		if m.FwdFrom.SavedFrom != nil {
			add(*m.FwdFrom.SavedFrom)
		}
	}
	if m.ViaBotID != 0 {
		add(UserPeer(m.ViaBotID))
	}
	for _, e := range m.Entities {
		if e.UserID != 0 {
			add(UserPeer(e.UserID))
		}
	}
	if m.Action != nil {
		for _, id := range m.Action.UserIDs {
			add(UserPeer(id))
		}
		if m.Action.ChatID != 0 {
			add(ChatPeer(m.Action.ChatID))
		}
		if m.Action.ChannelID != 0 {
			add(ChannelPeer(m.Action.ChannelID))
		}
	}
	return out
}
