package tl

import "fmt"

// PeerKind distinguishes the three peer namespaces.
type PeerKind string

const (
	PeerUser    PeerKind = "user"
	PeerChat    PeerKind = "chat"
	PeerChannel PeerKind = "channel"
)

// channelMarkOffset separates channel ids from basic chat ids in marked form.
const channelMarkOffset int64 = 1_000_000_000_000

// Peer references a user, basic chat or channel by bare id.
type Peer struct {
	Kind PeerKind `json:"kind"`
	ID   int64    `json:"id"`
}

// UserPeer, ChatPeer and ChannelPeer are shorthands for building peers.
func UserPeer(id int64) Peer    { return Peer{Kind: PeerUser, ID: id} }
func ChatPeer(id int64) Peer    { return Peer{Kind: PeerChat, ID: id} }
func ChannelPeer(id int64) Peer { return Peer{Kind: PeerChannel, ID: id} }

// MarkedID returns a single id that is unique across all peer kinds.
// Users keep their id, chats are negated, channels are shifted below
// -1e12.
func (p Peer) MarkedID() int64 {
	switch p.Kind {
	case PeerChat:
		return -p.ID
	case PeerChannel:
		return -(channelMarkOffset + p.ID)
	default:
		return p.ID
	}
}

// PeerFromMarked reverses MarkedID.
func PeerFromMarked(marked int64) Peer {
	switch {
	case marked > 0:
		return UserPeer(marked)
	case marked < -channelMarkOffset:
		return ChannelPeer(-marked - channelMarkOffset)
	default:
		return ChatPeer(-marked)
	}
}

func (p Peer) String() string {
	return fmt.Sprintf("%s:%d", p.Kind, p.ID)
}

// User is a user as attached to an envelope or difference page.
//
// Min users come from contexts where the server omits private fields
// such as the access hash. They must not overwrite a cached full user.
type User struct {
	ID         int64  `json:"id"`
	AccessHash int64  `json:"access_hash,omitempty"`
	Username   string `json:"username,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	Bot        bool   `json:"bot,omitempty"`
	Self       bool   `json:"self,omitempty"`
	Min        bool   `json:"min,omitempty"`
}

// Chat is a basic chat or a channel. Channel distinguishes the two.
type Chat struct {
	ID         int64  `json:"id"`
	AccessHash int64  `json:"access_hash,omitempty"`
	Title      string `json:"title,omitempty"`
	Username   string `json:"username,omitempty"`
	Channel    bool   `json:"channel,omitempty"`
	Min        bool   `json:"min,omitempty"`
}

// Peer returns the peer reference for the chat.
func (c Chat) Peer() Peer {
	if c.Channel {
		return ChannelPeer(c.ID)
	}
	return ChatPeer(c.ID)
}

// FullPeer is a resolved peer. Exactly one of User and Chat is set.
type FullPeer struct {
	User *User `json:"user,omitempty"`
	Chat *Chat `json:"chat,omitempty"`
}

// Peer returns the reference for the resolved entity.
func (f FullPeer) Peer() Peer {
	if f.User != nil {
		return UserPeer(f.User.ID)
	}
	if f.Chat != nil {
		return f.Chat.Peer()
	}
	return Peer{}
}

// IsMin reports whether the resolved entity is only partially known.
func (f FullPeer) IsMin() bool {
	if f.User != nil {
		return f.User.Min
	}
	if f.Chat != nil {
		return f.Chat.Min
	}
	return false
}

// PeerIndex holds the users and chats attached to a batch, keyed by id.
type PeerIndex struct {
	Users map[int64]User
	Chats map[int64]Chat
}

// NewPeerIndex builds an index from entity lists. Later entries win.
func NewPeerIndex(users []User, chats []Chat) *PeerIndex {
	idx := &PeerIndex{
		Users: make(map[int64]User, len(users)),
		Chats: make(map[int64]Chat, len(chats)),
	}
	for _, u := range users {
		idx.Users[u.ID] = u
	}
	for _, c := range chats {
		idx.Chats[c.ID] = c
	}
	return idx
}

// HasMin reports whether any entity in the index is a min entity.
func (idx *PeerIndex) HasMin() bool {
	if idx == nil {
		return false
	}
	for _, u := range idx.Users {
		if u.Min {
			return true
		}
	}
	for _, c := range idx.Chats {
		if c.Min {
			return true
		}
	}
	return false
}

// Add stores a resolved entity in the index, replacing any previous entry.
func (idx *PeerIndex) Add(p FullPeer) {
	switch {
	case p.User != nil:
		idx.Users[p.User.ID] = *p.User
	case p.Chat != nil:
		idx.Chats[p.Chat.ID] = *p.Chat
	}
}

// Lookup returns the entity for a peer reference.
func (idx *PeerIndex) Lookup(p Peer) (FullPeer, bool) {
	if idx == nil {
		return FullPeer{}, false
	}
	switch p.Kind {
	case PeerUser:
		u, ok := idx.Users[p.ID]
		if !ok {
			return FullPeer{}, false
		}
		return FullPeer{User: &u}, true
	default:
		c, ok := idx.Chats[p.ID]
		if !ok {
			return FullPeer{}, false
		}
		return FullPeer{Chat: &c}, true
	}
}

// Entities flattens the index back into lists, for storage.
func (idx *PeerIndex) Entities() []FullPeer {
	if idx == nil {
		return nil
	}
	out := make([]FullPeer, 0, len(idx.Users)+len(idx.Chats))
	for _, u := range idx.Users {
		u := u
		out = append(out, FullPeer{User: &u})
	}
	for _, c := range idx.Chats {
		c := c
		out = append(out, FullPeer{Chat: &c})
	}
	return out
}

// Self identifies the logged in account.
type Self struct {
	UserID   int64  `json:"user_id"`
	Bot      bool   `json:"bot,omitempty"`
	Username string `json:"username,omitempty"`
}
