package tl

// Object is anything the wire codec can encode and decode.
type Object interface {
	// TypeName returns the wire discriminator stored under "_".
	TypeName() string
}

// Update is a single atomic update.
//
// The set of variants is closed: only types in this package implement it.
// Code switching over updates should end in a default branch that reports
// the unexpected variant.
type Update interface {
	Object
	isUpdate()
}

// DummyMessageID is the message id carried by dummy updates. Real message
// ids are positive, so it can never collide with a server update.
const DummyMessageID int32 = -42

// UpdateNewMessage is a new message in a private chat or basic group.
type UpdateNewMessage struct {
	Message  Message `json:"message"`
	Pts      int64   `json:"pts"`
	PtsCount int64   `json:"pts_count"`
}

// UpdateNewChannelMessage is a new message in a channel or supergroup.
type UpdateNewChannelMessage struct {
	Message  Message `json:"message"`
	Pts      int64   `json:"pts"`
	PtsCount int64   `json:"pts_count"`
}

type UpdateEditMessage struct {
	Message  Message `json:"message"`
	Pts      int64   `json:"pts"`
	PtsCount int64   `json:"pts_count"`
}

type UpdateEditChannelMessage struct {
	Message  Message `json:"message"`
	Pts      int64   `json:"pts"`
	PtsCount int64   `json:"pts_count"`
}

type UpdateDeleteMessages struct {
	Messages []int32 `json:"messages"`
	Pts      int64   `json:"pts"`
	PtsCount int64   `json:"pts_count"`
}

type UpdateDeleteChannelMessages struct {
	ChannelID int64   `json:"channel_id"`
	Messages  []int32 `json:"messages"`
	Pts       int64   `json:"pts"`
	PtsCount  int64   `json:"pts_count"`
}

// UpdatePinnedMessages reports pinned or unpinned messages. ChannelID 0
// means the common scope. It also carries dummy updates, see NewDummyUpdate.
type UpdatePinnedMessages struct {
	ChannelID int64   `json:"channel_id,omitempty"`
	Pinned    bool    `json:"pinned,omitempty"`
	Messages  []int32 `json:"messages"`
	Pts       int64   `json:"pts"`
	PtsCount  int64   `json:"pts_count"`
}

// UpdateChannelTooLong tells the client to fetch the channel difference.
// Pts is 0 when the server did not include it.
type UpdateChannelTooLong struct {
	ChannelID int64 `json:"channel_id"`
	Pts       int64 `json:"pts,omitempty"`
}

// UpdateBotStopped is a qts-sequenced event delivered to bots.
type UpdateBotStopped struct {
	UserID  int64 `json:"user_id"`
	Date    int64 `json:"date"`
	Stopped bool  `json:"stopped"`
	Qts     int64 `json:"qts"`
}

// UpdateConfig signals that the server config changed.
type UpdateConfig struct{}

// DcOption is one datacenter endpoint.
type DcOption struct {
	ID        int32  `json:"id"`
	IPAddress string `json:"ip_address"`
	Port      int32  `json:"port"`
	IPv6      bool   `json:"ipv6,omitempty"`
}

// UpdateDcOptions carries a new datacenter list.
type UpdateDcOptions struct {
	Options []DcOption `json:"dc_options"`
}

// UpdateUserName reports a username change.
type UpdateUserName struct {
	UserID    int64  `json:"user_id"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username"`
}

type UpdateUserTyping struct {
	UserID int64  `json:"user_id"`
	Action string `json:"action"`
}

// UpdateChannel reports that channel metadata changed.
type UpdateChannel struct {
	ChannelID int64 `json:"channel_id"`
}

func (UpdateNewMessage) TypeName() string            { return "updateNewMessage" }
func (UpdateNewChannelMessage) TypeName() string     { return "updateNewChannelMessage" }
func (UpdateEditMessage) TypeName() string           { return "updateEditMessage" }
func (UpdateEditChannelMessage) TypeName() string    { return "updateEditChannelMessage" }
func (UpdateDeleteMessages) TypeName() string        { return "updateDeleteMessages" }
func (UpdateDeleteChannelMessages) TypeName() string { return "updateDeleteChannelMessages" }
func (UpdatePinnedMessages) TypeName() string        { return "updatePinnedMessages" }
func (UpdateChannelTooLong) TypeName() string        { return "updateChannelTooLong" }
func (UpdateBotStopped) TypeName() string            { return "updateBotStopped" }
func (UpdateConfig) TypeName() string                { return "updateConfig" }
func (UpdateDcOptions) TypeName() string             { return "updateDcOptions" }
func (UpdateUserName) TypeName() string              { return "updateUserName" }
func (UpdateUserTyping) TypeName() string            { return "updateUserTyping" }
func (UpdateChannel) TypeName() string               { return "updateChannel" }

func (UpdateNewMessage) isUpdate()            {}
func (UpdateNewChannelMessage) isUpdate()     {}
func (UpdateEditMessage) isUpdate()           {}
func (UpdateEditChannelMessage) isUpdate()    {}
func (UpdateDeleteMessages) isUpdate()        {}
func (UpdateDeleteChannelMessages) isUpdate() {}
func (UpdatePinnedMessages) isUpdate()        {}
func (UpdateChannelTooLong) isUpdate()        {}
func (UpdateBotStopped) isUpdate()            {}
func (UpdateConfig) isUpdate()                {}
func (UpdateDcOptions) isUpdate()             {}
func (UpdateUserName) isUpdate()              {}
func (UpdateUserTyping) isUpdate()            {}
func (UpdateChannel) isUpdate()               {}

// PtsOf returns the (pts, ptsCount) pair of a pts-sequenced update.
func PtsOf(u Update) (pts, ptsCount int64, ok bool) {
	switch v := u.(type) {
	case UpdateNewMessage:
		return v.Pts, v.PtsCount, true
	case UpdateNewChannelMessage:
		return v.Pts, v.PtsCount, true
	case UpdateEditMessage:
		return v.Pts, v.PtsCount, true
	case UpdateEditChannelMessage:
		return v.Pts, v.PtsCount, true
	case UpdateDeleteMessages:
		return v.Pts, v.PtsCount, true
	case UpdateDeleteChannelMessages:
		return v.Pts, v.PtsCount, true
	case UpdatePinnedMessages:
		return v.Pts, v.PtsCount, true
	default:
		return 0, 0, false
	}
}

// QtsOf returns the qts of a qts-sequenced update.
func QtsOf(u Update) (int64, bool) {
	if v, ok := u.(UpdateBotStopped); ok {
		return v.Qts, true
	}
	return 0, false
}

// ChannelIDOf returns the channel scope of an update, or 0 for the common
// scope.
func ChannelIDOf(u Update) int64 {
	switch v := u.(type) {
	case UpdateNewChannelMessage:
		return v.Message.ChannelID()
	case UpdateEditChannelMessage:
		return v.Message.ChannelID()
	case UpdateDeleteChannelMessages:
		return v.ChannelID
	case UpdatePinnedMessages:
		return v.ChannelID
	case UpdateChannelTooLong:
		return v.ChannelID
	case UpdateChannel:
		return v.ChannelID
	default:
		return 0
	}
}

// MessageOf returns the message carried by new and edited message updates.
func MessageOf(u Update) (Message, bool) {
	switch v := u.(type) {
	case UpdateNewMessage:
		return v.Message, true
	case UpdateNewChannelMessage:
		return v.Message, true
	case UpdateEditMessage:
		return v.Message, true
	case UpdateEditChannelMessage:
		return v.Message, true
	default:
		return Message{}, false
	}
}

// NewMessageUpdate wraps a message from a difference page into the update a
// push would have carried. Difference messages come without pts.
func NewMessageUpdate(m Message) Update {
	if m.Peer.Kind == PeerChannel {
		return UpdateNewChannelMessage{Message: m}
	}
	return UpdateNewMessage{Message: m}
}

// NewDummyUpdate creates an update that only moves pts forward. It lets RPC
// results that carry (pts, ptsCount) but no real update advance the cursor
// without anything being dispatched.
func NewDummyUpdate(pts, ptsCount, channelID int64) Update {
	return UpdatePinnedMessages{
		ChannelID: channelID,
		Messages:  []int32{DummyMessageID},
		Pts:       pts,
		PtsCount:  ptsCount,
	}
}

// NewDummyEnvelope wraps a dummy update for HandleEnvelope.
func NewDummyEnvelope(pts, ptsCount, channelID int64) Envelope {
	return Updates{Updates: UpdateList{NewDummyUpdate(pts, ptsCount, channelID)}}
}

// IsDummy reports whether u was built by NewDummyUpdate.
func IsDummy(u Update) bool {
	v, ok := u.(UpdatePinnedMessages)
	return ok && len(v.Messages) == 1 && v.Messages[0] == DummyMessageID
}
