package tl

// Envelope is a push container as delivered by the server.
//
// Like Update, the variant set is closed.
type Envelope interface {
	Object
	isEnvelope()
}

// UpdateList is a list of updates that encodes each element with its
// discriminator.
type UpdateList []Update

// UpdatesEmpty carries nothing.
type UpdatesEmpty struct{}

// UpdatesTooLong tells the client too many updates are pending and it must
// fetch the difference.
type UpdatesTooLong struct{}

// Updates is a plain batch. Seq 0 means the batch is not seq-ordered.
type Updates struct {
	Updates UpdateList `json:"updates"`
	Users   []User     `json:"users,omitempty"`
	Chats   []Chat     `json:"chats,omitempty"`
	Date    int64      `json:"date"`
	Seq     int64      `json:"seq"`
}

// UpdatesCombined is a batch that spans the seq range SeqStart..Seq.
type UpdatesCombined struct {
	Updates  UpdateList `json:"updates"`
	Users    []User     `json:"users,omitempty"`
	Chats    []Chat     `json:"chats,omitempty"`
	Date     int64      `json:"date"`
	SeqStart int64      `json:"seq_start"`
	Seq      int64      `json:"seq"`
}

// UpdateShort wraps one update without peers or seq.
type UpdateShort struct {
	Update Update `json:"update"`
	Date   int64  `json:"date"`
}

// UpdateShortMessage is a compact new private message. UserID is the other
// party; Out tells whether we sent it.
type UpdateShortMessage struct {
	ID          int32        `json:"id"`
	UserID      int64        `json:"user_id"`
	Message     string       `json:"message"`
	Pts         int64        `json:"pts"`
	PtsCount    int64        `json:"pts_count"`
	Date        int64        `json:"date"`
	Out         bool         `json:"out,omitempty"`
	Mentioned   bool         `json:"mentioned,omitempty"`
	MediaUnread bool         `json:"media_unread,omitempty"`
	Silent      bool         `json:"silent,omitempty"`
	FwdFrom     *FwdHeader   `json:"fwd_from,omitempty"`
	ViaBotID    int64        `json:"via_bot_id,omitempty"`
	ReplyTo     *ReplyHeader `json:"reply_to,omitempty"`
	Entities    []Entity     `json:"entities,omitempty"`
	TTLPeriod   int32        `json:"ttl_period,omitempty"`
}

// UpdateShortChatMessage is a compact new basic group message.
type UpdateShortChatMessage struct {
	ID          int32        `json:"id"`
	FromID      int64        `json:"from_id"`
	ChatID      int64        `json:"chat_id"`
	Message     string       `json:"message"`
	Pts         int64        `json:"pts"`
	PtsCount    int64        `json:"pts_count"`
	Date        int64        `json:"date"`
	Out         bool         `json:"out,omitempty"`
	Mentioned   bool         `json:"mentioned,omitempty"`
	MediaUnread bool         `json:"media_unread,omitempty"`
	Silent      bool         `json:"silent,omitempty"`
	FwdFrom     *FwdHeader   `json:"fwd_from,omitempty"`
	ViaBotID    int64        `json:"via_bot_id,omitempty"`
	ReplyTo     *ReplyHeader `json:"reply_to,omitempty"`
	Entities    []Entity     `json:"entities,omitempty"`
	TTLPeriod   int32        `json:"ttl_period,omitempty"`
}

// UpdateShortSentMessage echoes a message the client itself sent.
type UpdateShortSentMessage struct {
	ID        int32    `json:"id"`
	Pts       int64    `json:"pts"`
	PtsCount  int64    `json:"pts_count"`
	Date      int64    `json:"date"`
	Out       bool     `json:"out,omitempty"`
	Entities  []Entity `json:"entities,omitempty"`
	TTLPeriod int32    `json:"ttl_period,omitempty"`
}

func (UpdatesEmpty) TypeName() string           { return "updatesEmpty" }
func (UpdatesTooLong) TypeName() string         { return "updatesTooLong" }
func (Updates) TypeName() string                { return "updates" }
func (UpdatesCombined) TypeName() string        { return "updatesCombined" }
func (UpdateShort) TypeName() string            { return "updateShort" }
func (UpdateShortMessage) TypeName() string     { return "updateShortMessage" }
func (UpdateShortChatMessage) TypeName() string { return "updateShortChatMessage" }
func (UpdateShortSentMessage) TypeName() string { return "updateShortSentMessage" }

func (UpdatesEmpty) isEnvelope()           {}
func (UpdatesTooLong) isEnvelope()         {}
func (Updates) isEnvelope()                {}
func (UpdatesCombined) isEnvelope()        {}
func (UpdateShort) isEnvelope()            {}
func (UpdateShortMessage) isEnvelope()     {}
func (UpdateShortChatMessage) isEnvelope() {}
func (UpdateShortSentMessage) isEnvelope() {}

// UpdatesState is the server's view of the common cursors.
type UpdatesState struct {
	Pts  int64 `json:"pts"`
	Qts  int64 `json:"qts"`
	Date int64 `json:"date"`
	Seq  int64 `json:"seq"`
}

// Config is the part of the server config the client caches.
type Config struct {
	Date      int64      `json:"date"`
	Expires   int64      `json:"expires,omitempty"`
	ThisDC    int32      `json:"this_dc,omitempty"`
	DcOptions []DcOption `json:"dc_options"`
}

func (UpdatesState) TypeName() string { return "updates.state" }
func (Config) TypeName() string       { return "config" }
