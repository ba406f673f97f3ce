package tl

// DifferenceResult is one page of a common difference.
type DifferenceResult interface {
	Object
	isDifference()
}

// DifferenceEmpty means nothing was missed.
type DifferenceEmpty struct {
	Date int64 `json:"date"`
	Seq  int64 `json:"seq"`
}

// Difference is the final page.
type Difference struct {
	NewMessages  []Message    `json:"new_messages"`
	OtherUpdates UpdateList   `json:"other_updates"`
	Users        []User       `json:"users,omitempty"`
	Chats        []Chat       `json:"chats,omitempty"`
	State        UpdatesState `json:"state"`
}

// DifferenceSlice is an intermediate page; more follow.
type DifferenceSlice struct {
	NewMessages       []Message    `json:"new_messages"`
	OtherUpdates      UpdateList   `json:"other_updates"`
	Users             []User       `json:"users,omitempty"`
	Chats             []Chat       `json:"chats,omitempty"`
	IntermediateState UpdatesState `json:"intermediate_state"`
}

// DifferenceTooLong means the gap is too large to replay. The client takes
// Pts as is and accepts the loss.
type DifferenceTooLong struct {
	Pts int64 `json:"pts"`
}

func (DifferenceEmpty) TypeName() string   { return "updates.differenceEmpty" }
func (Difference) TypeName() string        { return "updates.difference" }
func (DifferenceSlice) TypeName() string   { return "updates.differenceSlice" }
func (DifferenceTooLong) TypeName() string { return "updates.differenceTooLong" }

func (DifferenceEmpty) isDifference()   {}
func (Difference) isDifference()        {}
func (DifferenceSlice) isDifference()   {}
func (DifferenceTooLong) isDifference() {}

// ChannelDifferenceResult is one page of a channel difference.
type ChannelDifferenceResult interface {
	Object
	isChannelDifference()
}

type ChannelDifferenceEmpty struct {
	Final   bool  `json:"final"`
	Pts     int64 `json:"pts"`
	Timeout int32 `json:"timeout,omitempty"`
}

type ChannelDifference struct {
	Final        bool       `json:"final"`
	Pts          int64      `json:"pts"`
	Timeout      int32      `json:"timeout,omitempty"`
	NewMessages  []Message  `json:"new_messages"`
	OtherUpdates UpdateList `json:"other_updates"`
	Users        []User     `json:"users,omitempty"`
	Chats        []Chat     `json:"chats,omitempty"`
}

// Dialog is the channel dialog snapshot returned with a too-long page.
// Pts is 0 when the server omitted it.
type Dialog struct {
	Peer       Peer  `json:"peer"`
	TopMessage int32 `json:"top_message"`
	Pts        int64 `json:"pts,omitempty"`
}

// ChannelDifferenceTooLong carries a snapshot of recent messages instead of
// the missed updates.
type ChannelDifferenceTooLong struct {
	Final    bool      `json:"final"`
	Timeout  int32     `json:"timeout,omitempty"`
	Dialog   Dialog    `json:"dialog"`
	Messages []Message `json:"messages"`
	Users    []User    `json:"users,omitempty"`
	Chats    []Chat    `json:"chats,omitempty"`
}

func (ChannelDifferenceEmpty) TypeName() string   { return "updates.channelDifferenceEmpty" }
func (ChannelDifference) TypeName() string        { return "updates.channelDifference" }
func (ChannelDifferenceTooLong) TypeName() string { return "updates.channelDifferenceTooLong" }

func (ChannelDifferenceEmpty) isChannelDifference()   {}
func (ChannelDifference) isChannelDifference()        {}
func (ChannelDifferenceTooLong) isChannelDifference() {}

// GetDifferenceRequest asks for everything after the given cursors.
type GetDifferenceRequest struct {
	Pts  int64 `json:"pts"`
	Qts  int64 `json:"qts"`
	Date int64 `json:"date"`
}

// InputChannel addresses a channel in requests.
type InputChannel struct {
	ChannelID  int64 `json:"channel_id"`
	AccessHash int64 `json:"access_hash"`
}

// GetChannelDifferenceRequest asks for channel updates after Pts.
type GetChannelDifferenceRequest struct {
	Channel InputChannel `json:"channel"`
	Pts     int64        `json:"pts"`
	Limit   int64        `json:"limit"`
	Force   bool         `json:"force,omitempty"`
}
