// Package state holds the client's update cursors.
//
// A State is owned by exactly one engine and is only touched while the
// engine's serialization lock is held, so it has no locking of its own.
// Every cursor is non-decreasing: setters ignore values lower than the
// current one.
package state

import "maps"

// Cursors is a snapshot of the common-scope cursors.
type Cursors struct {
	Pts  int64 `json:"pts"`
	Qts  int64 `json:"qts"`
	Date int64 `json:"date"`
	Seq  int64 `json:"seq"`
}

// State is the live cursor set plus a shadow copy of what storage holds.
type State struct {
	known bool
	cur   Cursors

	// saved is nil until storage is known to hold a value.
	saved *Cursors

	channels map[int64]int64
	dirty    map[int64]struct{}
}

// New returns an empty state. Common cursors are unknown until Load or
// Adopt is called.
func New() *State {
	return &State{
		channels: make(map[int64]int64),
		dirty:    make(map[int64]struct{}),
	}
}

// Known reports whether the common cursors have been initialized.
func (s *State) Known() bool {
	return s.known
}

// Cursors returns the current common cursors.
func (s *State) Cursors() Cursors {
	return s.cur
}

// Load initializes the common cursors from storage. The shadow copy is set
// to the same values, so nothing is written back until they change.
func (s *State) Load(c Cursors) {
	s.known = true
	s.cur = c
	saved := c
	s.saved = &saved
}

// Adopt initializes the common cursors from the server. Unlike Load, the
// values are considered unsaved.
func (s *State) Adopt(c Cursors) {
	if !s.known {
		s.known = true
		s.cur = c
		return
	}
	s.SetPts(c.Pts)
	s.SetQts(c.Qts)
	s.SetDate(c.Date)
	s.SetSeq(c.Seq)
}

func (s *State) Pts() int64  { return s.cur.Pts }
func (s *State) Qts() int64  { return s.cur.Qts }
func (s *State) Date() int64 { return s.cur.Date }
func (s *State) Seq() int64  { return s.cur.Seq }

// SetPts moves pts forward. It reports whether the value was taken.
func (s *State) SetPts(v int64) bool { return advance(&s.cur.Pts, v) }

// SetQts moves qts forward.
func (s *State) SetQts(v int64) bool { return advance(&s.cur.Qts, v) }

// SetDate moves date forward.
func (s *State) SetDate(v int64) bool { return advance(&s.cur.Date, v) }

// SetSeq moves seq forward.
func (s *State) SetSeq(v int64) bool { return advance(&s.cur.Seq, v) }

func advance(field *int64, v int64) bool {
	if v < *field {
		return false
	}
	*field = v
	return true
}

// ChannelPts returns the cached pts of a channel.
func (s *State) ChannelPts(channelID int64) (int64, bool) {
	pts, ok := s.channels[channelID]
	return pts, ok
}

// LoadChannelPts caches a channel pts read from storage. It is not marked
// for persistence.
func (s *State) LoadChannelPts(channelID, pts int64) {
	if cur, ok := s.channels[channelID]; ok && cur >= pts {
		return
	}
	s.channels[channelID] = pts
}

// SetChannelPts moves a channel pts forward and marks it for persistence.
func (s *State) SetChannelPts(channelID, pts int64) bool {
	if cur, ok := s.channels[channelID]; ok && pts < cur {
		return false
	}
	s.channels[channelID] = pts
	s.dirty[channelID] = struct{}{}
	return true
}

// Changes lists what differs from storage.
type Changes struct {
	Pts  *int64
	Qts  *int64
	Date *int64
	Seq  *int64

	Channels map[int64]int64
}

// Empty reports whether there is nothing to write.
func (c Changes) Empty() bool {
	return c.Pts == nil && c.Qts == nil && c.Date == nil && c.Seq == nil && len(c.Channels) == 0
}

// Changes computes the fields that differ from the shadow copy and the
// channels modified since the last Commit. Without a shadow copy every
// known field counts as changed.
func (s *State) Changes() Changes {
	var ch Changes
	if s.known {
		diff := func(cur int64, saved func(Cursors) int64) *int64 {
			if s.saved != nil && saved(*s.saved) == cur {
				return nil
			}
			v := cur
			return &v
		}
		ch.Pts = diff(s.cur.Pts, func(c Cursors) int64 { return c.Pts })
		ch.Qts = diff(s.cur.Qts, func(c Cursors) int64 { return c.Qts })
		ch.Date = diff(s.cur.Date, func(c Cursors) int64 { return c.Date })
		ch.Seq = diff(s.cur.Seq, func(c Cursors) int64 { return c.Seq })
	}
	if len(s.dirty) > 0 {
		ch.Channels = make(map[int64]int64, len(s.dirty))
		for id := range s.dirty {
			ch.Channels[id] = s.channels[id]
		}
	}
	return ch
}

// Commit records that ch was written to storage.
func (s *State) Commit(ch Changes) {
	if s.saved == nil && (ch.Pts != nil || ch.Qts != nil || ch.Date != nil || ch.Seq != nil) {
		s.saved = &Cursors{}
	}
	if s.saved != nil {
		if ch.Pts != nil {
			s.saved.Pts = *ch.Pts
		}
		if ch.Qts != nil {
			s.saved.Qts = *ch.Qts
		}
		if ch.Date != nil {
			s.saved.Date = *ch.Date
		}
		if ch.Seq != nil {
			s.saved.Seq = *ch.Seq
		}
	}
	for id, pts := range ch.Channels {
		// A channel moved again after the snapshot stays dirty.
		if s.channels[id] == pts {
			delete(s.dirty, id)
		}
	}
}

// ChannelSnapshot copies the channel pts cache.
func (s *State) ChannelSnapshot() map[int64]int64 {
	return maps.Clone(s.channels)
}

// Reset forgets everything, including the shadow copy.
func (s *State) Reset() {
	*s = *New()
}
