package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ptsync/internal/state"
	"github.com/roach88/ptsync/internal/tl"
)

// Scenario describes one engine run: what storage and the server hold,
// what arrives, and what must hold afterwards.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	Self    SelfSpec `yaml:"self,omitempty"`
	CatchUp bool     `yaml:"catch_up,omitempty"`

	// DisableNoDispatch turns duplicate suppression off for the run.
	DisableNoDispatch bool `yaml:"disable_no_dispatch,omitempty"`

	Stored StoredSpec `yaml:"stored,omitempty"`
	Server ServerSpec `yaml:"server"`

	// Peers are wire objects already known to the peer cache.
	Peers PeersSpec `yaml:"peers,omitempty"`

	// Flow is executed in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// SelfSpec is the logged in account.
type SelfSpec struct {
	UserID   int64  `yaml:"user_id"`
	Bot      bool   `yaml:"bot,omitempty"`
	Username string `yaml:"username,omitempty"`
}

func (s SelfSpec) toSelf() tl.Self {
	return tl.Self{UserID: s.UserID, Bot: s.Bot, Username: s.Username}
}

// CursorSpec is a cursor tuple as written in scenario files.
type CursorSpec struct {
	Pts  int64 `yaml:"pts"`
	Qts  int64 `yaml:"qts"`
	Date int64 `yaml:"date"`
	Seq  int64 `yaml:"seq"`
}

func (c CursorSpec) toCursors() state.Cursors {
	return state.Cursors{Pts: c.Pts, Qts: c.Qts, Date: c.Date, Seq: c.Seq}
}

// StoredSpec is the storage content before the run. Nil cursors mean a
// fresh install.
type StoredSpec struct {
	Cursors  *CursorSpec     `yaml:"cursors,omitempty"`
	Channels map[int64]int64 `yaml:"channels,omitempty"`
}

// ServerSpec scripts the server. Difference pages are wire objects served
// in order; once they run out the server reports nothing missing.
type ServerSpec struct {
	State              CursorSpec             `yaml:"state"`
	Differences        []WireObject           `yaml:"differences,omitempty"`
	ChannelDifferences map[int64][]WireObject `yaml:"channel_differences,omitempty"`
	// Fail, when set, fails every difference request with this message.
	Fail string `yaml:"fail,omitempty"`
}

// PeersSpec lists cached entities as wire objects.
type PeersSpec struct {
	Users []WireObject `yaml:"users,omitempty"`
	Chats []WireObject `yaml:"chats,omitempty"`
}

// WireObject is a JSON wire object written as YAML.
type WireObject map[string]any

// decode converts the object to JSON and decodes it into dst.
func (w WireObject) decode(dst any) error {
	data, err := json.Marshal(map[string]any(w))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// bytes returns the JSON encoding.
func (w WireObject) bytes() ([]byte, error) {
	return json.Marshal(map[string]any(w))
}

// Step is one flow entry. Exactly one action is set.
type Step struct {
	Start    bool       `yaml:"start,omitempty"`
	CatchUp  bool       `yaml:"catch_up,omitempty"`
	Reset    bool       `yaml:"reset,omitempty"`
	Envelope WireObject `yaml:"envelope,omitempty"`

	// NoDispatch marks the envelope as already held by the caller.
	NoDispatch bool `yaml:"no_dispatch,omitempty"`
}

func (s Step) action() string {
	var set []string
	if s.Start {
		set = append(set, StepStart)
	}
	if s.CatchUp {
		set = append(set, StepCatchUp)
	}
	if s.Reset {
		set = append(set, StepReset)
	}
	if s.Envelope != nil {
		set = append(set, StepEnvelope)
	}
	if len(set) != 1 {
		return ""
	}
	return set[0]
}

// Step actions.
const (
	StepStart    = "start"
	StepCatchUp  = "catch_up"
	StepReset    = "reset"
	StepEnvelope = "envelope"
)

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_count": events with Event label occur exactly Count times
	// - "trace_order": Events labels occur in this order
	// - "cursors": final in-memory cursors equal Expect
	// - "stored": stored cursors equal Expect
	// - "channel_pts": in-memory pts of Channel equals Pts
	// - "error_count": exactly Count errors reached the sink
	Type string `yaml:"type"`

	// Event is a trace label such as "call:getDifference" or
	// "dispatch:updateNewMessage".
	Event  string   `yaml:"event,omitempty"`
	Events []string `yaml:"events,omitempty"`
	Count  int      `yaml:"count,omitempty"`

	Expect *CursorSpec `yaml:"expect,omitempty"`

	Channel int64 `yaml:"channel,omitempty"`
	Pts     int64 `yaml:"pts,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceCount = "trace_count"
	AssertTraceOrder = "trace_order"
	AssertCursors    = "cursors"
	AssertStored     = "stored"
	AssertChannelPts = "channel_pts"
	AssertErrorCount = "error_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and decodes every wire object
// once so a typo fails at load time rather than mid-run.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, w := range s.Server.Differences {
		if _, err := decodeWire(w, tl.DecodeDifference); err != nil {
			return fmt.Errorf("server.differences[%d]: %w", i, err)
		}
	}
	for id, pages := range s.Server.ChannelDifferences {
		for i, w := range pages {
			if _, err := decodeWire(w, tl.DecodeChannelDifference); err != nil {
				return fmt.Errorf("server.channel_differences[%d][%d]: %w", id, i, err)
			}
		}
	}
	if _, err := s.Peers.entities(); err != nil {
		return err
	}

	for i, step := range s.Flow {
		action := step.action()
		if action == "" {
			return fmt.Errorf("flow[%d]: exactly one of start, catch_up, reset, envelope is required", i)
		}
		if step.NoDispatch && action != StepEnvelope {
			return fmt.Errorf("flow[%d]: no_dispatch only applies to envelope", i)
		}
		if action == StepEnvelope {
			if _, err := decodeWire(step.Envelope, tl.DecodeEnvelope); err != nil {
				return fmt.Errorf("flow[%d].envelope: %w", i, err)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertCursors, AssertStored:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertChannelPts:
		if a.Channel == 0 {
			return fmt.Errorf("assertions[%d]: channel is required for channel_pts", index)
		}
	case AssertErrorCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for error_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func decodeWire[T any](w WireObject, decode func([]byte) (T, error)) (T, error) {
	var zero T
	data, err := w.bytes()
	if err != nil {
		return zero, err
	}
	return decode(data)
}

func (p PeersSpec) entities() ([]tl.FullPeer, error) {
	var out []tl.FullPeer
	for i, w := range p.Users {
		var u tl.User
		if err := w.decode(&u); err != nil {
			return nil, fmt.Errorf("peers.users[%d]: %w", i, err)
		}
		out = append(out, tl.FullPeer{User: &u})
	}
	for i, w := range p.Chats {
		var c tl.Chat
		if err := w.decode(&c); err != nil {
			return nil, fmt.Errorf("peers.chats[%d]: %w", i, err)
		}
		out = append(out, tl.FullPeer{Chat: &c})
	}
	return out, nil
}
