package testutil

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/roach88/ptsync/internal/state"
	"github.com/roach88/ptsync/internal/tl"
)

// Storage is an in-memory cursor store. It records every write so tests can
// assert which fields were persisted.
type Storage struct {
	mu sync.Mutex

	cursors  *state.Cursors
	channels map[int64]int64
	self     *tl.Self

	persisted     []state.Changes
	channelWrites []map[int64]int64

	// PersistErr, when set, fails every write.
	PersistErr error
}

// NewStorage returns an empty store.
func NewStorage() *Storage {
	return &Storage{channels: make(map[int64]int64)}
}

// Seed sets stored cursors.
func (s *Storage) Seed(c state.Cursors) *Storage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = &c
	return s
}

// SeedChannel sets a stored channel pts.
func (s *Storage) SeedChannel(channelID, pts int64) *Storage {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[channelID] = pts
	return s
}

func (s *Storage) LoadCursors(ctx context.Context) (state.Cursors, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursors == nil {
		return state.Cursors{}, false, nil
	}
	return *s.cursors, true, nil
}

func (s *Storage) PersistCursors(ctx context.Context, ch state.Changes) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PersistErr != nil {
		return s.PersistErr
	}
	if s.cursors == nil {
		s.cursors = &state.Cursors{}
	}
	if ch.Pts != nil {
		s.cursors.Pts = *ch.Pts
	}
	if ch.Qts != nil {
		s.cursors.Qts = *ch.Qts
	}
	if ch.Date != nil {
		s.cursors.Date = *ch.Date
	}
	if ch.Seq != nil {
		s.cursors.Seq = *ch.Seq
	}
	s.persisted = append(s.persisted, ch)
	return nil
}

func (s *Storage) ChannelPts(ctx context.Context, channelID int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pts, ok := s.channels[channelID]
	return pts, ok, nil
}

func (s *Storage) SetManyChannelPts(ctx context.Context, values map[int64]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PersistErr != nil {
		return s.PersistErr
	}
	maps.Copy(s.channels, values)
	s.channelWrites = append(s.channelWrites, maps.Clone(values))
	return nil
}

func (s *Storage) ResetCursors(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = nil
	s.self = nil
	clear(s.channels)
	return nil
}

func (s *Storage) LoadSelf(ctx context.Context) (tl.Self, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.self == nil {
		return tl.Self{}, false, nil
	}
	return *s.self, true, nil
}

func (s *Storage) SaveSelf(ctx context.Context, self tl.Self) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = &self
	return nil
}

// Stored returns the stored cursors.
func (s *Storage) Stored() (state.Cursors, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursors == nil {
		return state.Cursors{}, false
	}
	return *s.cursors, true
}

// StoredChannel returns a stored channel pts.
func (s *Storage) StoredChannel(channelID int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pts, ok := s.channels[channelID]
	return pts, ok
}

// StoredChannels returns a copy of every stored channel pts.
func (s *Storage) StoredChannels() map[int64]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.channels)
}

// Persisted returns every cursor write, oldest first.
func (s *Storage) Persisted() []state.Changes {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.persisted)
}

// ChannelWrites returns every channel batch written, oldest first.
func (s *Storage) ChannelWrites() []map[int64]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.channelWrites)
}

// Call is one recorded RPC.
type Call struct {
	Method    string `json:"method" yaml:"method"`
	Pts       int64  `json:"pts,omitempty" yaml:"pts,omitempty"`
	Qts       int64  `json:"qts,omitempty" yaml:"qts,omitempty"`
	Date      int64  `json:"date,omitempty" yaml:"date,omitempty"`
	ChannelID int64  `json:"channel_id,omitempty" yaml:"channel_id,omitempty"`
	Limit     int64  `json:"limit,omitempty" yaml:"limit,omitempty"`
}

// Transport answers RPCs from scripted results.
//
// Difference pages are consumed in order. Once a script runs out, the
// server reports that nothing is missing.
type Transport struct {
	mu sync.Mutex

	State       tl.UpdatesState
	Config      tl.Config
	differences []tl.DifferenceResult
	channels    map[int64][]tl.ChannelDifferenceResult

	// Err, when set, fails every difference request.
	Err error

	// OnCall, when set, sees every call as it is recorded.
	OnCall func(c Call)

	calls []Call
}

// NewTransport returns a transport whose server is at s.
func NewTransport(s tl.UpdatesState) *Transport {
	return &Transport{
		State:    s,
		channels: make(map[int64][]tl.ChannelDifferenceResult),
	}
}

// QueueDifference appends pages for getDifference.
func (t *Transport) QueueDifference(pages ...tl.DifferenceResult) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.differences = append(t.differences, pages...)
	return t
}

// QueueChannelDifference appends pages for one channel.
func (t *Transport) QueueChannelDifference(channelID int64, pages ...tl.ChannelDifferenceResult) *Transport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channels[channelID] = append(t.channels[channelID], pages...)
	return t
}

func (t *Transport) GetState(ctx context.Context) (tl.UpdatesState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(Call{Method: "getState"})
	return t.State, nil
}

func (t *Transport) GetDifference(ctx context.Context, req tl.GetDifferenceRequest) (tl.DifferenceResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(Call{Method: "getDifference", Pts: req.Pts, Qts: req.Qts, Date: req.Date})
	if t.Err != nil {
		return nil, t.Err
	}
	if len(t.differences) == 0 {
		return tl.DifferenceEmpty{Date: t.State.Date, Seq: t.State.Seq}, nil
	}
	d := t.differences[0]
	t.differences = t.differences[1:]
	return d, nil
}

func (t *Transport) GetChannelDifference(ctx context.Context, req tl.GetChannelDifferenceRequest) (tl.ChannelDifferenceResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := req.Channel.ChannelID
	t.record(Call{Method: "getChannelDifference", Pts: req.Pts, ChannelID: id, Limit: req.Limit})
	if t.Err != nil {
		return nil, t.Err
	}
	pages := t.channels[id]
	if len(pages) == 0 {
		return tl.ChannelDifferenceEmpty{Final: true, Pts: req.Pts}, nil
	}
	t.channels[id] = pages[1:]
	return pages[0], nil
}

func (t *Transport) GetConfig(ctx context.Context) (tl.Config, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.record(Call{Method: "getConfig"})
	return t.Config, nil
}

func (t *Transport) record(c Call) {
	t.calls = append(t.calls, c)
	if t.OnCall != nil {
		t.OnCall(c)
	}
}

// Calls returns every recorded RPC, oldest first.
func (t *Transport) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.calls)
}

// CallCount counts recorded calls to method.
func (t *Transport) CallCount(method string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ResetCalls forgets the recorded calls.
func (t *Transport) ResetCalls() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = nil
}

// Peers is an in-memory entity cache keyed by marked id.
type Peers struct {
	mu       sync.Mutex
	entities map[int64]tl.FullPeer

	// CacheErr, when set, fails every CacheFrom without caching anything.
	CacheErr error
}

// NewPeers returns a cache holding entities.
func NewPeers(entities ...tl.FullPeer) *Peers {
	p := &Peers{entities: make(map[int64]tl.FullPeer)}
	for _, e := range entities {
		p.entities[e.Peer().MarkedID()] = e
	}
	return p
}

func (p *Peers) CacheFrom(ctx context.Context, idx *tl.PeerIndex) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CacheErr != nil {
		return p.CacheErr
	}
	for _, e := range idx.Entities() {
		key := e.Peer().MarkedID()
		if e.IsMin() {
			if known, ok := p.entities[key]; ok && !known.IsMin() {
				continue
			}
		}
		p.entities[key] = e
	}
	return nil
}

func (p *Peers) LookupByID(ctx context.Context, ref tl.Peer) (tl.FullPeer, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entities[ref.MarkedID()]
	return e, ok, nil
}

func (p *Peers) ResolveStub(ctx context.Context, ref tl.Peer) (tl.FullPeer, bool, error) {
	e, ok, _ := p.LookupByID(ctx, ref)
	if !ok || e.IsMin() {
		return tl.FullPeer{}, false, nil
	}
	return e, true, nil
}

// User builds a full user entity.
func User(id int64) tl.FullPeer {
	return tl.FullPeer{User: &tl.User{ID: id, AccessHash: id * 7}}
}

// Channel builds a full channel entity.
func Channel(id int64) tl.FullPeer {
	return tl.FullPeer{Chat: &tl.Chat{ID: id, AccessHash: id * 11, Channel: true}}
}

// Dispatched is one update seen by a Recorder.
type Dispatched struct {
	Update tl.Update
	Peers  *tl.PeerIndex
}

// Recorder is a dispatcher that keeps everything it receives.
type Recorder struct {
	mu      sync.Mutex
	records []Dispatched

	// OnDispatch, when set, runs before the update is recorded.
	OnDispatch func(u tl.Update)
}

func (r *Recorder) Dispatch(ctx context.Context, u tl.Update, peers *tl.PeerIndex) {
	if r.OnDispatch != nil {
		r.OnDispatch(u)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Dispatched{Update: u, Peers: peers})
}

// Records returns everything dispatched so far.
func (r *Recorder) Records() []Dispatched {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.records)
}

// Updates returns the dispatched updates without their entities.
func (r *Recorder) Updates() []tl.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]tl.Update, 0, len(r.records))
	for _, d := range r.records {
		out = append(out, d.Update)
	}
	return out
}

// Errors collects errors sent to an error handler.
type Errors struct {
	mu   sync.Mutex
	errs []error
}

// Handle is an error handler.
func (e *Errors) Handle(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errs = append(e.errs, err)
}

// All returns the collected errors.
func (e *Errors) All() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.errs)
}
