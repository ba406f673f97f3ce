package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/ptsync/internal/state"
	"github.com/roach88/ptsync/internal/testutil"
	"github.com/roach88/ptsync/internal/tl"
	"github.com/roach88/ptsync/internal/updates"
)

// Harness runs scenarios.
type Harness struct {
	logger *zap.Logger
}

// Opt configures a run.
type Opt func(*Harness)

// WithLogger sets the engine logger. Runs are silent by default.
func WithLogger(logger *zap.Logger) Opt {
	return func(h *Harness) {
		h.logger = logger
	}
}

// Run executes a scenario and returns the result.
//
// Each run gets fresh in-memory storage, a scripted transport and a peer
// cache seeded from the scenario. Pass ids are sequential so log output is
// reproducible.
//
// Execution flow:
// 1. Seed storage, server and peers
// 2. Execute flow steps, tracing every call, dispatch, write and error
// 3. Capture the final engine and storage state
// 4. Evaluate assertions
func Run(scenario *Scenario, opts ...Opt) (*Result, error) {
	h := &Harness{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h.run(scenario)
}

func (h *Harness) run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	tr := &tracer{}

	storage := &tracingStorage{Storage: testutil.NewStorage(), trace: tr}
	if c := scenario.Stored.Cursors; c != nil {
		storage.Seed(c.toCursors())
	}
	for id, pts := range scenario.Stored.Channels {
		storage.SeedChannel(id, pts)
	}

	transport, err := buildTransport(scenario.Server)
	if err != nil {
		return nil, err
	}
	transport.OnCall = tr.call

	entities, err := scenario.Peers.entities()
	if err != nil {
		return nil, err
	}
	peers := testutil.NewPeers(entities...)
	dispatcher := &testutil.Recorder{OnDispatch: tr.dispatch}

	opts := []updates.Opt{
		updates.WithLogger(h.logger),
		updates.WithErrorHandler(tr.fail),
		updates.WithPassIDs(testutil.NewSequentialIDs("pass").Next),
		updates.WithConfig(updates.Config{
			CatchUp:           scenario.CatchUp,
			DisableNoDispatch: scenario.DisableNoDispatch,
			IdleTimeout:       updates.DefaultIdleTimeout,
		}),
	}
	if scenario.Self.UserID != 0 {
		opts = append(opts, updates.WithSelf(scenario.Self.toSelf()))
	}
	m := updates.New(storage, transport, peers, dispatcher, opts...)

	for i, step := range scenario.Flow {
		tr.setStep(i)
		if err := h.execute(ctx, m, step); err != nil {
			tr.fail(err)
		}
	}
	if err := tr.encodeErr(); err != nil {
		return nil, err
	}

	snap, err := m.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	result := NewResult()
	result.Trace = tr.events()
	result.State = FinalState{
		Known:          snap.Known,
		Cursors:        snap.Cursors,
		Channels:       snap.Channels,
		StoredChannels: storage.StoredChannels(),
	}
	if stored, ok := storage.Stored(); ok {
		result.State.Stored = &stored
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, m *updates.Manager, step Step) error {
	switch step.action() {
	case StepStart:
		return m.Start(ctx)
	case StepCatchUp:
		return m.CatchUp(ctx)
	case StepReset:
		return m.Reset(ctx)
	case StepEnvelope:
		env, err := decodeWire(step.Envelope, tl.DecodeEnvelope)
		if err != nil {
			return err
		}
		return m.HandleEnvelope(ctx, env, step.NoDispatch)
	default:
		return fmt.Errorf("step has no action")
	}
}

func buildTransport(spec ServerSpec) (*testutil.Transport, error) {
	s := spec.State
	t := testutil.NewTransport(tl.UpdatesState{Pts: s.Pts, Qts: s.Qts, Date: s.Date, Seq: s.Seq})
	for i, w := range spec.Differences {
		d, err := decodeWire(w, tl.DecodeDifference)
		if err != nil {
			return nil, fmt.Errorf("server.differences[%d]: %w", i, err)
		}
		t.QueueDifference(d)
	}
	for id, pages := range spec.ChannelDifferences {
		for i, w := range pages {
			d, err := decodeWire(w, tl.DecodeChannelDifference)
			if err != nil {
				return nil, fmt.Errorf("server.channel_differences[%d][%d]: %w", id, i, err)
			}
			t.QueueChannelDifference(id, d)
		}
	}
	if spec.Fail != "" {
		t.Err = errors.New(spec.Fail)
	}
	return t, nil
}

// tracer collects events from the fakes in the order they happen.
type tracer struct {
	mu   sync.Mutex
	step int
	list []TraceEvent
	err  error
}

func (t *tracer) setStep(i int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.step = i
}

func (t *tracer) add(kind, name string, data any, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		if t.err == nil {
			t.err = fmt.Errorf("trace %s %s: %w", kind, name, err)
		}
		return
	}
	t.list = append(t.list, TraceEvent{Kind: kind, Step: t.step, Name: name, Data: data})
}

func (t *tracer) call(c testutil.Call) {
	tree, err := canonicalTree(c)
	if m, ok := tree.(map[string]any); ok {
		delete(m, "method")
	}
	t.add(KindCall, c.Method, tree, err)
}

func (t *tracer) dispatch(u tl.Update) {
	data, err := tl.Marshal(u)
	var tree any
	if err == nil {
		tree, err = decodeTree(data)
	}
	t.add(KindDispatch, u.TypeName(), tree, err)
}

func (t *tracer) fail(err error) {
	t.add(KindError, errorCode(err), err.Error(), nil)
}

func (t *tracer) events() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TraceEvent{}, t.list...)
}

func (t *tracer) encodeErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func errorCode(err error) string {
	var rt *updates.RuntimeError
	if errors.As(err, &rt) {
		return string(rt.Code)
	}
	var ta *updates.TypeAssertionError
	if errors.As(err, &ta) {
		return "TYPE_ASSERTION"
	}
	return "ERROR"
}

// tracingStorage records successful writes.
type tracingStorage struct {
	*testutil.Storage
	trace *tracer
}

func (s *tracingStorage) PersistCursors(ctx context.Context, ch state.Changes) error {
	if err := s.Storage.PersistCursors(ctx, ch); err != nil {
		return err
	}
	fields := map[string]any{}
	for name, v := range map[string]*int64{"pts": ch.Pts, "qts": ch.Qts, "date": ch.Date, "seq": ch.Seq} {
		if v != nil {
			fields[name] = *v
		}
	}
	s.trace.add(KindPersist, "cursors", fields, nil)
	return nil
}

func (s *tracingStorage) SetManyChannelPts(ctx context.Context, values map[int64]int64) error {
	if err := s.Storage.SetManyChannelPts(ctx, values); err != nil {
		return err
	}
	s.trace.add(KindPersist, "channels", channelTree(values), nil)
	return nil
}

// canonicalTree converts v into the value tree MarshalCanonical accepts.
func canonicalTree(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return decodeTree(data)
}

func decodeTree(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return integers(raw)
}

// integers replaces json.Number with int64. Wire objects carry no floats.
func integers(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		return val.Int64()
	case []any:
		for i, elem := range val {
			conv, err := integers(elem)
			if err != nil {
				return nil, err
			}
			val[i] = conv
		}
		return val, nil
	case map[string]any:
		for k, elem := range val {
			conv, err := integers(elem)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			val[k] = conv
		}
		return val, nil
	default:
		return v, nil
	}
}

func channelTree(m map[int64]int64) map[string]any {
	out := make(map[string]any, len(m))
	for id, pts := range m {
		out[strconv.FormatInt(id, 10)] = pts
	}
	return out
}
