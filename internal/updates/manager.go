package updates

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/roach88/ptsync/internal/state"
	"github.com/roach88/ptsync/internal/tl"
)

// Policy constants. Bots may ask for far larger channel pages than users.
const (
	ChannelDifferenceLimitBot  int64 = 100000
	ChannelDifferenceLimitUser int64 = 100

	// DefaultIdleTimeout is how long Run waits for an envelope before it
	// catches up on its own.
	DefaultIdleTimeout = 15 * time.Minute
)

// Storage persists cursors and the account identity.
type Storage interface {
	LoadCursors(ctx context.Context) (state.Cursors, bool, error)
	PersistCursors(ctx context.Context, ch state.Changes) error
	ChannelPts(ctx context.Context, channelID int64) (int64, bool, error)
	SetManyChannelPts(ctx context.Context, values map[int64]int64) error
	ResetCursors(ctx context.Context) error
	LoadSelf(ctx context.Context) (tl.Self, bool, error)
	SaveSelf(ctx context.Context, self tl.Self) error
}

// Transport issues the RPC calls the engine needs.
type Transport interface {
	GetState(ctx context.Context) (tl.UpdatesState, error)
	GetDifference(ctx context.Context, req tl.GetDifferenceRequest) (tl.DifferenceResult, error)
	GetChannelDifference(ctx context.Context, req tl.GetChannelDifferenceRequest) (tl.ChannelDifferenceResult, error)
	GetConfig(ctx context.Context) (tl.Config, error)
}

// PeerCache resolves the entities referenced by updates.
type PeerCache interface {
	CacheFrom(ctx context.Context, idx *tl.PeerIndex) error
	ResolveStub(ctx context.Context, p tl.Peer) (tl.FullPeer, bool, error)
	LookupByID(ctx context.Context, p tl.Peer) (tl.FullPeer, bool, error)
}

// Dispatcher receives every update that made it through the pipeline,
// together with the entities it references.
type Dispatcher interface {
	Dispatch(ctx context.Context, u tl.Update, peers *tl.PeerIndex)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, u tl.Update, peers *tl.PeerIndex)

func (f DispatcherFunc) Dispatch(ctx context.Context, u tl.Update, peers *tl.PeerIndex) {
	f(ctx, u, peers)
}

// Config tunes the engine.
type Config struct {
	// CatchUp loads stored channel pts for channels not seen in this
	// session and fetches the difference on Start.
	CatchUp bool

	// DisableNoDispatch turns off duplicate suppression for envelopes
	// handed in with noDispatch set.
	DisableNoDispatch bool

	IdleTimeout time.Duration
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout: DefaultIdleTimeout,
	}
}

// Manager is the update engine. All state mutation happens inside a pass,
// and at most one pass runs at a time.
type Manager struct {
	storage    Storage
	transport  Transport
	peers      PeerCache
	dispatcher Dispatcher

	cfg     Config
	logger  *zap.Logger
	onError func(error)
	clock   clockwork.Clock
	passIDs func() string

	// sem is the serialization lock. Waiters are served in arrival order.
	sem *semaphore.Weighted

	// Guarded by sem.
	st        *state.State
	catchUp   bool
	self      tl.Self
	serverCfg *tl.Config

	activity chan struct{}
}

// Opt configures a Manager.
type Opt func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithErrorHandler sets the sink for errors no caller can receive.
func WithErrorHandler(fn func(error)) Opt {
	return func(m *Manager) {
		m.onError = fn
	}
}

// WithClock sets the clock used by the idle watchdog.
func WithClock(clock clockwork.Clock) Opt {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Opt {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithSelf sets the logged in account. It takes precedence over the
// identity found in storage.
func WithSelf(self tl.Self) Opt {
	return func(m *Manager) {
		m.self = self
	}
}

// WithPassIDs replaces the generator of pass ids used in log fields.
func WithPassIDs(fn func() string) Opt {
	return func(m *Manager) {
		m.passIDs = fn
	}
}

// New creates a Manager. Call Start before handing it envelopes.
func New(storage Storage, transport Transport, peers PeerCache, dispatcher Dispatcher, opts ...Opt) *Manager {
	m := &Manager{
		storage:    storage,
		transport:  transport,
		peers:      peers,
		dispatcher: dispatcher,
		cfg:        DefaultConfig(),
		logger:     zap.NewNop(),
		clock:      clockwork.NewRealClock(),
		passIDs:    func() string { return uuid.Must(uuid.NewV7()).String() },
		sem:        semaphore.NewWeighted(1),
		st:         state.New(),
		activity:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.IdleTimeout <= 0 {
		m.cfg.IdleTimeout = DefaultIdleTimeout
	}
	if m.onError == nil {
		logger := m.logger
		m.onError = func(err error) {
			logger.Error("update engine error", zap.Error(err))
		}
	}
	m.catchUp = m.cfg.CatchUp
	return m
}

// Start loads cursors from storage, or fetches them from the server when
// none are stored. With catch-up enabled it then fetches everything missed
// since the stored cursors.
func (m *Manager) Start(ctx context.Context) error {
	return m.withPass(ctx, "start", func(ctx context.Context, p *pass) error {
		if err := m.loadSelf(ctx); err != nil {
			return err
		}

		c, found, err := m.storage.LoadCursors(ctx)
		if err != nil {
			return err
		}
		if !found {
			p.log.Info("no stored update state, fetching from server")
			return p.fetchState(ctx)
		}

		p.st.Load(c)
		p.log.Debug("loaded update state",
			zap.Int64("pts", c.Pts),
			zap.Int64("qts", c.Qts),
			zap.Int64("date", c.Date),
			zap.Int64("seq", c.Seq),
		)
		if m.catchUp {
			return p.loadDifference(ctx)
		}
		return nil
	})
}

func (m *Manager) loadSelf(ctx context.Context) error {
	stored, found, err := m.storage.LoadSelf(ctx)
	if err != nil {
		return err
	}
	switch {
	case m.self.UserID != 0 && (!found || stored != m.self):
		return m.storage.SaveSelf(ctx, m.self)
	case m.self.UserID == 0 && found:
		m.self = stored
	}
	return nil
}

// HandleEnvelope processes one push envelope. With noDispatch set, the
// updates contained in env advance the cursors but are not dispatched,
// because the caller already holds them as an RPC result.
//
// Processing errors go to the error handler. The returned error is only
// set when ctx ended before the pass could start.
func (m *Manager) HandleEnvelope(ctx context.Context, env tl.Envelope, noDispatch bool) error {
	m.noteActivity()
	envelopesReceived.WithLabelValues(env.TypeName()).Inc()

	return m.withPass(ctx, "envelope", func(ctx context.Context, p *pass) error {
		if noDispatch && !m.cfg.DisableNoDispatch {
			p.nd = newNoDispatchIndex(env)
		}
		if err := p.handleEnvelope(ctx, env); err != nil {
			m.reportError(err)
		}
		return nil
	})
}

// CatchUp fetches everything missed since the current cursors. It also
// enables channel catch-up for the rest of the session.
func (m *Manager) CatchUp(ctx context.Context) error {
	return m.withPass(ctx, "catch_up", func(ctx context.Context, p *pass) error {
		m.catchUp = true
		return p.loadDifference(ctx)
	})
}

// Reset forgets all cursors, in memory and in storage. Used on logout.
func (m *Manager) Reset(ctx context.Context) error {
	return m.withPass(ctx, "reset", func(ctx context.Context, p *pass) error {
		p.st.Reset()
		m.catchUp = m.cfg.CatchUp
		m.serverCfg = nil
		return m.storage.ResetCursors(ctx)
	})
}

// Snapshot is a consistent view of the engine state.
type Snapshot struct {
	Known    bool
	Cursors  state.Cursors
	Channels map[int64]int64
	Self     tl.Self
	Config   *tl.Config
}

// Snapshot waits for the running pass and copies the state.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return Snapshot{}, err
	}
	defer m.sem.Release(1)

	s := Snapshot{
		Known:    m.st.Known(),
		Cursors:  m.st.Cursors(),
		Channels: m.st.ChannelSnapshot(),
		Self:     m.self,
	}
	if m.serverCfg != nil {
		cfg := *m.serverCfg
		s.Config = &cfg
	}
	return s, nil
}

func (m *Manager) reportError(err error) {
	if err == nil {
		return
	}
	m.onError(err)
}

func (m *Manager) noteActivity() {
	select {
	case m.activity <- struct{}{}:
	default:
	}
}
