package updates

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/ptsync/internal/state"
)

// pass is one acquisition of the serialization lock. The state it mutates
// is threaded through explicitly; nested recovery calls reuse the same pass.
type pass struct {
	m   *Manager
	id  string
	log *zap.Logger
	st  *state.State

	// nd is nil unless the envelope was handed in with noDispatch.
	nd *noDispatchIndex

	inDifference bool
	inChannel    map[int64]bool
}

// withPass acquires the lock, runs fn, then persists whatever changed.
// Once the lock is held the pass ignores cancellation of ctx, so a batch is
// never half applied.
func (m *Manager) withPass(ctx context.Context, kind string, fn func(ctx context.Context, p *pass) error) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.sem.Release(1)

	ctx = context.WithoutCancel(ctx)
	p := &pass{
		m:         m,
		id:        m.passIDs(),
		st:        m.st,
		inChannel: make(map[int64]bool),
	}
	p.log = m.logger.With(zap.String("pass", p.id), zap.String("kind", kind))

	start := m.clock.Now()
	err := fn(ctx, p)
	passDuration.WithLabelValues(kind).Observe(m.clock.Since(start).Seconds())

	m.persist(ctx, p.log)
	return err
}
