package updates

import (
	"context"

	"go.uber.org/zap"
)

// Run catches up whenever no envelope has arrived for the configured idle
// timeout. It returns when ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	timer := m.clock.NewTimer(m.cfg.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-m.activity:
			timer.Reset(m.cfg.IdleTimeout)

		case <-timer.Chan():
			m.logger.Debug("no updates received recently, catching up",
				zap.Duration("idle", m.cfg.IdleTimeout),
			)
			err := m.withPass(ctx, "idle", func(ctx context.Context, p *pass) error {
				return p.loadDifference(ctx)
			})
			if err != nil && ctx.Err() == nil {
				m.reportError(err)
			}
			timer.Reset(m.cfg.IdleTimeout)
		}
	}
}
