package updates

import (
	"context"

	"go.uber.org/zap"

	"github.com/roach88/ptsync/internal/state"
)

// persist writes the cursors that differ from storage. It runs after every
// pass, successful or not. Failures are reported; the in-memory state stays
// authoritative and the same fields are retried after the next pass.
func (m *Manager) persist(ctx context.Context, log *zap.Logger) {
	ch := m.st.Changes()
	if ch.Empty() {
		return
	}

	cursors := state.Changes{Pts: ch.Pts, Qts: ch.Qts, Date: ch.Date, Seq: ch.Seq}
	if !cursors.Empty() {
		if err := m.storage.PersistCursors(ctx, cursors); err != nil {
			m.reportError(NewPersistError(err))
		} else {
			m.st.Commit(cursors)
		}
	}

	if len(ch.Channels) > 0 {
		channels := state.Changes{Channels: ch.Channels}
		if err := m.storage.SetManyChannelPts(ctx, ch.Channels); err != nil {
			m.reportError(NewPersistError(err))
		} else {
			m.st.Commit(channels)
		}
	}

	log.Debug("update state persisted",
		zap.Bool("cursors", !cursors.Empty()),
		zap.Int("channels", len(ch.Channels)),
	)
}
