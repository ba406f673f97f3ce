package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/ptsync/internal/state"
)

// LoadCursors returns the stored common cursors. found is false when
// nothing was ever persisted.
func (s *Store) LoadCursors(ctx context.Context) (state.Cursors, bool, error) {
	var c state.Cursors
	err := s.db.QueryRowContext(ctx, `
		SELECT pts, qts, date, seq FROM update_state WHERE id = 1
	`).Scan(&c.Pts, &c.Qts, &c.Date, &c.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return state.Cursors{}, false, nil
	}
	if err != nil {
		return state.Cursors{}, false, fmt.Errorf("load cursors: %w", err)
	}
	return c, true, nil
}

// PersistCursors writes the common cursors present in ch. Channel entries
// in ch are ignored; see SetManyChannelPts.
func (s *Store) PersistCursors(ctx context.Context, ch state.Changes) error {
	fields := []struct {
		column string
		value  *int64
	}{
		{"pts", ch.Pts},
		{"qts", ch.Qts},
		{"date", ch.Date},
		{"seq", ch.Seq},
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO update_state (id) VALUES (1)
			ON CONFLICT(id) DO NOTHING
		`); err != nil {
			return err
		}
		for _, f := range fields {
			if f.value == nil {
				continue
			}
			// Column names come from the fixed list above.
			query := fmt.Sprintf("UPDATE update_state SET %s = ? WHERE id = 1", f.column)
			if _, err := tx.ExecContext(ctx, query, *f.value); err != nil {
				return fmt.Errorf("%s: %w", f.column, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist cursors: %w", err)
	}
	return nil
}

// ChannelPts returns the stored pts of one channel.
func (s *Store) ChannelPts(ctx context.Context, channelID int64) (int64, bool, error) {
	var pts int64
	err := s.db.QueryRowContext(ctx, `
		SELECT pts FROM channel_pts WHERE channel_id = ?
	`, channelID).Scan(&pts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("channel pts %d: %w", channelID, err)
	}
	return pts, true, nil
}

// SetChannelPts stores the pts of one channel.
func (s *Store) SetChannelPts(ctx context.Context, channelID, pts int64) error {
	return s.SetManyChannelPts(ctx, map[int64]int64{channelID: pts})
}

// SetManyChannelPts stores several channel pts in one transaction.
func (s *Store) SetManyChannelPts(ctx context.Context, values map[int64]int64) error {
	if len(values) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO channel_pts (channel_id, pts) VALUES (?, ?)
			ON CONFLICT(channel_id) DO UPDATE SET pts = excluded.pts
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for id, pts := range values {
			if _, err := stmt.ExecContext(ctx, id, pts); err != nil {
				return fmt.Errorf("channel %d: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set channel pts: %w", err)
	}
	return nil
}

// ForEachChannel calls fn for every stored channel pts, ordered by channel id.
func (s *Store) ForEachChannel(ctx context.Context, fn func(channelID, pts int64) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, pts FROM channel_pts ORDER BY channel_id ASC
	`)
	if err != nil {
		return fmt.Errorf("query channel pts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, pts int64
		if err := rows.Scan(&id, &pts); err != nil {
			return fmt.Errorf("scan channel pts: %w", err)
		}
		if err := fn(id, pts); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate channel pts: %w", err)
	}
	return nil
}

// ResetCursors deletes all cursors. Used on logout.
func (s *Store) ResetCursors(ctx context.Context) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, q := range []string{
			"DELETE FROM update_state",
			"DELETE FROM channel_pts",
			"DELETE FROM self",
		} {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset cursors: %w", err)
	}
	return nil
}
