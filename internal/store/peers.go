package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/ptsync/internal/tl"
)

// SavePeers upserts resolved entities. A min entity never replaces a full
// one already stored.
func (s *Store) SavePeers(ctx context.Context, peers []tl.FullPeer) error {
	if len(peers) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO peers (marked_id, kind, access_hash, username, min, data)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(marked_id) DO UPDATE SET
				kind = excluded.kind,
				access_hash = excluded.access_hash,
				username = excluded.username,
				min = excluded.min,
				data = excluded.data
			WHERE excluded.min = 0 OR peers.min = 1
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range peers {
			row, err := peerRow(p)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, row.markedID, row.kind, row.accessHash, row.username, row.min, row.data); err != nil {
				return fmt.Errorf("peer %d: %w", row.markedID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save peers: %w", err)
	}
	return nil
}

// Peer loads an entity by marked id.
func (s *Store) Peer(ctx context.Context, markedID int64) (tl.FullPeer, bool, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT data FROM peers WHERE marked_id = ?
	`, markedID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return tl.FullPeer{}, false, nil
	}
	if err != nil {
		return tl.FullPeer{}, false, fmt.Errorf("load peer %d: %w", markedID, err)
	}

	var p tl.FullPeer
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return tl.FullPeer{}, false, fmt.Errorf("decode peer %d: %w", markedID, err)
	}
	return p, true, nil
}

// LoadSelf returns the stored account identity.
func (s *Store) LoadSelf(ctx context.Context) (tl.Self, bool, error) {
	var self tl.Self
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, bot, username FROM self WHERE id = 1
	`).Scan(&self.UserID, &self.Bot, &self.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return tl.Self{}, false, nil
	}
	if err != nil {
		return tl.Self{}, false, fmt.Errorf("load self: %w", err)
	}
	return self, true, nil
}

// SaveSelf stores the account identity.
func (s *Store) SaveSelf(ctx context.Context, self tl.Self) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO self (id, user_id, bot, username) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			bot = excluded.bot,
			username = excluded.username
	`, self.UserID, self.Bot, self.Username)
	if err != nil {
		return fmt.Errorf("save self: %w", err)
	}
	return nil
}

type storedPeer struct {
	markedID   int64
	kind       string
	accessHash int64
	username   string
	min        bool
	data       string
}

func peerRow(p tl.FullPeer) (storedPeer, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return storedPeer{}, fmt.Errorf("encode peer: %w", err)
	}
	ref := p.Peer()
	row := storedPeer{
		markedID: ref.MarkedID(),
		kind:     string(ref.Kind),
		min:      p.IsMin(),
		data:     string(data),
	}
	switch {
	case p.User != nil:
		row.accessHash = p.User.AccessHash
		row.username = p.User.Username
	case p.Chat != nil:
		row.accessHash = p.Chat.AccessHash
		row.username = p.Chat.Username
	default:
		return storedPeer{}, fmt.Errorf("encode peer: empty entity")
	}
	return row, nil
}
