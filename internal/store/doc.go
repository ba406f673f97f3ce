// Package store provides SQLite-backed storage for the update engine.
//
// It keeps:
//   - update_state: the common cursors (pts, qts, date, seq)
//   - channel_pts: per-channel pts
//   - peers: users and chats seen in updates, keyed by marked id
//   - self: the logged in account
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Cursor writes are partial: PersistCursors only touches the columns present
// in the change set, so a pass that moved pts alone issues one UPDATE.
package store
