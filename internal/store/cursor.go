package store

import (
	"database/sql"
	"time"
)

// GetCursor returns the sync cursor for a session. An unknown session
// yields the zero cursor (never synced), not an error.
func (db *DB) GetCursor(sessionKey string) (Cursor, error) {
	var c Cursor
	err := db.QueryRow(`
		SELECT last_message_id, last_timestamp
		FROM sync_cursors WHERE session_key = ?`, sessionKey).
		Scan(&c.LastMessageID, &c.LastTimestamp)
	if err == sql.ErrNoRows {
		return Cursor{}, nil
	}
	if err != nil {
		return Cursor{}, err
	}
	return c, nil
}

// SetCursor overwrites a session's cursor in full.
func (db *DB) SetCursor(sessionKey string, c Cursor) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_cursors (session_key, last_message_id, last_timestamp, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			last_message_id = excluded.last_message_id,
			last_timestamp = excluded.last_timestamp,
			updated_at = excluded.updated_at`,
		sessionKey, c.LastMessageID, c.LastTimestamp, now)
	return err
}

// ResetCursor deletes a session's cursor, forcing the next
// reconciliation to run in first-sync mode.
func (db *DB) ResetCursor(sessionKey string) error {
	_, err := db.Exec(`DELETE FROM sync_cursors WHERE session_key = ?`, sessionKey)
	return err
}
