package store

import (
	"database/sql"
	"time"
)

// UpsertSession inserts or updates a session metadata row.
func (db *DB) UpsertSession(s *Session) error {
	if s == nil || s.Key == "" {
		return ErrMissingID
	}
	now := time.Now().UnixMilli()
	updatedAt := s.UpdatedAt
	if updatedAt == 0 {
		updatedAt = now
	}
	lastActivity := s.LastActivity
	if lastActivity == 0 {
		lastActivity = now
	}
	_, err := db.Exec(`
		INSERT INTO sessions (session_key, name, updated_at, last_activity)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			name = CASE WHEN excluded.name = '' THEN sessions.name ELSE excluded.name END,
			updated_at = excluded.updated_at,
			last_activity = MAX(sessions.last_activity, excluded.last_activity)`,
		s.Key, s.Name, updatedAt, lastActivity)
	return err
}

// GetSession returns a session row, or nil if unknown.
func (db *DB) GetSession(sessionKey string) (*Session, error) {
	var s Session
	err := db.QueryRow(`
		SELECT session_key, name, updated_at, last_activity
		FROM sessions WHERE session_key = ?`, sessionKey).
		Scan(&s.Key, &s.Name, &s.UpdatedAt, &s.LastActivity)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns all known sessions, most recently active first.
func (db *DB) ListSessions() ([]Session, error) {
	rows, err := db.Query(`
		SELECT session_key, name, updated_at, last_activity
		FROM sessions ORDER BY last_activity DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.Key, &s.Name, &s.UpdatedAt, &s.LastActivity); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
