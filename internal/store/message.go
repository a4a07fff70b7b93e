package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrMissingID is returned when a message without an id reaches the store.
// Callers treat it as a soft failure: the write is dropped and logged.
var ErrMissingID = errors.New("message has no id")

// UpsertMessage inserts or updates a message (idempotent on id).
func (db *DB) UpsertMessage(m *Message) error {
	if m == nil || m.ID == "" {
		return ErrMissingID
	}
	now := time.Now().UnixMilli()
	role := m.Role
	if role == "" {
		role = RoleAssistant
	}
	ts := m.Timestamp
	if ts == 0 {
		ts = now
	}
	_, err := db.Exec(`
		INSERT INTO messages (id, session_key, role, content, attachments, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_key = excluded.session_key,
			role = excluded.role,
			content = excluded.content,
			attachments = excluded.attachments,
			status = excluded.status,
			timestamp = excluded.timestamp`,
		m.ID, m.SessionKey, role, m.Content, nullJSON(m.Attachments), m.Status, ts, now)
	return err
}

// UpsertMessages applies upsert semantics per element in one transaction.
// Elements without an id are skipped; well-formed ones are persisted.
// Returns the number of rows written.
func (db *DB) UpsertMessages(msgs []*Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	stored := 0
	for _, m := range msgs {
		if m == nil || m.ID == "" {
			continue
		}
		role := m.Role
		if role == "" {
			role = RoleAssistant
		}
		ts := m.Timestamp
		if ts == 0 {
			ts = now
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (id, session_key, role, content, attachments, status, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				session_key = excluded.session_key,
				role = excluded.role,
				content = excluded.content,
				attachments = excluded.attachments,
				status = excluded.status,
				timestamp = excluded.timestamp`,
			m.ID, m.SessionKey, role, m.Content, nullJSON(m.Attachments), m.Status, ts, now); err != nil {
			return 0, err
		}
		stored++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return stored, nil
}

// ListMessages returns the newest `limit` messages for a session in
// ascending timestamp order. The range is bounded to [0, now+1ms] so a
// message stamped at the query instant is not excluded by clock skew.
func (db *DB) ListMessages(sessionKey string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	upper := time.Now().UnixMilli() + 1
	rows, err := db.Query(`
		SELECT id, session_key, role, content, attachments, status, timestamp
		FROM messages
		WHERE session_key = ? AND timestamp >= 0 AND timestamp <= ?
		ORDER BY timestamp DESC
		LIMIT ?`, sessionKey, upper, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the index, flipped to chronological for callers.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteSessionMessages removes all message rows for a session. It does
// not touch the session's cursor or queued entries; a full session wipe
// resets those separately.
func (db *DB) DeleteSessionMessages(sessionKey string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE session_key = ?`, sessionKey)
	return err
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var m Message
	var attachments sql.NullString
	if err := rows.Scan(&m.ID, &m.SessionKey, &m.Role, &m.Content, &attachments, &m.Status, &m.Timestamp); err != nil {
		return Message{}, err
	}
	if attachments.Valid && attachments.String != "" {
		m.Attachments = []byte(attachments.String)
	}
	return m, nil
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
