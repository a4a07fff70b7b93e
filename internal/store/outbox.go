package store

import (
	"database/sql"
	"time"
)

// EnqueueOutbox appends a message to the offline queue. Queue order is
// enqueue order (seq), independent of the message timestamp.
func (db *DB) EnqueueOutbox(m *Message) error {
	if m == nil || m.ID == "" {
		return ErrMissingID
	}
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (msg_id, session_key, role, content, attachments, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionKey, m.Role, m.Content, nullJSON(m.Attachments), m.Status, m.Timestamp, now)
	return err
}

// ListOutbox returns all queue entries in FIFO (enqueue) order.
func (db *DB) ListOutbox() ([]QueueEntry, error) {
	rows, err := db.Query(`
		SELECT seq, msg_id, session_key, role, content, attachments, status, error_message, timestamp
		FROM outbox ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []QueueEntry
	for rows.Next() {
		var e QueueEntry
		var attachments sql.NullString
		if err := rows.Scan(&e.Seq, &e.Message.ID, &e.Message.SessionKey, &e.Message.Role,
			&e.Message.Content, &attachments, &e.Message.Status, &e.ErrorMessage, &e.Message.Timestamp); err != nil {
			return nil, err
		}
		if attachments.Valid && attachments.String != "" {
			e.Message.Attachments = []byte(attachments.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkOutboxSent updates a queue entry to 'sent' status.
func (db *DB) MarkOutboxSent(msgID string) error {
	_, err := db.Exec(`UPDATE outbox SET status = ?, error_message = '' WHERE msg_id = ?`, StatusSent, msgID)
	return err
}

// MarkOutboxFailed updates a queue entry to 'failed' with an error message.
// The entry stays in the queue and is retried on the next flush.
func (db *DB) MarkOutboxFailed(msgID, errMsg string) error {
	_, err := db.Exec(`UPDATE outbox SET status = ?, error_message = ? WHERE msg_id = ?`, StatusFailed, errMsg, msgID)
	return err
}

// PruneOutboxSent removes entries confirmed sent. Returns rows removed.
func (db *DB) PruneOutboxSent() (int64, error) {
	res, err := db.Exec(`DELETE FROM outbox WHERE status = ?`, StatusSent)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// OutboxCounts returns entry counts grouped by message status.
func (db *DB) OutboxCounts() (map[string]int, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ClearOutbox drops every queue entry, including failed ones.
func (db *DB) ClearOutbox() error {
	_, err := db.Exec(`DELETE FROM outbox`)
	return err
}
