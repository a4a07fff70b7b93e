package store

import "encoding/json"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message delivery statuses.
const (
	StatusPending = "pending"
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusQueued  = "queued"
)

// Message is a chat message persisted in the local store.
// ID is globally unique across sessions; the store upserts by it.
type Message struct {
	ID          string
	SessionKey  string
	Role        string
	Content     string
	Attachments json.RawMessage
	Status      string
	Timestamp   int64 // unix milliseconds
}

// Session is a conversation thread's metadata row. Independent of
// message rows; used for the session list, not for sync correctness.
type Session struct {
	Key          string
	Name         string
	UpdatedAt    int64
	LastActivity int64
}

// Cursor marks the newest message known to be reconciled between
// client and server for one session. The zero value means never synced.
type Cursor struct {
	LastMessageID string
	LastTimestamp int64
}

// Zero reports whether the cursor has never been set for its session.
func (c Cursor) Zero() bool {
	return c.LastMessageID == ""
}

// QueueEntry is an offline-queue row: a message plus its arrival order.
// Seq is assigned on enqueue and defines flush order (FIFO), independent
// of the message timestamp.
type QueueEntry struct {
	Seq          int64
	Message      Message
	ErrorMessage string
}
