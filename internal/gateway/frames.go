package gateway

import (
	"encoding/json"

	"github.com/clawapp/claw/internal/store"
)

// Frame types exchanged with the gateway.
const (
	frameChatSend    = "chat.send"
	frameChatHistory = "chat.history"
	frameAck         = "ack"
	frameError       = "error"
)

// frame is the JSON envelope for all gateway traffic. Requests carry a
// client-generated id; the matching response echoes it.
type frame struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	SessionKey  string          `json:"session_key,omitempty"`
	Content     string          `json:"content,omitempty"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	Error       string          `json:"error,omitempty"`
	Messages    []wireMessage   `json:"messages,omitempty"`
}

// wireMessage is a history message as the gateway serializes it.
type wireMessage struct {
	ID          string          `json:"id"`
	SessionKey  string          `json:"session_key"`
	Role        string          `json:"role,omitempty"`
	Content     string          `json:"content"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
	Timestamp   int64           `json:"timestamp"`
}

func (w wireMessage) toStoreMessage() store.Message {
	role := w.Role
	if role == "" {
		role = store.RoleAssistant
	}
	return store.Message{
		ID:          w.ID,
		SessionKey:  w.SessionKey,
		Role:        role,
		Content:     w.Content,
		Attachments: w.Attachments,
		Status:      store.StatusSent,
		Timestamp:   w.Timestamp,
	}
}
