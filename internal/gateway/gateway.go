// Package gateway defines the transport collaborator the sync engine
// talks to, plus a websocket client implementation of it. The engine
// depends only on the Transport interface; timeouts and the wire
// protocol are the transport's concern.
package gateway

import (
	"context"
	"encoding/json"

	"github.com/clawapp/claw/internal/store"
)

// Connectivity status tokens delivered to OnStatusChange callbacks.
// The sync engine reacts only to TokenReady.
const (
	TokenReady      = "ready"
	TokenConnecting = "connecting"
	TokenClosed     = "closed"
)

// Transport is the contract the sync engine consumes.
type Transport interface {
	// Ready reports current connectivity. Polled synchronously before
	// deciding live-send vs. queue.
	Ready() bool

	// Send delivers one message to the gateway. Any delivery problem
	// is returned as an error; a nil return is the server ack.
	Send(ctx context.Context, sessionKey, content string, attachments json.RawMessage) error

	// FetchHistory returns up to limit messages for a session, ordered
	// newest-first. A response without messages is empty, not an error.
	FetchHistory(ctx context.Context, sessionKey string, limit int) ([]store.Message, error)

	// OnStatusChange registers a callback invoked with a status token
	// on connectivity changes. Registration is idempotent: a second
	// registration attempt is a no-op.
	OnStatusChange(fn func(token string))
}
