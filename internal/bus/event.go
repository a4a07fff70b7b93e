package bus

import "time"

// Event kinds published across the engine. Kinds are dot-namespaced so
// subscribers can filter on a prefix ("message.", "gateway.", ...).
const (
	KindGatewayStatusChanged = "gateway.status_changed"
	KindMessageUpserted      = "message.upserted"
	KindMessageSendAck       = "message.send_ack"
	KindMessageSendFailed    = "message.send_failed"
	KindQueueFlushed         = "queue.flushed"
	KindSyncReconciled       = "sync.reconciled"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
