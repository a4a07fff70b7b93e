// Package queue implements the durable offline queue: outbound messages
// that could not be delivered live, flushed in arrival order when the
// gateway comes back.
package queue

import (
	"context"
	"time"

	"github.com/clawapp/claw/internal/bus"
	"github.com/clawapp/claw/internal/store"
	"go.uber.org/zap"
)

// Sender attempts delivery of one queued message. A nil return is the
// server ack; an error leaves the entry in the queue for the next flush.
type Sender func(ctx context.Context, m *store.Message) error

// Summary reports the outcome of one flush pass.
type Summary struct {
	Processed int
	Sent      int
	Remaining int
}

// Status holds queue entry counts by delivery status.
type Status struct {
	Total   int
	Pending int
	Queued  int
	Failed  int
}

// Queue owns the offline queue entries until they are confirmed sent
// and pruned.
type Queue struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a queue over the given store.
func New(db *store.DB, b *bus.Bus, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{db: db, bus: b, logger: logger}
}

// Enqueue appends a message. Queue order is enqueue order, independent
// of the message timestamp.
func (q *Queue) Enqueue(m *store.Message) error {
	return q.db.EnqueueOutbox(m)
}

// Flush attempts delivery of every entry in FIFO order. An error on one
// entry does not abort the pass: entries are independent messages,
// possibly to different sessions. Acked entries advance their session's
// sync cursor and are pruned after the pass; failed entries stay for
// the next flush trigger.
func (q *Queue) Flush(ctx context.Context, sender Sender) (Summary, error) {
	entries, err := q.db.ListOutbox()
	if err != nil {
		return Summary{}, err
	}
	if len(entries) == 0 {
		return Summary{}, nil
	}

	sent := 0
	for _, entry := range entries {
		msg := entry.Message
		if err := sender(ctx, &msg); err != nil {
			q.logger.Warn("queued send failed",
				zap.String("msg_id", msg.ID),
				zap.String("session", msg.SessionKey),
				zap.Error(err))
			q.markFailed(&msg, err)
			continue
		}
		q.markSent(&msg)
		sent++
	}

	if _, err := q.db.PruneOutboxSent(); err != nil {
		q.logger.Error("failed to prune sent entries", zap.Error(err))
	}

	summary := Summary{
		Processed: len(entries),
		Sent:      sent,
		Remaining: len(entries) - sent,
	}
	q.publish(bus.KindQueueFlushed, summary)
	q.logger.Info("offline queue flushed",
		zap.Int("processed", summary.Processed),
		zap.Int("sent", summary.Sent),
		zap.Int("remaining", summary.Remaining))
	return summary, nil
}

// Status returns entry counts by status without mutating state.
func (q *Queue) Status() (Status, error) {
	counts, err := q.db.OutboxCounts()
	if err != nil {
		return Status{}, err
	}
	s := Status{
		Pending: counts[store.StatusPending],
		Queued:  counts[store.StatusQueued],
		Failed:  counts[store.StatusFailed],
	}
	for _, n := range counts {
		s.Total += n
	}
	return s, nil
}

// Clear drops all entries, failed ones included.
func (q *Queue) Clear() error {
	return q.db.ClearOutbox()
}

func (q *Queue) markSent(msg *store.Message) {
	if err := q.db.MarkOutboxSent(msg.ID); err != nil {
		q.logger.Error("failed to mark entry sent", zap.String("msg_id", msg.ID), zap.Error(err))
	}
	// Cursor advances only after the confirmed send.
	if err := q.db.SetCursor(msg.SessionKey, store.Cursor{
		LastMessageID: msg.ID,
		LastTimestamp: msg.Timestamp,
	}); err != nil {
		q.logger.Error("failed to advance cursor", zap.String("session", msg.SessionKey), zap.Error(err))
	}
	msg.Status = store.StatusSent
	if err := q.db.UpsertMessage(msg); err != nil {
		q.logger.Warn("failed to update message status", zap.String("msg_id", msg.ID), zap.Error(err))
	}
	q.publish(bus.KindMessageSendAck, map[string]string{
		"msg_id":  msg.ID,
		"session": msg.SessionKey,
	})
}

func (q *Queue) markFailed(msg *store.Message, cause error) {
	if err := q.db.MarkOutboxFailed(msg.ID, cause.Error()); err != nil {
		q.logger.Error("failed to mark entry failed", zap.String("msg_id", msg.ID), zap.Error(err))
	}
	msg.Status = store.StatusFailed
	if err := q.db.UpsertMessage(msg); err != nil {
		q.logger.Warn("failed to update message status", zap.String("msg_id", msg.ID), zap.Error(err))
	}
	q.publish(bus.KindMessageSendFailed, map[string]string{
		"msg_id":  msg.ID,
		"session": msg.SessionKey,
		"error":   cause.Error(),
	})
}

func (q *Queue) publish(kind string, payload any) {
	if q.bus == nil {
		return
	}
	q.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
