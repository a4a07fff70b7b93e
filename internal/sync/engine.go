// Package sync implements the message synchronization engine: send with
// offline fallback, automatic queue flush on reconnect, and incremental
// history reconciliation against the gateway.
package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/clawapp/claw/internal/bus"
	"github.com/clawapp/claw/internal/gateway"
	"github.com/clawapp/claw/internal/queue"
	"github.com/clawapp/claw/internal/status"
	"github.com/clawapp/claw/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultHistoryLimit bounds history fetches when the caller passes no limit.
const DefaultHistoryLimit = 50

// Result is the outcome of a history fetch. Degraded means a storage or
// transport fault forced a fallback to whatever the local cache held;
// Cause carries the underlying error for diagnostics.
type Result struct {
	Messages []store.Message
	Degraded bool
	Cause    error
}

// Engine orchestrates the send path and history reconciliation. It is
// the single writer of sync cursors; storage faults never propagate to
// its callers, they degrade per the local-cache-is-best-effort policy.
type Engine struct {
	db     *store.DB
	gw     gateway.Transport
	queue  *queue.Queue
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a sync engine over the given store, transport and queue.
func NewEngine(db *store.DB, gw gateway.Transport, q *queue.Queue, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:     db,
		gw:     gw,
		queue:  q,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to connectivity events on the bus. Entering READY
// triggers an offline queue flush; this is the sole automatic retry
// trigger, there is no timer-based polling. Start is idempotent.
func (e *Engine) Start(ctx context.Context) {
	if e.cancel != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(bus.KindGatewayStatusChanged, 64)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				change, ok := evt.Payload.(status.StatusChange)
				if !ok || change.To != status.Ready {
					continue
				}
				if _, err := e.Flush(ctx); err != nil {
					e.logger.Error("queue flush on reconnect failed", zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// SendMessage persists the message locally, then attempts live delivery
// if the transport is ready, falling back to the offline queue. The
// returned message carries the final delivery status; failures never
// surface as errors.
func (e *Engine) SendMessage(ctx context.Context, sessionKey, content string, attachments json.RawMessage) *store.Message {
	msg := &store.Message{
		ID:          uuid.New().String(),
		SessionKey:  sessionKey,
		Role:        store.RoleUser,
		Content:     content,
		Attachments: attachments,
		Status:      store.StatusPending,
		Timestamp:   time.Now().UnixMilli(),
	}

	// Store-then-send: the message survives a crash before the network
	// attempt.
	e.putMessage(msg)
	e.touchSession(sessionKey, msg.Timestamp)

	if !e.gw.Ready() {
		msg.Status = store.StatusQueued
		e.putMessage(msg)
		e.enqueue(msg)
		return msg
	}

	msg.Status = store.StatusSending
	e.putMessage(msg)

	if err := e.gw.Send(ctx, sessionKey, content, attachments); err != nil {
		e.logger.Warn("live send failed, queueing for retry",
			zap.String("msg_id", msg.ID),
			zap.String("session", sessionKey),
			zap.Error(err))
		msg.Status = store.StatusFailed
		e.putMessage(msg)
		e.enqueue(msg)
		e.publish(bus.KindMessageSendFailed, map[string]string{
			"msg_id":  msg.ID,
			"session": sessionKey,
			"error":   err.Error(),
		})
		return msg
	}

	msg.Status = store.StatusSent
	e.putMessage(msg)
	if err := e.db.SetCursor(sessionKey, store.Cursor{
		LastMessageID: msg.ID,
		LastTimestamp: msg.Timestamp,
	}); err != nil {
		e.logger.Error("failed to advance cursor after send",
			zap.String("session", sessionKey), zap.Error(err))
	}
	e.publish(bus.KindMessageSendAck, map[string]string{
		"msg_id":  msg.ID,
		"session": sessionKey,
	})
	return msg
}

// FetchHistory returns up to limit messages for a session, merging the
// local cache with the delta the gateway reports since the last synced
// cursor. Offline or on any fetch fault it degrades to the local cache.
func (e *Engine) FetchHistory(ctx context.Context, sessionKey string, limit int) Result {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	localMsgs, lerr := e.db.ListMessages(sessionKey, limit)
	if lerr != nil {
		e.logger.Error("local history read failed", zap.String("session", sessionKey), zap.Error(lerr))
	}

	if !e.gw.Ready() {
		// Offline mode: the local cache is the answer, not a degradation.
		if lerr != nil {
			return Result{Degraded: true, Cause: lerr}
		}
		return Result{Messages: localMsgs}
	}

	cursor, err := e.db.GetCursor(sessionKey)
	if err != nil {
		// A lost cursor only costs a first-sync pass.
		e.logger.Warn("cursor read failed, reconciling from scratch",
			zap.String("session", sessionKey), zap.Error(err))
		cursor = store.Cursor{}
	}

	serverMsgs, err := e.gw.FetchHistory(ctx, sessionKey, limit)
	if err != nil {
		e.logger.Warn("history fetch failed, serving local cache",
			zap.String("session", sessionKey), zap.Error(err))
		return Result{Messages: localMsgs, Degraded: true, Cause: err}
	}

	newMsgs := newMessages(serverMsgs, cursor, localMsgs)
	if len(newMsgs) == 0 {
		return Result{Messages: tail(localMsgs, limit)}
	}

	toStore := make([]*store.Message, len(newMsgs))
	for i := range newMsgs {
		toStore[i] = &newMsgs[i]
	}
	if _, err := e.db.UpsertMessages(toStore); err != nil {
		// The merged result below still includes them; only the cache
		// write is lost.
		e.logger.Error("failed to persist reconciled messages",
			zap.String("session", sessionKey), zap.Error(err))
	}

	merged := mergeByTimestamp(localMsgs, newMsgs)

	newest := serverMsgs[0]
	if err := e.db.SetCursor(sessionKey, store.Cursor{
		LastMessageID: newest.ID,
		LastTimestamp: newest.Timestamp,
	}); err != nil {
		e.logger.Error("failed to advance cursor after reconciliation",
			zap.String("session", sessionKey), zap.Error(err))
	}

	e.publish(bus.KindSyncReconciled, map[string]any{
		"session": sessionKey,
		"new":     len(newMsgs),
	})
	e.logger.Info("history reconciled",
		zap.String("session", sessionKey),
		zap.Int("new", len(newMsgs)))

	return Result{Messages: tail(merged, limit)}
}

// Flush drains the offline queue through the transport. No-op when the
// transport is not ready: a flush is never attempted against a down
// connection.
func (e *Engine) Flush(ctx context.Context) (queue.Summary, error) {
	if !e.gw.Ready() {
		return queue.Summary{}, nil
	}
	return e.queue.Flush(ctx, func(ctx context.Context, m *store.Message) error {
		return e.gw.Send(ctx, m.SessionKey, m.Content, m.Attachments)
	})
}

// QueueStatus reports offline queue counts.
func (e *Engine) QueueStatus() (queue.Status, error) {
	return e.queue.Status()
}

// ClearQueue drops all queued entries.
func (e *Engine) ClearQueue() error {
	return e.queue.Clear()
}

// ResetSession deletes a session's cached messages and its sync cursor,
// forcing the next reconciliation into first-sync mode. The two deletes
// are not atomic with each other or with queued entries.
func (e *Engine) ResetSession(sessionKey string) error {
	if err := e.db.DeleteSessionMessages(sessionKey); err != nil {
		return err
	}
	return e.db.ResetCursor(sessionKey)
}

// putMessage applies the best-effort persistence policy: a storage
// fault or missing id drops the write with a log line, the in-memory
// message (and any queue entry) remains authoritative.
func (e *Engine) putMessage(msg *store.Message) {
	if err := e.db.UpsertMessage(msg); err != nil {
		e.logger.Warn("message persist dropped",
			zap.String("msg_id", msg.ID),
			zap.String("session", msg.SessionKey),
			zap.Error(err))
		return
	}
	e.publish(bus.KindMessageUpserted, map[string]string{
		"msg_id":  msg.ID,
		"session": msg.SessionKey,
		"status":  msg.Status,
	})
}

func (e *Engine) enqueue(msg *store.Message) {
	if err := e.queue.Enqueue(msg); err != nil {
		e.logger.Error("failed to enqueue message",
			zap.String("msg_id", msg.ID), zap.Error(err))
	}
}

func (e *Engine) touchSession(sessionKey string, at int64) {
	if err := e.db.UpsertSession(&store.Session{
		Key:          sessionKey,
		UpdatedAt:    at,
		LastActivity: at,
	}); err != nil {
		e.logger.Warn("session touch dropped", zap.String("session", sessionKey), zap.Error(err))
	}
}

func (e *Engine) publish(kind string, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
