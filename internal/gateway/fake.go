package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/clawapp/claw/internal/store"
)

// SendCall records one Send invocation on the Fake transport.
type SendCall struct {
	SessionKey  string
	Content     string
	Attachments json.RawMessage
}

// Fake is an in-memory Transport for tests. Zero value is usable and
// starts not ready.
type Fake struct {
	mu       sync.Mutex
	ready    bool
	statusFn func(token string)

	// SendErr, when set, makes every Send fail with it.
	SendErr error
	// SendFunc, when set, decides each Send's outcome; overrides SendErr.
	SendFunc func(call SendCall) error
	// History is returned by FetchHistory (expected newest-first).
	History []store.Message
	// HistoryErr, when set, makes FetchHistory fail.
	HistoryErr error

	calls []SendCall
}

func (f *Fake) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

// SetReady flips the connectivity flag and notifies the registered
// status callback like a real transport would.
func (f *Fake) SetReady(ready bool) {
	f.mu.Lock()
	f.ready = ready
	fn := f.statusFn
	f.mu.Unlock()
	if fn != nil {
		if ready {
			fn(TokenReady)
		} else {
			fn(TokenClosed)
		}
	}
}

func (f *Fake) Send(_ context.Context, sessionKey, content string, attachments json.RawMessage) error {
	call := SendCall{SessionKey: sessionKey, Content: content, Attachments: attachments}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	fn := f.SendFunc
	err := f.SendErr
	f.mu.Unlock()
	if fn != nil {
		return fn(call)
	}
	return err
}

func (f *Fake) FetchHistory(_ context.Context, _ string, _ int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.HistoryErr != nil {
		return nil, f.HistoryErr
	}
	return append([]store.Message(nil), f.History...), nil
}

func (f *Fake) OnStatusChange(fn func(token string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusFn != nil {
		return
	}
	f.statusFn = fn
}

// Calls returns the recorded Send invocations in order.
func (f *Fake) Calls() []SendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SendCall(nil), f.calls...)
}

// FailNext makes subsequent sends fail with err; pass nil to recover.
func (f *Fake) FailNext(err error) {
	f.mu.Lock()
	f.SendErr = err
	f.mu.Unlock()
}
