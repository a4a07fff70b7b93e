package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{ID: "m1", SessionKey: "s1", Role: RoleUser, Content: "v1", Status: StatusSent, Timestamp: 1000}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	m.Content = "v2"
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].Content != "v2" {
		t.Errorf("content = %q, want v2 (latest write wins)", msgs[0].Content)
	}
}

func TestUpsertMessageMissingID(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{SessionKey: "s1", Content: "no id"}); err != ErrMissingID {
		t.Errorf("error = %v, want ErrMissingID", err)
	}

	msgs, err := db.ListMessages("s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("got %d messages, want 0", len(msgs))
	}
}

func TestUpsertMessagesSkipsMalformed(t *testing.T) {
	db := testDB(t)

	stored, err := db.UpsertMessages([]*Message{
		{ID: "m1", SessionKey: "s1", Content: "one", Timestamp: 1000},
		{SessionKey: "s1", Content: "no id"},
		{ID: "m2", SessionKey: "s1", Content: "two", Timestamp: 2000},
	})
	if err != nil {
		t.Fatal(err)
	}
	if stored != 2 {
		t.Errorf("stored = %d, want 2 (malformed element skipped)", stored)
	}

	msgs, err := db.ListMessages("s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("got %d messages, want 2", len(msgs))
	}
}

func TestUpsertMessageDefaultsRole(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ID: "m1", SessionKey: "s1", Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListMessages("s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Role != RoleAssistant {
		t.Errorf("role = %q, want %q", msgs[0].Role, RoleAssistant)
	}
}

func TestListMessagesOrderLimitAndScope(t *testing.T) {
	db := testDB(t)

	seed := []*Message{
		{ID: "a3", SessionKey: "a", Content: "three", Timestamp: 3000},
		{ID: "a1", SessionKey: "a", Content: "one", Timestamp: 1000},
		{ID: "b1", SessionKey: "b", Content: "other session", Timestamp: 1500},
		{ID: "a2", SessionKey: "a", Content: "two", Timestamp: 2000},
	}
	if _, err := db.UpsertMessages(seed); err != nil {
		t.Fatal(err)
	}

	// The newest `limit` messages, returned ascending.
	msgs, err := db.ListMessages("a", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].ID != "a2" || msgs[1].ID != "a3" {
		t.Errorf("got [%s %s], want [a2 a3]", msgs[0].ID, msgs[1].ID)
	}
	for _, m := range msgs {
		if m.SessionKey != "a" {
			t.Errorf("message %s has session %q, want a", m.ID, m.SessionKey)
		}
	}
}

func TestListMessagesIncludesCurrentInstant(t *testing.T) {
	db := testDB(t)

	// A message stamped "now" must not be excluded at the range boundary.
	now := time.Now().UnixMilli()
	if err := db.UpsertMessage(&Message{ID: "m1", SessionKey: "s1", Timestamp: now}); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListMessages("s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1 (boundary inclusive)", len(msgs))
	}
}

func TestDeleteSessionMessages(t *testing.T) {
	db := testDB(t)

	if _, err := db.UpsertMessages([]*Message{
		{ID: "a1", SessionKey: "a", Timestamp: 1000},
		{ID: "b1", SessionKey: "b", Timestamp: 1000},
	}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteSessionMessages("a"); err != nil {
		t.Fatal(err)
	}

	msgsA, _ := db.ListMessages("a", 10)
	msgsB, _ := db.ListMessages("b", 10)
	if len(msgsA) != 0 {
		t.Errorf("session a has %d messages, want 0", len(msgsA))
	}
	if len(msgsB) != 1 {
		t.Errorf("session b has %d messages, want 1 (untouched)", len(msgsB))
	}
}

func TestAttachmentsRoundTrip(t *testing.T) {
	db := testDB(t)

	m := &Message{ID: "m1", SessionKey: "s1", Timestamp: 1000, Attachments: []byte(`[{"url":"x"}]`)}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	msgs, err := db.ListMessages("s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if string(msgs[0].Attachments) != `[{"url":"x"}]` {
		t.Errorf("attachments = %s, want original JSON", msgs[0].Attachments)
	}

	// No attachments stays empty.
	if err := db.UpsertMessage(&Message{ID: "m2", SessionKey: "s1", Timestamp: 2000}); err != nil {
		t.Fatal(err)
	}
	msgs, _ = db.ListMessages("s1", 10)
	if len(msgs[1].Attachments) != 0 {
		t.Errorf("attachments = %s, want empty", msgs[1].Attachments)
	}
}

func TestCursorDefaultSetReset(t *testing.T) {
	db := testDB(t)

	c, err := db.GetCursor("s1")
	if err != nil {
		t.Fatal(err)
	}
	if !c.Zero() {
		t.Errorf("cursor = %+v, want zero (never synced)", c)
	}

	if err := db.SetCursor("s1", Cursor{LastMessageID: "m9", LastTimestamp: 9000}); err != nil {
		t.Fatal(err)
	}
	c, err = db.GetCursor("s1")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessageID != "m9" || c.LastTimestamp != 9000 {
		t.Errorf("cursor = %+v, want {m9 9000}", c)
	}

	// Total overwrite.
	if err := db.SetCursor("s1", Cursor{LastMessageID: "m10", LastTimestamp: 10000}); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetCursor("s1")
	if c.LastMessageID != "m10" {
		t.Errorf("cursor id = %q, want m10", c.LastMessageID)
	}

	if err := db.ResetCursor("s1"); err != nil {
		t.Fatal(err)
	}
	c, _ = db.GetCursor("s1")
	if !c.Zero() {
		t.Errorf("cursor = %+v, want zero after reset", c)
	}
}

func TestCursorsIndependentPerSession(t *testing.T) {
	db := testDB(t)

	if err := db.SetCursor("a", Cursor{LastMessageID: "a1", LastTimestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCursor("b", Cursor{LastMessageID: "b1", LastTimestamp: 2}); err != nil {
		t.Fatal(err)
	}

	ca, _ := db.GetCursor("a")
	cb, _ := db.GetCursor("b")
	if ca.LastMessageID != "a1" || cb.LastMessageID != "b1" {
		t.Errorf("cursors = %+v %+v, want independent a1/b1", ca, cb)
	}
}

func TestOutboxFIFOAndCounts(t *testing.T) {
	db := testDB(t)

	// Enqueue out of timestamp order; flush order must follow enqueue order.
	for _, m := range []*Message{
		{ID: "m1", SessionKey: "s1", Status: StatusQueued, Timestamp: 3000},
		{ID: "m2", SessionKey: "s1", Status: StatusQueued, Timestamp: 1000},
		{ID: "m3", SessionKey: "s2", Status: StatusFailed, Timestamp: 2000},
	} {
		if err := db.EnqueueOutbox(m); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := db.ListOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if entries[i].Message.ID != want {
			t.Errorf("entry[%d] = %s, want %s (FIFO by enqueue order)", i, entries[i].Message.ID, want)
		}
	}

	counts, err := db.OutboxCounts()
	if err != nil {
		t.Fatal(err)
	}
	if counts[StatusQueued] != 2 || counts[StatusFailed] != 1 {
		t.Errorf("counts = %v, want queued:2 failed:1", counts)
	}
}

func TestOutboxMarkAndPrune(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"m1", "m2"} {
		if err := db.EnqueueOutbox(&Message{ID: id, SessionKey: "s1", Status: StatusQueued, Timestamp: 1000}); err != nil {
			t.Fatal(err)
		}
	}

	if err := db.MarkOutboxSent("m1"); err != nil {
		t.Fatal(err)
	}
	if err := db.MarkOutboxFailed("m2", "gateway timeout"); err != nil {
		t.Fatal(err)
	}

	removed, err := db.PruneOutboxSent()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("pruned %d, want 1", removed)
	}

	entries, _ := db.ListOutbox()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (failed entry retained)", len(entries))
	}
	if entries[0].Message.ID != "m2" || entries[0].Message.Status != StatusFailed {
		t.Errorf("entry = %+v, want failed m2", entries[0])
	}
	if entries[0].ErrorMessage != "gateway timeout" {
		t.Errorf("error = %q, want gateway timeout", entries[0].ErrorMessage)
	}
}

func TestClearOutbox(t *testing.T) {
	db := testDB(t)

	if err := db.EnqueueOutbox(&Message{ID: "m1", SessionKey: "s1", Status: StatusQueued, Timestamp: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.ClearOutbox(); err != nil {
		t.Fatal(err)
	}
	entries, _ := db.ListOutbox()
	if len(entries) != 0 {
		t.Errorf("got %d entries, want 0", len(entries))
	}
}

func TestSessionUpsertAndList(t *testing.T) {
	db := testDB(t)

	s := &Session{Key: "agent:main", Name: "Main", LastActivity: 1000, UpdatedAt: 1000}
	if err := db.UpsertSession(s); err != nil {
		t.Fatal(err)
	}
	s.Name = "Main Updated"
	s.LastActivity = 2000
	if err := db.UpsertSession(s); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertSession(&Session{Key: "agent:other", Name: "Other", LastActivity: 500, UpdatedAt: 500}); err != nil {
		t.Fatal(err)
	}

	sessions, err := db.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(sessions))
	}
	if sessions[0].Key != "agent:main" || sessions[0].Name != "Main Updated" {
		t.Errorf("first session = %+v, want updated agent:main", sessions[0])
	}

	got, err := db.GetSession("agent:other")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Name != "Other" {
		t.Errorf("GetSession = %+v, want Other", got)
	}

	missing, err := db.GetSession("nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("GetSession(nope) = %+v, want nil", missing)
	}
}
