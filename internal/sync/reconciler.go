package sync

import (
	"sort"

	"github.com/clawapp/claw/internal/store"
)

// newMessages determines the newly-seen subset of a newest-first server
// window.
//
// With a known cursor, everything strictly newer than the cursor id's
// position in the window is new. If the cursor id fell outside the
// window (server truncated history past our sync point), the policy is
// full-window reconciliation: the entire response is treated as new and
// duplicates are absorbed by the store's upsert-by-id idempotence. Gaps
// the server may have purged between syncs are not detected.
//
// With no cursor (first sync), new is the set-difference by id against
// the local cache.
func newMessages(server []store.Message, cursor store.Cursor, local []store.Message) []store.Message {
	if len(server) == 0 {
		return nil
	}

	if !cursor.Zero() {
		for i, m := range server {
			if m.ID == cursor.LastMessageID {
				return server[:i]
			}
		}
		return server
	}

	localIDs := make(map[string]struct{}, len(local))
	for _, m := range local {
		localIDs[m.ID] = struct{}{}
	}
	var fresh []store.Message
	for _, m := range server {
		if _, ok := localIDs[m.ID]; !ok {
			fresh = append(fresh, m)
		}
	}
	return fresh
}

// mergeByTimestamp combines the local cache with incoming messages,
// deduplicated by id with the incoming copy winning, sorted ascending
// by timestamp.
func mergeByTimestamp(local, incoming []store.Message) []store.Message {
	seen := make(map[string]struct{}, len(incoming))
	merged := make([]store.Message, 0, len(local)+len(incoming))
	for _, m := range incoming {
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	for _, m := range local {
		if _, ok := seen[m.ID]; !ok {
			merged = append(merged, m)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// tail returns the most recent limit messages of an ascending slice.
func tail(msgs []store.Message, limit int) []store.Message {
	if len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}
