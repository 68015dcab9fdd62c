package game

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/athleterace/backend/internal/resolver"
	"github.com/athleterace/backend/internal/sports"
)

func testCatalog(t *testing.T) *sports.Catalog {
	t.Helper()
	catalog, err := sports.Default()
	require.NoError(t, err)
	return catalog
}

type recordedEvent struct {
	method string
	code   string
	target string
	event  *Event
}

// fakeBroadcaster records every emitted event for assertions.
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (b *fakeBroadcaster) record(method, code, target string, event *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{method: method, code: code, target: target, event: event})
}

func (b *fakeBroadcaster) BroadcastToSession(code string, event *Event) {
	b.record("broadcast", code, "", event)
}

func (b *fakeBroadcaster) BroadcastExceptConnection(code, connectionID string, event *Event) {
	b.record("broadcast_except_conn", code, connectionID, event)
}

func (b *fakeBroadcaster) BroadcastExceptUser(code, username string, event *Event) {
	b.record("broadcast_except_user", code, username, event)
}

func (b *fakeBroadcaster) SendToUser(code, username string, event *Event) {
	b.record("send_user", code, username, event)
}

func (b *fakeBroadcaster) SendToConnection(code, connectionID string, event *Event) {
	b.record("send_conn", code, connectionID, event)
}

func (b *fakeBroadcaster) byType(t EventType) []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedEvent
	for _, rec := range b.events {
		if rec.event.Type == t {
			out = append(out, rec)
		}
	}
	return out
}

func (b *fakeBroadcaster) last(t EventType) *Event {
	matches := b.byType(t)
	if len(matches) == 0 {
		return nil
	}
	return matches[len(matches)-1].event
}

func (b *fakeBroadcaster) count(t EventType) int {
	return len(b.byType(t))
}

// fakeResolver delegates to fn and counts invocations.
type fakeResolver struct {
	fn    func(ctx context.Context, name, sportQID, hint string) (*resolver.Resolution, error)
	calls atomic.Int32
}

func (r *fakeResolver) Resolve(ctx context.Context, name, sportQID, hint string) (*resolver.Resolution, error) {
	r.calls.Add(1)
	return r.fn(ctx, name, sportQID, hint)
}

func matchResolution(id, canonical string) *resolver.Resolution {
	return &resolver.Resolution{Match: &resolver.Identity{ID: id, CanonicalName: canonical}}
}

func ambiguousResolution(ids ...string) *resolver.Resolution {
	return &resolver.Resolution{Candidates: ids}
}

func unknownResolution() *resolver.Resolution {
	return &resolver.Resolution{}
}
