package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/agentworkforce/relaydoc/internal/access"
	"github.com/agentworkforce/relaydoc/internal/docstore"
	"github.com/agentworkforce/relaydoc/internal/protocol"
)

func TestJoinWithoutAccessCreatesNothing(t *testing.T) {
	registry, _ := newTestRegistry(docstore.NewMemoryStore())
	outbox := &recordingOutbox{}
	_, err := registry.Join(context.Background(), "doc-1", ParticipantInit{
		ConnectionID: "c-mallory", UserID: "mallory", Outbox: outbox,
	})
	var accessErr *AccessError
	if !errors.As(err, &accessErr) {
		t.Fatalf("expected *AccessError, got %v", err)
	}
	assert.Equal(t, CodeForbidden, accessErr.Code)
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected forbidden access error to match ErrPermissionDenied")
	}
	assert.Equal(t, 0, len(registry.Snapshot()))
	assert.Equal(t, 0, len(outbox.messages()))
}

func TestJoinRejectsMissingDocumentID(t *testing.T) {
	registry, _ := newTestRegistry(docstore.NewMemoryStore())
	_, err := registry.Join(context.Background(), "  ", ParticipantInit{
		ConnectionID: "c1", UserID: "alice", Outbox: &recordingOutbox{},
	})
	var accessErr *AccessError
	if !errors.As(err, &accessErr) || accessErr.Code != CodeBadRequest {
		t.Fatalf("expected bad-request access error, got %v", err)
	}
}

func TestJoinOracleFailureIsInternal(t *testing.T) {
	registry := NewRegistry(RegistryOptions{Oracle: erroringOracle{}})
	_, err := registry.Join(context.Background(), "doc-1", ParticipantInit{
		ConnectionID: "c1", UserID: "alice", Outbox: &recordingOutbox{},
	})
	var accessErr *AccessError
	if !errors.As(err, &accessErr) || accessErr.Code != CodeInternal {
		t.Fatalf("expected internal-error access error, got %v", err)
	}
	assert.Equal(t, 0, len(registry.Snapshot()))
}

func TestJoinSendsSnapshotAndAnnouncesJoiner(t *testing.T) {
	store := docstore.NewMemoryStore()
	if err := store.Write(context.Background(), "doc-1", "<p>stored</p>", "owner", time.Now()); err != nil {
		t.Fatalf("seed store failed: %v", err)
	}
	registry, _ := newTestRegistry(store)

	a := join(t, registry, "doc-1", "c-a", "alice")
	joined := a.outbox.last(protocol.KindJoined).(*protocol.Joined)
	assert.Equal(t, "c-a", joined.Self.ConnectionID)
	assert.Equal(t, "editor", joined.Self.Role)
	assert.Equal(t, 0, len(joined.Participants))
	assert.Equal(t, "<p>stored</p>", joined.Content)
	assert.Equal(t, []protocol.Kind{protocol.KindJoined, protocol.KindPresence}, a.outbox.kinds())

	a.outbox.reset()
	b := join(t, registry, "doc-1", "c-b", "bob")
	joined = b.outbox.last(protocol.KindJoined).(*protocol.Joined)
	assert.Equal(t, []string{"c-a"}, connectionIDs(joined.Participants))
	assert.Equal(t, []protocol.Kind{protocol.KindJoined, protocol.KindPresence}, b.outbox.kinds())

	assert.Equal(t, []protocol.Kind{protocol.KindPresence, protocol.KindParticipantJoined}, a.outbox.kinds())
	presence := a.outbox.last(protocol.KindPresence).(*protocol.Presence)
	assert.Equal(t, []string{"c-a", "c-b"}, connectionIDs(presence.Participants))
	announced := a.outbox.last(protocol.KindParticipantJoined).(*protocol.ParticipantJoined)
	assert.Equal(t, "bob", announced.Participant.UserID)
}

func TestSameUserMayHoldSeveralConnections(t *testing.T) {
	registry, _ := newTestRegistry(docstore.NewMemoryStore())
	first := join(t, registry, "doc-1", "c-1", "alice")
	join(t, registry, "doc-1", "c-2", "alice")

	presence := first.outbox.last(protocol.KindPresence).(*protocol.Presence)
	assert.Equal(t, []string{"c-1", "c-2"}, connectionIDs(presence.Participants))

	_, err := registry.Join(context.Background(), "doc-1", ParticipantInit{
		ConnectionID: "c-1", UserID: "alice", Outbox: &recordingOutbox{},
	})
	if !errors.Is(err, ErrDuplicateConnection) {
		t.Fatalf("expected ErrDuplicateConnection, got %v", err)
	}
}

func TestPresenceTracksConnectedSetAndSessionLifetime(t *testing.T) {
	registry, _ := newTestRegistry(docstore.NewMemoryStore())
	a := join(t, registry, "doc-1", "c-a", "alice")
	b := join(t, registry, "doc-1", "c-b", "bob")
	o := join(t, registry, "doc-1", "c-o", "owner")

	sessions := registry.Snapshot()
	assert.Equal(t, 1, len(sessions))
	assert.Equal(t, 3, len(sessions[0].Participants))

	a.outbox.reset()
	o.outbox.reset()
	b.handle.Leave()

	for _, remaining := range []member{a, o} {
		assert.Equal(t, []protocol.Kind{protocol.KindParticipantLeft, protocol.KindPresence}, remaining.outbox.kinds())
		left := remaining.outbox.last(protocol.KindParticipantLeft).(*protocol.ParticipantLeft)
		assert.Equal(t, "c-b", left.Participant.ConnectionID)
		presence := remaining.outbox.last(protocol.KindPresence).(*protocol.Presence)
		assert.Equal(t, []string{"c-a", "c-o"}, connectionIDs(presence.Participants))
	}

	a.handle.Leave()
	o.handle.Leave()
	assert.Equal(t, 0, len(registry.Snapshot()))

	// A fresh join recreates the session.
	join(t, registry, "doc-1", "c-a2", "alice")
	assert.Equal(t, 1, len(registry.Snapshot()))
}

func TestLeaveIsIdempotent(t *testing.T) {
	registry, _ := newTestRegistry(docstore.NewMemoryStore())
	a := join(t, registry, "doc-1", "c-a", "alice")
	b := join(t, registry, "doc-1", "c-b", "bob")

	a.outbox.reset()
	b.handle.Leave()
	b.handle.Leave()
	registry.Leave("doc-1", "c-b")
	registry.Leave("doc-unknown", "c-b")

	assert.Equal(t, 1, a.outbox.count(protocol.KindParticipantLeft))
	assert.Equal(t, 1, len(registry.Snapshot()[0].Participants))
}

func TestConcurrentJoinsShareOneSession(t *testing.T) {
	registry, oracle := newTestRegistry(docstore.NewMemoryStore())
	const n = 24
	var wg sync.WaitGroup
	handles := make([]*Handle, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		userID := fmt.Sprintf("user-%d", i)
		oracle.Grant("doc-race", userID, access.RoleEditor)
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			handles[i], errs[i] = registry.Join(context.Background(), "doc-race", ParticipantInit{
				ConnectionID: fmt.Sprintf("c-%d", i), UserID: userID, Outbox: &recordingOutbox{},
			})
		}(i, userID)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("join %d failed: %v", i, err)
		}
	}
	for i := 1; i < n; i++ {
		if handles[i].session != handles[0].session {
			t.Fatalf("join %d attached to a different session", i)
		}
	}
	sessions := registry.Snapshot()
	assert.Equal(t, 1, len(sessions))
	assert.Equal(t, n, len(sessions[0].Participants))
}

func TestColorsAreDistinctWhilePaletteLasts(t *testing.T) {
	registry, oracle := newTestRegistry(docstore.NewMemoryStore())
	seen := map[string]bool{}
	for i := 0; i < len(palette); i++ {
		userID := fmt.Sprintf("user-%d", i)
		oracle.Grant("doc-colors", userID, access.RoleViewer)
		m := join(t, registry, "doc-colors", fmt.Sprintf("c-%d", i), userID)
		color := m.handle.Self().Color
		if seen[color] {
			t.Fatalf("color %s assigned twice", color)
		}
		seen[color] = true
	}
	oracle.Grant("doc-colors", "extra", access.RoleViewer)
	extra := join(t, registry, "doc-colors", "c-extra", "extra")
	if extra.handle.Self().Color == "" {
		t.Fatalf("expected a color once the palette is exhausted")
	}
}

func TestColorIsReusedAfterLeave(t *testing.T) {
	registry, _ := newTestRegistry(docstore.NewMemoryStore())
	a := join(t, registry, "doc-1", "c-a", "alice")
	b := join(t, registry, "doc-1", "c-b", "bob")
	freed := b.handle.Self().Color
	b.handle.Leave()
	o := join(t, registry, "doc-1", "c-o", "owner")
	assert.Equal(t, freed, o.handle.Self().Color)
	if a.handle.Self().Color == o.handle.Self().Color {
		t.Fatalf("expected distinct colors for concurrent participants")
	}
}

func TestCloseDrainsPendingSaves(t *testing.T) {
	store := newBlockingStore()
	registry, _ := newTestRegistry(store)
	a := join(t, registry, "doc-1", "c-a", "alice")
	if _, err := a.handle.SubmitChange("v1", nil); err != nil {
		t.Fatalf("submit v1 failed: %v", err)
	}
	if _, err := a.handle.SubmitChange("v2", nil); err != nil {
		t.Fatalf("submit v2 failed: %v", err)
	}

	closed := make(chan error, 1)
	go func() { closed <- registry.Close(context.Background()) }()
	select {
	case err := <-closed:
		t.Fatalf("close returned before saves drained: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(store.release)
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("close failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("close did not return after release")
	}
	assert.Equal(t, []string{"v1", "v2"}, store.written())

	if _, err := a.handle.SubmitChange("v3", nil); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed after close, got %v", err)
	}
	_, err := registry.Join(context.Background(), "doc-1", ParticipantInit{
		ConnectionID: "c-late", UserID: "bob", Outbox: &recordingOutbox{},
	})
	if !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("expected ErrRegistryClosed, got %v", err)
	}
}

func TestCloseHonorsContext(t *testing.T) {
	store := newBlockingStore()
	defer close(store.release)
	registry, _ := newTestRegistry(store)
	a := join(t, registry, "doc-1", "c-a", "alice")
	if _, err := a.handle.SubmitChange("v1", nil); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := registry.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRecreatedSessionWritesAfterPredecessorDrains(t *testing.T) {
	store := newBlockingStore()
	registry, _ := newTestRegistry(store)

	a := join(t, registry, "doc-1", "c-a", "alice")
	if _, err := a.handle.SubmitChange("first", nil); err != nil {
		t.Fatalf("submit first failed: %v", err)
	}
	<-store.entered
	a.handle.Leave()
	assert.Equal(t, 0, len(registry.Snapshot()))

	b := join(t, registry, "doc-1", "c-b", "bob")
	joined := b.outbox.last(protocol.KindJoined).(*protocol.Joined)
	assert.Equal(t, "first", joined.Content)

	if _, err := b.handle.SubmitChange("second", nil); err != nil {
		t.Fatalf("submit second failed: %v", err)
	}
	close(store.release)
	waitForKind(t, b.outbox, protocol.KindSaved)
	assert.Equal(t, []string{"first", "second"}, store.written())
}

// staleReadStore runs onRead before answering every Read with "not found",
// standing in for a read that completed just before a pending write landed.
type staleReadStore struct {
	*blockingStore
	onRead func()
}

func (s *staleReadStore) Read(context.Context, string) (docstore.Document, error) {
	if s.onRead != nil {
		s.onRead()
	}
	return docstore.Document{}, docstore.ErrNotFound
}

func TestJoinKeepsHeadWhenPredecessorDrainsDuringRead(t *testing.T) {
	store := &staleReadStore{blockingStore: newBlockingStore()}
	registry, _ := newTestRegistry(store)

	a := join(t, registry, "doc-1", "c-a", "alice")
	if _, err := a.handle.SubmitChange("first", nil); err != nil {
		t.Fatalf("submit first failed: %v", err)
	}
	<-store.entered
	a.handle.Leave()

	store.onRead = func() {
		close(store.release)
		deadline := time.Now().Add(2 * time.Second)
		for {
			registry.mu.Lock()
			_, retired := registry.retired["doc-1"]
			registry.mu.Unlock()
			if !retired {
				return
			}
			if time.Now().After(deadline) {
				t.Errorf("predecessor session never drained")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	b := join(t, registry, "doc-1", "c-b", "bob")
	joined := b.outbox.last(protocol.KindJoined).(*protocol.Joined)
	assert.Equal(t, "first", joined.Content)
	assert.Equal(t, []string{"first"}, store.written())
}
