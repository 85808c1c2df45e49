package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agentworkforce/relaydoc/internal/access"
	"github.com/agentworkforce/relaydoc/internal/docstore"
	"github.com/agentworkforce/relaydoc/internal/protocol"
)

type recordingOutbox struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (o *recordingOutbox) Deliver(msg protocol.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = append(o.msgs, msg)
	return nil
}

func (o *recordingOutbox) messages() []protocol.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]protocol.Message(nil), o.msgs...)
}

func (o *recordingOutbox) kinds() []protocol.Kind {
	var out []protocol.Kind
	for _, m := range o.messages() {
		out = append(out, m.Kind())
	}
	return out
}

func (o *recordingOutbox) count(kind protocol.Kind) int {
	n := 0
	for _, m := range o.messages() {
		if m.Kind() == kind {
			n++
		}
	}
	return n
}

func (o *recordingOutbox) last(kind protocol.Kind) protocol.Message {
	msgs := o.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind() == kind {
			return msgs[i]
		}
	}
	return nil
}

func (o *recordingOutbox) reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs = nil
}

func waitForKind(t *testing.T, o *recordingOutbox, kind protocol.Kind) protocol.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msg := o.last(kind); msg != nil {
			return msg
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; got %v", kind, o.kinds())
	return nil
}

type failingStore struct{}

var errDiskOnFire = errors.New("disk on fire")

func (s *failingStore) Read(context.Context, string) (docstore.Document, error) {
	return docstore.Document{}, docstore.ErrNotFound
}

func (s *failingStore) Write(context.Context, string, string, string, time.Time) error {
	return errDiskOnFire
}

// blockingStore holds every Write until release is closed and records the
// content of each write in the order it completed.
type blockingStore struct {
	entered chan string
	release chan struct{}

	mu     sync.Mutex
	writes []string
}

func newBlockingStore() *blockingStore {
	return &blockingStore{entered: make(chan string, 64), release: make(chan struct{})}
}

func (s *blockingStore) Read(context.Context, string) (docstore.Document, error) {
	return docstore.Document{}, docstore.ErrNotFound
}

func (s *blockingStore) Write(ctx context.Context, _ string, content, _ string, _ time.Time) error {
	s.entered <- content
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, content)
	return nil
}

func (s *blockingStore) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

type erroringOracle struct{}

func (erroringOracle) RoleFor(context.Context, string, string) (access.Role, error) {
	return access.RoleNone, errors.New("acl service unavailable")
}

type member struct {
	handle *Handle
	outbox *recordingOutbox
}

func join(t *testing.T, r *Registry, documentID, connectionID, userID string) member {
	t.Helper()
	outbox := &recordingOutbox{}
	handle, err := r.Join(context.Background(), documentID, ParticipantInit{
		ConnectionID: connectionID,
		UserID:       userID,
		DisplayName:  userID,
		Outbox:       outbox,
	})
	if err != nil {
		t.Fatalf("join %s as %s failed: %v", documentID, connectionID, err)
	}
	return member{handle: handle, outbox: outbox}
}

func newTestRegistry(store docstore.Store) (*Registry, *access.StaticOracle) {
	oracle := access.NewStaticOracle(access.RoleNone)
	oracle.Grant("doc-1", "owner", access.RoleOwner)
	oracle.Grant("doc-1", "alice", access.RoleEditor)
	oracle.Grant("doc-1", "bob", access.RoleEditor)
	oracle.Grant("doc-1", "viv", access.RoleViewer)
	oracle.Grant("doc-2", "alice", access.RoleEditor)
	return NewRegistry(RegistryOptions{Store: store, Oracle: oracle, SaveTimeout: 2 * time.Second}), oracle
}

func connectionIDs(participants []protocol.Participant) []string {
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		out = append(out, p.ConnectionID)
	}
	return out
}

func staticEditorOracle() *access.StaticOracle {
	return access.NewStaticOracle(access.RoleEditor)
}
