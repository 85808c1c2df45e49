package collab

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"

	"github.com/agentworkforce/relaydoc/internal/access"
	"github.com/agentworkforce/relaydoc/internal/docstore"
	"github.com/agentworkforce/relaydoc/internal/protocol"
)

// Session is the live collaboration state of one document. Only a Registry
// creates or destroys one.
type Session struct {
	id          string
	store       docstore.Store
	saveTimeout time.Duration
	now         func() time.Time
	createdAt   time.Time
	onDrained   func(*Session)

	mu           sync.Mutex
	participants map[string]*Participant
	members      []*Participant
	admitted     int
	head         string
	hasHead      bool
	pending      int
	closed       bool
	saves        chan saveTask

	done chan struct{}
}

func newSession(id string, opts RegistryOptions, prev *Session, onDrained func(*Session)) *Session {
	s := &Session{
		id:           id,
		store:        opts.Store,
		saveTimeout:  opts.SaveTimeout,
		now:          opts.Now,
		createdAt:    opts.Now().UTC(),
		onDrained:    onDrained,
		participants: map[string]*Participant{},
		saves:        make(chan saveTask, opts.SaveQueueSize),
		done:         make(chan struct{}),
	}
	var wait <-chan struct{}
	if prev != nil {
		prev.mu.Lock()
		s.head, s.hasHead = prev.head, prev.hasHead
		prev.mu.Unlock()
		wait = prev.done
	}
	go s.saveWorker(wait)
	return s
}

func (s *Session) DocumentID() string { return s.id }

// Done is closed once the session is closed and every queued save has run.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) admit(init ParticipantInit, role access.Role, stored string) (*Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if _, exists := s.participants[init.ConnectionID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateConnection, init.ConnectionID)
	}

	p := &Participant{
		ConnectionID: init.ConnectionID,
		UserID:       init.UserID,
		DisplayName:  init.DisplayName,
		Role:         role,
		Color:        pickColor(s.members, s.admitted),
		JoinedAt:     s.now().UTC(),
		outbox:       init.Outbox,
	}
	s.admitted++
	others := s.summariesLocked()
	s.members = append(s.members, p)
	s.participants[p.ConnectionID] = p

	content := stored
	if s.hasHead {
		content = s.head
	}
	s.deliver(p, &protocol.Joined{Self: p.summary(), Participants: others, Content: content})

	presence := &protocol.Presence{Participants: s.summariesLocked()}
	joined := &protocol.ParticipantJoined{Participant: p.summary()}
	for _, m := range s.members {
		s.deliver(m, presence)
		if m != p {
			s.deliver(m, joined)
		}
	}
	return p, nil
}

func (s *Session) submitChange(connectionID, content string, delta json.RawMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSessionClosed
	}
	p, ok := s.participants[connectionID]
	if !ok {
		return "", ErrNotParticipant
	}
	if !p.Role.CanEdit() {
		s.deliver(p, &protocol.PermissionDenied{Action: "change"})
		return "", ErrPermissionDenied
	}

	s.head, s.hasHead = content, true
	s.broadcastExcept(connectionID, &protocol.ChangeBroadcast{
		Content:            content,
		Delta:              delta,
		SourceUserID:       p.UserID,
		SourceConnectionID: p.ConnectionID,
	})

	changeID := ulid.Make().String()
	task := saveTask{
		changeID:     changeID,
		connectionID: connectionID,
		userID:       p.UserID,
		content:      content,
		at:           s.now().UTC(),
	}
	if !s.tryEnqueue(task) {
		glog.Warningf("collab: save queue full for document %s, dropping change %s", s.id, changeID)
		s.deliver(p, &protocol.SaveFailed{ChangeID: changeID, Message: "save queue full"})
		return changeID, ErrQueueFull
	}
	return changeID, nil
}

func (s *Session) submitCursor(connectionID string, cursor *protocol.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	p, ok := s.participants[connectionID]
	if !ok {
		return ErrNotParticipant
	}
	p.Cursor = cursor.Clone()
	s.broadcastExcept(connectionID, &protocol.CursorBroadcast{
		UserID:       p.UserID,
		ConnectionID: p.ConnectionID,
		Cursor:       cursor.Clone(),
	})
	return nil
}

// remove drops the participant and reports whether the session is now
// empty. An empty session stops accepting saves; its worker drains what is
// already queued.
func (s *Session) remove(connectionID string) (removed, empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[connectionID]
	if !ok {
		return false, len(s.members) == 0
	}
	delete(s.participants, connectionID)
	for i, m := range s.members {
		if m == p {
			s.members = append(s.members[:i], s.members[i+1:]...)
			break
		}
	}

	left := &protocol.ParticipantLeft{Participant: p.summary()}
	presence := &protocol.Presence{Participants: s.summariesLocked()}
	for _, m := range s.members {
		s.deliver(m, left)
		s.deliver(m, presence)
	}
	empty = len(s.members) == 0
	if empty {
		s.closeLocked()
	}
	return true, empty
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.saves)
}

func (s *Session) summary() SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSummary{
		DocumentID:   s.id,
		Participants: s.summariesLocked(),
		PendingSaves: s.pending,
		CreatedAt:    s.createdAt,
	}
}

func (s *Session) summariesLocked() []protocol.Participant {
	out := make([]protocol.Participant, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m.summary())
	}
	return out
}

func (s *Session) broadcastExcept(connectionID string, msg protocol.Message) {
	for _, m := range s.members {
		if m.ConnectionID != connectionID {
			s.deliver(m, msg)
		}
	}
}

func (s *Session) deliver(p *Participant, msg protocol.Message) {
	if p.outbox == nil {
		return
	}
	if err := p.outbox.Deliver(msg); err != nil {
		glog.V(1).Infof("collab: deliver %s to %s on %s: %v", msg.Kind(), p.ConnectionID, s.id, err)
	}
}
