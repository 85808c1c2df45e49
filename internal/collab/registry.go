// Package collab hosts the live collaboration sessions of a server process.
//
// A Registry maps document ids to Sessions. A Session exists exactly while
// it has at least one participant. Each Session fans out changes and cursor
// moves to its other participants synchronously, under its own mutex, and
// persists content asynchronously on a single save worker so that writes
// for one document reach the store in the order they were accepted.
//
// Lock order is always Registry.mu before Session.mu.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/agentworkforce/relaydoc/internal/access"
	"github.com/agentworkforce/relaydoc/internal/docstore"
	"github.com/agentworkforce/relaydoc/internal/protocol"
)

const (
	defaultSaveQueueSize = 64
	defaultSaveTimeout   = 10 * time.Second
)

type RegistryOptions struct {
	Store         docstore.Store
	Oracle        access.Oracle
	SaveQueueSize int
	SaveTimeout   time.Duration
	Now           func() time.Time
}

type SessionSummary struct {
	DocumentID   string                 `json:"documentId"`
	Participants []protocol.Participant `json:"participants"`
	PendingSaves int                    `json:"pendingSaves"`
	CreatedAt    time.Time              `json:"createdAt"`
}

type Registry struct {
	opts RegistryOptions

	mu       sync.Mutex
	sessions map[string]*Session
	// retired holds emptied sessions whose save worker is still draining.
	retired map[string]*Session
	closed  bool
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Store == nil {
		opts.Store = docstore.NewMemoryStore()
	}
	if opts.Oracle == nil {
		opts.Oracle = access.NewStaticOracle(access.RoleNone)
	}
	if opts.SaveQueueSize <= 0 {
		opts.SaveQueueSize = defaultSaveQueueSize
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = defaultSaveTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		opts:     opts,
		sessions: map[string]*Session{},
		retired:  map[string]*Session{},
	}
}

// Join checks the user's role on documentID and attaches the connection to
// the document's session, creating the session if needed. Failures are
// returned as *AccessError and leave no state behind.
func (r *Registry) Join(ctx context.Context, documentID string, init ParticipantInit) (*Handle, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return nil, &AccessError{Code: CodeBadRequest, Message: "documentId is required"}
	}
	if init.ConnectionID == "" || init.UserID == "" || init.Outbox == nil {
		return nil, &AccessError{Code: CodeBadRequest, Message: "connection identity is incomplete", Err: ErrInvalidInput}
	}

	role, err := r.opts.Oracle.RoleFor(ctx, documentID, init.UserID)
	if err != nil {
		return nil, &AccessError{Code: CodeInternal, Message: "permission lookup failed", Err: err}
	}
	if role == access.RoleNone {
		return nil, &AccessError{Code: CodeForbidden, Message: "no access to document"}
	}

	// A session seen before the read may drain and leave the registry before
	// the lock below is taken; its head is then newer than what we read.
	r.mu.Lock()
	prior := r.sessions[documentID]
	if prior == nil {
		prior = r.retired[documentID]
	}
	r.mu.Unlock()

	var content string
	doc, err := r.opts.Store.Read(ctx, documentID)
	switch {
	case err == nil:
		content = doc.Content
	case errors.Is(err, docstore.ErrNotFound):
	default:
		return nil, &AccessError{Code: CodeInternal, Message: "document load failed", Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, &AccessError{Code: CodeInternal, Message: "server shutting down", Err: ErrRegistryClosed}
	}
	session, created := r.sessions[documentID], false
	if session == nil {
		prev := r.retired[documentID]
		delete(r.retired, documentID)
		if prev == nil {
			prev = prior
		}
		session = newSession(documentID, r.opts, prev, r.drained)
		r.sessions[documentID] = session
		created = true
		glog.Infof("collab: session %s created", documentID)
	}
	p, err := session.admit(init, role, content)
	if err != nil {
		if created {
			delete(r.sessions, documentID)
			session.close()
		}
		return nil, &AccessError{Code: CodeInternal, Message: "join failed", Err: err}
	}
	glog.V(1).Infof("collab: %s (%s) joined %s as %s", p.ConnectionID, p.UserID, documentID, role)
	return &Handle{registry: r, session: session, participant: p.summary(), role: role}, nil
}

// Leave detaches the connection and destroys the session once it is empty.
// Unknown documents and connections are ignored.
func (r *Registry) Leave(documentID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session := r.sessions[documentID]
	if session == nil {
		return
	}
	removed, empty := session.remove(connectionID)
	if removed {
		glog.V(1).Infof("collab: %s left %s", connectionID, documentID)
	}
	if !empty {
		return
	}
	delete(r.sessions, documentID)
	select {
	case <-session.done:
	default:
		r.retired[documentID] = session
	}
	glog.Infof("collab: session %s destroyed", documentID)
}

func (r *Registry) drained(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.retired[s.id] == s {
		delete(r.retired, s.id)
	}
}

// Snapshot lists the live sessions ordered by document id.
func (r *Registry) Snapshot() []SessionSummary {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out
}

// Close refuses further joins, stops every session from accepting changes
// and waits until all queued saves have been written or ctx is done.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	pending := make([]*Session, 0, len(r.sessions)+len(r.retired))
	for _, s := range r.sessions {
		s.close()
		pending = append(pending, s)
	}
	for _, s := range r.retired {
		pending = append(pending, s)
	}
	r.mu.Unlock()

	for _, s := range pending {
		select {
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Handle is a connection's membership in a session.
type Handle struct {
	registry    *Registry
	session     *Session
	participant protocol.Participant
	role        access.Role
	leaveOnce   sync.Once
}

func (h *Handle) DocumentID() string         { return h.session.id }
func (h *Handle) Role() access.Role          { return h.role }
func (h *Handle) Self() protocol.Participant { return h.participant }

// SubmitChange relays content to the other participants and queues it for
// persistence. The returned change id is echoed in the saved or save-failed
// message later sent to this connection.
func (h *Handle) SubmitChange(content string, delta json.RawMessage) (string, error) {
	return h.session.submitChange(h.participant.ConnectionID, content, delta)
}

func (h *Handle) SubmitCursor(cursor *protocol.Cursor) error {
	return h.session.submitCursor(h.participant.ConnectionID, cursor)
}

// Leave removes the connection from its session. Only the first call has
// any effect.
func (h *Handle) Leave() {
	h.leaveOnce.Do(func() {
		h.registry.Leave(h.session.id, h.participant.ConnectionID)
	})
}
