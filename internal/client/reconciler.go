// Package client keeps a local editing surface in step with a collaboration
// session.
//
// The Reconciler is transport-agnostic: it consumes decoded server messages
// through Handle and emits client messages through the Send function it is
// given. Dial wires it to a WebSocket connection.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/agentworkforce/relaydoc/internal/access"
	"github.com/agentworkforce/relaydoc/internal/protocol"
)

const (
	DefaultRemoteGuard  = 150 * time.Millisecond
	DefaultDedupWindow  = 100 * time.Millisecond
	DefaultCursorWindow = 100 * time.Millisecond
)

// Surface is the editable document the reconciler keeps in sync. SetContent
// may synchronously trigger the surface's own change notifications; the
// reconciler ignores those while a remote write is being applied.
type Surface interface {
	Content() string
	SetContent(content string)
}

var (
	ErrNotJoined = errors.New("not joined")
	ErrReadOnly  = errors.New("read-only role")
)

type SaveStatus string

const (
	StatusIdle    SaveStatus = "idle"
	StatusDirty   SaveStatus = "dirty"
	StatusSyncing SaveStatus = "syncing"
	StatusSaved   SaveStatus = "saved"
	StatusError   SaveStatus = "error"
)

type Options struct {
	Surface Surface
	Send    func(protocol.Message) error
	// UserID identifies echoes of our own changes when the server does not
	// report a source connection id.
	UserID       string
	RemoteGuard  time.Duration
	DedupWindow  time.Duration
	CursorWindow time.Duration
	Now          func() time.Time
}

type Reconciler struct {
	opts   Options
	cursor *Throttle[*protocol.Cursor]

	mu             sync.Mutex
	self           protocol.Participant
	joined         bool
	roster         *Roster
	applyingRemote bool
	remoteGen      uint64
	lastPrimary    time.Time
	inflight       int
	status         SaveStatus
	statusDetail   string
}

func NewReconciler(opts Options) *Reconciler {
	if opts.RemoteGuard <= 0 {
		opts.RemoteGuard = DefaultRemoteGuard
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.CursorWindow <= 0 {
		opts.CursorWindow = DefaultCursorWindow
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Send == nil {
		opts.Send = func(protocol.Message) error { return nil }
	}
	r := &Reconciler{opts: opts, roster: NewRoster(), status: StatusIdle}
	r.cursor = NewThrottle(opts.CursorWindow, func(c *protocol.Cursor) {
		if err := r.opts.Send(&protocol.CursorUpdate{Cursor: c}); err != nil {
			glog.V(1).Infof("client: send cursor: %v", err)
		}
	})
	return r
}

// Handle applies one message received from the session.
func (r *Reconciler) Handle(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.Joined:
		r.mu.Lock()
		r.self = m.Self
		r.joined = true
		r.roster.Replace(append(append([]protocol.Participant{}, m.Participants...), m.Self))
		r.mu.Unlock()
		r.ApplyRemote(m.Content)
	case *protocol.Presence:
		r.mu.Lock()
		r.roster.Replace(m.Participants)
		r.mu.Unlock()
	case *protocol.ParticipantJoined:
		r.mu.Lock()
		r.roster.Upsert(m.Participant)
		r.mu.Unlock()
	case *protocol.ParticipantLeft:
		r.mu.Lock()
		r.roster.Remove(m.Participant.ConnectionID)
		r.mu.Unlock()
	case *protocol.ChangeBroadcast:
		if r.isOwnEcho(m.SourceConnectionID, m.SourceUserID) {
			return
		}
		r.ApplyRemote(m.Content)
	case *protocol.CursorBroadcast:
		if r.isOwnEcho(m.ConnectionID, m.UserID) {
			return
		}
		r.mu.Lock()
		r.roster.SetCursor(m.ConnectionID, m.UserID, m.Cursor)
		r.mu.Unlock()
	case *protocol.PermissionDenied:
		r.mu.Lock()
		r.status, r.statusDetail = StatusError, "permission denied: "+m.Action
		r.mu.Unlock()
	case *protocol.Saved:
		r.mu.Lock()
		if r.inflight > 0 {
			r.inflight--
		}
		if r.inflight == 0 && r.status == StatusSyncing {
			r.status, r.statusDetail = StatusSaved, ""
		}
		r.mu.Unlock()
	case *protocol.SaveFailed:
		r.mu.Lock()
		if r.inflight > 0 {
			r.inflight--
		}
		r.status, r.statusDetail = StatusError, m.Message
		r.mu.Unlock()
	default:
		glog.V(1).Infof("client: ignoring %s", msg.Kind())
	}
}

func (r *Reconciler) isOwnEcho(connectionID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if connectionID != "" && r.self.ConnectionID != "" {
		return connectionID == r.self.ConnectionID
	}
	own := r.self.UserID
	if own == "" {
		own = r.opts.UserID
	}
	return own != "" && userID == own
}

// ApplyRemote replaces the surface content with content. It returns false
// when the surface already holds exactly that content.
func (r *Reconciler) ApplyRemote(content string) bool {
	if r.opts.Surface.Content() == content {
		return false
	}
	r.mu.Lock()
	r.applyingRemote = true
	r.remoteGen++
	gen := r.remoteGen
	r.mu.Unlock()

	r.opts.Surface.SetContent(content)

	time.AfterFunc(r.opts.RemoteGuard, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.remoteGen == gen {
			r.applyingRemote = false
		}
	})
	return true
}

// OnContentChanged is the primary local edit notification, carrying the
// surface's delta. It reports whether a change was sent.
func (r *Reconciler) OnContentChanged(content string, delta json.RawMessage) bool {
	r.mu.Lock()
	if r.applyingRemote {
		r.mu.Unlock()
		return false
	}
	r.lastPrimary = r.opts.Now()
	r.mu.Unlock()
	return r.emitChange(content, delta)
}

// OnValueChanged is the secondary, whole-value notification some surfaces
// fire alongside OnContentChanged. It only sends when no primary
// notification arrived within the dedup window.
func (r *Reconciler) OnValueChanged(content string) bool {
	r.mu.Lock()
	if r.applyingRemote || r.opts.Now().Sub(r.lastPrimary) < r.opts.DedupWindow {
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()
	return r.emitChange(content, nil)
}

// OnSelectionChanged forwards the local cursor through the throttle. A nil
// cursor clears the selection.
func (r *Reconciler) OnSelectionChanged(cursor *protocol.Cursor) {
	r.mu.Lock()
	joined := r.joined
	r.mu.Unlock()
	if !joined {
		return
	}
	r.cursor.Push(cursor.Clone())
}

// Autosave resends the current surface content when the last local edit has
// not been confirmed. It reports whether a change was sent.
func (r *Reconciler) Autosave() bool {
	r.mu.Lock()
	due := r.status == StatusDirty || r.status == StatusError
	r.mu.Unlock()
	if !due {
		return false
	}
	return r.emitChange(r.opts.Surface.Content(), nil)
}

func (r *Reconciler) emitChange(content string, delta json.RawMessage) bool {
	r.mu.Lock()
	if !r.joined || !access.Role(r.self.Role).CanEdit() {
		r.mu.Unlock()
		return false
	}
	// Syncing must be visible before Send returns: the saved ack may be
	// handled on the read goroutine first.
	r.inflight++
	r.status, r.statusDetail = StatusSyncing, ""
	r.mu.Unlock()

	err := r.opts.Send(&protocol.Change{Content: content, Delta: delta})
	if err == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inflight > 0 {
		r.inflight--
	}
	r.status, r.statusDetail = StatusDirty, err.Error()
	glog.V(1).Infof("client: send change: %v", err)
	return false
}

// Submit sends content as a local edit regardless of the remote-apply
// guard. It is for programmatic writers that replace the whole document
// right after joining; interactive surfaces use OnContentChanged.
func (r *Reconciler) Submit(content string, delta json.RawMessage) error {
	r.mu.Lock()
	joined, role := r.joined, access.Role(r.self.Role)
	r.mu.Unlock()
	switch {
	case !joined:
		return ErrNotJoined
	case !role.CanEdit():
		return fmt.Errorf("%w: role %s", ErrReadOnly, role)
	}
	if !r.emitChange(content, delta) {
		_, detail := r.Status()
		return fmt.Errorf("send change: %s", detail)
	}
	return nil
}

func (r *Reconciler) Status() (SaveStatus, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.statusDetail
}

func (r *Reconciler) Roster() []protocol.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roster.List()
}

func (r *Reconciler) Self() (protocol.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.self, r.joined
}

func (r *Reconciler) Close() {
	r.cursor.Stop()
}
