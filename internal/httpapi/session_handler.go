package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/agentworkforce/relaydoc/internal/collab"
	"github.com/agentworkforce/relaydoc/internal/protocol"
)

// Close codes sent to clients whose connection is refused.
const (
	closeBadRequest   websocket.StatusCode = 4400
	closeUnauthorized websocket.StatusCode = 4401
	closeForbidden    websocket.StatusCode = 4403
	closeRateLimited  websocket.StatusCode = 4429
)

var (
	errOutboxFull   = errors.New("outbox full")
	errOutboxClosed = errors.New("outbox closed")
)

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		glog.V(1).Infof("httpapi: websocket accept from %s: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageBytes)

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()
	stop := context.AfterFunc(r.Context(), cancel)
	defer stop()

	claims, authErr := authenticate(bearerToken(r, true), s.cfg.JWTSecret, s.cfg.JWTAudience, time.Now().UTC())
	if authErr != nil {
		glog.Warningf("httpapi: rejecting session from %s: %s", r.RemoteAddr, authErr.message)
		_ = conn.Close(closeUnauthorized, "unauthorized")
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(claims.UserID, time.Now().UTC()) {
		_ = conn.Close(closeRateLimited, "rate-limited")
		return
	}

	join, ok := s.readJoin(ctx, conn)
	if !ok {
		_ = conn.Close(closeBadRequest, "bad-request")
		return
	}

	displayName := strings.TrimSpace(join.DisplayName)
	if displayName == "" {
		displayName = claims.Name
	}
	outbox := newWSOutbox(conn, s.cfg.SendBuffer, s.cfg.WriteTimeout)
	go outbox.run(ctx)

	handle, err := s.registry.Join(ctx, join.DocumentID, collab.ParticipantInit{
		ConnectionID: uuid.NewString(),
		UserID:       claims.UserID,
		DisplayName:  displayName,
		Outbox:       outbox,
	})
	if err != nil {
		outbox.shutdown()
		code, reason := closeStatusFor(err)
		glog.Warningf("httpapi: user %s refused on document %s: %v", claims.UserID, join.DocumentID, err)
		_ = conn.Close(code, reason)
		return
	}
	defer handle.Leave()

	s.readLoop(ctx, conn, handle)

	handle.Leave()
	outbox.shutdown()
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// readJoin waits for the first frame, which must be a join. The timer closes
// the connection itself so the client sees the bad-request reason rather
// than a generic read timeout.
func (s *Server) readJoin(ctx context.Context, conn *websocket.Conn) (*protocol.Join, bool) {
	timer := time.AfterFunc(s.cfg.JoinTimeout, func() {
		_ = conn.Close(closeBadRequest, "bad-request")
	})
	defer timer.Stop()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		return nil, false
	}
	if typ != websocket.MessageText {
		return nil, false
	}
	msg, err := protocol.Decode(protocol.ClientToServer, data)
	if err != nil {
		glog.V(1).Infof("httpapi: bad join frame: %v", err)
		return nil, false
	}
	join, ok := msg.(*protocol.Join)
	return join, ok
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, handle *collab.Handle) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				glog.V(1).Infof("httpapi: connection %s closed: %v", handle.Self().ConnectionID, err)
			}
			return
		}
		if typ != websocket.MessageText {
			glog.V(1).Infof("httpapi: dropping binary frame from %s", handle.Self().ConnectionID)
			continue
		}
		msg, err := protocol.Decode(protocol.ClientToServer, data)
		if err != nil {
			glog.V(1).Infof("httpapi: dropping frame from %s: %v", handle.Self().ConnectionID, err)
			continue
		}
		switch m := msg.(type) {
		case *protocol.Change:
			if _, err := handle.SubmitChange(m.Content, m.Delta); err != nil && !errors.Is(err, collab.ErrPermissionDenied) {
				glog.V(1).Infof("httpapi: change from %s: %v", handle.Self().ConnectionID, err)
			}
		case *protocol.CursorUpdate:
			if err := handle.SubmitCursor(m.Cursor); err != nil {
				glog.V(1).Infof("httpapi: cursor from %s: %v", handle.Self().ConnectionID, err)
			}
		case *protocol.Leave:
			return
		case *protocol.Join:
			glog.V(1).Infof("httpapi: ignoring repeated join from %s", handle.Self().ConnectionID)
		}
	}
}

func closeStatusFor(err error) (websocket.StatusCode, string) {
	var accessErr *collab.AccessError
	if errors.As(err, &accessErr) {
		switch accessErr.Code {
		case collab.CodeForbidden:
			return closeForbidden, collab.CodeForbidden
		case collab.CodeBadRequest:
			return closeBadRequest, collab.CodeBadRequest
		}
	}
	return websocket.StatusInternalError, collab.CodeInternal
}

// wsOutbox queues messages for one connection and writes them from a single
// goroutine. A connection whose queue fills up is closed.
type wsOutbox struct {
	conn         *websocket.Conn
	queue        chan protocol.Message
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

func newWSOutbox(conn *websocket.Conn, size int, writeTimeout time.Duration) *wsOutbox {
	return &wsOutbox{
		conn:         conn,
		queue:        make(chan protocol.Message, size),
		writeTimeout: writeTimeout,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (o *wsOutbox) Deliver(msg protocol.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errOutboxClosed
	}
	select {
	case o.queue <- msg:
		return nil
	default:
		o.closeLocked()
		go func() { _ = o.conn.Close(websocket.StatusPolicyViolation, "slow-consumer") }()
		return errOutboxFull
	}
}

func (o *wsOutbox) run(ctx context.Context) {
	defer close(o.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		case msg := <-o.queue:
			data, err := protocol.Encode(msg)
			if err != nil {
				glog.Errorf("httpapi: encode %s: %v", msg.Kind(), err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, o.writeTimeout)
			err = o.conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				glog.V(1).Infof("httpapi: write %s: %v", msg.Kind(), err)
				o.shutdownAsync()
				return
			}
		}
	}
}

// shutdown stops the writer and waits for it to exit.
func (o *wsOutbox) shutdown() {
	o.shutdownAsync()
	<-o.done
}

func (o *wsOutbox) shutdownAsync() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closeLocked()
}

func (o *wsOutbox) closeLocked() {
	if o.closed {
		return
	}
	o.closed = true
	close(o.stop)
}
