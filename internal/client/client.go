package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"nhooyr.io/websocket"

	"github.com/agentworkforce/relaydoc/internal/protocol"
)

const (
	DefaultAutosaveInterval = 30 * time.Second
	defaultReadLimit        = 4 << 20
	defaultWriteTimeout     = 10 * time.Second
	defaultJoinTimeout      = 10 * time.Second
)

type Config struct {
	// URL is the session endpoint, e.g. ws://localhost:8080/v1/session.
	URL         string
	Token       string
	DocumentID  string
	DisplayName string
	UserID      string

	Surface          Surface
	AutosaveInterval time.Duration
	RemoteGuard      time.Duration
	DedupWindow      time.Duration
	CursorWindow     time.Duration
	ReadLimit        int64
	WriteTimeout     time.Duration
	JoinTimeout      time.Duration
	HTTPClient       *http.Client

	// OnMessage, when set, observes every message after the reconciler has
	// applied it. It runs on the read goroutine.
	OnMessage func(protocol.Message)
}

// RejectedError reports that the server closed the connection instead of
// admitting it to the session.
type RejectedError struct {
	Code   websocket.StatusCode
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("session rejected: %s (%d)", e.Reason, int(e.Code))
}

type Client struct {
	cfg  Config
	conn *websocket.Conn
	rec  *Reconciler

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	err     error
	leaving bool
}

// Dial connects, joins cfg.DocumentID and returns once the joined snapshot
// has been applied to cfg.Surface. Inbound messages are then pumped into the
// reconciler until the connection ends.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.DocumentID) == "" || cfg.Surface == nil {
		return nil, errors.New("client: url, document id and surface are required")
	}
	if cfg.AutosaveInterval == 0 {
		cfg.AutosaveInterval = DefaultAutosaveInterval
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}

	header := http.Header{}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}
	conn, _, err := websocket.Dial(ctx, cfg.URL, &websocket.DialOptions{
		HTTPClient: cfg.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(cfg.ReadLimit)

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Client{cfg: cfg, conn: conn, ctx: runCtx, cancel: cancel, done: make(chan struct{})}
	c.rec = NewReconciler(Options{
		Surface:      cfg.Surface,
		Send:         c.send,
		UserID:       cfg.UserID,
		RemoteGuard:  cfg.RemoteGuard,
		DedupWindow:  cfg.DedupWindow,
		CursorWindow: cfg.CursorWindow,
	})

	joined, err := c.join(ctx)
	if err != nil {
		cancel()
		c.rec.Close()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return nil, err
	}
	c.rec.Handle(joined)
	if cfg.OnMessage != nil {
		cfg.OnMessage(joined)
	}
	go c.run()
	return c, nil
}

func (c *Client) join(ctx context.Context) (*protocol.Joined, error) {
	if err := c.send(&protocol.Join{DocumentID: c.cfg.DocumentID, DisplayName: c.cfg.DisplayName}); err != nil {
		return nil, rejection(err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.JoinTimeout)
	defer cancel()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return nil, rejection(err)
		}
		msg, err := protocol.Decode(protocol.ServerToClient, data)
		if err != nil {
			glog.V(1).Infof("client: dropping frame before join: %v", err)
			continue
		}
		if joined, ok := msg.(*protocol.Joined); ok {
			return joined, nil
		}
	}
}

func rejection(err error) error {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		return &RejectedError{Code: closeErr.Code, Reason: closeErr.Reason}
	}
	return err
}

func (c *Client) run() {
	defer close(c.done)
	defer c.rec.Close()

	var ticks <-chan time.Time
	if c.cfg.AutosaveInterval > 0 {
		ticker := time.NewTicker(c.cfg.AutosaveInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	inbound := make(chan protocol.Message)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := c.conn.Read(c.ctx)
			if err != nil {
				readErr <- err
				return
			}
			msg, err := protocol.Decode(protocol.ServerToClient, data)
			if err != nil {
				glog.V(1).Infof("client: dropping frame: %v", err)
				continue
			}
			select {
			case inbound <- msg:
			case <-c.ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case msg := <-inbound:
			c.rec.Handle(msg)
			if c.cfg.OnMessage != nil {
				c.cfg.OnMessage(msg)
			}
		case <-ticks:
			if c.rec.Autosave() {
				glog.V(1).Infof("client: autosave sent for %s", c.cfg.DocumentID)
			}
		case err := <-readErr:
			c.finish(err)
			return
		case <-c.ctx.Done():
			c.finish(nil)
			return
		}
	}
}

func (c *Client) finish(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leaving || err == nil || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return
	}
	if c.err == nil {
		c.err = rejection(err)
	}
}

func (c *Client) send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.WriteTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) Reconciler() *Reconciler { return c.rec }

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended, or nil for a normal close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Leave announces a voluntary leave and closes the connection.
func (c *Client) Leave() error {
	c.mu.Lock()
	c.leaving = true
	c.mu.Unlock()
	if err := c.send(&protocol.Leave{}); err != nil {
		glog.V(1).Infof("client: send leave: %v", err)
	}
	return c.Close()
}

func (c *Client) Close() error {
	c.mu.Lock()
	c.leaving = true
	c.mu.Unlock()
	// The peer may already have closed the connection.
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	<-c.done
	return nil
}
