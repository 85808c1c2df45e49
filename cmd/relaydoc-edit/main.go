package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang-jwt/jwt/v5"
	"github.com/golang/glog"

	"github.com/agentworkforce/relaydoc/internal/access"
	"github.com/agentworkforce/relaydoc/internal/client"
	"github.com/agentworkforce/relaydoc/internal/httpapi"
	"github.com/agentworkforce/relaydoc/internal/protocol"
)

const RelaydocEditVersion = "0.1.0"

const usage = `Relaydoc session client.

The default url is ws://localhost:8080/v1/session.

Usage:
    relaydoc-edit token --secret=<secret> --user=<user_id>
        [--name=<name>] [--scopes=<scopes>] [--audience=<audience>] [--ttl=<ttl>]
    relaydoc-edit tail [--url=<url>] --token=<jwt> <document_id>
        [--count=<count>] [--cursors] [--raw]
    relaydoc-edit put [--url=<url>] --token=<jwt> <document_id> [<file>]
        [--timeout=<timeout>]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --url=<url>              Session endpoint [default: ws://localhost:8080/v1/session].
    --token=<jwt>            Bearer token.
    --secret=<secret>        HS256 signing secret shared with the server.
    --user=<user_id>         User id carried in the id claim.
    --name=<name>            Display name claim.
    --scopes=<scopes>        Comma separated scopes, e.g. admin:read.
    --audience=<audience>    Token audience [default: relaydoc].
    --ttl=<ttl>              Token lifetime [default: 1h].
    --count=<count>          Exit after this many events.
    --cursors                Also print cursor moves.
    --raw                    Print content as HTML instead of text.
    --timeout=<timeout>      How long to wait for the save [default: 30s].`

func main() {
	// glog writes to files by default; a CLI wants stderr.
	_ = flag.Set("logtostderr", "true")
	defer glog.Flush()

	opts, err := docopt.ParseArgs(usage, os.Args[1:], RelaydocEditVersion)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if token_, _ := opts.Bool("token"); token_ {
		err = token(opts, os.Stdout)
	} else if tail_, _ := opts.Bool("tail"); tail_ {
		err = tail(ctx, opts, os.Stdout)
	} else if put_, _ := opts.Bool("put"); put_ {
		err = put(ctx, opts, os.Stdin, os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "relaydoc-edit: %v\n", err)
		glog.Flush()
		os.Exit(1)
	}
}

func token(opts docopt.Opts, out io.Writer) error {
	secret, _ := opts.String("--secret")
	userID, _ := opts.String("--user")
	name, _ := opts.String("--name")
	scopes, _ := opts.String("--scopes")
	audience, _ := opts.String("--audience")
	ttlRaw, _ := opts.String("--ttl")
	ttl, err := time.ParseDuration(ttlRaw)
	if err != nil || ttl <= 0 {
		return fmt.Errorf("invalid --ttl %q", ttlRaw)
	}

	signed, err := mintToken(secret, userID, name, splitList(scopes), audience, time.Now().Add(ttl))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, signed)
	return err
}

func mintToken(secret, userID, name string, scopes []string, audience string, exp time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(userID) == "" {
		return "", errors.New("secret and user are required")
	}
	return httpapi.SignToken(secret, httpapi.TokenClaims{
		UserID: userID,
		Name:   name,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
}

// tail prints session events until the connection ends, the count is
// reached or the process is interrupted.
func tail(ctx context.Context, opts docopt.Opts, out io.Writer) error {
	url, _ := opts.String("--url")
	bearer, _ := opts.String("--token")
	documentID, _ := opts.String("<document_id>")
	cursors, _ := opts.Bool("--cursors")
	raw, _ := opts.Bool("--raw")
	count := 0
	if count_, err := opts.Int("--count"); err == nil {
		count = count_
	}

	events := make(chan protocol.Message, 64)
	c, err := client.Dial(ctx, client.Config{
		URL:              url,
		Token:            bearer,
		DocumentID:       documentID,
		DisplayName:      "relaydoc-edit",
		Surface:          client.NewMemorySurface(""),
		AutosaveInterval: -1,
		OnMessage: func(msg protocol.Message) {
			select {
			case events <- msg:
			default:
				glog.Warningf("relaydoc-edit: dropping %s, printer is behind", msg.Kind())
			}
		},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	printed := 0
	for {
		select {
		case <-ctx.Done():
			return c.Leave()
		case <-c.Done():
			return c.Err()
		case msg := <-events:
			if _, ok := msg.(*protocol.CursorBroadcast); ok && !cursors {
				continue
			}
			fmt.Fprintln(out, describe(msg, raw))
			printed++
			if count > 0 && printed >= count {
				return c.Leave()
			}
		}
	}
}

// put replaces the document content with the file (or stdin) and waits for
// the server to confirm the save.
func put(ctx context.Context, opts docopt.Opts, stdin io.Reader, out io.Writer) error {
	url, _ := opts.String("--url")
	bearer, _ := opts.String("--token")
	documentID, _ := opts.String("<document_id>")
	path, _ := opts.String("<file>")
	timeoutRaw, _ := opts.String("--timeout")
	timeout, err := time.ParseDuration(timeoutRaw)
	if err != nil || timeout <= 0 {
		return fmt.Errorf("invalid --timeout %q", timeoutRaw)
	}

	var content []byte
	if path == "" || path == "-" {
		content, err = io.ReadAll(stdin)
	} else {
		content, err = os.ReadFile(path)
	}
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(chan protocol.Message, 1)
	surface := client.NewMemorySurface("")
	c, err := client.Dial(ctx, client.Config{
		URL:              url,
		Token:            bearer,
		DocumentID:       documentID,
		DisplayName:      "relaydoc-edit",
		Surface:          surface,
		AutosaveInterval: -1,
		OnMessage: func(msg protocol.Message) {
			switch msg.(type) {
			case *protocol.Saved, *protocol.SaveFailed, *protocol.PermissionDenied:
				select {
				case results <- msg:
				default:
				}
			}
		},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	self, _ := c.Reconciler().Self()
	if !access.Role(self.Role).CanEdit() {
		_ = c.Leave()
		return fmt.Errorf("cannot edit %s as %s", documentID, access.Role(self.Role))
	}
	surface.SetContent(string(content))
	if err := c.Reconciler().Submit(string(content), nil); err != nil {
		_ = c.Leave()
		return err
	}

	select {
	case msg := <-results:
		_ = c.Leave()
		switch m := msg.(type) {
		case *protocol.Saved:
			_, err := fmt.Fprintf(out, "saved %s (%d bytes)\n", m.ChangeID, len(content))
			return err
		case *protocol.SaveFailed:
			return fmt.Errorf("save failed: %s", m.Message)
		case *protocol.PermissionDenied:
			return fmt.Errorf("permission denied: %s", m.Action)
		}
		return nil
	case <-c.Done():
		if err := c.Err(); err != nil {
			return err
		}
		return errors.New("connection closed before the save was confirmed")
	case <-ctx.Done():
		_ = c.Leave()
		return fmt.Errorf("waiting for save: %w", ctx.Err())
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
