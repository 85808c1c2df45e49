package main

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/agentworkforce/relaydoc/internal/protocol"
)

const previewLimit = 120

// describe renders one session event as a single line.
func describe(msg protocol.Message, raw bool) string {
	switch m := msg.(type) {
	case *protocol.Joined:
		return fmt.Sprintf("[joined] as %s (%s), %d others: %s", name(m.Self), m.Self.Role, len(m.Participants), preview(m.Content, raw))
	case *protocol.Presence:
		names := make([]string, 0, len(m.Participants))
		for _, p := range m.Participants {
			names = append(names, name(p))
		}
		return fmt.Sprintf("[presence] %d: %s", len(m.Participants), strings.Join(names, ", "))
	case *protocol.ParticipantJoined:
		return fmt.Sprintf("[participant-joined] %s (%s)", name(m.Participant), m.Participant.Role)
	case *protocol.ParticipantLeft:
		return fmt.Sprintf("[participant-left] %s", name(m.Participant))
	case *protocol.ChangeBroadcast:
		return fmt.Sprintf("[change] %s: %s", m.SourceUserID, preview(m.Content, raw))
	case *protocol.CursorBroadcast:
		if m.Cursor == nil {
			return fmt.Sprintf("[cursor] %s: none", m.UserID)
		}
		return fmt.Sprintf("[cursor] %s: %d+%d", m.UserID, m.Cursor.Index, m.Cursor.Length)
	case *protocol.PermissionDenied:
		return fmt.Sprintf("[permission-denied] %s", m.Action)
	case *protocol.Saved:
		return fmt.Sprintf("[saved] %s", m.ChangeID)
	case *protocol.SaveFailed:
		return fmt.Sprintf("[save-failed] %s: %s", m.ChangeID, m.Message)
	default:
		return fmt.Sprintf("[%s]", msg.Kind())
	}
}

func name(p protocol.Participant) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.UserID
}

func preview(content string, raw bool) string {
	text := content
	if !raw {
		if plain, err := htmlToText(content); err == nil {
			text = plain
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > previewLimit {
		text = string(r[:previewLimit]) + "..."
	}
	return fmt.Sprintf("%q", text)
}

// htmlToText extracts the visible text of an editor HTML fragment. Block
// elements and <br> become line breaks.
func htmlToText(content string) (string, error) {
	nodes, err := html.ParseFragment(strings.NewReader(content), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return "", err
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			switch n.Data {
			case "script", "style":
				return
			case "br":
				b.WriteString("\n")
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.Data) {
			b.WriteString("\n")
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "pre", "tr":
		return true
	}
	return false
}
