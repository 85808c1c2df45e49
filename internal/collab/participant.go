package collab

import (
	"time"

	"github.com/agentworkforce/relaydoc/internal/access"
	"github.com/agentworkforce/relaydoc/internal/protocol"
)

// Outbox is the delivery side of one connection. Deliver must not block: a
// transport that cannot keep up drops the connection rather than stall the
// session.
type Outbox interface {
	Deliver(msg protocol.Message) error
}

// ParticipantInit describes a connection asking to join a document.
type ParticipantInit struct {
	ConnectionID string
	UserID       string
	DisplayName  string
	Outbox       Outbox
}

type Participant struct {
	ConnectionID string
	UserID       string
	DisplayName  string
	Role         access.Role
	Color        string
	Cursor       *protocol.Cursor
	JoinedAt     time.Time

	outbox Outbox
}

func (p *Participant) summary() protocol.Participant {
	return protocol.Participant{
		ConnectionID: p.ConnectionID,
		UserID:       p.UserID,
		DisplayName:  p.DisplayName,
		Role:         string(p.Role),
		Color:        p.Color,
		Cursor:       p.Cursor.Clone(),
	}
}

var palette = []string{
	"#e6194b", "#3cb44b", "#4363d8", "#f58231",
	"#911eb4", "#42d4f4", "#f032e6", "#9a6324",
	"#469990", "#800000", "#808000", "#000075",
}

// pickColor returns the first palette color not in use, or cycles through
// the palette by admission count once every color is taken.
func pickColor(members []*Participant, admitted int) string {
	used := make(map[string]bool, len(members))
	for _, m := range members {
		used[m.Color] = true
	}
	for _, c := range palette {
		if !used[c] {
			return c
		}
	}
	return palette[admitted%len(palette)]
}
