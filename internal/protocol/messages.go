// Package protocol defines the change synchronization messages exchanged
// between an editing client and its collaboration session.
//
// Every message is a concrete Go type implementing Message. Only the codec in
// this package deals with the raw "type" strings found on the wire.
package protocol

import "encoding/json"

type Kind string

const (
	KindJoin              Kind = "join"
	KindJoined            Kind = "joined"
	KindPresence          Kind = "presence"
	KindParticipantJoined Kind = "participant-joined"
	KindParticipantLeft   Kind = "participant-left"
	KindChange            Kind = "change"
	KindCursor            Kind = "cursor"
	KindPermissionDenied  Kind = "permission-denied"
	KindSaved             Kind = "saved"
	KindSaveFailed        Kind = "save-failed"
	KindLeave             Kind = "leave"
)

// Direction selects which half of the message set a decoder accepts. The
// change and cursor kinds carry different payloads in each direction.
type Direction int

const (
	ClientToServer Direction = iota
	ServerToClient
)

func (d Direction) String() string {
	if d == ServerToClient {
		return "server->client"
	}
	return "client->server"
}

type Message interface {
	Kind() Kind
}

// Cursor is a selection in the document. A nil *Cursor means no selection.
type Cursor struct {
	Index  int `json:"index"`
	Length int `json:"length"`
}

func (c *Cursor) Clone() *Cursor {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// Participant is the roster summary of one connection.
type Participant struct {
	ConnectionID string  `json:"connectionId"`
	UserID       string  `json:"userId"`
	DisplayName  string  `json:"displayName"`
	Role         string  `json:"role"`
	Color        string  `json:"color"`
	Cursor       *Cursor `json:"cursor"`
}

// Join is the first frame a client sends on a new connection.
type Join struct {
	DocumentID  string `json:"documentId"`
	DisplayName string `json:"displayName,omitempty"`
}

// Joined answers a successful Join. Participants lists every other active
// connection; Content is the latest accepted content at join time.
type Joined struct {
	Self         Participant   `json:"self"`
	Participants []Participant `json:"participants"`
	Content      string        `json:"content"`
}

type Presence struct {
	Participants []Participant `json:"participants"`
}

type ParticipantJoined struct {
	Participant Participant `json:"participant"`
}

type ParticipantLeft struct {
	Participant Participant `json:"participant"`
}

// Change is a local edit submitted by a client. Content is authoritative;
// Delta is advisory and relayed opaquely.
type Change struct {
	Content string          `json:"content"`
	Delta   json.RawMessage `json:"delta,omitempty"`
}

// ChangeBroadcast is a Change as fanned out to the other participants.
type ChangeBroadcast struct {
	Content            string          `json:"content"`
	Delta              json.RawMessage `json:"delta,omitempty"`
	SourceUserID       string          `json:"sourceUserId"`
	SourceConnectionID string          `json:"sourceConnectionId,omitempty"`
}

type CursorUpdate struct {
	Cursor *Cursor `json:"cursor"`
}

type CursorBroadcast struct {
	UserID       string  `json:"userId"`
	ConnectionID string  `json:"connectionId,omitempty"`
	Cursor       *Cursor `json:"cursor"`
}

type PermissionDenied struct {
	Action string `json:"action"`
}

type Saved struct {
	ChangeID string `json:"changeId,omitempty"`
}

type SaveFailed struct {
	ChangeID string `json:"changeId,omitempty"`
	Message  string `json:"message,omitempty"`
}

type Leave struct{}

func (*Join) Kind() Kind              { return KindJoin }
func (*Joined) Kind() Kind            { return KindJoined }
func (*Presence) Kind() Kind          { return KindPresence }
func (*ParticipantJoined) Kind() Kind { return KindParticipantJoined }
func (*ParticipantLeft) Kind() Kind   { return KindParticipantLeft }
func (*Change) Kind() Kind            { return KindChange }
func (*ChangeBroadcast) Kind() Kind   { return KindChange }
func (*CursorUpdate) Kind() Kind      { return KindCursor }
func (*CursorBroadcast) Kind() Kind   { return KindCursor }
func (*PermissionDenied) Kind() Kind  { return KindPermissionDenied }
func (*Saved) Kind() Kind             { return KindSaved }
func (*SaveFailed) Kind() Kind        { return KindSaveFailed }
func (*Leave) Kind() Kind             { return KindLeave }
