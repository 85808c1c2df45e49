package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownKind = errors.New("unknown message kind")
)

type frame struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

var factories = map[Direction]map[Kind]func() Message{
	ClientToServer: {
		KindJoin:   func() Message { return &Join{} },
		KindChange: func() Message { return &Change{} },
		KindCursor: func() Message { return &CursorUpdate{} },
		KindLeave:  func() Message { return &Leave{} },
	},
	ServerToClient: {
		KindJoined:            func() Message { return &Joined{} },
		KindPresence:          func() Message { return &Presence{} },
		KindParticipantJoined: func() Message { return &ParticipantJoined{} },
		KindParticipantLeft:   func() Message { return &ParticipantLeft{} },
		KindChange:            func() Message { return &ChangeBroadcast{} },
		KindCursor:            func() Message { return &CursorBroadcast{} },
		KindPermissionDenied:  func() Message { return &PermissionDenied{} },
		KindSaved:             func() Message { return &Saved{} },
		KindSaveFailed:        func() Message { return &SaveFailed{} },
	},
}

// Encode renders msg as a single JSON text frame.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	}
	// One message value is shared by every recipient's writer, so lists are
	// normalised on a copy.
	var payload any = msg
	switch m := msg.(type) {
	case *Joined:
		if m.Participants == nil {
			c := *m
			c.Participants = []Participant{}
			payload = &c
		}
	case *Presence:
		if m.Participants == nil {
			payload = &Presence{Participants: []Participant{}}
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Type: msg.Kind(), Data: data})
}

// Decode parses one frame received in direction dir. The payload is checked
// against the JSON schema for its kind before it is unmarshalled, so handlers
// only ever see well-formed messages.
func Decode(dir Direction, raw []byte) (Message, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	newMessage, ok := factories[dir][f.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q (%s)", ErrUnknownKind, f.Type, dir)
	}
	data := bytes.TrimSpace(f.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		data = []byte("{}")
	}
	sch, ok := schemaFor(dir, f.Type)
	if !ok {
		return nil, fmt.Errorf("%w: no schema for %q", ErrUnknownKind, f.Type)
	}
	if err := validate(sch, data); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, f.Type, err)
	}
	msg := newMessage()
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, f.Type, err)
	}
	return msg, nil
}
