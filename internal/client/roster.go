package client

import "github.com/agentworkforce/relaydoc/internal/protocol"

// Roster is the client's view of who is connected, keyed by connection id
// and kept in join order. It is not safe for concurrent use.
type Roster struct {
	order  []string
	byConn map[string]protocol.Participant
}

func NewRoster() *Roster {
	return &Roster{byConn: map[string]protocol.Participant{}}
}

func (r *Roster) Replace(participants []protocol.Participant) {
	r.order = r.order[:0]
	r.byConn = make(map[string]protocol.Participant, len(participants))
	for _, p := range participants {
		r.Upsert(p)
	}
}

func (r *Roster) Upsert(p protocol.Participant) {
	if p.ConnectionID == "" {
		return
	}
	if _, ok := r.byConn[p.ConnectionID]; !ok {
		r.order = append(r.order, p.ConnectionID)
	}
	p.Cursor = p.Cursor.Clone()
	r.byConn[p.ConnectionID] = p
}

func (r *Roster) Remove(connectionID string) bool {
	if _, ok := r.byConn[connectionID]; !ok {
		return false
	}
	delete(r.byConn, connectionID)
	for i, id := range r.order {
		if id == connectionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// SetCursor updates the cursor of a known connection. Without a connection
// id every connection of userID is updated.
func (r *Roster) SetCursor(connectionID, userID string, cursor *protocol.Cursor) bool {
	if connectionID != "" {
		p, ok := r.byConn[connectionID]
		if !ok {
			return false
		}
		p.Cursor = cursor.Clone()
		r.byConn[connectionID] = p
		return true
	}
	updated := false
	for id, p := range r.byConn {
		if p.UserID == userID {
			p.Cursor = cursor.Clone()
			r.byConn[id] = p
			updated = true
		}
	}
	return updated
}

func (r *Roster) Get(connectionID string) (protocol.Participant, bool) {
	p, ok := r.byConn[connectionID]
	return p, ok
}

func (r *Roster) List() []protocol.Participant {
	out := make([]protocol.Participant, 0, len(r.order))
	for _, id := range r.order {
		p := r.byConn[id]
		p.Cursor = p.Cursor.Clone()
		out = append(out, p)
	}
	return out
}

func (r *Roster) Len() int { return len(r.order) }
