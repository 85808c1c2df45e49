package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const adminReadScope = "admin:read"

func (s *Server) handleAdminSessions(w http.ResponseWriter, r *http.Request) {
	if _, authErr := authorizeBearer(r, s.cfg.JWTSecret, s.cfg.JWTAudience, adminReadScope, time.Now().UTC()); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	sessions := s.registry.Snapshot()
	participants, pending := 0, 0
	for _, session := range sessions {
		participants += len(session.Participants)
		pending += session.PendingSaves
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":         sessions,
		"sessionCount":     len(sessions),
		"participantCount": participants,
		"pendingSaveCount": pending,
		"generatedAt":      time.Now().UTC(),
	})
}

func (s *Server) handleAdminSession(w http.ResponseWriter, r *http.Request) {
	if _, authErr := authorizeBearer(r, s.cfg.JWTSecret, s.cfg.JWTAudience, adminReadScope, time.Now().UTC()); authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	documentID := mux.Vars(r)["documentId"]
	for _, session := range s.registry.Snapshot() {
		if session.DocumentID == documentID {
			writeJSON(w, http.StatusOK, session)
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "no live session for document", getCorrelationID(r))
}
