package http

import (
	"net/http"

	applog "finai/internal/log"
)

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sum, err := s.tables.Dashboard(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleSetup provisions the storage backend and reloads the owner's
// session.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.tables.Provision(r.Context(), owner); err != nil {
		writeError(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "Storage setup completed",
		applog.FieldOwnerID, owner,
		applog.FieldOperation, applog.OpProvision)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
