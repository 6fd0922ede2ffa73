package http

import (
	"net/http"

	"github.com/go-chi/chi"

	"finai/internal/services"
	"finai/internal/table"
)

type tableList struct {
	Tables         []services.TableState `json:"tables"`
	PendingDeletes []string              `json:"pendingDeletes"`
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	tables, err := s.tables.List(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tableList{Tables: tables, PendingDeletes: s.tables.PendingDeletes(owner)})
}

func (s *Server) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in services.CreateInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		writeError(w, r, err)
		return
	}
	in.Name = sanitizeInput(in.Name)
	in.Description = sanitizeInput(in.Description)

	st, err := s.tables.Create(r.Context(), owner, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// handleGetTable returns the table filtered by the q query parameter, with
// totals over the matching rows.
func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := s.tables.View(r.Context(), owner, chi.URLParam(r, "tableID"), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUpdateTable(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req detailsRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.tables.SetDetails(r.Context(), owner, chi.URLParam(r, "tableID"),
		sanitizePtr(req.Name), sanitizePtr(req.Description), sanitizePtr(req.ThemeColor))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteTable(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.tables.Delete(r.Context(), owner, chi.URLParam(r, "tableID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDuplicateTable(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req duplicateRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	mode, err := req.mode()
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.tables.Duplicate(r.Context(), owner, chi.URLParam(r, "tableID"), mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleResyncTable(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.tables.Resync(r.Context(), owner, chi.URLParam(r, "tableID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSetReadOnly(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req readOnlyRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.tables.SetReadOnly(r.Context(), owner, chi.URLParam(r, "tableID"), req.ReadOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleAddColumn appends a column. Without a body the column is a text
// column with a generated key.
func (s *Server) handleAddColumn(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var spec *table.ColumnSpec
	if err := decodeJSON(w, r, &spec, true); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.tables.AddColumn(r.Context(), owner, chi.URLParam(r, "tableID"), spec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleUpdateColumn(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var u table.ColumnUpdate
	if err := decodeJSON(w, r, &u, false); err != nil {
		writeError(w, r, err)
		return
	}
	u.Label = sanitizePtr(u.Label)
	st, err := s.tables.UpdateColumn(r.Context(), owner, chi.URLParam(r, "tableID"), chi.URLParam(r, "columnKey"), u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRemoveColumn(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.tables.RemoveColumn(r.Context(), owner, chi.URLParam(r, "tableID"), chi.URLParam(r, "columnKey"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAddRow(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.tables.AddRow(r.Context(), owner, chi.URLParam(r, "tableID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleRemoveRow(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.tables.RemoveRow(r.Context(), owner, chi.URLParam(r, "tableID"), chi.URLParam(r, "rowID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleUpdateCell writes one cell. A "raw" string is coerced to the column
// type; a "value" is stored as given.
func (s *Server) handleUpdateCell(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req cellRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, r, err)
		return
	}
	tableID, rowID, key := chi.URLParam(r, "tableID"), chi.URLParam(r, "rowID"), chi.URLParam(r, "columnKey")

	var st services.TableState
	if req.Raw != nil {
		st, err = s.tables.UpdateCellRaw(r.Context(), owner, tableID, rowID, key, *req.Raw)
	} else {
		st, err = s.tables.UpdateCell(r.Context(), owner, tableID, rowID, key, *req.Value)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
