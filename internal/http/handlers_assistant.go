package http

import (
	"fmt"
	"net/http"

	"finai/internal/core"
)

type chatHistory struct {
	Enabled  bool               `json:"enabled"`
	Messages []core.ChatMessage `json:"messages"`
}

func (s *Server) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatHistory{
		Enabled:  s.assistant.Enabled(),
		Messages: s.assistant.History(owner),
	})
}

// handleChatSend answers a prompt. A reply to a creation request carries
// the proposed draft.
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req promptRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	reply, err := s.assistant.Send(r.Context(), owner, req.Prompt)
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleChatAccept(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req acceptRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Draft == nil {
		writeError(w, r, fmt.Errorf("%w: draft is required", errInvalidRequest))
		return
	}
	st, err := s.assistant.Accept(r.Context(), owner, *req.Draft)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}
