package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/player00001-26/number-guess/internal/session"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps the core's failure taxonomy onto HTTP statuses.
// Anything outside the taxonomy is an internal fault and surfaces as an
// opaque 500, never as a domain error.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusTooManyRequests, "session is busy, please try again")
	case errors.Is(err, session.ErrEntriesClosed):
		writeError(w, http.StatusConflict, "entries are closed")
	case errors.Is(err, session.ErrAlreadyClosed):
		writeError(w, http.StatusConflict, "entries already closed")
	case errors.Is(err, session.ErrAlreadyCompleted):
		writeError(w, http.StatusConflict, "winner already drawn")
	case errors.Is(err, session.ErrDuplicatePlayer):
		writeError(w, http.StatusConflict, "you have already selected a number in this session")
	case errors.Is(err, session.ErrNumberTaken):
		writeError(w, http.StatusConflict, "number already selected")
	case errors.Is(err, session.ErrNumberOutOfRange):
		writeError(w, http.StatusBadRequest, "number outside the claimable range")
	case errors.Is(err, session.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "playerId and displayName are required")
	case errors.Is(err, session.ErrNoClaims):
		writeError(w, http.StatusBadRequest, "no selections made")
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.CreateSession(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{ID: sess.ID})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.registry.ListSessions(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listSessionsResponse{Sessions: summaries})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleClaimNumber(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PlayerID == "" || req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "playerId and displayName are required")
		return
	}

	id := r.PathValue("id")
	err := s.registry.ClaimNumber(r.Context(), id, req.Number, req.PlayerID, req.DisplayName)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleCloseEntries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.CloseEntries(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (s *Server) handleSelectWinner(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	winner, number, err := s.registry.SelectWinnerNow(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, drawResponse{Winner: winner, WinnerNumber: number})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.DeleteSession(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}
