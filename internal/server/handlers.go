package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/clicktrail/internal/auth"
	"github.com/foxzi/clicktrail/internal/compose"
	"github.com/foxzi/clicktrail/internal/models"
	"github.com/foxzi/clicktrail/internal/repository"
)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every API error
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleSendTest handles POST /api/v1/emails/{id}/send-test
func (s *Server) handleSendTest(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerFromContext(r.Context())
	emailID := chi.URLParam(r, "id")

	res, err := s.deps.Composer.SendTest(r.Context(), ownerID, emailID)
	if err != nil {
		switch {
		case errors.Is(err, compose.ErrEmailNotFound):
			s.sendError(w, http.StatusNotFound, "Email not found.")
		case errors.Is(err, compose.ErrPermissionDenied):
			s.sendError(w, http.StatusForbidden, "Permission denied.")
		case errors.Is(err, compose.ErrNoAudience):
			s.sendError(w, http.StatusBadRequest, "Email has no audience.")
		case errors.Is(err, compose.ErrNoContacts):
			s.sendError(w, http.StatusBadRequest, "Audience has no active contacts.")
		case errors.Is(err, compose.ErrContactNoAddress):
			s.sendError(w, http.StatusBadRequest, "Contact has no email address.")
		case errors.Is(err, compose.ErrTransport):
			s.sendError(w, http.StatusBadGateway, "Failed to send email.")
		default:
			s.logger.Error("send-test failed", "email_id", emailID, "error", err)
			s.sendError(w, http.StatusInternalServerError, "Internal error.")
		}
		return
	}

	s.sendJSON(w, http.StatusOK, res)
}

// RecipientEventsResponse is the body of GET /api/v1/recipients/{id}/events
type RecipientEventsResponse struct {
	Recipient *models.Recipient `json:"recipient"`
	Events    []models.Event    `json:"events"`
}

// handleRecipientEvents handles GET /api/v1/recipients/{id}/events
func (s *Server) handleRecipientEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	// A foreign recipient is reported as missing so IDs cannot be probed
	owner, err := s.deps.Recipients.OwnerOf(ctx, id)
	if errors.Is(err, repository.ErrRecipientNotFound) || (err == nil && owner != auth.OwnerFromContext(ctx)) {
		s.sendError(w, http.StatusNotFound, "Not found.")
		return
	}
	if err != nil {
		s.internalError(w, "failed to resolve recipient owner", id, err)
		return
	}

	recipient, err := s.deps.Recipients.Get(ctx, id)
	if err != nil {
		s.internalError(w, "failed to load recipient", id, err)
		return
	}

	events, err := s.deps.Events.ListByRecipient(ctx, id)
	if err != nil {
		s.internalError(w, "failed to list events", id, err)
		return
	}
	if events == nil {
		events = []models.Event{}
	}

	s.sendJSON(w, http.StatusOK, RecipientEventsResponse{Recipient: recipient, Events: events})
}

func (s *Server) internalError(w http.ResponseWriter, msg, recipientID string, err error) {
	s.logger.Error(msg, "recipient_id", recipientID, "error", err)
	s.sendError(w, http.StatusInternalServerError, "Internal error.")
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, detail string) {
	s.sendJSON(w, status, ErrorResponse{Detail: detail})
}
