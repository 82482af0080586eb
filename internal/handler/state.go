package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cadencehq/agent-timeline/internal/middleware"
	"github.com/cadencehq/agent-timeline/internal/model"
	"github.com/cadencehq/agent-timeline/internal/service"
	"github.com/cadencehq/agent-timeline/internal/timeline"
	"github.com/cadencehq/agent-timeline/pkg/logger"
)

// StateHandler serves timeline state snapshots, history backfill, and HITL
// response submission.
type StateHandler struct {
	service *service.TimelineService
	logger  *logger.Logger
}

// NewStateHandler creates a new state handler.
func NewStateHandler(svc *service.TimelineService, log *logger.Logger) *StateHandler {
	return &StateHandler{
		service: svc,
		logger:  log,
	}
}

// Get handles GET /api/v1/conversations/:id/state
func (h *StateHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.service.Snapshot(ctx, tenantID, conversationID)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// LoadEarlier handles POST /api/v1/conversations/:id/state/earlier
func (h *StateHandler) LoadEarlier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.BackfillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.service.LoadEarlier(ctx, tenantID, conversationID, req.Limit)
	if err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		if errors.Is(err, timeline.ErrPageNotOlder) {
			writeError(w, http.StatusConflict, "history page overlaps the live timeline")
			return
		}
		h.logger.Error("failed to load earlier history")
		writeError(w, http.StatusBadGateway, "failed to load earlier history")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// RespondHITL handles POST /api/v1/conversations/:id/hitl
func (h *StateHandler) RespondHITL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.HITLResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateRequestID(req.RequestID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateAnswer(req.Answer); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ack, err := h.service.SubmitHITLResponse(ctx, tenantID, conversationID, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrConversationNotFound):
			writeError(w, http.StatusNotFound, "conversation not found")
		case errors.Is(err, service.ErrNoPendingRequest):
			writeError(w, http.StatusConflict, "no matching pending request")
		default:
			h.logger.Error("failed to submit hitl response")
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, ack)
}
