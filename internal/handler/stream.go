package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cadencehq/agent-timeline/internal/middleware"
	"github.com/cadencehq/agent-timeline/internal/model"
	"github.com/cadencehq/agent-timeline/internal/service"
	"github.com/cadencehq/agent-timeline/pkg/logger"
	"github.com/cadencehq/agent-timeline/pkg/metrics"
	"go.uber.org/zap"
)

// StreamHandler pushes state snapshots to clients over SSE. Every reduced
// event wakes the watcher, which re-reads the latest snapshot; slow clients
// coalesce intermediate states instead of queueing them.
type StreamHandler struct {
	timelineService   *service.TimelineService
	logger            *logger.Logger
	heartbeatInterval time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(
	timelineSvc *service.TimelineService,
	heartbeatInterval time.Duration,
	log *logger.Logger,
) *StreamHandler {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	return &StreamHandler{
		timelineService:   timelineSvc,
		logger:            log,
		heartbeatInterval: heartbeatInterval,
	}
}

// Watch handles GET /api/v1/conversations/:id/watch
func (h *StreamHandler) Watch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Verify access and get the initial snapshot before committing to SSE.
	snapshot, err := h.timelineService.Snapshot(ctx, tenantID, conversationID)
	if err != nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	updates, cancel := h.timelineService.Watch(conversationID)
	defer cancel()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})
	sendSSEEvent(w, flusher, "state", snapshot)

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	done := ctx.Done()
	for {
		select {
		case <-done:
			h.logger.Info("SSE client disconnected",
				zap.String("conversation_id", conversationID),
			)
			return

		case <-updates:
			snapshot, err := h.timelineService.Snapshot(ctx, tenantID, conversationID)
			if err != nil {
				// Conversation closed while the client was watching.
				sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
					Code:    "conversation_closed",
					Message: "conversation is no longer open",
				})
				return
			}
			sendSSEEvent(w, flusher, "state", snapshot)

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				TimestampUs: time.Now().UnixMicro(),
			})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
