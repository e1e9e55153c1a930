package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"tutordesk/internal/instant/service"
	"tutordesk/internal/instant/stream"
	apperrors "tutordesk/pkg/errors"
	httputil "tutordesk/pkg/http"
	"tutordesk/pkg/logger"
	"tutordesk/pkg/model"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

// StreamHandler serves the SSE feed tutors subscribe to. Subscription
// is online-scoped: the tutor must declare online=true when connecting,
// and the gate is checked once at subscribe time, not per event.
type StreamHandler struct {
	service   service.RequestService
	hub       *stream.Hub
	heartbeat time.Duration
	log       *logger.Logger
}

func NewStreamHandler(service service.RequestService, hub *stream.Hub, heartbeat time.Duration, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		service:   service,
		hub:       hub,
		heartbeat: heartbeat,
		log:       log,
	}
}

func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query()

	if query.Get("online") != "true" {
		if writeErr := httputil.WriteError(w, apperrors.Forbidden("Subscription requires online=true")); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Stream", "error", writeErr)
		}
		return
	}

	tutorID := query.Get("tutor_id")
	if tutorID == "" {
		if writeErr := httputil.WriteError(w, apperrors.InvalidInput("tutor_id query parameter is required")); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Stream", "error", writeErr)
		}
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		if writeErr := httputil.WriteError(w, apperrors.Internal("Streaming unsupported by this connection", nil)); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Stream", "error", writeErr)
		}
		return
	}

	// The server's write timeout would sever a long-lived stream.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		h.log.Warn("Failed to clear write deadline for stream", "tutor_id", tutorID, "error", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, cancel := h.hub.Subscribe(tutorID)
	defer cancel()

	// Seed the new subscriber with everything currently pending, so a
	// reconnect never misses requests created while it was away.
	if err := h.seedPending(r.Context(), w, flusher); err != nil {
		h.log.Warn("Failed to seed stream subscriber", "tutor_id", tutorID, "error", err)
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, open := <-events:
			if !open {
				// Dropped by the hub for falling behind.
				return
			}
			if err := writeEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *StreamHandler) seedPending(ctx context.Context, w http.ResponseWriter, flusher http.Flusher) error {
	pending, err := h.service.ListPending(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, request := range pending {
		event := model.RequestEvent{
			EventID:    uuid.New().String(),
			Type:       model.EventRequestCreated,
			Request:    *request,
			OccurredAt: now,
		}
		if err := writeEvent(w, event); err != nil {
			return err
		}
	}
	flusher.Flush()
	return nil
}

func writeEvent(w http.ResponseWriter, event model.RequestEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}
