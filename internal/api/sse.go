package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/flowmesh/flowmesh/internal/execstore"
	"github.com/flowmesh/flowmesh/internal/metrics"
	"github.com/flowmesh/flowmesh/pkg/types"
)

// sseHeartbeatInterval is how often a comment is written to keep idle
// connections from being reaped by proxies.
const sseHeartbeatInterval = 15 * time.Second

// StreamEvents handles GET /api/v1/executions/{id}/events
// It implements Server-Sent Events (SSE) for streaming execution events.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	executionID := mux.Vars(r)["id"]
	startTime := time.Now()

	// Extract request ID for logging
	requestID := GetRequestID(ctx, r)

	// Check the execution exists before committing to the stream
	if _, err := h.execs.Get(ctx, executionID); err != nil {
		if errors.Is(err, execstore.ErrExecutionNotFound) {
			h.respondError(w, r, http.StatusNotFound, "execution not found", err)
			return
		}
		h.respondError(w, r, http.StatusInternalServerError, "failed to get execution", err)
		return
	}

	// Track active SSE connections
	metrics.SSEActiveConnections.Inc()
	defer metrics.SSEActiveConnections.Dec()

	h.logger.Info("SSE connection opened",
		slog.String("execution_id", executionID),
		slog.String("request_id", requestID),
		slog.String("remote_addr", r.RemoteAddr),
	)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	// Check for Last-Event-ID header for resumption
	lastEventID := r.Header.Get("Last-Event-ID")

	// Flush headers
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.respondError(w, r, http.StatusInternalServerError, "streaming not supported", nil)
		return
	}
	flusher.Flush()

	// Send a hello event
	h.writeSSE(w, flusher, &types.Event{
		ID:          "0",
		ExecutionID: executionID,
		Type:        "hello",
		Timestamp:   time.Now().UTC(),
	})

	// Replay missed events if resuming
	if lastEventID != "" {
		events, err := h.execs.EventsSince(ctx, executionID, lastEventID)
		if err != nil {
			h.logger.Error("failed to get historical events", "error", err, "execution_id", executionID)
		} else {
			for _, evt := range events {
				h.writeSSE(w, flusher, evt)
			}
		}
	}

	// Subscribe to new events. The channel closes when the execution
	// reaches a terminal status.
	eventCh, cleanup, err := h.execs.Subscribe(ctx, executionID)
	if err != nil {
		h.logger.Error("failed to subscribe to events", "error", err, "execution_id", executionID)
		return
	}
	defer cleanup()

	done := r.Context().Done()

	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			// Client disconnected
			duration := time.Since(startTime)
			metrics.SSEConnectionDuration.Observe(duration.Seconds())
			h.logger.Info("SSE connection closed",
				slog.String("execution_id", executionID),
				slog.String("request_id", requestID),
				slog.Duration("duration", duration),
				slog.String("reason", "client_disconnect"),
			)
			return

		case evt, ok := <-eventCh:
			if !ok {
				// Channel closed, execution reached a terminal status
				h.sendStreamEnd(ctx, w, flusher, executionID)
				duration := time.Since(startTime)
				metrics.SSEConnectionDuration.Observe(duration.Seconds())
				h.logger.Info("SSE connection closed",
					slog.String("execution_id", executionID),
					slog.String("request_id", requestID),
					slog.Duration("duration", duration),
					slog.String("reason", "execution_finished"),
				)
				return
			}
			h.writeSSE(w, flusher, evt)

		case <-heartbeat.C:
			// Send a heartbeat comment to keep connection alive
			h.writeComment(w, flusher, "heartbeat")
		}
	}
}

// writeSSE writes an event in SSE format and flushes.
func (h *Handlers) writeSSE(w http.ResponseWriter, flusher http.Flusher, evt *types.Event) {
	if evt == nil {
		return
	}
	if _, err := w.Write(evt.ToSSE()); err != nil {
		h.logger.Error("failed to write SSE event", "error", err)
		return
	}
	flusher.Flush()
}

// writeComment writes an SSE comment (for heartbeats).
func (h *Handlers) writeComment(w http.ResponseWriter, flusher http.Flusher, comment string) {
	if _, err := w.Write([]byte(": " + comment + "\n\n")); err != nil {
		h.logger.Error("failed to write SSE comment", "error", err)
		return
	}
	flusher.Flush()
}

// sendStreamEnd sends the final event carrying the execution's terminal
// status.
func (h *Handlers) sendStreamEnd(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, executionID string) {
	evt := &types.Event{
		ID:          "final",
		ExecutionID: executionID,
		Type:        types.EventTypeStreamEnd,
		Timestamp:   time.Now().UTC(),
	}

	exec, err := h.execs.Get(ctx, executionID)
	if err != nil {
		h.logger.Error("failed to get execution for stream end", "error", err, "execution_id", executionID)
	} else {
		data := map[string]interface{}{
			"status": exec.Status,
		}
		if exec.Error != "" {
			data["error"] = exec.Error
		}
		dataJSON, _ := json.Marshal(data)
		evt.Data = dataJSON
	}

	h.writeSSE(w, flusher, evt)
}
