package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anders-malmros-inera/aggregator/internal/domain/aggregation"
	"github.com/anders-malmros-inera/aggregator/internal/service"
)

const keepAliveInterval = 15 * time.Second

// StreamHandler serves GET /aggregate/stream, a text/event-stream push of
// a correlation's CallbackEvent/SummaryEvent sequence: a long-lived SSE
// pump with periodic keep-alives rather than a single bounded long-poll
// wait.
type StreamHandler struct {
	logger     *slog.Logger
	aggregator *service.Aggregator
}

// NewStreamHandler builds the stream endpoint handler.
func NewStreamHandler(logger *slog.Logger, aggregator *service.Aggregator) *StreamHandler {
	return &StreamHandler{logger: logger, aggregator: aggregator}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("correlationId")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	state, ok := h.aggregator.Registry().Get(id)
	if !ok {
		// Unknown correlation gets a 2xx, empty, immediately closed stream —
		// the client may have arrived after termination.
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		return
	}

	ch, err := state.Subscribe()
	if err != nil {
		http.Error(w, "correlation already has a subscriber", http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			// Client disconnect must be wired directly to cancelAll +
			// registry remove — the deadline must not be the only cleanup
			// path.
			aggregation.FinalizeOnDisconnect(h.aggregator.Registry(), id)
			return

		case ev, open := <-ch:
			if !open {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				h.logger.Warn("stream: write failed, treating as disconnect", "correlation_id", id, "err", err)
				aggregation.FinalizeOnDisconnect(h.aggregator.Registry(), id)
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				aggregation.FinalizeOnDisconnect(h.aggregator.Registry(), id)
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, ev any) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
