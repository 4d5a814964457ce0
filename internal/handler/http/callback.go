package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/anders-malmros-inera/aggregator/internal/domain/aggregation"
	"github.com/anders-malmros-inera/aggregator/internal/service"
)

// CallbackHandler serves POST /aggregate/callback. It always acknowledges
// with 2xx, including for an unknown correlation — a late callback from
// an already-terminated run is dropped silently by
// Aggregator.HandleCallback, never surfaced as an error to the caller.
type CallbackHandler struct {
	logger     *slog.Logger
	aggregator *service.Aggregator
}

// NewCallbackHandler builds the callback endpoint handler.
func NewCallbackHandler(logger *slog.Logger, aggregator *service.Aggregator) *CallbackHandler {
	return &CallbackHandler{logger: logger, aggregator: aggregator}
}

func (h *CallbackHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var ev aggregation.CallbackEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.logger.Warn("callback: decode failed, acking anyway", "err", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	h.aggregator.HandleCallback(&ev)
	w.WriteHeader(http.StatusOK)
}
