package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/anders-malmros-inera/aggregator/internal/service"
)

// AggregateHandler serves POST /aggregate/journals.
type AggregateHandler struct {
	logger     *slog.Logger
	aggregator *service.Aggregator
}

// NewAggregateHandler builds the aggregate-request handler.
func NewAggregateHandler(logger *slog.Logger, aggregator *service.Aggregator) *AggregateHandler {
	return &AggregateHandler{logger: logger, aggregator: aggregator}
}

func (h *AggregateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req service.AggregateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PatientID == "" {
		http.Error(w, "patientId is required", http.StatusBadRequest)
		return
	}

	resp, err := h.aggregator.Aggregate(r.Context(), req)
	if err != nil {
		h.logger.Error("aggregate: request failed", "err", err)
		http.Error(w, "aggregation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
