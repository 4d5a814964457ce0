package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/anders-malmros-inera/aggregator/internal/domain/signaling"
)

// WebRTCHandler serves the three signaling endpoints: session creation,
// a push stream of signal payloads, and signal fan-out. The push stream
// uses SSE rather than a websocket upgrade, since this channel only ever
// carries server-to-subscriber payloads.
type WebRTCHandler struct {
	logger  *slog.Logger
	manager *signaling.Manager
}

// NewWebRTCHandler builds the signaling endpoint handler.
func NewWebRTCHandler(logger *slog.Logger, manager *signaling.Manager) *WebRTCHandler {
	return &WebRTCHandler{logger: logger, manager: manager}
}

type createSessionResponse struct {
	SessionID  string               `json:"sessionId"`
	Token      string               `json:"token"`
	ICEServers []signaling.ICEServer `json:"iceServers"`
	TTLSeconds int                  `json:"ttlSeconds"`
}

// Create handles POST /aggregate/webrtc/create.
func (h *WebRTCHandler) Create(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Create()
	if err != nil {
		h.logger.Error("webrtc: session creation failed", "err", err)
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(createSessionResponse{
		SessionID:  s.ID,
		Token:      s.Token,
		ICEServers: s.ICEServers,
		TTLSeconds: s.TTLSeconds,
	})
}

// Stream handles GET /aggregate/webrtc/{id}/stream?token=...
func (h *WebRTCHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	token := r.URL.Query().Get("token")

	ch, unsubscribe, err := h.manager.Subscribe(id, token)
	if err != nil {
		writeSignalingError(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, open := <-ch:
			if !open {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type signalRequest struct {
	Token   string          `json:"token"`
	Payload json.RawMessage `json:"payload"`
}

// Signal handles POST /aggregate/webrtc/{id}/signal.
func (h *WebRTCHandler) Signal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.manager.Signal(id, req.Token, req.Payload); err != nil {
		writeSignalingError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeSignalingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, signaling.ErrUnauthorized):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, signaling.ErrNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, signaling.ErrConflict):
		http.Error(w, "session already has a subscriber", http.StatusConflict)
	default:
		http.Error(w, "signaling failed", http.StatusInternalServerError)
	}
}
