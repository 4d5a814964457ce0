// Package http wires the gateway's transport surface: aggregate, stream,
// and callback endpoints; the signaling endpoints; and the ambient
// health/metrics probes, all routed on a go-chi/chi/v5 router.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the full chi.Mux for the gateway.
func NewRouter(
	logger *slog.Logger,
	aggregate *AggregateHandler,
	stream *StreamHandler,
	callback *CallbackHandler,
	webrtc *WebRTCHandler,
) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(slogRequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/aggregate", func(r chi.Router) {
		r.Post("/journals", aggregate.ServeHTTP)
		r.Get("/stream", stream.ServeHTTP)
		r.Post("/callback", callback.ServeHTTP)

		r.Route("/webrtc", func(r chi.Router) {
			r.Post("/create", webrtc.Create)
			r.Get("/{id}/stream", webrtc.Stream)
			r.Post("/{id}/signal", webrtc.Signal)
		})
	})

	return r
}

// slogRequestLogger logs one line per completed request via a structured
// slog.Logger rather than chi's default text-formatted request logger.
func slogRequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
