package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"posturewatch/internal/types"
)

// defaultRedactedHeaders are masked in request logs.
var defaultRedactedHeaders = []string{
	"Authorization",
	"Cookie",
}

// MountRoutes registers middleware and routes.
//
// Middleware order:
//  1. Recoverer       - outermost so every panic is caught.
//  2. RequestID       - correlation ID for logs and outbound calls.
//  3. SecurityHeaders
//  4. RequestLogger
//
// JSON routes are gzip-compressed; the stream is mounted outside that group
// because it hijacks the connection.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger, defaultRedactedHeaders))

	s.router.Group(func(r chi.Router) {
		r.Use(compress)

		r.Get("/health", s.HandleHealth)

		r.Get("/v1/status", s.handleStatus)
		r.Get("/v1/config", s.handleGetConfig)
		r.Get("/v1/overlay.png", s.handleOverlay)

		r.Group(func(r chi.Router) {
			r.Use(s.RateLimit)
			r.Post("/v1/session/start", s.handleStart)
			r.Post("/v1/session/stop", s.handleStop)
			r.Put("/v1/config", s.handlePutConfig)
		})
	})

	s.router.Get("/v1/stream", s.handleStream)
}

func compress(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

// RequestIDMiddleware propagates X-Request-Id or generates one, and stores
// it in the request context.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := types.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-Id", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
