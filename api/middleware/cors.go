package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

var defaultCORSOrigins = []string{
	"http://localhost:3000", // local dashboard
}

// CORS applies the dashboard origin policy. An empty list falls back to local dev.
func CORS(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = defaultCORSOrigins
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", "X-Operator", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After", "Idempotent-Replay"},
		AllowCredentials: false,
		MaxAge:           300,
	}).Handler
}
