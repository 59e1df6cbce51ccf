// Package api exposes the deployment pipeline over HTTP for hosts that
// run the daemon instead of the one-shot CLI.
package api

import (
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/berthd/berth/internal/shell/docker"
	"github.com/berthd/berth/internal/shell/store"
)

// =============================================================================
// API Setup
// =============================================================================

// Config holds everything the router needs.
type Config struct {
	Store    store.Store
	Docker   docker.Client
	Deployer Deployer
	Logger   *slog.Logger

	// APIKey guards the /api/v1 subtree when set. Empty skips the
	// check (local development). Health endpoints are always open.
	APIKey string
}

// SetupAPI creates the API router.
func SetupAPI(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoveryMiddleware(cfg.Logger))

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(cfg.Store, cfg.Docker))

	h := newDeploymentHandlers(cfg.Store, cfg.Deployer, cfg.Logger)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apiKeyMiddleware(cfg.APIKey, cfg.Logger))
		r.Post("/deployments", h.createDeployment)
		r.Get("/deployments", h.listDeployments)
		r.Get("/deployments/{domain}", h.getDeployment)
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// requestIDMiddleware honors an incoming X-Request-ID or assigns one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

// apiKeyMiddleware validates the X-API-Key header against the
// configured key. An empty configured key skips validation.
func apiKeyMiddleware(key string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key != "" && r.Header.Get("X-API-Key") != key {
				logger.Warn("rejected request with invalid API key",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				json.NewEncoder(w).Encode(map[string]string{
					"error": "invalid API key",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// recoveryMiddleware recovers from panics and returns a 500 error.
func recoveryMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "internal server error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// Health Handlers
// =============================================================================

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func readyHandler(st store.Store, dc docker.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		checks := make(map[string]string)
		ready := true

		if _, err := st.ListDeployments(r.Context(), store.ListOptions{Limit: 1}); err != nil {
			checks["store"] = "failed"
			ready = false
		} else {
			checks["store"] = "ok"
		}

		if err := dc.Ping(); err != nil {
			checks["docker"] = "failed"
			ready = false
		} else {
			checks["docker"] = "ok"
		}

		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]any{
				"status": "not_ready",
				"checks": checks,
			})
			return
		}

		json.NewEncoder(w).Encode(map[string]any{
			"status": "ready",
			"checks": checks,
		})
	}
}

// =============================================================================
// Helpers
// =============================================================================

const requestIDChars = "abcdefghijklmnopqrstuvwxyz0123456789"

func generateRequestID() string {
	b := make([]byte, 16)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(requestIDChars))))
		if err != nil {
			b[i] = requestIDChars[0]
			continue
		}
		b[i] = requestIDChars[n.Int64()]
	}
	return string(b)
}
