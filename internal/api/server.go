package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Sathwik-git/linux-playground/internal/auth"
	"github.com/Sathwik-git/linux-playground/internal/proxy"
	"github.com/Sathwik-git/linux-playground/internal/ratelimit"
)

// SetupRoutes configures all HTTP routes.
func (h *Handler) SetupRoutes(verifier auth.Verifier, proxyServer *proxy.Server, rateLimiter *ratelimit.Limiter, requestsPerHour int) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", h.Health).Methods("GET")

	// API v1 routes, all authenticated.
	api := r.PathPrefix("/v1").Subrouter()
	api.Use(AuthMiddleware(verifier))

	// Lifecycle endpoints are rate limited; the terminal proxy is not,
	// a live session holds it open.
	limited := api.PathPrefix("").Subrouter()
	limited.Use(RateLimitMiddleware(rateLimiter, requestsPerHour))

	limited.HandleFunc("/sessions", h.CreateSession).Methods("POST")
	limited.HandleFunc("/sessions", h.ListSessions).Methods("GET")
	limited.HandleFunc("/sessions", h.TerminateByEndpoint).Methods("DELETE")
	limited.HandleFunc("/sessions/{id}", h.GetSession).Methods("GET")
	limited.HandleFunc("/sessions/{id}", h.TerminateSession).Methods("DELETE")

	api.HandleFunc("/sessions/{id}/terminal", func(w http.ResponseWriter, r *http.Request) {
		proxyServer.HandleTerminal(w, r, mux.Vars(r)["id"])
	}).Methods("GET")

	r.Use(corsMiddleware)

	return r
}
