package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Sathwik-git/linux-playground/internal/auth"
	"github.com/Sathwik-git/linux-playground/internal/provision"
	"github.com/Sathwik-git/linux-playground/internal/registry"
	"github.com/Sathwik-git/linux-playground/internal/terminate"
	"github.com/Sathwik-git/linux-playground/pkg/models"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	provisioner *provision.Provisioner
	coordinator *terminate.Coordinator
	registry    *registry.Registry
	log         *slog.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(p *provision.Provisioner, c *terminate.Coordinator, reg *registry.Registry, log *slog.Logger) *Handler {
	return &Handler{provisioner: p, coordinator: c, registry: reg, log: log}
}

// CreateSession handles POST /v1/sessions. There is no request body:
// every session gets the one fixed instance profile and a fixed lease.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, fmt.Errorf("no caller identity"))
		return
	}

	sess, err := h.provisioner.Provision(r.Context(), identity.Subject)
	if err != nil {
		h.log.Error("provision failed", "owner", identity.Subject, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sess.View())
}

// TerminateByEndpoint handles DELETE /v1/sessions with body {endpoint}.
// Termination is idempotent: repeating the call for a session that is
// already going away succeeds.
func (h *Handler) TerminateByEndpoint(w http.ResponseWriter, r *http.Request) {
	var req models.TerminateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: errorDetail{Code: "bad_request", Message: "invalid request body"},
		})
		return
	}

	err := h.coordinator.TerminateByEndpoint(r.Context(), req.Endpoint, models.ReasonUserRequested)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

// TerminateSession handles DELETE /v1/sessions/{id}.
func (h *Handler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.coordinator.Terminate(r.Context(), id, models.ReasonUserRequested); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "terminated"})
}

// GetSession handles GET /v1/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	sess, ok := h.registry.Get(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: %s", models.ErrNotFound, id))
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// ListSessions handles GET /v1/sessions, scoped to the caller.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.FromContext(r.Context())

	sessions := h.registry.List(identity.Subject)
	if sessions == nil {
		sessions = []models.Session{}
	}

	writeJSON(w, http.StatusOK, sessions)
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
