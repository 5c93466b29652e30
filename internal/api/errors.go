package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Sathwik-git/linux-playground/pkg/models"
)

// errorBody is the stable error envelope returned to clients.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps the lifecycle error taxonomy to a stable code and
// HTTP status. Unclassified errors surface as a generic failure so the
// client can show "failed to start/stop" and return to a safe state.
func writeError(w http.ResponseWriter, err error) {
	code := "internal_error"
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, models.ErrConfiguration):
		code, status = "configuration_error", http.StatusInternalServerError
	case errors.Is(err, models.ErrProviderInvariant):
		code, status = "provider_invariant", http.StatusBadGateway
	case errors.Is(err, models.ErrProvisioningTimeout):
		code, status = "provisioning_timeout", http.StatusGatewayTimeout
	case errors.Is(err, models.ErrEndpointUnavailable):
		code, status = "endpoint_unavailable", http.StatusBadGateway
	case errors.Is(err, models.ErrNotFound):
		code, status = "not_found", http.StatusNotFound
	case errors.Is(err, models.ErrConflict):
		code, status = "conflict", http.StatusConflict
	case errors.Is(err, models.ErrTermination):
		code, status = "termination_failed", http.StatusBadGateway
	case errors.Is(err, models.ErrCanceled):
		code, status = "canceled", http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Code: code, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
