package api

import (
	"errors"
	"net/http"

	"github.com/oleksiyp/kubernetes-native-secrets/internal/metadata"
	"github.com/oleksiyp/kubernetes-native-secrets/internal/storage"
)

// HealthHandler handles GET /healthz
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// NamespacesHandler handles GET /api/v1/namespaces
func (s *Server) NamespacesHandler(w http.ResponseWriter, r *http.Request) {
	namespaces, err := s.engine.Namespaces(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if namespaces == nil {
		namespaces = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespaces": namespaces})
}

// writeEngineError maps engine and storage errors to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, metadata.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, metadata.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, metadata.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, metadata.ErrConflict), errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, storage.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
