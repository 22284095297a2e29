package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oleksiyp/kubernetes-native-secrets/internal/audit"
)

// AuditHandler handles GET /api/v1/namespaces/{namespace}/audit
func (s *Server) AuditHandler(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")

	meta, err := s.engine.GetMetadata(r.Context(), namespace)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": audit.Project(meta),
	})
}
