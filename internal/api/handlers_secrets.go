package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// SecretsListHandler handles GET /api/v1/namespaces/{namespace}/secrets
func (s *Server) SecretsListHandler(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	caller := identityFrom(r.Context())

	secrets, meta, err := s.engine.ListSecrets(r.Context(), namespace, caller)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"secrets":  secrets,
		"metadata": meta,
	})
}

// SecretsUpsertHandler handles POST /api/v1/namespaces/{namespace}/secrets
func (s *Server) SecretsUpsertHandler(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	actor := identityFrom(r.Context())

	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	meta, err := s.engine.UpsertSecret(r.Context(), namespace, req.Key, req.Value, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"metadata": meta,
	})
}

// SecretsDeleteHandler handles DELETE /api/v1/namespaces/{namespace}/secrets?key=NAME
func (s *Server) SecretsDeleteHandler(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	actor := identityFrom(r.Context())

	key := r.URL.Query().Get("key")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing key parameter")
		return
	}

	meta, err := s.engine.DeleteSecret(r.Context(), namespace, key, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"metadata": meta,
	})
}
