package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ShareHandler handles POST /api/v1/namespaces/{namespace}/share
func (s *Server) ShareHandler(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	actor := identityFrom(r.Context())

	var req struct {
		Key      string `json:"key"`
		SharedTo string `json:"sharedTo"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	meta, err := s.engine.ShareSecret(r.Context(), namespace, req.Key, actor, req.SharedTo)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"metadata": meta,
	})
}

// AccessRequestHandler handles POST /api/v1/namespaces/{namespace}/access-request
func (s *Server) AccessRequestHandler(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	actor := identityFrom(r.Context())

	var req struct {
		Key string `json:"key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	meta, err := s.engine.RequestAccess(r.Context(), namespace, req.Key, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"metadata": meta,
	})
}

// AccessRespondHandler handles PUT /api/v1/namespaces/{namespace}/access-request
func (s *Server) AccessRespondHandler(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	actor := identityFrom(r.Context())

	var req struct {
		Key         string `json:"key"`
		RequestedBy string `json:"requestedBy"`
		Approved    *bool  `json:"approved"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Approved == nil {
		writeError(w, http.StatusBadRequest, "missing approved field")
		return
	}

	meta, err := s.engine.RespondToAccessRequest(r.Context(), namespace, req.Key, req.RequestedBy, *req.Approved, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"metadata": meta,
	})
}

// ReassignHandler handles POST /api/v1/namespaces/{namespace}/reassign
func (s *Server) ReassignHandler(w http.ResponseWriter, r *http.Request) {
	namespace := chi.URLParam(r, "namespace")
	actor := identityFrom(r.Context())

	var req struct {
		Key      string `json:"key"`
		NewOwner string `json:"newOwner"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	meta, err := s.engine.ReassignOwner(r.Context(), namespace, req.Key, req.NewOwner, actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"metadata": meta,
	})
}
