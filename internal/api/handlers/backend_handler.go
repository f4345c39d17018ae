package handlers

import (
	"net/http"

	"github.com/zatekoja/amrguard/internal/domain/entities"
)

// BackendCatalog describes the configured reasoning backends
type BackendCatalog interface {
	Descriptors() []entities.BackendDescriptor
	Chains() map[string][]string
}

// BackendHandler reports backend health and fallback chains
type BackendHandler struct {
	catalog BackendCatalog
}

// NewBackendHandler creates a new backend handler
func NewBackendHandler(catalog BackendCatalog) *BackendHandler {
	return &BackendHandler{catalog: catalog}
}

// ListBackends handles GET /api/v1/backends
func (h *BackendHandler) ListBackends(w http.ResponseWriter, r *http.Request) {
	descriptors := h.catalog.Descriptors()
	healthy := 0
	for _, d := range descriptors {
		if d.Healthy {
			healthy++
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"backends": descriptors,
		"chains":   h.catalog.Chains(),
		"count":    len(descriptors),
		"healthy":  healthy,
	})
}
