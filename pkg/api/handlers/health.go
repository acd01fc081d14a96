package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/marmos91/urlimage/pkg/cachestore"
	"github.com/marmos91/urlimage/pkg/fetch"
)

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	manager   *fetch.Manager
	store     cachestore.Store
	storeType string
}

// NewHealthHandler creates a health handler. store may be nil when caching
// is disabled.
func NewHealthHandler(manager *fetch.Manager, store cachestore.Store, storeType string) *HealthHandler {
	return &HealthHandler{manager: manager, store: store, storeType: storeType}
}

// Liveness handles GET /health. It succeeds while the process serves HTTP.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "urlimage",
	}))
}

// StoreHealth is the readiness result of the cache store.
type StoreHealth struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// ReadinessResponse is returned by GET /health/ready.
type ReadinessResponse struct {
	Cache   *StoreHealth `json:"cache,omitempty"`
	Running int          `json:"running"`
	Waiting int          `json:"waiting"`
}

// Readiness handles GET /health/ready. It checks that the fetch manager
// accepts work and that the cache store passes its health check.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("fetch manager not initialized"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	stats, err := h.manager.Stats(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse(fmt.Sprintf("fetch manager: %v", err)))
		return
	}
	resp := ReadinessResponse{Running: stats.Running, Waiting: stats.Waiting}

	if h.store == nil {
		writeJSON(w, http.StatusOK, healthyResponse(resp))
		return
	}

	start := time.Now()
	err = cachestore.HealthCheck(ctx, h.store)
	resp.Cache = &StoreHealth{
		Type:    h.storeType,
		Status:  "healthy",
		Latency: time.Since(start).String(),
	}
	if err != nil {
		resp.Cache.Status = "unhealthy"
		resp.Cache.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponseWithData(resp))
		return
	}
	writeJSON(w, http.StatusOK, healthyResponse(resp))
}

// Stats handles GET /stats.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		ServiceUnavailable(w, "fetch manager not initialized")
		return
	}

	stats, err := h.manager.Stats(r.Context())
	if err != nil {
		ServiceUnavailable(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, okResponse(stats))
}
