package handlers

import (
	"net/http"

	"go-proxy-rotator/internal/database/models"
	"go-proxy-rotator/internal/endpoint"
	"go-proxy-rotator/internal/health"
	"go-proxy-rotator/internal/proxymanager"

	"github.com/labstack/echo/v4"
)

type ProxyHandler struct {
	pool  *proxymanager.Pool
	store *health.Store
}

func NewProxyHandler(pool *proxymanager.Pool, store *health.Store) *ProxyHandler {
	return &ProxyHandler{
		pool:  pool,
		store: store,
	}
}

type ProxyStatus struct {
	Endpoint string               `json:"endpoint"`
	Disabled bool                 `json:"disabled"`
	Record   *models.HealthRecord `json:"record,omitempty"`
}

// GET /api/proxies
func (h *ProxyHandler) ListProxies(c echo.Context) error {
	endpoints := h.pool.Endpoints()
	out := make([]ProxyStatus, 0, len(endpoints))
	for _, e := range endpoints {
		status := ProxyStatus{
			Endpoint: endpoint.Mask(e),
			Disabled: h.store.IsDisabled(e),
		}
		if rec, ok := h.store.Record(e); ok {
			status.Record = &rec
		}
		out = append(out, status)
	}

	return c.JSON(http.StatusOK, out)
}

// GET /api/health
func (h *ProxyHandler) ListHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, h.store.Records())
}

// DELETE /api/health?endpoint=<masked endpoint>
func (h *ProxyHandler) ClearHealth(c echo.Context) error {
	target := c.QueryParam("endpoint")
	if target == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "endpoint query parameter is required",
		})
	}

	if !h.store.Clear(target) {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": "no health record for " + endpoint.Mask(target),
		})
	}

	return c.NoContent(http.StatusNoContent)
}
