package handlers

import (
	"net/http"
	"strings"

	"go-proxy-rotator/internal/endpoint"
	"go-proxy-rotator/internal/health"
	"go-proxy-rotator/internal/proxymanager"

	"github.com/labstack/echo/v4"
)

type ExportHandler struct {
	pool  *proxymanager.Pool
	store *health.Store
}

func NewExportHandler(pool *proxymanager.Pool, store *health.Store) *ExportHandler {
	return &ExportHandler{
		pool:  pool,
		store: store,
	}
}

// GET /api/export
func (h *ExportHandler) ExportText(c echo.Context) error {
	var lines []string
	for _, e := range h.pool.Endpoints() {
		if h.store.IsDisabled(e) {
			continue
		}
		lines = append(lines, endpoint.Mask(e))
	}

	text := strings.Join(lines, "\n")
	if len(lines) > 0 {
		text += "\n" // Add trailing newline
	}

	return c.String(http.StatusOK, text)
}
