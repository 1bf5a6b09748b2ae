package handlers

import (
	"net/http"

	"go-proxy-rotator/internal/proxymanager"

	"github.com/labstack/echo/v4"
)

type RefreshHandler struct {
	refresher *proxymanager.Refresher
}

func NewRefreshHandler(refresher *proxymanager.Refresher) *RefreshHandler {
	return &RefreshHandler{
		refresher: refresher,
	}
}

// POST /api/refresh
func (h *RefreshHandler) Refresh(c echo.Context) error {
	if h.refresher == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "no remote proxy provider configured",
		})
	}

	count, err := h.refresher.Refresh(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]int{
		"count": count,
	})
}
