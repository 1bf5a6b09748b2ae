package handlers

import (
	"errors"
	"net/http"

	"go-proxy-rotator/internal/executor"

	"github.com/labstack/echo/v4"
)

type FetchHandler struct {
	exec *executor.Executor
}

func NewFetchHandler(exec *executor.Executor) *FetchHandler {
	return &FetchHandler{
		exec: exec,
	}
}

type FetchRequest struct {
	URL         string `json:"url"`
	Method      string `json:"method"`
	Body        string `json:"body"`
	ContentType string `json:"contentType"`
}

type FetchResponse struct {
	StatusCode int    `json:"statusCode"`
	Endpoint   string `json:"endpoint,omitempty"`
	Attempts   int    `json:"attempts"`
	Rotations  int    `json:"rotations"`
	Body       string `json:"body"`
}

// POST /api/fetch
func (h *FetchHandler) Fetch(c echo.Context) error {
	var req FetchRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid request body",
		})
	}
	if req.URL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "url is required",
		})
	}

	header := http.Header{}
	if req.ContentType != "" {
		header.Set("Content-Type", req.ContentType)
	}
	var body []byte
	if req.Body != "" {
		body = []byte(req.Body)
	}

	resp, err := h.exec.Do(c.Request().Context(), &executor.Request{
		Method: req.Method,
		URL:    req.URL,
		Header: header,
		Body:   body,
	})
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": err.Error(),
			"kind":  failureKind(err),
		})
	}

	return c.JSON(http.StatusOK, FetchResponse{
		StatusCode: resp.StatusCode,
		Endpoint:   resp.Endpoint,
		Attempts:   resp.Attempts,
		Rotations:  resp.Rotations,
		Body:       string(resp.Body),
	})
}

func failureKind(err error) string {
	var exhausted *executor.ExhaustedError
	switch {
	case errors.Is(err, executor.ErrBlocked):
		return "blocked"
	case errors.As(err, &exhausted):
		return "exhausted"
	default:
		return "failed"
	}
}
