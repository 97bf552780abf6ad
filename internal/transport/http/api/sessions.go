package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// GetSessionHistory returns the in-memory recent turns and generation state of a live session.
// GET /sessions/:session_id/history
func (h *Handler) GetSessionHistory(c echo.Context) error {
	sessionID := c.Param("session_id")

	view, ok := h.service.SessionHistory(sessionID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	return c.JSON(http.StatusOK, view)
}

// ClearSessionHistory drops the in-memory recent turns of a live session.
// DELETE /sessions/:session_id/history
func (h *Handler) ClearSessionHistory(c echo.Context) error {
	sessionID := c.Param("session_id")

	if !h.service.ClearSessionHistory(sessionID) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"cleared":    true,
	})
}
