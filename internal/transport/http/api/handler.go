// Package api provides the REST handlers of the chat server.
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gochat/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the REST routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/status", h.Status)
	e.GET("/models", h.ListModels)
	e.GET("/presets", h.ListPresets)

	// Stored conversations
	e.GET("/conversations", h.ListConversations)
	e.GET("/conversations/search", h.SearchConversations)
	e.GET("/conversations/:session_id", h.GetConversation)
	e.PUT("/conversations/:session_id/title", h.UpdateConversationTitle)
	e.DELETE("/conversations/:session_id", h.DeleteConversation)

	// Live session memory
	e.GET("/sessions/:session_id/history", h.GetSessionHistory)
	e.DELETE("/sessions/:session_id/history", h.ClearSessionHistory)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	st := h.service.Registry().Stats()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"version":     service.Version,
		"sessions":    st.Sessions,
		"connections": st.Connected,
	})
}

// Status returns the server status and model backend reachability.
// GET /status
func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, h.service.Status(c.Request().Context()))
}

// ListModels returns the installed models.
// GET /models
func (h *Handler) ListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"models": h.service.ListModels(c.Request().Context()),
	})
}

// ListPresets returns the generation styles.
// GET /presets
func (h *Handler) ListPresets(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"presets": h.service.Presets(),
	})
}

func queryLimit(c echo.Context, defaultVal, maxVal int) int {
	limit := defaultVal
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil && val > 0 {
			limit = val
		}
	}
	if limit > maxVal {
		limit = maxVal
	}
	return limit
}
