package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gochat/internal/service"
)

const maxListLimit = 500

// ListConversations lists stored conversations.
// GET /conversations
func (h *Handler) ListConversations(c echo.Context) error {
	limit := queryLimit(c, 50, maxListLimit)

	conversations, err := h.service.ListConversations(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"conversations": conversations,
		"total":         len(conversations),
	})
}

// SearchConversations searches stored conversations.
// GET /conversations/search?q=
func (h *Handler) SearchConversations(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "q is required"})
	}
	limit := queryLimit(c, 20, maxListLimit)

	conversations, err := h.service.SearchConversations(c.Request().Context(), query, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"query":         query,
		"conversations": conversations,
		"total":         len(conversations),
	})
}

// GetConversation returns a stored conversation with its turns.
// GET /conversations/:session_id
func (h *Handler) GetConversation(c echo.Context) error {
	sessionID := c.Param("session_id")

	conv, err := h.service.GetConversation(c.Request().Context(), sessionID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if conv == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}

	return c.JSON(http.StatusOK, conv)
}

// UpdateTitleRequest is the body of a title update.
type UpdateTitleRequest struct {
	Title string `json:"title"`
}

// UpdateConversationTitle renames a stored conversation.
// PUT /conversations/:session_id/title
func (h *Handler) UpdateConversationTitle(c echo.Context) error {
	sessionID := c.Param("session_id")

	var req UpdateTitleRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	updated, err := h.service.RenameConversation(c.Request().Context(), sessionID, req.Title)
	if err != nil {
		if errors.Is(err, service.ErrInvalidTitle) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if !updated {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"updated":    true,
	})
}

// DeleteConversation deletes a stored conversation.
// DELETE /conversations/:session_id
func (h *Handler) DeleteConversation(c echo.Context) error {
	sessionID := c.Param("session_id")

	deleted, err := h.service.DeleteConversation(c.Request().Context(), sessionID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if !deleted {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "conversation not found"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"deleted":    true,
	})
}
