package notify

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type Handlers struct {
	d *Dispatcher
}

func NewHandlers(d *Dispatcher) *Handlers { return &Handlers{d: d} }

// List returns the current user's notifications, newest first.
func (h *Handlers) List(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.d.List(c.Request().Context(), userID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load notifications"})
	}
	return c.JSON(http.StatusOK, echo.Map{"notifications": items})
}

// UnreadCount backs the badge.
func (h *Handlers) UnreadCount(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	count, err := h.d.UnreadCount(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to count"})
	}
	return c.JSON(http.StatusOK, echo.Map{"unread": count})
}

// MarkRead marks one notification read.
func (h *Handlers) MarkRead(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id := c.Param("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing notification id"})
	}

	if err := h.d.MarkRead(c.Request().Context(), id, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "notification not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "ok"})
}

// MarkAllRead marks everything read for the current user.
func (h *Handlers) MarkAllRead(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	if err := h.d.MarkAllRead(c.Request().Context(), userID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update"})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "ok"})
}
