package sweeper

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// TriggerHandler is the admin-facing manual sweep trigger. The scheduled
// path is cmd/sweeper; both run the same idempotent entry point.
func TriggerHandler(s *Sweeper) echo.HandlerFunc {
	return func(c echo.Context) error {
		report := s.Run(c.Request().Context(), time.Now())
		return c.JSON(http.StatusOK, echo.Map{"report": report})
	}
}
