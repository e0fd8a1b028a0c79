package ledger

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handlers exposes the ledger's read/purchase surface.
type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers { return &Handlers{svc: svc} }

// Credits returns the authenticated user's active subscription and balance.
func (h *Handlers) Credits(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	sub, err := h.svc.Active(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSubscription) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no active subscription"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load subscription"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"subscription_id":   sub.ID,
		"package_id":        sub.PackageID,
		"remaining_credits": sub.RemainingCredits,
		"end_date":          sub.EndDate,
	})
}

// Purchase buys a package for the authenticated user, replacing any active
// subscription.
func (h *Handlers) Purchase(c echo.Context) error {
	userID, ok := c.Get("user_id").(string)
	if !ok || userID == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req struct {
		PackageID string `json:"package_id"`
	}
	if err := c.Bind(&req); err != nil || req.PackageID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid package_id"})
	}

	sub, err := h.svc.Purchase(c.Request().Context(), userID, req.PackageID)
	if err != nil {
		if errors.Is(err, ErrPackageNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "package not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to purchase package"})
	}

	return c.JSON(http.StatusCreated, echo.Map{"subscription": sub})
}
