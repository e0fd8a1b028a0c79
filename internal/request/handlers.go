package request

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/skillhub/internal/catalog"
	"github.com/sudo-init-do/skillhub/internal/ledger"
	"github.com/sudo-init-do/skillhub/internal/pricing"
)

type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers { return &Handlers{svc: svc} }

func currentUser(c echo.Context) (string, string, bool) {
	userID, ok := c.Get("user_id").(string)
	role, _ := c.Get("role").(string)
	return userID, role, ok && userID != ""
}

// writeServiceError maps the business-error taxonomy onto HTTP statuses.
// Insufficient credits carries the required vs available amounts so the UI
// can show the shortfall; a claim race gets its own message so the UI can
// redirect instead of showing a generic failure.
func writeServiceError(c echo.Context, err error) error {
	var ice ledger.InsufficientCreditsError
	if errors.As(err, &ice) {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":     "insufficient credits",
			"required":  ice.Required,
			"available": ice.Available,
		})
	}
	var ite InvalidTransitionError
	if errors.As(err, &ite) {
		return c.JSON(http.StatusConflict, echo.Map{
			"error":     "invalid transition",
			"current":   ite.Current,
			"requested": ite.Requested,
		})
	}
	var ve ValidationError
	if errors.As(err, &ve) {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":   "validation failed",
			"missing": ve.Missing,
		})
	}
	var ipe pricing.InvalidPriorityError
	if errors.As(err, &ipe) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid priority"})
	}

	switch {
	case errors.Is(err, ErrAlreadyClaimed):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already claimed"})
	case errors.Is(err, ErrAlreadyRated):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already rated"})
	case errors.Is(err, ErrInvalidRating):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "rating must be between 1 and 5"})
	case errors.Is(err, ErrNotOwner), errors.Is(err, ErrNotAssigned):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "not allowed"})
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "request not found"})
	case errors.Is(err, catalog.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "service type not found"})
	case errors.Is(err, ledger.ErrNoActiveSubscription):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no active subscription"})
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrPackageNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "subscription not found"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "operation failed"})
}

// Create opens a new request for the authenticated client.
func (h *Handlers) Create(c echo.Context) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var body struct {
		ServiceTypeID      string              `json:"service_type_id"`
		Priority           int                 `json:"priority"`
		AttributeResponses []AttributeResponse `json:"attribute_responses"`
	}
	if err := c.Bind(&body); err != nil || body.ServiceTypeID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	req, err := h.svc.Create(c.Request().Context(), userID, body.ServiceTypeID,
		pricing.Priority(body.Priority), body.AttributeResponses)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"request": req})
}

// Claim lets a provider take an open request.
func (h *Handlers) Claim(c echo.Context) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	req, err := h.svc.Claim(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"request": req})
}

// Start begins (or resumes, after a revision request) the work.
func (h *Handlers) Start(c echo.Context) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	req, err := h.svc.Start(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"request": req})
}

// Deliver hands the work back to the client.
func (h *Handlers) Deliver(c echo.Context) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	req, err := h.svc.Deliver(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"request": req})
}

// Complete accepts the delivery.
func (h *Handlers) Complete(c echo.Context) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	req, err := h.svc.Complete(c.Request().Context(), c.Param("id"), userID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"request": req})
}

// Revision asks for another round on a delivered request.
func (h *Handlers) Revision(c echo.Context) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var body struct {
		Feedback string `json:"feedback"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	req, err := h.svc.RequestRevision(c.Request().Context(), c.Param("id"), userID, body.Feedback)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"request": req})
}

// Cancel aborts a non-terminal request with a full refund. Clients cancel
// their own; admins cancel any.
func (h *Handlers) Cancel(c echo.Context) error {
	userID, role, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	req, err := h.svc.Cancel(c.Request().Context(), c.Param("id"), userID, role)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"request": req})
}

// Rate records the client's rating on a completed request.
func (h *Handlers) Rate(c echo.Context) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var body struct {
		Rating  int     `json:"rating"`
		Comment *string `json:"comment"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if err := h.svc.Rate(c.Request().Context(), c.Param("id"), userID, body.Rating, body.Comment); err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "ok"})
}

// Get returns one request, participants only.
func (h *Handlers) Get(c echo.Context) error {
	userID, role, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	req, err := h.svc.Get(c.Request().Context(), c.Param("id"), userID, role)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"request": req})
}

// CostBreakdown explains a request's stored total.
func (h *Handlers) CostBreakdown(c echo.Context) error {
	userID, role, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	b, err := h.svc.CostBreakdown(c.Request().Context(), c.Param("id"), userID, role)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"breakdown": b})
}

// ListOpen is the providers' job board: unclaimed pending requests.
func (h *Handlers) ListOpen(c echo.Context) error {
	if _, _, ok := currentUser(c); !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.svc.ListOpen(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch requests"})
	}
	return c.JSON(http.StatusOK, echo.Map{"requests": items})
}

// ListMine returns the requests the user participates in.
func (h *Handlers) ListMine(c echo.Context) error {
	userID, _, ok := currentUser(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.svc.ListForUser(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch requests"})
	}
	return c.JSON(http.StatusOK, echo.Map{"requests": items})
}
