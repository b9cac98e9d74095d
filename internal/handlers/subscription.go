package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/webhooks"
)

// SubscriptionHandler handles subscription lifecycle endpoints
type SubscriptionHandler struct {
	manager *webhooks.Manager
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(manager *webhooks.Manager) *SubscriptionHandler {
	return &SubscriptionHandler{manager: manager}
}

// RegisterRoutes registers subscription routes
func (h *SubscriptionHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/forms/:id/subscription", h.Register)
	g.DELETE("/forms/:id/subscription", h.Unregister)
}

// Register handles POST /forms/:id/subscription. Registering a form that
// already has an active subscription returns the existing one.
func (h *SubscriptionHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()

	formID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	subscription, err := h.manager.Register(ctx, formID)
	if err != nil {
		return err
	}

	return CreatedResponse(c, subscription)
}

// Unregister handles DELETE /forms/:id/subscription
func (h *SubscriptionHandler) Unregister(c echo.Context) error {
	ctx := c.Request().Context()

	formID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.manager.Unregister(ctx, formID); err != nil {
		return err
	}

	return NoContentResponse(c)
}
