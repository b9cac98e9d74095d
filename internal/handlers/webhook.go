package handlers

import (
	"io"
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/notifications"
)

// macHeader carries the HMAC of the notification body
const macHeader = "X-Airtable-Content-MAC"

// WebhookHandler receives change notifications from the external service.
type WebhookHandler struct {
	processor *notifications.Processor
	logger    ectologger.Logger
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(processor *notifications.Processor, logger ectologger.Logger) *WebhookHandler {
	return &WebhookHandler{
		processor: processor,
		logger:    logger,
	}
}

// RegisterPublic registers the notification endpoint. The caller is
// expected to wrap it in a rate limit.
func (h *WebhookHandler) RegisterPublic(e *echo.Echo, m ...echo.MiddlewareFunc) {
	e.POST("/webhooks/notifications", h.Notify, m...)
}

// Notify handles POST /webhooks/notifications. The response is always
// 200 {"success":true}: the sender retries non-2xx responses, and a payload
// that cannot be processed now will not process better on redelivery.
func (h *WebhookHandler) Notify(c echo.Context) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("failed to read notification body")
		return c.JSON(http.StatusOK, map[string]bool{"success": true})
	}

	if err := h.processor.Process(ctx, body, c.Request().Header.Get(macHeader)); err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("notification processing failed")
	}

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
