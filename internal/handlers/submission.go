package handlers

import (
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/submissions"
)

// SubmissionHandler handles the public submission endpoint and the
// owner-facing submission listing.
type SubmissionHandler struct {
	service *submissions.Service
	records repositories.SubmissionRepo
	forms   repositories.FormRepo
}

// NewSubmissionHandler creates a new submission handler
func NewSubmissionHandler(service *submissions.Service, records repositories.SubmissionRepo, forms repositories.FormRepo) *SubmissionHandler {
	return &SubmissionHandler{
		service: service,
		records: records,
		forms:   forms,
	}
}

// SubmitRequest represents a form submission body
type SubmitRequest struct {
	Answers map[string]any `json:"answers" validate:"required"`
}

// SubmitResponse is returned to the respondent. It deliberately exposes
// nothing about the external table.
type SubmitResponse struct {
	ID string `json:"id"`
}

// RegisterPublic registers the unauthenticated submission endpoint. The
// caller is expected to wrap it in a rate limit.
func (h *SubmissionHandler) RegisterPublic(e *echo.Echo, m ...echo.MiddlewareFunc) {
	e.POST("/forms/:id/submissions", h.Submit, m...)
}

// RegisterRoutes registers the owner-facing routes
func (h *SubmissionHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/forms/:id/submissions", h.List)
}

// Submit handles POST /forms/:id/submissions
func (h *SubmissionHandler) Submit(c echo.Context) error {
	ctx := c.Request().Context()

	formID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req SubmitRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	meta := models.SubmissionMeta{
		RemoteIP:  appctx.GetRemoteIP(ctx),
		UserAgent: appctx.GetUserAgent(ctx),
		RequestID: appctx.GetRequestID(ctx),
	}

	record, err := h.service.Submit(ctx, formID, req.Answers, meta)
	if err != nil {
		return err
	}

	return CreatedResponse(c, SubmitResponse{ID: record.ID.String()})
}

// List handles GET /forms/:id/submissions for the form owner
func (h *SubmissionHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	formID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	// Ownership check; the records themselves are not owner-scoped.
	if _, err := h.forms.GetOwned(ctx, formID); err != nil {
		return err
	}

	records, err := h.records.ListByForm(ctx, formID)
	if err != nil {
		return err
	}

	return SuccessResponse(c, records)
}
