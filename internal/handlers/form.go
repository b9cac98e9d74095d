package handlers

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/conditional"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

// subscriptionUnregistrar retires a form's change subscription.
type subscriptionUnregistrar interface {
	Unregister(ctx context.Context, formID uuid.UUID) error
}

// FormHandler handles form definition API endpoints
type FormHandler struct {
	repo          repositories.FormRepo
	subscriptions subscriptionUnregistrar
	logger        ectologger.Logger
}

// NewFormHandler creates a new form handler
func NewFormHandler(repo repositories.FormRepo, subscriptions subscriptionUnregistrar, logger ectologger.Logger) *FormHandler {
	return &FormHandler{repo: repo, subscriptions: subscriptions, logger: logger}
}

// CreateFormRequest represents the create form request body
type CreateFormRequest struct {
	Name        string            `json:"name" validate:"required"`
	Description *string           `json:"description,omitempty"`
	BaseID      string            `json:"base_id" validate:"required"`
	TableID     string            `json:"table_id" validate:"required"`
	Questions   []models.Question `json:"questions" validate:"required,dive"`
}

// UpdateFormRequest represents the update form request body
type UpdateFormRequest struct {
	Name        string            `json:"name" validate:"required"`
	Description *string           `json:"description,omitempty"`
	BaseID      string            `json:"base_id" validate:"required"`
	TableID     string            `json:"table_id" validate:"required"`
	Questions   []models.Question `json:"questions" validate:"required,dive"`
}

// ValidateRulesRequest represents the rule validation request body
type ValidateRulesRequest struct {
	Questions []models.Question `json:"questions" validate:"required"`
}

// ValidateRulesResponse carries the full list of rule violations
type ValidateRulesResponse struct {
	Valid      bool                    `json:"valid"`
	Violations []conditional.Violation `json:"violations"`
}

// RegisterRoutes registers form routes
func (h *FormHandler) RegisterRoutes(g *echo.Group) {
	forms := g.Group("/forms")
	forms.POST("", h.Create)
	forms.GET("", h.List)
	forms.GET("/:id", h.GetByID)
	forms.PUT("/:id", h.Update)
	forms.DELETE("/:id", h.Delete)
	forms.POST("/validate", h.ValidateRules)
}

// Create handles POST /forms
func (h *FormHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateFormRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	if err := checkQuestions(req.Questions); err != nil {
		return err
	}

	form := &models.Form{
		Name:        req.Name,
		Description: req.Description,
		BaseID:      req.BaseID,
		TableID:     req.TableID,
	}
	form.Questions.Data = req.Questions

	if err := h.repo.Create(ctx, form); err != nil {
		return err
	}

	return CreatedResponse(c, form)
}

// List handles GET /forms
func (h *FormHandler) List(c echo.Context) error {
	ctx := c.Request().Context()

	forms, err := h.repo.List(ctx)
	if err != nil {
		return err
	}

	return SuccessResponse(c, forms)
}

// GetByID handles GET /forms/:id
func (h *FormHandler) GetByID(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	form, err := h.repo.GetOwned(ctx, id)
	if err != nil {
		return err
	}

	return SuccessResponse(c, form)
}

// Update handles PUT /forms/:id
func (h *FormHandler) Update(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req UpdateFormRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	if err := checkQuestions(req.Questions); err != nil {
		return err
	}

	form, err := h.repo.GetOwned(ctx, id)
	if err != nil {
		return err
	}

	form.Name = req.Name
	form.Description = req.Description
	form.BaseID = req.BaseID
	form.TableID = req.TableID
	form.Questions.Data = req.Questions

	if err := h.repo.Update(ctx, form); err != nil {
		return err
	}

	return SuccessResponse(c, form)
}

// Delete handles DELETE /forms/:id. The form's change subscription, if
// any, is retired first so the external service stops delivering
// notifications for a form that no longer exists.
func (h *FormHandler) Delete(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.subscriptions.Unregister(ctx, id); err != nil {
		if !httperror.IsHTTPError(err) || httperror.GetStatusCode(err) != http.StatusNotFound {
			h.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"form_id": id,
			}).Warn("failed to unregister subscription before form delete")
		}
	}

	if err := h.repo.Delete(ctx, id); err != nil {
		return err
	}

	return NoContentResponse(c)
}

// ValidateRules handles POST /forms/validate. It reports every rule
// violation in the submitted question list without saving anything.
func (h *FormHandler) ValidateRules(c echo.Context) error {
	var req ValidateRulesRequest
	if err := BindAndValidate(c, &req); err != nil {
		return err
	}

	violations := conditional.Validate(req.Questions)
	return SuccessResponse(c, ValidateRulesResponse{
		Valid:      len(violations) == 0,
		Violations: violations,
	})
}

// checkQuestions rejects question lists that could never accept a
// submission: duplicate keys or broken visibility rules.
func checkQuestions(questions []models.Question) error {
	seen := make(map[string]bool, len(questions))
	for _, question := range questions {
		if question.Key == "" {
			return BadRequest("every question needs a key")
		}
		if seen[question.Key] {
			return repositories.Conflict("duplicate question key %q", question.Key)
		}
		seen[question.Key] = true
	}

	if violations := conditional.Validate(questions); len(violations) > 0 {
		return BadRequest(violations[0].Message + " (run POST /forms/validate for the full list)")
	}

	return nil
}
