package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const formsTable = "forms"

var formStruct = database.NewStruct(new(models.Form))

// FormRepository handles database operations for forms
type FormRepository struct {
	*Repository
}

// NewFormRepository creates a new form repository
func NewFormRepository(db database.DB, logger ectologger.Logger) *FormRepository {
	return &FormRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new form owned by the current user
func (r *FormRepository) Create(ctx context.Context, form *models.Form) error {
	ctx, span := tracing.StartSpan(ctx, "FormRepository.Create")
	defer span.End()

	ownerID, err := GetUserID(ctx)
	if err != nil {
		return err
	}
	form.OwnerID = ownerID

	if form.ID == uuid.Nil {
		form.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(formsTable).
		Cols("id", "owner_id", "name", "description", "base_id", "table_id", "questions", "created_at", "updated_at").
		Values(form.ID, form.OwnerID, form.Name, form.Description, form.BaseID, form.TableID, form.Questions,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&form.CreatedAt, &form.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"form_id": form.ID,
		}).Error("failed to create form")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create form")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"form_id": form.ID,
	}).Debugf("Created %s", formsTable)
	return nil
}

// GetByID retrieves a form by ID without owner scoping. Used by the public
// submission path and the notification processor.
func (r *FormRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Form, error) {
	ctx, span := tracing.StartSpan(ctx, "FormRepository.GetByID")
	defer span.End()

	sb := formStruct.SelectFrom(formsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var form models.Form
	err := r.DB().GetContext(ctx, &form, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "form %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"form_id": id,
		}).Error("failed to get form by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get form by ID")
	}

	return &form, nil
}

// GetOwned retrieves a form by ID scoped to the current user
func (r *FormRepository) GetOwned(ctx context.Context, id uuid.UUID) (*models.Form, error) {
	ctx, span := tracing.StartSpan(ctx, "FormRepository.GetOwned")
	defer span.End()

	ownerID, err := GetUserID(ctx)
	if err != nil {
		return nil, err
	}

	sb := formStruct.SelectFrom(formsTable)
	sb.Where(sb.Equal("owner_id", ownerID), sb.Equal("id", id))

	query, args := sb.Build()
	var form models.Form
	err = r.DB().GetContext(ctx, &form, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "form %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"form_id": id,
		}).Error("failed to get form")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get form")
	}

	return &form, nil
}

// List retrieves all forms for the current user
func (r *FormRepository) List(ctx context.Context) ([]models.Form, error) {
	ctx, span := tracing.StartSpan(ctx, "FormRepository.List")
	defer span.End()

	ownerID, err := GetUserID(ctx)
	if err != nil {
		return nil, err
	}

	sb := formStruct.SelectFrom(formsTable)
	sb.Where(sb.Equal("owner_id", ownerID))
	sb.OrderBy("created_at DESC")

	query, args := sb.Build()
	var forms []models.Form
	err = r.DB().SelectContext(ctx, &forms, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list forms")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list forms")
	}

	return forms, nil
}

// Update updates an existing form owned by the current user
func (r *FormRepository) Update(ctx context.Context, form *models.Form) error {
	ctx, span := tracing.StartSpan(ctx, "FormRepository.Update")
	defer span.End()

	ownerID, err := GetUserID(ctx)
	if err != nil {
		return err
	}

	ub := database.NewUpdateBuilder()
	ub.Update(formsTable).
		Set(
			ub.Assign("name", form.Name),
			ub.Assign("description", form.Description),
			ub.Assign("base_id", form.BaseID),
			ub.Assign("table_id", form.TableID),
			ub.Assign("questions", form.Questions),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("owner_id", ownerID), ub.Equal("id", form.ID))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	err = r.DB().QueryRowContext(ctx, query, args...).Scan(&form.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "form %s does not exist", form.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"form_id": form.ID,
		}).Error("failed to update form")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update form")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"form_id": form.ID,
	}).Debugf("Updated %s", formsTable)
	return nil
}

// Delete deletes a form and its submission records in one transaction
func (r *FormRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "FormRepository.Delete")
	defer span.End()

	ownerID, err := GetUserID(ctx)
	if err != nil {
		return err
	}

	ctx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete form")
	}
	defer tx.Rollback(ctx)

	sdb := database.NewDeleteBuilder()
	sdb.DeleteFrom(submissionsTable).
		Where(sdb.Equal("form_id", id))
	query, args := sdb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"form_id": id,
		}).Error("failed to delete form submissions")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete form")
	}

	fdb := database.NewDeleteBuilder()
	fdb.DeleteFrom(formsTable).
		Where(fdb.Equal("owner_id", ownerID), fdb.Equal("id", id))
	query, args = fdb.Build()
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"form_id": id,
		}).Error("failed to delete form")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete form")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete form")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "form %s does not exist", id)
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete form")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"form_id": id,
	}).Debugf("Deleted %s", formsTable)
	return nil
}
