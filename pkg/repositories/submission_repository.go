package repositories

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const submissionsTable = "submission_records"

var submissionStruct = database.NewStruct(new(models.SubmissionRecord))

// SubmissionRepository handles database operations for submission records
type SubmissionRepository struct {
	*Repository
}

// NewSubmissionRepository creates a new submission repository
func NewSubmissionRepository(db database.DB, logger ectologger.Logger) *SubmissionRepository {
	return &SubmissionRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new submission record
func (r *SubmissionRepository) Create(ctx context.Context, record *models.SubmissionRecord) error {
	ctx, span := tracing.StartSpan(ctx, "SubmissionRepository.Create")
	defer span.End()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(submissionsTable).
		Cols("id", "form_id", "external_record_id", "answers", "meta", "deleted_externally", "last_synced_at", "created_at").
		Values(record.ID, record.FormID, record.ExternalRecordID, record.Answers, record.Meta,
			record.DeletedExternally, record.LastSyncedAt, sqlbuilder.Raw("NOW()")).
		Returning("created_at")

	query, args := ib.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&record.CreatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"form_id":            record.FormID,
			"external_record_id": record.ExternalRecordID,
		}).Error("failed to create submission record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create submission record")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"submission_id": record.ID,
		"form_id":       record.FormID,
	}).Debugf("Created %s", submissionsTable)
	return nil
}

// GetByExternalRecordID retrieves a submission record by the external record id
func (r *SubmissionRepository) GetByExternalRecordID(ctx context.Context, externalRecordID string) (*models.SubmissionRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "SubmissionRepository.GetByExternalRecordID")
	defer span.End()

	sb := submissionStruct.SelectFrom(submissionsTable)
	sb.Where(sb.Equal("external_record_id", externalRecordID))

	query, args := sb.Build()
	var record models.SubmissionRecord
	err := r.DB().GetContext(ctx, &record, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "submission record %s does not exist", externalRecordID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_record_id": externalRecordID,
		}).Error("failed to get submission record")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get submission record")
	}

	return &record, nil
}

// ListByForm retrieves all submission records for a form, newest first
func (r *SubmissionRepository) ListByForm(ctx context.Context, formID uuid.UUID) ([]models.SubmissionRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "SubmissionRepository.ListByForm")
	defer span.End()

	sb := submissionStruct.SelectFrom(submissionsTable)
	sb.Where(sb.Equal("form_id", formID))
	sb.OrderBy("created_at DESC")

	query, args := sb.Build()
	var records []models.SubmissionRecord
	err := r.DB().SelectContext(ctx, &records, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"form_id": formID,
		}).Error("failed to list submission records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list submission records")
	}

	return records, nil
}

// StampSynced updates last_synced_at for a record changed externally
func (r *SubmissionRepository) StampSynced(ctx context.Context, externalRecordID string, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "SubmissionRepository.StampSynced")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(submissionsTable).
		Set(ub.Assign("last_synced_at", at)).
		Where(ub.Equal("external_record_id", externalRecordID))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_record_id": externalRecordID,
		}).Error("failed to stamp submission record")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to stamp submission record")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to stamp submission record")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "submission record %s does not exist", externalRecordID)
	}

	return nil
}

// MarkDeletedExternally marks a record destroyed in the external table.
// The local row is kept; repeated calls are harmless.
func (r *SubmissionRepository) MarkDeletedExternally(ctx context.Context, externalRecordID string, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "SubmissionRepository.MarkDeletedExternally")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(submissionsTable).
		Set(
			ub.Assign("deleted_externally", true),
			ub.Assign("last_synced_at", at),
		).
		Where(ub.Equal("external_record_id", externalRecordID))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_record_id": externalRecordID,
		}).Error("failed to mark submission record deleted")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark submission record deleted")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark submission record deleted")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "submission record %s does not exist", externalRecordID)
	}

	return nil
}
