package submissions

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/airtable"
	"github.com/Ramsey-B/fern/pkg/credentials"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// tokenSource yields a usable access token for the account a form's owner
// connected.
type tokenSource interface {
	GetByUser(ctx context.Context, userID uuid.UUID) (*models.Credential, error)
	ValidToken(ctx context.Context, credential *models.Credential) (string, error)
}

// recordCreator is the part of the external client the service needs.
type recordCreator interface {
	CreateRecord(ctx context.Context, accessToken string, baseID string, tableID string, fields map[string]any) (*airtable.Record, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, evt *events.Event) error
}

// Service accepts submissions, mirrors them into the external table and
// records them locally.
type Service struct {
	pipeline    *Pipeline
	forms       repositories.FormRepo
	records     repositories.SubmissionRepo
	credentials tokenSource
	client      recordCreator
	producer    eventPublisher
	logger      ectologger.Logger
}

// NewService creates a new submission service.
func NewService(
	pipeline *Pipeline,
	forms repositories.FormRepo,
	records repositories.SubmissionRepo,
	creds tokenSource,
	client recordCreator,
	producer eventPublisher,
	logger ectologger.Logger,
) *Service {
	return &Service{
		pipeline:    pipeline,
		forms:       forms,
		records:     records,
		credentials: creds,
		client:      client,
		producer:    producer,
		logger:      logger,
	}
}

// Submit validates the answers against the form, writes the record to the
// form's external table and stores a local submission row keyed by the
// external record id. The local row is what later change notifications
// stamp.
func (s *Service) Submit(ctx context.Context, formID uuid.UUID, answers map[string]any, meta models.SubmissionMeta) (*models.SubmissionRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "Submissions.Submit")
	defer span.End()
	start := time.Now()

	form, err := s.forms.GetByID(ctx, formID)
	if err != nil {
		return nil, err
	}

	fields, err := s.pipeline.Process(form, answers)
	if err != nil {
		var validation *ValidationError
		if errors.As(err, &validation) {
			metrics.RecordSubmission(formID.String(), "invalid", time.Since(start).Seconds())
			return nil, httperror.NewHTTPError(http.StatusBadRequest, validation.Error())
		}
		return nil, err
	}

	credential, err := s.credentials.GetByUser(ctx, form.OwnerID)
	if err != nil {
		metrics.RecordSubmission(formID.String(), "no_credential", time.Since(start).Seconds())
		return nil, err
	}

	token, err := s.credentials.ValidToken(ctx, credential)
	if err != nil {
		if errors.Is(err, credentials.ErrAuthExpired) {
			metrics.RecordSubmission(formID.String(), "auth_expired", time.Since(start).Seconds())
			return nil, httperror.NewHTTPError(http.StatusBadGateway, "the form's external connection has expired")
		}
		return nil, err
	}

	record, err := s.client.CreateRecord(ctx, token, form.BaseID, form.TableID, fields)
	if err != nil {
		metrics.RecordSubmission(formID.String(), "upstream_error", time.Since(start).Seconds())
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"form_id": formID,
		}).Error("failed to create external record")
		return nil, httperror.NewHTTPError(http.StatusBadGateway, "failed to write the submission to the external table")
	}

	submission := &models.SubmissionRecord{
		FormID:           formID,
		ExternalRecordID: record.ID,
	}
	submission.Answers.Data = answers
	submission.Meta.Data = meta

	if err := s.records.Create(ctx, submission); err != nil {
		// The external record exists at this point, so surface the
		// failure rather than silently losing the local mirror.
		metrics.RecordSubmission(formID.String(), "persist_failed", time.Since(start).Seconds())
		return nil, err
	}

	if err := s.producer.Publish(ctx, &events.Event{
		Type:     events.TypeSubmissionCreated,
		FormID:   formID.String(),
		RecordID: record.ID,
	}); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("failed to publish submission event")
	}

	metrics.RecordSubmission(formID.String(), "success", time.Since(start).Seconds())
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"form_id":            formID,
		"external_record_id": record.ID,
	}).Info("submission recorded")

	return submission, nil
}
