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

const subscriptionsTable = "subscriptions"

var subscriptionStruct = database.NewStruct(new(models.Subscription))

// SubscriptionRepository handles database operations for webhook subscriptions
type SubscriptionRepository struct {
	*Repository
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db database.DB, logger ectologger.Logger) *SubscriptionRepository {
	return &SubscriptionRepository{
		Repository: NewRepository(db, logger),
	}
}

// Create creates a new subscription
func (r *SubscriptionRepository) Create(ctx context.Context, subscription *models.Subscription) error {
	ctx, span := tracing.StartSpan(ctx, "SubscriptionRepository.Create")
	defer span.End()

	if subscription.ID == uuid.Nil {
		subscription.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib.InsertInto(subscriptionsTable).
		Cols("id", "form_id", "external_id", "base_id", "table_id", "mac_secret", "notification_cursor", "active",
			"last_ping_at", "expires_at", "error_count", "created_at", "updated_at").
		Values(subscription.ID, subscription.FormID, subscription.ExternalID, subscription.BaseID,
			subscription.TableID, subscription.MACSecret, subscription.Cursor, subscription.Active,
			subscription.LastPingAt, subscription.ExpiresAt, subscription.ErrorCount,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()")).
		Returning("created_at", "updated_at")

	query, args := ib.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&subscription.CreatedAt, &subscription.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"form_id":     subscription.FormID,
			"external_id": subscription.ExternalID,
		}).Error("failed to create subscription")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create subscription")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"subscription_id": subscription.ID,
		"form_id":         subscription.FormID,
	}).Debugf("Created %s", subscriptionsTable)
	return nil
}

// GetByID retrieves a subscription by ID
func (r *SubscriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	ctx, span := tracing.StartSpan(ctx, "SubscriptionRepository.GetByID")
	defer span.End()

	sb := subscriptionStruct.SelectFrom(subscriptionsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var subscription models.Subscription
	err := r.DB().GetContext(ctx, &subscription, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "subscription %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subscription_id": id,
		}).Error("failed to get subscription by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get subscription by ID")
	}

	return &subscription, nil
}

// GetByExternalID retrieves a subscription by the external webhook id
func (r *SubscriptionRepository) GetByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	ctx, span := tracing.StartSpan(ctx, "SubscriptionRepository.GetByExternalID")
	defer span.End()

	sb := subscriptionStruct.SelectFrom(subscriptionsTable)
	sb.Where(sb.Equal("external_id", externalID))

	query, args := sb.Build()
	var subscription models.Subscription
	err := r.DB().GetContext(ctx, &subscription, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "subscription %s does not exist", externalID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_id": externalID,
		}).Error("failed to get subscription by external ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get subscription by external ID")
	}

	return &subscription, nil
}

// GetActiveByForm retrieves the active subscription for a form, if any
func (r *SubscriptionRepository) GetActiveByForm(ctx context.Context, formID uuid.UUID) (*models.Subscription, error) {
	ctx, span := tracing.StartSpan(ctx, "SubscriptionRepository.GetActiveByForm")
	defer span.End()

	sb := subscriptionStruct.SelectFrom(subscriptionsTable)
	sb.Where(sb.Equal("form_id", formID), sb.Equal("active", true))
	sb.OrderBy("created_at DESC").Limit(1)

	query, args := sb.Build()
	var subscription models.Subscription
	err := r.DB().GetContext(ctx, &subscription, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "no active subscription for form %s", formID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"form_id": formID,
		}).Error("failed to get active subscription")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get active subscription")
	}

	return &subscription, nil
}

// ListDueForRenewal retrieves active subscriptions whose last ping is older
// than the given threshold, oldest first
func (r *SubscriptionRepository) ListDueForRenewal(ctx context.Context, olderThan time.Time) ([]models.Subscription, error) {
	ctx, span := tracing.StartSpan(ctx, "SubscriptionRepository.ListDueForRenewal")
	defer span.End()

	sb := subscriptionStruct.SelectFrom(subscriptionsTable)
	sb.Where(sb.Equal("active", true), sb.LessThan("last_ping_at", olderThan))
	sb.OrderBy("last_ping_at ASC")

	query, args := sb.Build()
	var subscriptions []models.Subscription
	err := r.DB().SelectContext(ctx, &subscriptions, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list subscriptions due for renewal")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list subscriptions due for renewal")
	}

	return subscriptions, nil
}

// MarkRenewed records a successful renewal: error count resets and the
// renewal clock restarts from now
func (r *SubscriptionRepository) MarkRenewed(ctx context.Context, id uuid.UUID, expiresAt *time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "SubscriptionRepository.MarkRenewed")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(subscriptionsTable).
		Set(
			ub.Assign("last_ping_at", sqlbuilder.Raw("NOW()")),
			ub.Assign("expires_at", expiresAt),
			ub.Assign("error_count", 0),
			ub.Assign("last_error", nil),
			ub.Assign("last_error_at", nil),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subscription_id": id,
		}).Error("failed to mark subscription renewed")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark subscription renewed")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark subscription renewed")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "subscription %s does not exist", id)
	}

	return nil
}

// MarkRenewalFailed increments the consecutive failure count and retires
// the subscription once the count reaches maxFailures. Returns the updated
// subscription so the caller can see whether this strike retired it.
func (r *SubscriptionRepository) MarkRenewalFailed(ctx context.Context, id uuid.UUID, cause string, maxFailures int) (*models.Subscription, error) {
	ctx, span := tracing.StartSpan(ctx, "SubscriptionRepository.MarkRenewalFailed")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(subscriptionsTable).
		Set(
			ub.Assign("error_count", sqlbuilder.Raw("error_count + 1")),
			ub.Assign("last_error", cause),
			ub.Assign("last_error_at", sqlbuilder.Raw("NOW()")),
			ub.Assign("active", sqlbuilder.Raw(ub.Var(maxFailures)+" > error_count + 1")),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id))
	ub.SQL("RETURNING error_count, active")

	query, args := ub.Build()
	var errorCount int
	var active bool
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&errorCount, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "subscription %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subscription_id": id,
		}).Error("failed to mark renewal failed")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark renewal failed")
	}

	return &models.Subscription{ID: id, ErrorCount: errorCount, Active: active, LastError: &cause}, nil
}

// Deactivate retires a subscription unconditionally
func (r *SubscriptionRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "SubscriptionRepository.Deactivate")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(subscriptionsTable).
		Set(
			ub.Assign("active", false),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id))

	query, args := ub.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subscription_id": id,
		}).Error("failed to deactivate subscription")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to deactivate subscription")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to deactivate subscription")
	}
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "subscription %s does not exist", id)
	}

	return nil
}

// UpdateCursor stores the latest notification cursor. Last write wins.
func (r *SubscriptionRepository) UpdateCursor(ctx context.Context, id uuid.UUID, cursor int) error {
	ctx, span := tracing.StartSpan(ctx, "SubscriptionRepository.UpdateCursor")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(subscriptionsTable).
		Set(
			ub.Assign("notification_cursor", cursor),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id))

	query, args := ub.Build()
	_, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subscription_id": id,
		}).Error("failed to update subscription cursor")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update subscription cursor")
	}

	return nil
}

// StampNotification records that a notification arrived for the subscription
func (r *SubscriptionRepository) StampNotification(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "SubscriptionRepository.StampNotification")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(subscriptionsTable).
		Set(
			ub.Assign("last_notification_at", at),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", id))

	query, args := ub.Build()
	_, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subscription_id": id,
		}).Error("failed to stamp subscription notification")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to stamp subscription notification")
	}

	return nil
}
