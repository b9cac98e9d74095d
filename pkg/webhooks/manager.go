// Package webhooks manages the lifecycle of change-notification
// subscriptions on external tables.
package webhooks

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/airtable"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// MaxRenewalFailures is the consecutive-failure count at which a
// subscription is retired instead of retried forever.
const MaxRenewalFailures = 3

// webhookClient is the part of the external client the manager needs.
type webhookClient interface {
	CreateWebhook(ctx context.Context, accessToken string, baseID string, tableID string, notificationURL string) (*airtable.Webhook, error)
	RefreshWebhook(ctx context.Context, accessToken string, baseID string, webhookID string) (*time.Time, error)
	DeleteWebhook(ctx context.Context, accessToken string, baseID string, webhookID string) error
}

// tokenSource yields a usable access token for a form owner's credential.
type tokenSource interface {
	GetByUser(ctx context.Context, userID uuid.UUID) (*models.Credential, error)
	ValidToken(ctx context.Context, credential *models.Credential) (string, error)
}

type eventPublisher interface {
	Publish(ctx context.Context, evt *events.Event) error
}

// Manager registers, renews and unregisters webhook subscriptions.
type Manager struct {
	subscriptions   repositories.SubscriptionRepo
	forms           repositories.FormRepo
	credentials     tokenSource
	client          webhookClient
	producer        eventPublisher
	logger          ectologger.Logger
	notificationURL string
}

// NewManager creates a new subscription manager. notificationURL is the
// public endpoint the external service delivers notifications to.
func NewManager(
	subscriptions repositories.SubscriptionRepo,
	forms repositories.FormRepo,
	creds tokenSource,
	client webhookClient,
	producer eventPublisher,
	notificationURL string,
	logger ectologger.Logger,
) *Manager {
	return &Manager{
		subscriptions:   subscriptions,
		forms:           forms,
		credentials:     creds,
		client:          client,
		producer:        producer,
		logger:          logger,
		notificationURL: notificationURL,
	}
}

// Register creates a webhook on the form's external table and stores the
// subscription. Registering a form that already has an active subscription
// returns the existing one instead of creating a duplicate.
func (m *Manager) Register(ctx context.Context, formID uuid.UUID) (*models.Subscription, error) {
	ctx, span := tracing.StartSpan(ctx, "Webhooks.Register")
	defer span.End()

	existing, err := m.subscriptions.GetActiveByForm(ctx, formID)
	if err == nil {
		m.logger.WithContext(ctx).WithFields(map[string]any{
			"form_id":         formID,
			"subscription_id": existing.ID,
		}).Debug("form already has an active subscription")
		return existing, nil
	}
	if !isNotFound(err) {
		return nil, err
	}

	form, err := m.forms.GetOwned(ctx, formID)
	if err != nil {
		return nil, err
	}

	token, err := m.ownerToken(ctx, form.OwnerID)
	if err != nil {
		return nil, err
	}

	webhook, err := m.client.CreateWebhook(ctx, token, form.BaseID, form.TableID, m.notificationURL)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"form_id": formID,
		}).Error("failed to create webhook")
		return nil, httperror.NewHTTPError(http.StatusBadGateway, "failed to register the change subscription")
	}

	subscription := &models.Subscription{
		FormID:     formID,
		ExternalID: webhook.ID,
		BaseID:     form.BaseID,
		TableID:    form.TableID,
		MACSecret:  webhook.MACSecretBase64,
		Active:     true,
		LastPingAt: time.Now().UTC(),
		ExpiresAt:  webhook.ExpiresAt(),
	}
	if err := m.subscriptions.Create(ctx, subscription); err != nil {
		return nil, err
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"form_id":         formID,
		"subscription_id": subscription.ID,
		"external_id":     subscription.ExternalID,
	}).Info("subscription registered")

	return subscription, nil
}

// Renew extends the webhook's lifetime upstream. Success resets the
// failure count and restarts the renewal clock. A failure counts one
// strike; the third consecutive strike retires the subscription.
func (m *Manager) Renew(ctx context.Context, subscription *models.Subscription) error {
	ctx, span := tracing.StartSpan(ctx, "Webhooks.Renew")
	defer span.End()

	form, err := m.forms.GetByID(ctx, subscription.FormID)
	if err != nil {
		return m.recordFailure(ctx, subscription, err)
	}

	token, err := m.ownerToken(ctx, form.OwnerID)
	if err != nil {
		return m.recordFailure(ctx, subscription, err)
	}

	expiresAt, err := m.client.RefreshWebhook(ctx, token, subscription.BaseID, subscription.ExternalID)
	if err != nil {
		return m.recordFailure(ctx, subscription, err)
	}

	if err := m.subscriptions.MarkRenewed(ctx, subscription.ID, expiresAt); err != nil {
		return err
	}

	metrics.RecordRenewal("success")
	m.logger.WithContext(ctx).WithFields(map[string]any{
		"subscription_id": subscription.ID,
	}).Debug("subscription renewed")

	return nil
}

// Unregister deletes the webhook upstream on a best-effort basis and
// deactivates the subscription locally regardless of the remote outcome.
func (m *Manager) Unregister(ctx context.Context, formID uuid.UUID) error {
	ctx, span := tracing.StartSpan(ctx, "Webhooks.Unregister")
	defer span.End()

	subscription, err := m.subscriptions.GetActiveByForm(ctx, formID)
	if err != nil {
		return err
	}

	form, err := m.forms.GetOwned(ctx, formID)
	if err != nil {
		return err
	}

	token, err := m.ownerToken(ctx, form.OwnerID)
	if err == nil {
		err = m.client.DeleteWebhook(ctx, token, subscription.BaseID, subscription.ExternalID)
	}
	if err != nil {
		// The local record is retired either way; an orphaned remote
		// webhook expires on its own once it stops being renewed.
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subscription_id": subscription.ID,
			"external_id":     subscription.ExternalID,
		}).Warn("failed to delete remote webhook, deactivating locally anyway")
	}

	if err := m.subscriptions.Deactivate(ctx, subscription.ID); err != nil {
		return err
	}

	m.logger.WithContext(ctx).WithFields(map[string]any{
		"form_id":         formID,
		"subscription_id": subscription.ID,
	}).Info("subscription unregistered")

	return nil
}

func (m *Manager) ownerToken(ctx context.Context, ownerID uuid.UUID) (string, error) {
	credential, err := m.credentials.GetByUser(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return m.credentials.ValidToken(ctx, credential)
}

func (m *Manager) recordFailure(ctx context.Context, subscription *models.Subscription, cause error) error {
	metrics.RecordRenewal("failure")

	updated, err := m.subscriptions.MarkRenewalFailed(ctx, subscription.ID, cause.Error(), MaxRenewalFailures)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subscription_id": subscription.ID,
		}).Error("failed to record renewal failure")
		return cause
	}

	if !updated.Active {
		metrics.SubscriptionsRetired.Inc()
		m.logger.WithContext(ctx).WithError(cause).WithFields(map[string]any{
			"subscription_id": subscription.ID,
			"error_count":     updated.ErrorCount,
		}).Warn("subscription retired after repeated renewal failures")

		if err := m.producer.Publish(ctx, &events.Event{
			Type:   events.TypeSubscriptionRetired,
			FormID: subscription.FormID.String(),
			Data: map[string]any{
				"subscription_id": subscription.ID.String(),
				"error_count":     updated.ErrorCount,
				"last_error":      cause.Error(),
			},
		}); err != nil {
			m.logger.WithContext(ctx).WithError(err).Warn("failed to publish subscription retired event")
		}
	} else {
		m.logger.WithContext(ctx).WithError(cause).WithFields(map[string]any{
			"subscription_id": subscription.ID,
			"error_count":     updated.ErrorCount,
		}).Warn("subscription renewal failed")
	}

	return cause
}

func isNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}
