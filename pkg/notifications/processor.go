// Package notifications processes inbound change notifications from the
// external service and applies them to the local submission mirror.
package notifications

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	// notifyLockTTL bounds how long one notification can hold a
	// subscription's processing slot
	notifyLockTTL = 30 * time.Second

	// notifyLockWait is how long a notification waits for an earlier
	// one on the same subscription to finish
	notifyLockWait = 10 * time.Second
)

// Payload is the notification body the external service delivers.
type Payload struct {
	Base struct {
		ID string `json:"id"`
	} `json:"base"`
	Webhook struct {
		ID string `json:"id"`
	} `json:"webhook"`
	Timestamp         time.Time               `json:"timestamp"`
	Cursor            *int                    `json:"cursor,omitempty"`
	ChangedTablesByID map[string]TableChanges `json:"changedTablesById,omitempty"`
}

// TableChanges describes the record changes within one table.
type TableChanges struct {
	ChangedRecordsByID map[string]json.RawMessage `json:"changedRecordsById,omitempty"`
	CreatedRecordsByID map[string]json.RawMessage `json:"createdRecordsById,omitempty"`
	DestroyedRecordIDs []string                   `json:"destroyedRecordIds,omitempty"`
}

type eventPublisher interface {
	Publish(ctx context.Context, evt *events.Event) error
}

// locker serializes processing per subscription.
type locker interface {
	WithTryLock(ctx context.Context, key string, ttl time.Duration, timeout time.Duration, fn func() error) error
}

// Processor applies change notifications to the local mirror. Processing
// never surfaces an error to the sender: the delivery is always
// acknowledged, because the external service retries non-2xx responses and
// a poison payload would be redelivered forever.
type Processor struct {
	subscriptions repositories.SubscriptionRepo
	records       repositories.SubmissionRepo
	producer      eventPublisher
	locks         locker
	logger        ectologger.Logger
	clock         func() time.Time
}

// NewProcessor creates a new notification processor.
func NewProcessor(
	subscriptions repositories.SubscriptionRepo,
	records repositories.SubmissionRepo,
	producer eventPublisher,
	locks locker,
	logger ectologger.Logger,
) *Processor {
	return &Processor{
		subscriptions: subscriptions,
		records:       records,
		producer:      producer,
		locks:         locks,
		logger:        logger,
		clock:         time.Now,
	}
}

// Process handles one notification delivery. body is the raw request body
// and signature the MAC header value. The return value is informational
// only; the HTTP layer acknowledges the delivery regardless.
func (p *Processor) Process(ctx context.Context, body []byte, signature string) error {
	ctx, span := tracing.StartSpan(ctx, "Notifications.Process")
	defer span.End()

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("dropping unparseable notification")
		metrics.RecordNotification("unparseable")
		return nil
	}

	subscription, err := p.subscriptions.GetByExternalID(ctx, payload.Webhook.ID)
	if err != nil {
		// A notification for a webhook we no longer track, usually one
		// that raced its own deletion. Nothing to apply it to.
		if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound {
			p.logger.WithContext(ctx).WithFields(map[string]any{
				"webhook_id": payload.Webhook.ID,
			}).Info("dropping notification for unknown subscription")
			metrics.RecordNotification("unknown_subscription")
			return nil
		}
		metrics.RecordNotification("error")
		return err
	}

	if !verifySignature(subscription.MACSecret, body, signature) {
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"subscription_id": subscription.ID,
		}).Warn("dropping notification with invalid signature")
		metrics.RecordNotification("invalid_signature")
		return nil
	}

	// Notifications for the same subscription are applied one at a time
	// so cursor updates and record stamps from overlapping deliveries
	// cannot interleave.
	lockKey := "notify:" + subscription.ID.String()
	err = p.locks.WithTryLock(ctx, lockKey, notifyLockTTL, notifyLockWait, func() error {
		p.apply(ctx, subscription, &payload)
		return nil
	})
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subscription_id": subscription.ID,
		}).Warn("failed to serialize notification processing")
		metrics.RecordNotification("lock_failed")
		return nil
	}

	metrics.RecordNotification("processed")
	return nil
}

// apply updates the subscription bookkeeping and the affected records. A
// failure on one record is logged and counted, never allowed to block the
// rest of the batch.
func (p *Processor) apply(ctx context.Context, subscription *models.Subscription, payload *Payload) {
	now := p.clock().UTC()

	// The last-notification stamp carries the sender's timestamp, not our
	// wall clock: it records when the external service sent the delivery,
	// which may predate processing by the retry backoff.
	pingedAt := payload.Timestamp.UTC()
	if payload.Timestamp.IsZero() {
		pingedAt = now
	}
	if err := p.subscriptions.StampNotification(ctx, subscription.ID, pingedAt); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"subscription_id": subscription.ID,
		}).Error("failed to stamp notification")
	}

	if payload.Cursor != nil {
		if err := p.subscriptions.UpdateCursor(ctx, subscription.ID, *payload.Cursor); err != nil {
			p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"subscription_id": subscription.ID,
			}).Error("failed to update cursor")
		}
	}

	for tableID, changes := range payload.ChangedTablesByID {
		if tableID != subscription.TableID {
			// The webhook is scoped to one table; changes reported for
			// any other table have no submissions behind them.
			p.logger.WithContext(ctx).WithFields(map[string]any{
				"subscription_id": subscription.ID,
				"table_id":        tableID,
			}).Debug("skipping changes for a table outside the subscription")
			continue
		}
		for recordID := range changes.ChangedRecordsByID {
			p.applyChanged(ctx, recordID, now)
		}
		for _, recordID := range changes.DestroyedRecordIDs {
			p.applyDestroyed(ctx, recordID, now)
		}
		if created := len(changes.CreatedRecordsByID); created > 0 {
			// Records created directly in the external table have no
			// local submission to mirror. Counted for visibility only.
			metrics.NotificationRecordsTotal.WithLabelValues("created", "ignored").Add(float64(created))
			p.logger.WithContext(ctx).WithFields(map[string]any{
				"table_id": tableID,
				"count":    created,
			}).Info("external table gained records outside the form")
		}
	}
}

func (p *Processor) applyChanged(ctx context.Context, recordID string, now time.Time) {
	record, err := p.records.GetByExternalRecordID(ctx, recordID)
	if err == nil {
		err = p.records.StampSynced(ctx, recordID, now)
	}
	switch {
	case err == nil:
		metrics.NotificationRecordsTotal.WithLabelValues("changed", "stamped").Inc()
		// Freshness stamp only; field values are not re-mapped back into
		// the answer map. Consumers that care can refetch.
		if err := p.producer.Publish(ctx, &events.Event{
			Type:     events.TypeSubmissionSynced,
			FormID:   record.FormID.String(),
			RecordID: recordID,
		}); err != nil {
			p.logger.WithContext(ctx).WithError(err).Warn("failed to publish sync event")
		}
	case httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound:
		metrics.NotificationRecordsTotal.WithLabelValues("changed", "unknown").Inc()
		p.logger.WithContext(ctx).WithFields(map[string]any{
			"external_record_id": recordID,
		}).Debug("change for a record with no local mirror")
	default:
		metrics.NotificationRecordsTotal.WithLabelValues("changed", "error").Inc()
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_record_id": recordID,
		}).Error("failed to stamp changed record")
	}
}

func (p *Processor) applyDestroyed(ctx context.Context, recordID string, now time.Time) {
	record, err := p.records.GetByExternalRecordID(ctx, recordID)
	if err != nil {
		if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound {
			metrics.NotificationRecordsTotal.WithLabelValues("destroyed", "unknown").Inc()
			return
		}
		metrics.NotificationRecordsTotal.WithLabelValues("destroyed", "error").Inc()
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_record_id": recordID,
		}).Error("failed to load destroyed record")
		return
	}

	alreadyDeleted := record.DeletedExternally

	if err := p.records.MarkDeletedExternally(ctx, recordID, now); err != nil {
		metrics.NotificationRecordsTotal.WithLabelValues("destroyed", "error").Inc()
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_record_id": recordID,
		}).Error("failed to mark record deleted externally")
		return
	}

	metrics.NotificationRecordsTotal.WithLabelValues("destroyed", "marked").Inc()

	// Replayed destroy notifications re-stamp the row but publish once.
	if !alreadyDeleted {
		if err := p.producer.Publish(ctx, &events.Event{
			Type:     events.TypeSubmissionDeletedExternally,
			FormID:   record.FormID.String(),
			RecordID: recordID,
		}); err != nil {
			p.logger.WithContext(ctx).WithError(err).Warn("failed to publish deletion event")
		}
	}
}

// verifySignature checks the HMAC-SHA256 of the raw body against the
// base64 secret issued at webhook creation. The header carries the digest
// as "hmac-sha256=<hex>".
func verifySignature(macSecret string, body []byte, signature string) bool {
	secret, err := base64.StdEncoding.DecodeString(macSecret)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := "hmac-sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}
