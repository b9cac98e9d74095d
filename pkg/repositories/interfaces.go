package repositories

import (
	"context"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/google/uuid"
)

// CredentialRepo stores delegated OAuth credentials.
type CredentialRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Credential, error)
	GetByExternalAccountID(ctx context.Context, externalAccountID string) (*models.Credential, error)
	Upsert(ctx context.Context, credential *models.Credential) error
	UpdateTokens(ctx context.Context, credential *models.Credential) error
}

// FormRepo stores form definitions.
type FormRepo interface {
	Create(ctx context.Context, form *models.Form) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Form, error)
	GetOwned(ctx context.Context, id uuid.UUID) (*models.Form, error)
	List(ctx context.Context) ([]models.Form, error)
	Update(ctx context.Context, form *models.Form) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// SubmissionRepo stores the local mirror of external records.
type SubmissionRepo interface {
	Create(ctx context.Context, record *models.SubmissionRecord) error
	GetByExternalRecordID(ctx context.Context, externalRecordID string) (*models.SubmissionRecord, error)
	ListByForm(ctx context.Context, formID uuid.UUID) ([]models.SubmissionRecord, error)
	StampSynced(ctx context.Context, externalRecordID string, at time.Time) error
	MarkDeletedExternally(ctx context.Context, externalRecordID string, at time.Time) error
}

// SubscriptionRepo stores webhook subscriptions.
type SubscriptionRepo interface {
	Create(ctx context.Context, subscription *models.Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)
	GetActiveByForm(ctx context.Context, formID uuid.UUID) (*models.Subscription, error)
	ListDueForRenewal(ctx context.Context, olderThan time.Time) ([]models.Subscription, error)
	MarkRenewed(ctx context.Context, id uuid.UUID, expiresAt *time.Time) error
	MarkRenewalFailed(ctx context.Context, id uuid.UUID, cause string, maxFailures int) (*models.Subscription, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	UpdateCursor(ctx context.Context, id uuid.UUID, cursor int) error
	StampNotification(ctx context.Context, id uuid.UUID, at time.Time) error
}
