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

const credentialsTable = "credentials"

var credentialStruct = database.NewStruct(new(models.Credential))

// CredentialRepository handles database operations for OAuth credentials
type CredentialRepository struct {
	*Repository
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db database.DB, logger ectologger.Logger) *CredentialRepository {
	return &CredentialRepository{
		Repository: NewRepository(db, logger),
	}
}

// GetByID retrieves a credential by ID
func (r *CredentialRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialRepository.GetByID")
	defer span.End()

	sb := credentialStruct.SelectFrom(credentialsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var credential models.Credential
	err := r.DB().GetContext(ctx, &credential, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "credential %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"credential_id": id,
		}).Error("failed to get credential by ID")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get credential by ID")
	}

	return &credential, nil
}

// GetByUserID retrieves the credential connected by a user
func (r *CredentialRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Credential, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialRepository.GetByUserID")
	defer span.End()

	sb := credentialStruct.SelectFrom(credentialsTable)
	sb.Where(sb.Equal("user_id", userID))
	sb.OrderBy("updated_at DESC").Limit(1)

	query, args := sb.Build()
	var credential models.Credential
	err := r.DB().GetContext(ctx, &credential, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "no credential connected for user %s", userID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"user_id": userID,
		}).Error("failed to get credential by user")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get credential by user")
	}

	return &credential, nil
}

// GetByExternalAccountID retrieves a credential by the external account id
func (r *CredentialRepository) GetByExternalAccountID(ctx context.Context, externalAccountID string) (*models.Credential, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialRepository.GetByExternalAccountID")
	defer span.End()

	sb := credentialStruct.SelectFrom(credentialsTable)
	sb.Where(sb.Equal("external_account_id", externalAccountID))

	query, args := sb.Build()
	var credential models.Credential
	err := r.DB().GetContext(ctx, &credential, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "credential for account %s does not exist", externalAccountID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_account_id": externalAccountID,
		}).Error("failed to get credential by external account")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get credential by external account")
	}

	return &credential, nil
}

// Upsert inserts the credential or, when a row for the external account
// already exists, replaces its tokens. Identity fields (email, display
// name) are only overwritten when the new value is non-empty.
func (r *CredentialRepository) Upsert(ctx context.Context, credential *models.Credential) error {
	ctx, span := tracing.StartSpan(ctx, "CredentialRepository.Upsert")
	defer span.End()

	if credential.ID == uuid.Nil {
		credential.ID = uuid.New()
	}

	ib := database.NewInsertBuilder()
	ib = ib.InsertInto(credentialsTable).
		Cols("id", "user_id", "external_account_id", "email", "display_name",
			"access_token", "refresh_token", "expires_at", "scopes", "created_at", "updated_at").
		Values(credential.ID, credential.UserID, credential.ExternalAccountID, credential.Email, credential.DisplayName,
			credential.AccessToken, credential.RefreshToken, credential.ExpiresAt, credential.Scopes,
			sqlbuilder.Raw("NOW()"), sqlbuilder.Raw("NOW()"))

	ub := ib.OnConflict("external_account_id")
	ub.Set(
		ub.Assign("access_token", database.Excluded("access_token")),
		ub.Assign("refresh_token", database.Excluded("refresh_token")),
		ub.Assign("expires_at", database.Excluded("expires_at")),
		ub.Assign("scopes", database.Excluded("scopes")),
		ub.Assign("email", sqlbuilder.Raw("COALESCE(NULLIF(EXCLUDED.email, ''), credentials.email)")),
		ub.Assign("display_name", sqlbuilder.Raw("COALESCE(NULLIF(EXCLUDED.display_name, ''), credentials.display_name)")),
		ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
	)
	ib.SQL("RETURNING id, created_at, updated_at")

	query, args := ib.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&credential.ID, &credential.CreatedAt, &credential.UpdatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"external_account_id": credential.ExternalAccountID,
		}).Error("failed to upsert credential")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert credential")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"credential_id":       credential.ID,
		"external_account_id": credential.ExternalAccountID,
	}).Debugf("Upserted %s", credentialsTable)
	return nil
}

// UpdateTokens persists the result of a token refresh
func (r *CredentialRepository) UpdateTokens(ctx context.Context, credential *models.Credential) error {
	ctx, span := tracing.StartSpan(ctx, "CredentialRepository.UpdateTokens")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(credentialsTable).
		Set(
			ub.Assign("access_token", credential.AccessToken),
			ub.Assign("refresh_token", credential.RefreshToken),
			ub.Assign("expires_at", credential.ExpiresAt),
			ub.Assign("updated_at", sqlbuilder.Raw("NOW()")),
		).
		Where(ub.Equal("id", credential.ID))
	ub.SQL("RETURNING updated_at")

	query, args := ub.Build()
	err := r.DB().QueryRowContext(ctx, query, args...).Scan(&credential.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "credential %s does not exist", credential.ID)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"credential_id": credential.ID,
		}).Error("failed to update credential tokens")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update credential tokens")
	}

	return nil
}
