// Package credentials manages the delegated OAuth grant used to act
// against the external service on behalf of a connected account.
package credentials

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/pkg/airtable"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var (
	// ErrAuthExpired is returned when the grant is dead: the refresh
	// exchange was rejected or there is no refresh token to exchange.
	// Recovery requires the user to go through authorization again.
	ErrAuthExpired = errors.New("authorization expired, reconnect required")
)

// tokenExchanger is the part of the external client the store needs.
type tokenExchanger interface {
	ExchangeRefreshToken(ctx context.Context, refreshToken string) (*airtable.TokenResponse, error)
}

// refreshCall tracks one in-flight refresh so concurrent callers for the
// same credential share a single upstream exchange.
type refreshCall struct {
	done chan struct{}
	cred *models.Credential
	err  error
}

// Store provides access to credentials and keeps their access tokens fresh.
type Store struct {
	repo   repositories.CredentialRepo
	oauth  tokenExchanger
	logger ectologger.Logger
	clock  func() time.Time

	mu       sync.Mutex
	inflight map[uuid.UUID]*refreshCall
}

// NewStore creates a new credential store.
func NewStore(repo repositories.CredentialRepo, oauth tokenExchanger, logger ectologger.Logger) *Store {
	return &Store{
		repo:     repo,
		oauth:    oauth,
		logger:   logger,
		clock:    time.Now,
		inflight: make(map[uuid.UUID]*refreshCall),
	}
}

// Get returns the credential by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByUser returns the credential connected by the given user.
func (s *Store) GetByUser(ctx context.Context, userID uuid.UUID) (*models.Credential, error) {
	return s.repo.GetByUserID(ctx, userID)
}

// UpsertFromAuthorization stores the result of a completed authorization
// code exchange. Keyed by external account id: re-connecting the same
// account replaces the tokens instead of creating a second credential.
// Profile fields only overwrite existing values when non-empty.
func (s *Store) UpsertFromAuthorization(ctx context.Context, userID uuid.UUID, profile *airtable.Profile, token *airtable.TokenResponse) (*models.Credential, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialStore.UpsertFromAuthorization")
	defer span.End()

	var refreshToken *string
	if token.RefreshToken != "" {
		rt := token.RefreshToken
		refreshToken = &rt
	}

	credential := &models.Credential{
		UserID:            userID,
		ExternalAccountID: profile.ID,
		Email:             profile.Email,
		DisplayName:       profile.Name,
		AccessToken:       token.AccessToken,
		RefreshToken:      refreshToken,
		ExpiresAt:         token.ExpiresAt(s.clock()),
	}
	credential.Scopes.Data = splitScopes(token.Scope)

	if err := s.repo.Upsert(ctx, credential); err != nil {
		return nil, err
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"credential_id":       credential.ID,
		"external_account_id": credential.ExternalAccountID,
	}).Info("credential connected")

	return credential, nil
}

// ValidToken returns an access token for the credential, refreshing it
// first when expired.
func (s *Store) ValidToken(ctx context.Context, credential *models.Credential) (string, error) {
	if !credential.IsExpired(s.clock()) {
		return credential.AccessToken, nil
	}

	refreshed, err := s.Refresh(ctx, credential)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh exchanges the refresh token for a new token pair and persists
// it. Concurrent calls for the same credential share one exchange: the
// refresh grant is single-use upstream, so racing exchanges would kill
// the grant. A failed exchange is not retried here; it surfaces as
// ErrAuthExpired and the user has to reconnect.
func (s *Store) Refresh(ctx context.Context, credential *models.Credential) (*models.Credential, error) {
	ctx, span := tracing.StartSpan(ctx, "CredentialStore.Refresh")
	defer span.End()

	s.mu.Lock()
	if call, ok := s.inflight[credential.ID]; ok {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.cred, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	s.inflight[credential.ID] = call
	s.mu.Unlock()

	call.cred, call.err = s.refresh(ctx, credential)
	close(call.done)

	s.mu.Lock()
	delete(s.inflight, credential.ID)
	s.mu.Unlock()

	return call.cred, call.err
}

func (s *Store) refresh(ctx context.Context, credential *models.Credential) (*models.Credential, error) {
	if credential.RefreshToken == nil || *credential.RefreshToken == "" {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"credential_id": credential.ID,
		}).Warn("credential has no refresh token")
		metrics.RecordTokenRefresh("no_refresh_token")
		return nil, ErrAuthExpired
	}

	token, err := s.oauth.ExchangeRefreshToken(ctx, *credential.RefreshToken)
	if err != nil {
		if errors.Is(err, airtable.ErrUnauthorized) {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"credential_id": credential.ID,
			}).Warn("refresh token rejected")
			metrics.RecordTokenRefresh("rejected")
			return nil, ErrAuthExpired
		}
		metrics.RecordTokenRefresh("error")
		return nil, err
	}

	updated := *credential
	updated.AccessToken = token.AccessToken
	updated.ExpiresAt = token.ExpiresAt(s.clock())
	if token.RefreshToken != "" {
		rt := token.RefreshToken
		updated.RefreshToken = &rt
	}

	if err := s.repo.UpdateTokens(ctx, &updated); err != nil {
		metrics.RecordTokenRefresh("persist_failed")
		return nil, err
	}

	metrics.RecordTokenRefresh("success")
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"credential_id": credential.ID,
	}).Debug("credential refreshed")

	return &updated, nil
}

func splitScopes(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}
