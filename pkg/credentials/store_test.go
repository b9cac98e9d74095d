package credentials

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/airtable"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeCredentialRepo struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*models.Credential
	upserts int
}

func newFakeCredentialRepo(credentials ...*models.Credential) *fakeCredentialRepo {
	byID := map[uuid.UUID]*models.Credential{}
	for _, c := range credentials {
		byID[c.ID] = c
	}
	return &fakeCredentialRepo{byID: byID}
}

func (f *fakeCredentialRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.byID[id]; ok {
		copied := *c
		return &copied, nil
	}
	return nil, repositories.NotFound("credential %s does not exist", id)
}

func (f *fakeCredentialRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.byID {
		if c.UserID == userID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, repositories.NotFound("no credential for user %s", userID)
}

func (f *fakeCredentialRepo) GetByExternalAccountID(ctx context.Context, externalAccountID string) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.byID {
		if c.ExternalAccountID == externalAccountID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, repositories.NotFound("no credential for account %s", externalAccountID)
}

func (f *fakeCredentialRepo) Upsert(ctx context.Context, credential *models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	for _, existing := range f.byID {
		if existing.ExternalAccountID == credential.ExternalAccountID {
			credential.ID = existing.ID
			if credential.Email == "" {
				credential.Email = existing.Email
			}
			if credential.DisplayName == "" {
				credential.DisplayName = existing.DisplayName
			}
			copied := *credential
			f.byID[existing.ID] = &copied
			return nil
		}
	}
	credential.ID = uuid.New()
	copied := *credential
	f.byID[credential.ID] = &copied
	return nil
}

func (f *fakeCredentialRepo) UpdateTokens(ctx context.Context, credential *models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *credential
	f.byID[credential.ID] = &copied
	return nil
}

type fakeExchanger struct {
	calls    atomic.Int64
	delay    time.Duration
	response *airtable.TokenResponse
	err      error
}

func (f *fakeExchanger) ExchangeRefreshToken(ctx context.Context, refreshToken string) (*airtable.TokenResponse, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.response, f.err
}

func expiredCredential() *models.Credential {
	refresh := "refresh-1"
	return &models.Credential{
		ID:                uuid.New(),
		UserID:            uuid.New(),
		ExternalAccountID: "usrAda",
		AccessToken:       "stale",
		RefreshToken:      &refresh,
		ExpiresAt:         time.Now().Add(-time.Hour),
	}
}

func TestValidToken_FreshTokenNotRefreshed(t *testing.T) {
	credential := expiredCredential()
	credential.AccessToken = "fresh"
	credential.ExpiresAt = time.Now().Add(time.Hour)

	exchanger := &fakeExchanger{}
	store := NewStore(newFakeCredentialRepo(credential), exchanger, testLogger())

	token, err := store.ValidToken(context.Background(), credential)
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Zero(t, exchanger.calls.Load())
}

func TestValidToken_ExpiredTokenRefreshed(t *testing.T) {
	credential := expiredCredential()
	repo := newFakeCredentialRepo(credential)
	exchanger := &fakeExchanger{response: &airtable.TokenResponse{
		AccessToken:  "minty",
		RefreshToken: "refresh-2",
		ExpiresIn:    3600,
	}}
	store := NewStore(repo, exchanger, testLogger())

	token, err := store.ValidToken(context.Background(), credential)
	require.NoError(t, err)
	assert.Equal(t, "minty", token)

	// The rotated refresh token must be persisted or the next refresh
	// would replay a consumed grant.
	persisted, err := repo.GetByID(context.Background(), credential.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted.RefreshToken)
	assert.Equal(t, "refresh-2", *persisted.RefreshToken)
	assert.Equal(t, "minty", persisted.AccessToken)
}

func TestRefresh_MissingRefreshToken(t *testing.T) {
	credential := expiredCredential()
	credential.RefreshToken = nil

	store := NewStore(newFakeCredentialRepo(credential), &fakeExchanger{}, testLogger())

	_, err := store.Refresh(context.Background(), credential)
	assert.ErrorIs(t, err, ErrAuthExpired)
}

func TestRefresh_RejectedExchange(t *testing.T) {
	credential := expiredCredential()
	exchanger := &fakeExchanger{err: airtable.ErrUnauthorized}
	store := NewStore(newFakeCredentialRepo(credential), exchanger, testLogger())

	_, err := store.Refresh(context.Background(), credential)
	assert.ErrorIs(t, err, ErrAuthExpired)
	assert.Equal(t, int64(1), exchanger.calls.Load(), "a dead grant is not retried")
}

func TestRefresh_ConcurrentCallersShareOneExchange(t *testing.T) {
	credential := expiredCredential()
	exchanger := &fakeExchanger{
		delay: 50 * time.Millisecond,
		response: &airtable.TokenResponse{
			AccessToken:  "shared",
			RefreshToken: "refresh-2",
			ExpiresIn:    3600,
		},
	}
	store := NewStore(newFakeCredentialRepo(credential), exchanger, testLogger())

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*models.Credential, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = store.Refresh(context.Background(), credential)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), exchanger.calls.Load(), "the refresh grant is single-use upstream")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", results[i].AccessToken)
	}
}

func TestUpsertFromAuthorization_ReconnectKeepsIdentity(t *testing.T) {
	repo := newFakeCredentialRepo()
	store := NewStore(repo, &fakeExchanger{}, testLogger())
	userID := uuid.New()

	first, err := store.UpsertFromAuthorization(context.Background(), userID,
		&airtable.Profile{ID: "usrAda", Email: "ada@example.com", Name: "Ada"},
		&airtable.TokenResponse{AccessToken: "one", RefreshToken: "r1", ExpiresIn: 3600, Scope: "data.records:write schema.bases:read"})
	require.NoError(t, err)
	assert.Equal(t, []string{"data.records:write", "schema.bases:read"}, first.Scopes.Data)

	// Reconnecting the same account with a sparse profile keeps the
	// stored identity fields and replaces the tokens.
	second, err := store.UpsertFromAuthorization(context.Background(), userID,
		&airtable.Profile{ID: "usrAda"},
		&airtable.TokenResponse{AccessToken: "two", RefreshToken: "r2", ExpiresIn: 3600})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "same account never creates a second credential")

	persisted, err := repo.GetByID(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, "two", persisted.AccessToken)
	assert.Equal(t, "ada@example.com", persisted.Email)
	assert.Equal(t, "Ada", persisted.DisplayName)
}
