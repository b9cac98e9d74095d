package webhooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/airtable"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeSubscriptionRepo struct {
	active        *models.Subscription
	created       *models.Subscription
	renewed       []uuid.UUID
	deactivated   []uuid.UUID
	failureCounts map[uuid.UUID]int
	due           []models.Subscription
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{failureCounts: map[uuid.UUID]int{}}
}

func (f *fakeSubscriptionRepo) Create(ctx context.Context, s *models.Subscription) error {
	s.ID = uuid.New()
	f.created = s
	f.active = s
	return nil
}

func (f *fakeSubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return nil, repositories.NotFound("subscription %s does not exist", id)
}

func (f *fakeSubscriptionRepo) GetByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	return nil, repositories.NotFound("subscription %s does not exist", externalID)
}

func (f *fakeSubscriptionRepo) GetActiveByForm(ctx context.Context, formID uuid.UUID) (*models.Subscription, error) {
	if f.active != nil {
		return f.active, nil
	}
	return nil, repositories.NotFound("no active subscription for form %s", formID)
}

func (f *fakeSubscriptionRepo) ListDueForRenewal(ctx context.Context, olderThan time.Time) ([]models.Subscription, error) {
	return f.due, nil
}

func (f *fakeSubscriptionRepo) MarkRenewed(ctx context.Context, id uuid.UUID, expiresAt *time.Time) error {
	f.renewed = append(f.renewed, id)
	f.failureCounts[id] = 0
	return nil
}

func (f *fakeSubscriptionRepo) MarkRenewalFailed(ctx context.Context, id uuid.UUID, cause string, maxFailures int) (*models.Subscription, error) {
	f.failureCounts[id]++
	return &models.Subscription{
		ID:         id,
		ErrorCount: f.failureCounts[id],
		Active:     f.failureCounts[id] < maxFailures,
		LastError:  &cause,
	}, nil
}

func (f *fakeSubscriptionRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	f.deactivated = append(f.deactivated, id)
	f.active = nil
	return nil
}

func (f *fakeSubscriptionRepo) UpdateCursor(ctx context.Context, id uuid.UUID, cursor int) error {
	return nil
}

func (f *fakeSubscriptionRepo) StampNotification(ctx context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

type fakeFormRepo struct {
	form *models.Form
}

func (f *fakeFormRepo) Create(ctx context.Context, form *models.Form) error { return nil }
func (f *fakeFormRepo) Update(ctx context.Context, form *models.Form) error { return nil }
func (f *fakeFormRepo) Delete(ctx context.Context, id uuid.UUID) error      { return nil }
func (f *fakeFormRepo) List(ctx context.Context) ([]models.Form, error)     { return nil, nil }
func (f *fakeFormRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Form, error) {
	return f.form, nil
}
func (f *fakeFormRepo) GetOwned(ctx context.Context, id uuid.UUID) (*models.Form, error) {
	return f.form, nil
}

type fakeTokenSource struct {
	token string
	err   error
}

func (f *fakeTokenSource) GetByUser(ctx context.Context, userID uuid.UUID) (*models.Credential, error) {
	return &models.Credential{ID: uuid.New(), UserID: userID}, nil
}

func (f *fakeTokenSource) ValidToken(ctx context.Context, credential *models.Credential) (string, error) {
	return f.token, f.err
}

type fakeWebhookClient struct {
	created    int
	refreshed  int
	deleted    int
	refreshErr error
	deleteErr  error
	expiration *time.Time
}

func (f *fakeWebhookClient) CreateWebhook(ctx context.Context, token, baseID, tableID, url string) (*airtable.Webhook, error) {
	f.created++
	return &airtable.Webhook{ID: "ach123", MACSecretBase64: "c2VjcmV0"}, nil
}

func (f *fakeWebhookClient) RefreshWebhook(ctx context.Context, token, baseID, webhookID string) (*time.Time, error) {
	f.refreshed++
	return f.expiration, f.refreshErr
}

func (f *fakeWebhookClient) DeleteWebhook(ctx context.Context, token, baseID, webhookID string) error {
	f.deleted++
	return f.deleteErr
}

type fakeProducer struct {
	published []*events.Event
}

func (f *fakeProducer) Publish(ctx context.Context, evt *events.Event) error {
	f.published = append(f.published, evt)
	return nil
}

func testManager(subs *fakeSubscriptionRepo, client *fakeWebhookClient, producer *fakeProducer) *Manager {
	form := &models.Form{ID: uuid.New(), OwnerID: uuid.New(), BaseID: "appBase", TableID: "tblTable"}
	return NewManager(subs, &fakeFormRepo{form: form}, &fakeTokenSource{token: "tok"},
		client, producer, "https://fern.example.com/webhooks/notifications", testLogger())
}

func TestRegister_CreatesSubscription(t *testing.T) {
	subs := newFakeSubscriptionRepo()
	client := &fakeWebhookClient{}
	m := testManager(subs, client, &fakeProducer{})

	sub, err := m.Register(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, 1, client.created)
	assert.Equal(t, "ach123", sub.ExternalID)
	assert.Equal(t, "c2VjcmV0", sub.MACSecret)
	assert.True(t, sub.Active)
	assert.False(t, sub.LastPingAt.IsZero())
}

func TestRegister_IdempotentOnActiveSubscription(t *testing.T) {
	subs := newFakeSubscriptionRepo()
	subs.active = &models.Subscription{ID: uuid.New(), ExternalID: "achExisting", Active: true}
	client := &fakeWebhookClient{}
	m := testManager(subs, client, &fakeProducer{})

	sub, err := m.Register(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, "achExisting", sub.ExternalID)
	assert.Zero(t, client.created, "no second webhook for an already subscribed form")
}

func TestRenew_SuccessResetsFailures(t *testing.T) {
	subs := newFakeSubscriptionRepo()
	client := &fakeWebhookClient{}
	m := testManager(subs, client, &fakeProducer{})

	sub := &models.Subscription{ID: uuid.New(), FormID: uuid.New(), BaseID: "appBase", ExternalID: "ach123"}
	subs.failureCounts[sub.ID] = 2

	require.NoError(t, m.Renew(context.Background(), sub))

	assert.Equal(t, []uuid.UUID{sub.ID}, subs.renewed)
	assert.Zero(t, subs.failureCounts[sub.ID], "success resets the strike count")
}

func TestRenew_ThirdStrikeRetires(t *testing.T) {
	subs := newFakeSubscriptionRepo()
	client := &fakeWebhookClient{refreshErr: errors.New("upstream down")}
	producer := &fakeProducer{}
	m := testManager(subs, client, producer)

	sub := &models.Subscription{ID: uuid.New(), FormID: uuid.New(), BaseID: "appBase", ExternalID: "ach123"}

	for i := 0; i < 2; i++ {
		require.Error(t, m.Renew(context.Background(), sub))
		assert.Empty(t, producer.published, "not retired before the third strike")
	}

	require.Error(t, m.Renew(context.Background(), sub))

	assert.Equal(t, 3, subs.failureCounts[sub.ID])
	require.Len(t, producer.published, 1)
	assert.Equal(t, events.TypeSubscriptionRetired, producer.published[0].Type)
}

func TestUnregister_DeactivatesEvenWhenRemoteDeleteFails(t *testing.T) {
	subs := newFakeSubscriptionRepo()
	subs.active = &models.Subscription{ID: uuid.New(), ExternalID: "ach123", BaseID: "appBase", Active: true}
	client := &fakeWebhookClient{deleteErr: errors.New("boom")}
	m := testManager(subs, client, &fakeProducer{})

	require.NoError(t, m.Unregister(context.Background(), uuid.New()))

	assert.Equal(t, 1, client.deleted)
	assert.Len(t, subs.deactivated, 1)
}
