package notifications

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// inlineLocker runs the callback directly; serialization is Redis's job in
// production and irrelevant to the application logic under test.
type inlineLocker struct{}

func (inlineLocker) WithTryLock(ctx context.Context, key string, ttl, timeout time.Duration, fn func() error) error {
	return fn()
}

type fakeSubscriptionRepo struct {
	subscription *models.Subscription
	stamped      []time.Time
	cursors      []int
}

func (f *fakeSubscriptionRepo) Create(ctx context.Context, s *models.Subscription) error { return nil }
func (f *fakeSubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	return nil, repositories.NotFound("subscription %s does not exist", id)
}
func (f *fakeSubscriptionRepo) GetActiveByForm(ctx context.Context, formID uuid.UUID) (*models.Subscription, error) {
	return nil, repositories.NotFound("no active subscription for form %s", formID)
}
func (f *fakeSubscriptionRepo) ListDueForRenewal(ctx context.Context, olderThan time.Time) ([]models.Subscription, error) {
	return nil, nil
}
func (f *fakeSubscriptionRepo) MarkRenewed(ctx context.Context, id uuid.UUID, expiresAt *time.Time) error {
	return nil
}
func (f *fakeSubscriptionRepo) MarkRenewalFailed(ctx context.Context, id uuid.UUID, cause string, maxFailures int) (*models.Subscription, error) {
	return nil, nil
}
func (f *fakeSubscriptionRepo) Deactivate(ctx context.Context, id uuid.UUID) error { return nil }

func (f *fakeSubscriptionRepo) GetByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	if f.subscription != nil && f.subscription.ExternalID == externalID {
		return f.subscription, nil
	}
	return nil, repositories.NotFound("subscription %s does not exist", externalID)
}

func (f *fakeSubscriptionRepo) UpdateCursor(ctx context.Context, id uuid.UUID, cursor int) error {
	f.cursors = append(f.cursors, cursor)
	return nil
}

func (f *fakeSubscriptionRepo) StampNotification(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.stamped = append(f.stamped, at)
	return nil
}

type fakeSubmissionRepo struct {
	records map[string]*models.SubmissionRecord
	synced  []string
	deleted []string
}

func newFakeSubmissionRepo(records ...*models.SubmissionRecord) *fakeSubmissionRepo {
	byID := map[string]*models.SubmissionRecord{}
	for _, r := range records {
		byID[r.ExternalRecordID] = r
	}
	return &fakeSubmissionRepo{records: byID}
}

func (f *fakeSubmissionRepo) Create(ctx context.Context, record *models.SubmissionRecord) error {
	return nil
}

func (f *fakeSubmissionRepo) ListByForm(ctx context.Context, formID uuid.UUID) ([]models.SubmissionRecord, error) {
	return nil, nil
}

func (f *fakeSubmissionRepo) GetByExternalRecordID(ctx context.Context, externalRecordID string) (*models.SubmissionRecord, error) {
	if record, ok := f.records[externalRecordID]; ok {
		return record, nil
	}
	return nil, repositories.NotFound("record %s does not exist", externalRecordID)
}

func (f *fakeSubmissionRepo) StampSynced(ctx context.Context, externalRecordID string, at time.Time) error {
	if _, ok := f.records[externalRecordID]; !ok {
		return repositories.NotFound("record %s does not exist", externalRecordID)
	}
	f.synced = append(f.synced, externalRecordID)
	return nil
}

func (f *fakeSubmissionRepo) MarkDeletedExternally(ctx context.Context, externalRecordID string, at time.Time) error {
	f.deleted = append(f.deleted, externalRecordID)
	f.records[externalRecordID].DeletedExternally = true
	return nil
}

type fakeProducer struct {
	published []*events.Event
}

func (f *fakeProducer) Publish(ctx context.Context, evt *events.Event) error {
	f.published = append(f.published, evt)
	return nil
}

const testMACSecret = "c2VjcmV0" // base64("secret")

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	return "hmac-sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func testSubscription() *models.Subscription {
	return &models.Subscription{
		ID:         uuid.New(),
		FormID:     uuid.New(),
		ExternalID: "achHook",
		TableID:    "tblTable",
		MACSecret:  testMACSecret,
		Active:     true,
	}
}

func testProcessor(subs *fakeSubscriptionRepo, records *fakeSubmissionRepo, producer *fakeProducer) *Processor {
	return NewProcessor(subs, records, producer, inlineLocker{}, testLogger())
}

func TestProcess_UnknownSubscriptionIsDropped(t *testing.T) {
	subs := &fakeSubscriptionRepo{}
	records := newFakeSubmissionRepo()
	p := testProcessor(subs, records, &fakeProducer{})

	body := []byte(`{"base":{"id":"appBase"},"webhook":{"id":"achGone"}}`)
	require.NoError(t, p.Process(context.Background(), body, sign(body)))

	assert.Empty(t, subs.stamped, "no state change for an unknown webhook")
}

func TestProcess_InvalidSignatureIsDropped(t *testing.T) {
	subs := &fakeSubscriptionRepo{subscription: testSubscription()}
	records := newFakeSubmissionRepo()
	p := testProcessor(subs, records, &fakeProducer{})

	body := []byte(`{"base":{"id":"appBase"},"webhook":{"id":"achHook"},"cursor":9}`)
	require.NoError(t, p.Process(context.Background(), body, "hmac-sha256=deadbeef"))

	assert.Empty(t, subs.stamped)
	assert.Empty(t, subs.cursors)
}

func TestProcess_UnparseableBodyIsDropped(t *testing.T) {
	subs := &fakeSubscriptionRepo{subscription: testSubscription()}
	p := testProcessor(subs, newFakeSubmissionRepo(), &fakeProducer{})

	require.NoError(t, p.Process(context.Background(), []byte("{not json"), ""))
	assert.Empty(t, subs.stamped)
}

func TestProcess_StampsPayloadTimestampAndCursor(t *testing.T) {
	subs := &fakeSubscriptionRepo{subscription: testSubscription()}
	records := newFakeSubmissionRepo()
	p := testProcessor(subs, records, &fakeProducer{})

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p.clock = func() time.Time { return now }

	// The ping stamp records when the sender pinged, not when we got
	// around to processing the delivery.
	body := []byte(`{"base":{"id":"appBase"},"webhook":{"id":"achHook"},"timestamp":"2026-07-30T08:15:00Z","cursor":42}`)
	require.NoError(t, p.Process(context.Background(), body, sign(body)))

	require.Len(t, subs.stamped, 1)
	assert.Equal(t, time.Date(2026, 7, 30, 8, 15, 0, 0, time.UTC), subs.stamped[0])
	assert.Equal(t, []int{42}, subs.cursors)
}

func TestProcess_MissingTimestampFallsBackToClock(t *testing.T) {
	subs := &fakeSubscriptionRepo{subscription: testSubscription()}
	p := testProcessor(subs, newFakeSubmissionRepo(), &fakeProducer{})

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p.clock = func() time.Time { return now }

	body := []byte(`{"base":{"id":"appBase"},"webhook":{"id":"achHook"}}`)
	require.NoError(t, p.Process(context.Background(), body, sign(body)))

	require.Len(t, subs.stamped, 1)
	assert.Equal(t, now, subs.stamped[0])
}

func TestProcess_ChangedRecordsStamped(t *testing.T) {
	subs := &fakeSubscriptionRepo{subscription: testSubscription()}
	formID := uuid.New()
	records := newFakeSubmissionRepo(
		&models.SubmissionRecord{ID: uuid.New(), FormID: formID, ExternalRecordID: "recKnown"},
	)
	producer := &fakeProducer{}
	p := testProcessor(subs, records, producer)

	body := []byte(`{
		"base":{"id":"appBase"},
		"webhook":{"id":"achHook"},
		"changedTablesById":{
			"tblTable":{"changedRecordsById":{"recKnown":{},"recUnknown":{}}}
		}
	}`)
	require.NoError(t, p.Process(context.Background(), body, sign(body)))

	assert.Equal(t, []string{"recKnown"}, records.synced)
	require.Len(t, producer.published, 1)
	assert.Equal(t, events.TypeSubmissionSynced, producer.published[0].Type)
	assert.Equal(t, formID.String(), producer.published[0].FormID)
}

func TestProcess_DestroyedRecordPublishesOnce(t *testing.T) {
	subs := &fakeSubscriptionRepo{subscription: testSubscription()}
	formID := uuid.New()
	records := newFakeSubmissionRepo(
		&models.SubmissionRecord{ID: uuid.New(), FormID: formID, ExternalRecordID: "recDead"},
	)
	producer := &fakeProducer{}
	p := testProcessor(subs, records, producer)

	body := []byte(`{
		"base":{"id":"appBase"},
		"webhook":{"id":"achHook"},
		"changedTablesById":{
			"tblTable":{"destroyedRecordIds":["recDead"]}
		}
	}`)

	require.NoError(t, p.Process(context.Background(), body, sign(body)))
	require.Len(t, producer.published, 1)
	assert.Equal(t, events.TypeSubmissionDeletedExternally, producer.published[0].Type)
	assert.Equal(t, formID.String(), producer.published[0].FormID)

	// A replayed delivery re-stamps the row but must not publish again.
	require.NoError(t, p.Process(context.Background(), body, sign(body)))
	assert.Len(t, producer.published, 1)
	assert.Equal(t, []string{"recDead", "recDead"}, records.deleted)
}

func TestProcess_OtherTablesIgnored(t *testing.T) {
	subs := &fakeSubscriptionRepo{subscription: testSubscription()}
	records := newFakeSubmissionRepo(
		&models.SubmissionRecord{ID: uuid.New(), FormID: uuid.New(), ExternalRecordID: "recKnown"},
	)
	producer := &fakeProducer{}
	p := testProcessor(subs, records, producer)

	// The webhook is scoped to tblTable; changes reported for a
	// different table in the same base must not touch local records.
	body := []byte(`{
		"base":{"id":"appBase"},
		"webhook":{"id":"achHook"},
		"changedTablesById":{
			"tblOther":{"changedRecordsById":{"recKnown":{}},"destroyedRecordIds":["recKnown"]}
		}
	}`)
	require.NoError(t, p.Process(context.Background(), body, sign(body)))

	assert.Empty(t, records.synced)
	assert.Empty(t, records.deleted)
	assert.Empty(t, producer.published)
}

func TestProcess_CreatedRecordsOnlyCounted(t *testing.T) {
	subs := &fakeSubscriptionRepo{subscription: testSubscription()}
	records := newFakeSubmissionRepo()
	producer := &fakeProducer{}
	p := testProcessor(subs, records, producer)

	body := []byte(`{
		"base":{"id":"appBase"},
		"webhook":{"id":"achHook"},
		"changedTablesById":{
			"tblTable":{"createdRecordsById":{"recNew":{}}}
		}
	}`)
	require.NoError(t, p.Process(context.Background(), body, sign(body)))

	assert.Empty(t, records.synced)
	assert.Empty(t, records.deleted)
	assert.Empty(t, producer.published)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"hello":"world"}`)

	assert.True(t, verifySignature(testMACSecret, body, sign(body)))
	assert.True(t, verifySignature(testMACSecret, body, sign(body)+"\n"), "header whitespace is tolerated")
	assert.False(t, verifySignature(testMACSecret, body, "hmac-sha256=00"))
	assert.False(t, verifySignature("!!!not-base64!!!", body, sign(body)))
}
