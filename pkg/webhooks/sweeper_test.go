package webhooks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/redis"
)

type inlineSweepLock struct{}

func (inlineSweepLock) WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	return fn()
}

type heldSweepLock struct{ attempts int }

func (l *heldSweepLock) WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error {
	l.attempts++
	return redis.ErrLockNotAcquired
}

func TestSweep_RenewsStaleSubscriptions(t *testing.T) {
	subs := newFakeSubscriptionRepo()
	subs.due = []models.Subscription{
		{ID: uuid.New(), FormID: uuid.New(), BaseID: "appBase", ExternalID: "ach1"},
		{ID: uuid.New(), FormID: uuid.New(), BaseID: "appBase", ExternalID: "ach2"},
	}
	client := &fakeWebhookClient{}
	manager := testManager(subs, client, &fakeProducer{})

	s := NewSweeper(manager, subs, inlineSweepLock{}, SweeperConfig{}, testLogger())
	s.sweep(context.Background())

	assert.Equal(t, 2, client.refreshed)
	assert.Len(t, subs.renewed, 2)
}

func TestSweep_OneBadItemDoesNotStopTheRest(t *testing.T) {
	subs := newFakeSubscriptionRepo()
	subs.due = []models.Subscription{
		{ID: uuid.New(), FormID: uuid.New(), BaseID: "appBase", ExternalID: "achBad"},
		{ID: uuid.New(), FormID: uuid.New(), BaseID: "appBase", ExternalID: "achGood"},
	}
	client := &fakeWebhookClient{refreshErr: assert.AnError}
	manager := testManager(subs, client, &fakeProducer{})

	s := NewSweeper(manager, subs, inlineSweepLock{}, SweeperConfig{}, testLogger())
	s.sweep(context.Background())

	assert.Len(t, subs.renewed, 0)
	assert.Equal(t, 2, subs.failureCounts[subs.due[0].ID]+subs.failureCounts[subs.due[1].ID],
		"every due item gets its attempt")
}

func TestRunSweep_SkipsWhenLockHeldElsewhere(t *testing.T) {
	subs := newFakeSubscriptionRepo()
	subs.due = []models.Subscription{
		{ID: uuid.New(), FormID: uuid.New(), BaseID: "appBase", ExternalID: "ach1"},
	}
	client := &fakeWebhookClient{}
	manager := testManager(subs, client, &fakeProducer{})
	lock := &heldSweepLock{}

	s := NewSweeper(manager, subs, lock, SweeperConfig{}, testLogger())
	s.runSweep(context.Background())

	assert.Equal(t, 1, lock.attempts)
	assert.Zero(t, client.refreshed, "no renewal while another instance sweeps")
}

func TestSweeper_StartStop(t *testing.T) {
	subs := newFakeSubscriptionRepo()
	manager := testManager(subs, &fakeWebhookClient{}, &fakeProducer{})

	s := NewSweeper(manager, subs, inlineSweepLock{}, SweeperConfig{Interval: time.Hour}, testLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
	assert.ErrorIs(t, s.Start(context.Background()), ErrSweeperAlreadyRunning)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())
}
