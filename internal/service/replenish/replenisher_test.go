package replenish

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-engine/internal/domain"
	"github.com/acme/campaign-engine/internal/repository/memory"
	"github.com/acme/campaign-engine/internal/service/campaign"
	"github.com/acme/campaign-engine/internal/service/contacts"
)

type countingSource struct {
	inner CandidateSource
	calls int
}

func (s *countingSource) Resolve(ctx context.Context, c *domain.Campaign) ([]domain.ContactCandidate, error) {
	s.calls++
	return s.inner.Resolve(ctx, c)
}

type fixedSource []domain.ContactCandidate

func (s fixedSource) Resolve(context.Context, *domain.Campaign) ([]domain.ContactCandidate, error) {
	return s, nil
}

var fixedNow = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

func runningCampaign(store *memory.Store) domain.Campaign {
	listID := uuid.New()
	c := domain.Campaign{
		ID:              uuid.New(),
		ContactSource:   domain.ContactSourceList,
		ContactListID:   &listID,
		DailyCap:        10,
		Status:          domain.CampaignStatusActive,
		ExecutionStatus: domain.ExecutionRunning,
	}
	store.PutCampaign(c)
	return c
}

func newReplenisher(store *memory.Store, src CandidateSource, lwm int) *Replenisher {
	lifecycle := campaign.NewService(store.Campaigns(), store.Calls(), store.Attempts(), store.Stats())
	return New(lifecycle, store.Calls(), store.Queue(), src, nil, nil, Options{
		LowWaterMark: lwm,
		Now:          func() time.Time { return fixedNow },
	})
}

func candidate(phone string) domain.ContactCandidate {
	id := uuid.New()
	return domain.ContactCandidate{ID: &id, Name: "Contact " + phone, PhoneNumber: phone}
}

func TestReplenishIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	c := runningCampaign(store)
	src := fixedSource{candidate("+15550000001"), candidate("+15550000002"), candidate("+15550000003")}
	r := newReplenisher(store, src, 10)

	res, err := r.Replenish(ctx, &c)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Queued)
	assert.False(t, res.Exhausted)

	res, err = r.Replenish(ctx, &c)
	require.NoError(t, err)
	assert.Zero(t, res.Queued)
	assert.Equal(t, 3, res.Skipped)
	assert.False(t, res.Exhausted)

	assert.Len(t, store.AllCalls(c.ID), 3)
	items := store.AllQueueItems(c.ID)
	assert.Len(t, items, 3)
	for _, item := range items {
		assert.Equal(t, domain.QueueStatusQueued, item.Status)
		assert.Equal(t, fixedNow, item.ScheduledFor)
	}
	assert.Equal(t, domain.ExecutionRunning, store.Campaign(c.ID).ExecutionStatus)
}

func TestReplenishDeduplicatesWithinBatch(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	c := runningCampaign(store)
	src := fixedSource{candidate("+1 555 000 0001"), candidate("15550000001")}

	res, err := newReplenisher(store, src, 10).Replenish(ctx, &c)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Queued)
	assert.Equal(t, 1, res.Skipped)

	calls := store.AllCalls(c.ID)
	require.Len(t, calls, 1)
	assert.Equal(t, "+15550000001", calls[0].PhoneNumber)
	assert.Equal(t, domain.CallStatusPending, calls[0].Status)
	assert.Equal(t, domain.OutcomeNone, calls[0].Outcome)
}

func TestReplenishCompletesCampaignWithNoContacts(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	c := runningCampaign(store)

	res, err := newReplenisher(store, fixedSource{}, 10).Replenish(ctx, &c)
	require.NoError(t, err)
	assert.True(t, res.Exhausted)

	got := store.Campaign(c.ID)
	assert.Equal(t, domain.ExecutionCompleted, got.ExecutionStatus)
	assert.Equal(t, domain.CampaignStatusCompleted, got.Status)
	assert.Empty(t, store.AllQueueItems(c.ID))
}

func TestReplenishCompletesCampaignWhenEveryContactWasAttempted(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	c := runningCampaign(store)
	src := fixedSource{candidate("+15550000001"), candidate("+15550000002")}
	r := newReplenisher(store, src, 10)

	_, err := r.Replenish(ctx, &c)
	require.NoError(t, err)

	// Drain the queue as the processor would.
	for _, item := range store.AllQueueItems(c.ID) {
		require.NoError(t, store.Queue().Finish(ctx, item.ID, domain.QueueStatusCompleted, fixedNow))
	}

	res, err := r.Replenish(ctx, &c)
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, domain.ExecutionCompleted, store.Campaign(c.ID).ExecutionStatus)
}

func TestReplenishKeepsRunningWhileQueueHasItems(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	c := runningCampaign(store)
	store.PutQueueItem(domain.CallQueueItem{ID: uuid.New(), CampaignID: c.ID, Status: domain.QueueStatusQueued, ScheduledFor: fixedNow})

	res, err := newReplenisher(store, fixedSource{}, 10).Replenish(ctx, &c)
	require.NoError(t, err)
	assert.False(t, res.Exhausted)
	assert.Equal(t, domain.ExecutionRunning, store.Campaign(c.ID).ExecutionStatus)
}

func TestReplenishSkipsAboveLowWaterMark(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	c := runningCampaign(store)
	for i := 0; i < 3; i++ {
		store.PutQueueItem(domain.CallQueueItem{ID: uuid.New(), CampaignID: c.ID, Status: domain.QueueStatusQueued, ScheduledFor: fixedNow})
	}

	src := &countingSource{inner: contacts.NewResolver(store.Contacts())}
	res, err := newReplenisher(store, src, 2).Replenish(ctx, &c)
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.Zero(t, src.calls)
}

func TestReplenishOnlyCompletesRunningCampaign(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	c := runningCampaign(store)
	c.ExecutionStatus = domain.ExecutionPaused
	store.PutCampaign(c)

	res, err := newReplenisher(store, fixedSource{}, 10).Replenish(ctx, &c)
	require.NoError(t, err)
	assert.True(t, res.Exhausted)
	assert.Equal(t, domain.ExecutionPaused, store.Campaign(c.ID).ExecutionStatus)
}
