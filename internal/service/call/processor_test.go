package call

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/campaign-engine/internal/domain"
	"github.com/acme/campaign-engine/internal/queue"
	"github.com/acme/campaign-engine/internal/repository/memory"
	"github.com/acme/campaign-engine/internal/telephony"
	"github.com/acme/campaign-engine/internal/telephony/telephonytest"
	apperrors "github.com/acme/campaign-engine/pkg/errors"
)

var fixedNow = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

type eventSink struct {
	mu     sync.Mutex
	events []queue.CallEvent
	err    error
}

func (s *eventSink) PublishCallEvent(_ context.Context, evt queue.CallEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return s.err
}

type fixture struct {
	store    *memory.Store
	adapter  *telephonytest.Recorder
	events   *eventSink
	campaign domain.Campaign
}

func newFixture(t *testing.T, dailyCap, current int) *fixture {
	t.Helper()
	store := memory.NewStore()
	assistantID := uuid.New()
	c := domain.Campaign{
		ID:                uuid.New(),
		AssistantID:       &assistantID,
		CampaignPrompt:    "Offer the spring upgrade",
		DailyCap:          dailyCap,
		CurrentDailyCalls: current,
		Status:            domain.CampaignStatusActive,
		ExecutionStatus:   domain.ExecutionRunning,
	}
	store.PutCampaign(c)
	store.PutPhoneNumber(assistantID, domain.OutboundNumber{Number: "+15559990000", TrunkID: "ST_trunk"})
	return &fixture{store: store, adapter: telephonytest.NewRecorder(), events: &eventSink{}, campaign: c}
}

func (f *fixture) processor(opts Options) *Processor {
	opts.Now = func() time.Time { return fixedNow }
	return NewProcessor(Deps{
		Campaigns: f.store.Campaigns(),
		Calls:     f.store.Calls(),
		Queue:     f.store.Queue(),
		Numbers:   f.store.PhoneNumbers(),
		Adapter:   f.adapter,
		Attempts:  f.store.Attempts(),
		Events:    f.events,
	}, opts)
}

func (f *fixture) seed(t *testing.T, phone, name string, priority int, scheduledFor time.Time) (uuid.UUID, uuid.UUID) {
	t.Helper()
	call := &domain.CampaignCall{CampaignID: f.campaign.ID, PhoneNumber: phone, ContactName: name, Status: domain.CallStatusPending, CreatedAt: scheduledFor}
	item := &domain.CallQueueItem{CampaignID: f.campaign.ID, PhoneNumber: phone, Status: domain.QueueStatusQueued, Priority: priority, ScheduledFor: scheduledFor, CreatedAt: scheduledFor}
	created, err := f.store.Calls().CreateWithQueueItem(context.Background(), call, item)
	require.NoError(t, err)
	require.True(t, created)
	return call.ID, item.ID
}

func queueStatus(t *testing.T, store *memory.Store, campaignID, itemID uuid.UUID) domain.QueueStatus {
	t.Helper()
	for _, it := range store.AllQueueItems(campaignID) {
		if it.ID == itemID {
			return it.Status
		}
	}
	t.Fatalf("queue item %s not found", itemID)
	return ""
}

func TestDrainContinuesPastFailedItem(t *testing.T) {
	f := newFixture(t, 10, 0)
	call1, item1 := f.seed(t, "+15550000001", "Ada", 0, fixedNow.Add(-3*time.Minute))
	call2, item2 := f.seed(t, "+15550000002", "Bob", 0, fixedNow.Add(-2*time.Minute))
	call3, item3 := f.seed(t, "+15550000003", "Cy", 0, fixedNow.Add(-time.Minute))
	f.adapter.FailDestination("+15550000002")

	res, err := f.processor(Options{}).Drain(context.Background(), &f.campaign)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Selected: 3, Dispatched: 2, Failed: 1}, res)

	assert.Equal(t, domain.QueueStatusCompleted, queueStatus(t, f.store, f.campaign.ID, item1))
	assert.Equal(t, domain.QueueStatusFailed, queueStatus(t, f.store, f.campaign.ID, item2))
	assert.Equal(t, domain.QueueStatusCompleted, queueStatus(t, f.store, f.campaign.ID, item3))

	ctx := context.Background()
	failed, err := f.store.Calls().Get(ctx, call2)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusFailed, failed.Status)
	assert.Contains(t, failed.Notes, telephonytest.ErrInjected.Error())
	assert.NotNil(t, failed.CompletedAt)

	for _, id := range []uuid.UUID{call1, call3} {
		ok, err := f.store.Calls().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.CallStatusCalling, ok.Status)
		assert.NotEmpty(t, ok.RoomName)
		assert.NotEmpty(t, ok.CallSID)
		assert.NotNil(t, ok.StartedAt)
	}

	got := f.store.Campaign(f.campaign.ID)
	assert.Equal(t, 2, got.CurrentDailyCalls)
	assert.Equal(t, 2, got.TotalCallsMade)

	require.Len(t, f.events.events, 3)
	assert.True(t, f.events.events[0].Dispatched)
	assert.False(t, f.events.events[1].Dispatched)
	attempts, _, err := f.store.Attempts().ListAttemptsByCampaign(ctx, f.campaign.ID, 10, nil)
	require.NoError(t, err)
	assert.Len(t, attempts, 3)
}

func TestDrainNeverExceedsRemainingQuota(t *testing.T) {
	f := newFixture(t, 5, 3)
	for i := 0; i < 5; i++ {
		f.seed(t, "+1555000000"+string(rune('1'+i)), "", 0, fixedNow.Add(-time.Duration(5-i)*time.Minute))
	}

	res, err := f.processor(Options{BatchSize: 5}).Drain(context.Background(), &f.campaign)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, 2, res.Dispatched)
	assert.Equal(t, 5, f.store.Campaign(f.campaign.ID).CurrentDailyCalls)
	assert.Equal(t, 2, f.adapter.Count("leg"))
}

func TestDrainStopsWhenCapReachedConcurrently(t *testing.T) {
	f := newFixture(t, 5, 0)
	stored := f.campaign
	stored.CurrentDailyCalls = 4
	f.store.PutCampaign(stored)

	f.seed(t, "+15550000001", "", 0, fixedNow.Add(-3*time.Minute))
	_, second := f.seed(t, "+15550000002", "", 0, fixedNow.Add(-2*time.Minute))
	_, last := f.seed(t, "+15550000003", "", 0, fixedNow.Add(-time.Minute))

	res, err := f.processor(Options{}).Drain(context.Background(), &f.campaign)
	require.NoError(t, err)
	assert.True(t, res.CapReached)
	assert.Equal(t, 1, res.Dispatched)
	assert.Equal(t, 1, f.adapter.Count("leg"), "no call may be placed once the stored cap is full")
	got := f.store.Campaign(f.campaign.ID)
	assert.Equal(t, 5, got.CurrentDailyCalls)
	assert.Equal(t, 1, got.TotalCallsMade)
	assert.Equal(t, domain.QueueStatusQueued, queueStatus(t, f.store, f.campaign.ID, second))
	assert.Equal(t, domain.QueueStatusQueued, queueStatus(t, f.store, f.campaign.ID, last))
}

func TestDrainReleasesSlotOfFailedCall(t *testing.T) {
	f := newFixture(t, 1, 0)
	f.seed(t, "+15550000001", "", 0, fixedNow.Add(-2*time.Minute))
	f.adapter.FailDestination("+15550000001")

	res, err := f.processor(Options{}).Drain(context.Background(), &f.campaign)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	got := f.store.Campaign(f.campaign.ID)
	assert.Zero(t, got.CurrentDailyCalls)
	assert.Zero(t, got.TotalCallsMade)

	f.seed(t, "+15550000002", "", 0, fixedNow.Add(-time.Minute))
	res, err = f.processor(Options{}).Drain(context.Background(), &f.campaign)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dispatched)
	assert.Equal(t, 1, f.store.Campaign(f.campaign.ID).CurrentDailyCalls)
}

func TestDrainStopsWhenSlotCannotBeReserved(t *testing.T) {
	f := newFixture(t, 5, 0)
	f.seed(t, "+15550000001", "", 0, fixedNow.Add(-time.Minute))
	f.store.FailOn("campaigns.increment_daily_calls", errors.New("db down"))

	_, err := f.processor(Options{}).Drain(context.Background(), &f.campaign)
	require.Error(t, err)
	assert.Zero(t, f.adapter.Count(""))
}

func TestDrainWithExhaustedQuotaDoesNothing(t *testing.T) {
	f := newFixture(t, 5, 5)
	f.seed(t, "+15550000001", "", 0, fixedNow.Add(-time.Minute))
	writes := f.store.Writes()

	res, err := f.processor(Options{}).Drain(context.Background(), &f.campaign)
	require.NoError(t, err)
	assert.True(t, res.CapReached)
	assert.Zero(t, res.Selected)
	assert.Zero(t, f.adapter.Count(""))
	assert.Equal(t, writes, f.store.Writes())
}

func TestDrainOrdersByPriorityThenSchedule(t *testing.T) {
	f := newFixture(t, 10, 0)
	f.seed(t, "+15550000001", "", 0, fixedNow.Add(-3*time.Minute))
	f.seed(t, "+15550000002", "", 5, fixedNow.Add(-time.Minute))
	f.seed(t, "+15550000003", "", 0, fixedNow.Add(-5*time.Minute))
	f.seed(t, "+15550000004", "", 0, fixedNow.Add(time.Hour))

	_, err := f.processor(Options{}).Drain(context.Background(), &f.campaign)
	require.NoError(t, err)

	var order []string
	for _, leg := range f.adapter.Legs() {
		order = append(order, leg.Destination)
	}
	assert.Equal(t, []string{"+15550000002", "+15550000003", "+15550000001"}, order)
}

func TestDrainStrictModeFailsWithoutTrunk(t *testing.T) {
	f := newFixture(t, 10, 0)
	f.campaign.AssistantID = nil
	callID, _ := f.seed(t, "+15550000001", "", 0, fixedNow.Add(-time.Minute))

	res, err := f.processor(Options{RequireTrunk: true}).Drain(context.Background(), &f.campaign)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, f.adapter.Count(""))
	assert.Zero(t, f.store.Campaign(f.campaign.ID).CurrentDailyCalls)

	call, err := f.store.Calls().Get(context.Background(), callID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusFailed, call.Status)
	assert.Contains(t, call.Notes, "no outbound trunk")
	assert.True(t, errors.Is(ErrNoOutboundTrunk, apperrors.ErrConfiguration))
}

func TestDrainLenientModeSkipsLegWithoutTrunk(t *testing.T) {
	f := newFixture(t, 10, 0)
	f.campaign.AssistantID = nil
	f.seed(t, "+15550000001", "", 0, fixedNow.Add(-time.Minute))

	res, err := f.processor(Options{RequireTrunk: false}).Drain(context.Background(), &f.campaign)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dispatched)
	assert.Equal(t, 1, f.adapter.Count("session"))
	assert.Equal(t, 1, f.adapter.Count("agent"))
	assert.Zero(t, f.adapter.Count("leg"))
}

func TestDrainBuildsLegAndMetadata(t *testing.T) {
	f := newFixture(t, 10, 0)
	callID, _ := f.seed(t, "1 (555) 123-4567", "", 0, fixedNow.Add(-time.Minute))

	_, err := f.processor(Options{AgentName: "sales-agent"}).Drain(context.Background(), &f.campaign)
	require.NoError(t, err)

	legs := f.adapter.Legs()
	require.Len(t, legs, 1)
	assert.Equal(t, "+15551234567", legs[0].Destination)
	assert.Equal(t, "ST_trunk", legs[0].TrunkID)
	assert.Equal(t, "phone-+15551234567", legs[0].ParticipantIdentity)
	assert.Equal(t, "Customer", legs[0].ParticipantName)
	assert.Contains(t, legs[0].SessionName, "campaign-"+f.campaign.ID.String()+"-"+callID.String()+"-")

	calls := f.adapter.Calls()
	require.Equal(t, "session", calls[0].Op)
	var meta telephony.CallMetadata
	require.NoError(t, json.Unmarshal(calls[0].Metadata, &meta))
	assert.Equal(t, f.campaign.ID, meta.CampaignID)
	assert.Equal(t, "campaign", meta.CallType)
	assert.Equal(t, "outbound", meta.Source)
	assert.Equal(t, "Offer the spring upgrade", meta.CampaignPrompt)
	assert.Equal(t, "ST_trunk", meta.OutboundTrunkID)

	require.Equal(t, "agent", calls[1].Op)
	assert.Equal(t, "sales-agent", calls[1].AgentName)
	require.NoError(t, json.Unmarshal(calls[1].Metadata, &meta))
	assert.Equal(t, legs[0].SessionName, meta.RoomName)
}

func TestDrainHonoursCancellationDuringDelay(t *testing.T) {
	f := newFixture(t, 10, 0)
	f.seed(t, "+15550000001", "", 0, fixedNow.Add(-2*time.Minute))
	f.seed(t, "+15550000002", "", 0, fixedNow.Add(-time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := f.processor(Options{DispatchDelay: time.Hour}).Drain(ctx, &f.campaign)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, res.Dispatched)
	assert.Equal(t, 1, f.adapter.Count("leg"))
}

func TestDrainToleratesEventPublishFailure(t *testing.T) {
	f := newFixture(t, 10, 0)
	f.events.err = errors.New("broker down")
	f.seed(t, "+15550000001", "", 0, fixedNow.Add(-time.Minute))

	res, err := f.processor(Options{}).Drain(context.Background(), &f.campaign)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dispatched)
}

func TestDrainDialsEqualItemsInInsertionOrder(t *testing.T) {
	f := newFixture(t, 10, 0)
	want := []string{"+15550000009", "+15550000003", "+15550000007", "+15550000001", "+15550000005"}
	for _, phone := range want {
		f.seed(t, phone, "", 0, fixedNow.Add(-time.Minute))
	}

	_, err := f.processor(Options{}).Drain(context.Background(), &f.campaign)
	require.NoError(t, err)

	var order []string
	for _, leg := range f.adapter.Legs() {
		order = append(order, leg.Destination)
	}
	assert.Equal(t, want, order)
}
