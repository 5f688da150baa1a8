package campaign

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/acme/campaign-engine/internal/domain"
	"github.com/acme/campaign-engine/internal/repository/memory"
	apperrors "github.com/acme/campaign-engine/pkg/errors"
)

func newTestService(t *testing.T, c domain.Campaign) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.PutCampaign(c)
	return NewService(store.Campaigns(), store.Calls(), store.Attempts(), store.Stats()), store
}

func startable(status domain.ExecutionStatus) domain.Campaign {
	listID := uuid.New()
	return domain.Campaign{
		ID:              uuid.New(),
		ContactSource:   domain.ContactSourceList,
		ContactListID:   &listID,
		DailyCap:        50,
		StartHour:       9,
		EndHour:         17,
		Status:          domain.CampaignStatusDraft,
		ExecutionStatus: status,
	}
}

func TestValidateStartableFailures(t *testing.T) {
	base := startable(domain.ExecutionIdle)
	cases := map[string]func(c *domain.Campaign){
		"zero cap":       func(c *domain.Campaign) { c.DailyCap = 0 },
		"bad hour":       func(c *domain.Campaign) { c.EndHour = 24 },
		"missing list":   func(c *domain.Campaign) { c.ContactListID = nil },
		"missing csv":    func(c *domain.Campaign) { c.ContactSource = domain.ContactSourceCSV },
		"unknown source": func(c *domain.Campaign) { c.ContactSource = "crm" },
		"bad zone":       func(c *domain.Campaign) { c.TimeZone = "Mars/Olympus" },
	}

	for name, mutate := range cases {
		c := base
		mutate(&c)
		if err := validateStartable(&c); !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestStartFromIdle(t *testing.T) {
	c := startable(domain.ExecutionIdle)
	c.ConsecutiveErrors = 2
	svc, store := newTestService(t, c)

	got, err := svc.Start(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ExecutionStatus != domain.ExecutionRunning || got.Status != domain.CampaignStatusActive {
		t.Fatalf("unexpected state %s/%s", got.ExecutionStatus, got.Status)
	}
	if got.NextCallAt == nil {
		t.Fatalf("expected next call time to be set")
	}
	if got.ConsecutiveErrors != 0 {
		t.Fatalf("expected error counter reset, got %d", got.ConsecutiveErrors)
	}
	if _, err := store.Stats().Get(context.Background(), c.ID); err != nil {
		t.Fatalf("expected stats row: %v", err)
	}
}

func TestStartRejectsRunningAndFinished(t *testing.T) {
	for _, status := range []domain.ExecutionStatus{domain.ExecutionRunning, domain.ExecutionCompleted} {
		c := startable(status)
		svc, _ := newTestService(t, c)
		if _, err := svc.Start(context.Background(), c.ID); !errors.Is(err, apperrors.ErrConflict) {
			t.Errorf("%s: expected conflict, got %v", status, err)
		}
	}

	archived := startable(domain.ExecutionIdle)
	archived.Status = domain.CampaignStatusArchived
	svc, _ := newTestService(t, archived)
	if _, err := svc.Start(context.Background(), archived.ID); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("archived: expected conflict, got %v", err)
	}
}

func TestPauseAndResume(t *testing.T) {
	c := startable(domain.ExecutionRunning)
	svc, _ := newTestService(t, c)
	ctx := context.Background()

	paused, err := svc.Pause(ctx, c.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.ExecutionStatus != domain.ExecutionPaused || paused.Status != domain.CampaignStatusPaused {
		t.Fatalf("unexpected state after pause %s/%s", paused.ExecutionStatus, paused.Status)
	}

	if _, err := svc.Pause(ctx, c.ID); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict pausing a paused campaign, got %v", err)
	}

	resumed, err := svc.Resume(ctx, c.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.ExecutionStatus != domain.ExecutionRunning || resumed.NextCallAt == nil {
		t.Fatalf("unexpected state after resume %s", resumed.ExecutionStatus)
	}
}

func TestEngineTransitionsRequireRunning(t *testing.T) {
	c := startable(domain.ExecutionPaused)
	svc, store := newTestService(t, c)
	ctx := context.Background()

	for name, fn := range map[string]func(context.Context, uuid.UUID) (bool, error){
		"cap":      svc.PauseForDailyCap,
		"complete": svc.CompleteExhausted,
		"error":    svc.MarkError,
	} {
		applied, err := fn(ctx, c.ID)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if applied {
			t.Errorf("%s: transition applied to a paused campaign", name)
		}
	}
	if store.Writes() != 0 {
		t.Fatalf("expected no writes, got %d", store.Writes())
	}
}

func TestMarkError(t *testing.T) {
	c := startable(domain.ExecutionRunning)
	svc, store := newTestService(t, c)

	applied, err := svc.MarkError(context.Background(), c.ID)
	if err != nil || !applied {
		t.Fatalf("expected transition, got applied=%v err=%v", applied, err)
	}
	if got := store.Campaign(c.ID).ExecutionStatus; got != domain.ExecutionError {
		t.Fatalf("expected error state, got %s", got)
	}
}

func TestListAttemptsRejectsBadToken(t *testing.T) {
	c := startable(domain.ExecutionRunning)
	svc, _ := newTestService(t, c)

	if _, _, err := svc.ListAttempts(context.Background(), c.ID, 10, "%%%"); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListAttemptsPaging(t *testing.T) {
	c := startable(domain.ExecutionRunning)
	svc, store := newTestService(t, c)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := store.Attempts().AppendAttempt(ctx, domain.CallAttempt{CampaignID: c.ID}); err != nil {
			t.Fatal(err)
		}
	}

	page, token, err := svc.ListAttempts(ctx, c.ID, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || token == "" {
		t.Fatalf("expected a full first page with a token, got %d %q", len(page), token)
	}
	page, token, err = svc.ListAttempts(ctx, c.ID, 2, token)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || token != "" {
		t.Fatalf("expected final page, got %d %q", len(page), token)
	}
}

func TestStatsDefaultsToZero(t *testing.T) {
	c := startable(domain.ExecutionRunning)
	svc, _ := newTestService(t, c)

	stats, err := svc.Stats(context.Background(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if *stats != (domain.CampaignStats{}) {
		t.Fatalf("expected zero stats, got %+v", stats)
	}

	if _, err := svc.Stats(context.Background(), uuid.New()); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
