package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acme/campaign-engine/internal/domain"
	"github.com/acme/campaign-engine/internal/repository"
	"github.com/acme/campaign-engine/internal/service/common"
	apperrors "github.com/acme/campaign-engine/pkg/errors"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Service orchestrates campaign lifecycle operations. Every transition is a
// conditional update, so concurrent callers cannot overwrite each other.
type Service struct {
	repo      repository.CampaignRepository
	calls     repository.CallRepository
	attempts  repository.AttemptStore
	statsRepo repository.CampaignStatisticsRepository
	now       func() time.Time
}

// NewService constructs a campaign service. attempts may be nil when no
// audit store is configured.
func NewService(
	repo repository.CampaignRepository,
	calls repository.CallRepository,
	attempts repository.AttemptStore,
	stats repository.CampaignStatisticsRepository,
) *Service {
	return &Service{
		repo:      repo,
		calls:     calls,
		attempts:  attempts,
		statsRepo: stats,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Get retrieves a campaign by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	return s.repo.Get(ctx, id)
}

// Start moves an idle, paused or errored campaign into running.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case campaign.ExecutionStatus == domain.ExecutionRunning:
		return nil, fmt.Errorf("%w: campaign is already running", apperrors.ErrConflict)
	case campaign.ExecutionStatus == domain.ExecutionCompleted,
		campaign.Status == domain.CampaignStatusCompleted,
		campaign.Status == domain.CampaignStatusArchived:
		return nil, fmt.Errorf("%w: campaign is %s", apperrors.ErrConflict, campaign.Status)
	}
	if err := validateStartable(campaign); err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.apply(ctx, id, domain.ExecutionTransition{
		From:       []domain.ExecutionStatus{domain.ExecutionIdle, domain.ExecutionPaused, domain.ExecutionError},
		To:         domain.ExecutionRunning,
		Status:     domain.CampaignStatusActive,
		NextCallAt: &now,
	}); err != nil {
		return nil, err
	}

	if err := s.repo.ResetErrors(ctx, id); err != nil {
		return nil, fmt.Errorf("campaign service: reset errors: %w", err)
	}
	if err := s.statsRepo.Ensure(ctx, id); err != nil {
		return nil, fmt.Errorf("campaign service: ensure stats: %w", err)
	}
	return s.repo.Get(ctx, id)
}

// Pause stops a running campaign at the user's request.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	if err := s.apply(ctx, id, domain.ExecutionTransition{
		From:   []domain.ExecutionStatus{domain.ExecutionRunning},
		To:     domain.ExecutionPaused,
		Status: domain.CampaignStatusPaused,
	}); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Resume restarts a paused campaign, including one paused by its daily cap.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	now := s.now()
	if err := s.apply(ctx, id, domain.ExecutionTransition{
		From:       []domain.ExecutionStatus{domain.ExecutionPaused},
		To:         domain.ExecutionRunning,
		Status:     domain.CampaignStatusActive,
		NextCallAt: &now,
	}); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// PauseForDailyCap pauses a running campaign whose quota is used up.
func (s *Service) PauseForDailyCap(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.UpdateExecution(ctx, id, domain.ExecutionTransition{
		From:   []domain.ExecutionStatus{domain.ExecutionRunning},
		To:     domain.ExecutionPaused,
		Status: domain.CampaignStatusPaused,
	})
}

// CompleteExhausted completes a running campaign with nothing left to call.
func (s *Service) CompleteExhausted(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.UpdateExecution(ctx, id, domain.ExecutionTransition{
		From:   []domain.ExecutionStatus{domain.ExecutionRunning},
		To:     domain.ExecutionCompleted,
		Status: domain.CampaignStatusCompleted,
	})
}

// MarkError parks a running campaign that keeps failing. The user-facing
// status becomes paused; Start clears the error.
func (s *Service) MarkError(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.UpdateExecution(ctx, id, domain.ExecutionTransition{
		From:   []domain.ExecutionStatus{domain.ExecutionRunning},
		To:     domain.ExecutionError,
		Status: domain.CampaignStatusPaused,
	})
}

// ListCalls pages through a campaign's calls.
func (s *Service) ListCalls(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.CampaignCall, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", apperrors.ErrValidation)
	}
	return s.calls.ListByCampaign(ctx, id, clampPage(limit), offset)
}

// ListAttempts pages through the dispatch audit trail. The token is opaque to
// callers; an empty next token means there are no more pages.
func (s *Service) ListAttempts(ctx context.Context, id uuid.UUID, limit int, token string) ([]domain.CallAttempt, string, error) {
	if s.attempts == nil {
		return nil, "", fmt.Errorf("%w: attempt store is not configured", apperrors.ErrUnavailable)
	}
	state, err := common.DecodePageToken(token)
	if err != nil {
		return nil, "", err
	}

	attempts, next, err := s.attempts.ListAttemptsByCampaign(ctx, id, clampPage(limit), state)
	if err != nil {
		return nil, "", fmt.Errorf("campaign service: list attempts: %w", err)
	}
	return attempts, common.EncodePageToken(next), nil
}

// Stats retrieves aggregated statistics. A campaign without events yet
// reports zeros.
func (s *Service) Stats(ctx context.Context, id uuid.UUID) (*domain.CampaignStats, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	stats, err := s.statsRepo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return &domain.CampaignStats{}, nil
	}
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Service) apply(ctx context.Context, id uuid.UUID, tr domain.ExecutionTransition) error {
	applied, err := s.repo.UpdateExecution(ctx, id, tr)
	if err != nil {
		return fmt.Errorf("campaign service: update execution: %w", err)
	}
	if applied {
		return nil
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot move campaign from %s to %s", apperrors.ErrConflict, current.ExecutionStatus, tr.To)
}

func validateStartable(c *domain.Campaign) error {
	if c.DailyCap <= 0 {
		return fmt.Errorf("%w: daily cap must be positive", apperrors.ErrValidation)
	}
	if c.StartHour < 0 || c.StartHour > 23 || c.EndHour < 0 || c.EndHour > 23 {
		return fmt.Errorf("%w: calling hours must be between 0 and 23", apperrors.ErrValidation)
	}
	switch c.ContactSource {
	case domain.ContactSourceList:
		if c.ContactListID == nil {
			return fmt.Errorf("%w: contact list is required", apperrors.ErrValidation)
		}
	case domain.ContactSourceCSV:
		if c.CSVFileID == nil {
			return fmt.Errorf("%w: csv file is required", apperrors.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown contact source %q", apperrors.ErrValidation, c.ContactSource)
	}
	if c.TimeZone != "" {
		if _, err := time.LoadLocation(c.TimeZone); err != nil {
			return fmt.Errorf("%w: invalid time zone %s: %v", apperrors.ErrValidation, c.TimeZone, err)
		}
	}
	return nil
}

func clampPage(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
