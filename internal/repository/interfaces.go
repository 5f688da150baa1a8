package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/campaign-engine/internal/domain"
	apperrors "github.com/acme/campaign-engine/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// CampaignRepository manages campaign configuration and execution state.
type CampaignRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	// ListRunning returns running campaigns due at now, ordered by
	// next_call_at ascending with unscheduled campaigns first.
	ListRunning(ctx context.Context, now time.Time, limit int) ([]*domain.Campaign, error)
	// UpdateExecution applies the transition only if the campaign is in one
	// of the From states. It reports whether a row changed.
	UpdateExecution(ctx context.Context, id uuid.UUID, tr domain.ExecutionTransition) (bool, error)
	// IncrementDailyCalls bumps the daily and total counters unless the
	// daily cap is already reached.
	IncrementDailyCalls(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	// ReleaseDailyCall gives back a slot taken by IncrementDailyCalls for a
	// call that was never placed.
	ReleaseDailyCall(ctx context.Context, id uuid.UUID) error
	// RollDailyCounter moves the daily counter to day, zeroing it when it
	// belonged to an earlier day.
	RollDailyCounter(ctx context.Context, id uuid.UUID, day time.Time) (bool, error)
	IncrementErrors(ctx context.Context, id uuid.UUID) (int, error)
	ResetErrors(ctx context.Context, id uuid.UUID) error
}

// CallRepository persists campaign calls and their queue items.
type CallRepository interface {
	// CreateWithQueueItem inserts both records atomically. It returns false
	// without error when a call already exists for the campaign and phone.
	CreateWithQueueItem(ctx context.Context, call *domain.CampaignCall, item *domain.CallQueueItem) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.CampaignCall, error)
	MarkCalling(ctx context.Context, id uuid.UUID, startedAt time.Time) error
	MarkDispatched(ctx context.Context, id uuid.UUID, callSID, roomName string) error
	MarkFailed(ctx context.Context, id uuid.UUID, at time.Time, notes string) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]domain.CampaignCall, error)
}

// QueueRepository manages scheduled call queue items.
type QueueRepository interface {
	CountQueued(ctx context.Context, campaignID uuid.UUID) (int, error)
	// FindDue returns queued items scheduled at or before now, highest
	// priority first, then earliest scheduled.
	FindDue(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]domain.CallQueueItem, error)
	// Claim moves a queued item to processing. False means another worker
	// or a user action got there first.
	Claim(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	Finish(ctx context.Context, id uuid.UUID, status domain.QueueStatus, at time.Time) error
}

// ContactRepository reads the contact stores a campaign may draw from.
type ContactRepository interface {
	ListByContactList(ctx context.Context, listID uuid.UUID) ([]ContactRecord, error)
	ListByCSVFile(ctx context.Context, fileID uuid.UUID) ([]ContactRecord, error)
}

// PhoneNumberRepository looks up caller identities.
type PhoneNumberRepository interface {
	// FindActiveOutbound returns nil without error when the assistant has no
	// active number.
	FindActiveOutbound(ctx context.Context, assistantID uuid.UUID) (*domain.OutboundNumber, error)
}

// AttemptStore keeps the audit trail of dispatch attempts.
type AttemptStore interface {
	AppendAttempt(ctx context.Context, attempt domain.CallAttempt) error
	ListAttemptsByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.CallAttempt, []byte, error)
}

// CampaignStatisticsRepository keeps aggregate counters.
type CampaignStatisticsRepository interface {
	Ensure(ctx context.Context, campaignID uuid.UUID) error
	Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error)
	ApplyDelta(ctx context.Context, campaignID uuid.UUID, delta StatsDelta) error
}

// ContactRecord is the storage representation of a contact in either store.
type ContactRecord struct {
	ID        uuid.UUID
	FirstName string
	LastName  string
	Name      string
	Phone     string
	Email     string
}

// StatsDelta captures atomic counter increments.
type StatsDelta struct {
	DialsDelta      int64
	DispatchedDelta int64
	FailedDelta     int64
}

// IsZero reports whether the delta changes nothing.
func (d StatsDelta) IsZero() bool {
	return d.DialsDelta == 0 && d.DispatchedDelta == 0 && d.FailedDelta == 0
}
