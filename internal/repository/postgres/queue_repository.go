package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-engine/internal/domain"
)

// QueueRepository implements repository.QueueRepository over the call_queue table.
type QueueRepository struct {
	db *sqlx.DB
}

// NewQueueRepository constructs a QueueRepository.
func NewQueueRepository(db *sqlx.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

// CountQueued counts items still waiting to be claimed.
func (r *QueueRepository) CountQueued(ctx context.Context, campaignID uuid.UUID) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM call_queue WHERE campaign_id = $1 AND status = $2`,
		campaignID, domain.QueueStatusQueued); err != nil {
		return 0, fmt.Errorf("queue repo: count: %w", err)
	}
	return n, nil
}

// FindDue lists queued items scheduled at or before now. Items with equal
// priority and schedule come back in insertion order.
func (r *QueueRepository) FindDue(ctx context.Context, campaignID uuid.UUID, now time.Time, limit int) ([]domain.CallQueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	var records []queueRecord
	err := r.db.SelectContext(ctx, &records, `SELECT id, campaign_id, campaign_call_id, phone_number, status, priority,
			scheduled_for, attempts, last_attempt_at, created_at, updated_at
		FROM call_queue
		WHERE campaign_id = $1 AND status = $2 AND scheduled_for <= $3
		ORDER BY priority DESC, scheduled_for ASC, seq ASC
		LIMIT $4`, campaignID, domain.QueueStatusQueued, now, limit)
	if err != nil {
		return nil, fmt.Errorf("queue repo: find due: %w", err)
	}

	items := make([]domain.CallQueueItem, 0, len(records))
	for _, rec := range records {
		items = append(items, rec.toDomain())
	}
	return items, nil
}

// Claim moves a queued item to processing.
func (r *QueueRepository) Claim(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE call_queue SET
		status = $2,
		attempts = attempts + 1,
		last_attempt_at = $3,
		updated_at = NOW()
	WHERE id = $1 AND status = $4`, id, domain.QueueStatusProcessing, at, domain.QueueStatusQueued)
	if err != nil {
		return false, fmt.Errorf("queue repo: claim: %w", err)
	}
	return affected(res)
}

// Finish records the terminal status of a processing item.
func (r *QueueRepository) Finish(ctx context.Context, id uuid.UUID, status domain.QueueStatus, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE call_queue SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, at); err != nil {
		return fmt.Errorf("queue repo: finish: %w", err)
	}
	return nil
}

type queueRecord struct {
	ID             uuid.UUID    `db:"id"`
	CampaignID     uuid.UUID    `db:"campaign_id"`
	CampaignCallID uuid.UUID    `db:"campaign_call_id"`
	PhoneNumber    string       `db:"phone_number"`
	Status         string       `db:"status"`
	Priority       int          `db:"priority"`
	ScheduledFor   time.Time    `db:"scheduled_for"`
	Attempts       int          `db:"attempts"`
	LastAttemptAt  sql.NullTime `db:"last_attempt_at"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

func (r queueRecord) toDomain() domain.CallQueueItem {
	return domain.CallQueueItem{
		ID:             r.ID,
		CampaignID:     r.CampaignID,
		CampaignCallID: r.CampaignCallID,
		PhoneNumber:    r.PhoneNumber,
		Status:         domain.QueueStatus(r.Status),
		Priority:       r.Priority,
		ScheduledFor:   r.ScheduledFor,
		Attempts:       r.Attempts,
		LastAttemptAt:  nullTime(r.LastAttemptAt),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}
