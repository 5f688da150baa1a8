package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/acme/campaign-engine/internal/domain"
	"github.com/acme/campaign-engine/internal/repository"
)

const callColumns = `id, campaign_id, contact_id, phone_number, contact_name, email, status, outcome,
	call_sid, room_name, started_at, completed_at, notes, created_at, updated_at`

// CallRepository implements repository.CallRepository.
type CallRepository struct {
	db *sqlx.DB
}

// NewCallRepository constructs a CallRepository.
func NewCallRepository(db *sqlx.DB) *CallRepository {
	return &CallRepository{db: db}
}

// CreateWithQueueItem inserts the call and its queue item in one transaction.
// A conflicting (campaign_id, phone_number) pair is reported as false.
func (r *CallRepository) CreateWithQueueItem(ctx context.Context, call *domain.CampaignCall, item *domain.CallQueueItem) (bool, error) {
	if call.ID == uuid.Nil {
		call.ID = uuid.New()
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.CampaignCallID = call.ID
	if call.Outcome == "" {
		call.Outcome = domain.OutcomeNone
	}

	created := false
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO campaign_calls (
			id, campaign_id, contact_id, phone_number, contact_name, email, status, outcome, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (campaign_id, phone_number) DO NOTHING`,
			call.ID, call.CampaignID, toNullUUID(call.ContactID), call.PhoneNumber, call.ContactName,
			sql.NullString{String: call.Email, Valid: call.Email != ""}, call.Status, call.Outcome, call.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert call: %w", err)
		}
		if created, err = affected(res); err != nil || !created {
			return err
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO call_queue (
			id, campaign_id, campaign_call_id, phone_number, status, priority, scheduled_for, attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)`,
			item.ID, item.CampaignID, item.CampaignCallID, item.PhoneNumber, item.Status, item.Priority,
			item.ScheduledFor, item.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert queue item: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("call repo: create: %w", err)
	}
	return created, nil
}

// Get fetches a call by id.
func (r *CallRepository) Get(ctx context.Context, id uuid.UUID) (*domain.CampaignCall, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+callColumns+` FROM campaign_calls WHERE id = $1`, id)
	var record callRecord
	if err := row.StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("call repo: get: %w", err)
	}
	call := record.toDomain()
	return &call, nil
}

// MarkCalling moves the call into the calling state.
func (r *CallRepository) MarkCalling(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	return r.exec(ctx, "mark calling", `UPDATE campaign_calls SET status = $2, started_at = $3, updated_at = NOW()
		WHERE id = $1`, id, domain.CallStatusCalling, startedAt)
}

// MarkDispatched records the provider session identifiers.
func (r *CallRepository) MarkDispatched(ctx context.Context, id uuid.UUID, callSID, roomName string) error {
	return r.exec(ctx, "mark dispatched", `UPDATE campaign_calls SET call_sid = $2, room_name = $3, updated_at = NOW()
		WHERE id = $1`, id, callSID, roomName)
}

// MarkFailed closes the call with a failure note.
func (r *CallRepository) MarkFailed(ctx context.Context, id uuid.UUID, at time.Time, notes string) error {
	return r.exec(ctx, "mark failed", `UPDATE campaign_calls SET status = $2, completed_at = $3, notes = $4, updated_at = NOW()
		WHERE id = $1`, id, domain.CallStatusFailed, at, notes)
}

// ListByCampaign pages through a campaign's calls, newest first.
func (r *CallRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, limit, offset int) ([]domain.CampaignCall, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryxContext(ctx, `SELECT `+callColumns+` FROM campaign_calls
		WHERE campaign_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`, campaignID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("call repo: list: %w", err)
	}
	defer rows.Close()

	var calls []domain.CampaignCall
	for rows.Next() {
		var record callRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("call repo: scan: %w", err)
		}
		calls = append(calls, record.toDomain())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("call repo: rows err: %w", err)
	}
	return calls, nil
}

func (r *CallRepository) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("call repo: %s: %w", op, err)
	}
	ok, err := affected(res)
	if err != nil {
		return fmt.Errorf("call repo: %s: %w", op, err)
	}
	if !ok {
		return repository.ErrNotFound
	}
	return nil
}

type callRecord struct {
	ID          uuid.UUID      `db:"id"`
	CampaignID  uuid.UUID      `db:"campaign_id"`
	ContactID   uuid.NullUUID  `db:"contact_id"`
	PhoneNumber string         `db:"phone_number"`
	ContactName sql.NullString `db:"contact_name"`
	Email       sql.NullString `db:"email"`
	Status      string         `db:"status"`
	Outcome     sql.NullString `db:"outcome"`
	CallSID     sql.NullString `db:"call_sid"`
	RoomName    sql.NullString `db:"room_name"`
	StartedAt   sql.NullTime   `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
	Notes       sql.NullString `db:"notes"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r callRecord) toDomain() domain.CampaignCall {
	return domain.CampaignCall{
		ID:          r.ID,
		CampaignID:  r.CampaignID,
		ContactID:   nullUUID(r.ContactID),
		PhoneNumber: r.PhoneNumber,
		ContactName: r.ContactName.String,
		Email:       r.Email.String,
		Status:      domain.CallStatus(r.Status),
		Outcome:     domain.CallOutcome(r.Outcome.String),
		CallSID:     r.CallSID.String,
		RoomName:    r.RoomName.String,
		StartedAt:   nullTime(r.StartedAt),
		CompletedAt: nullTime(r.CompletedAt),
		Notes:       r.Notes.String,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}
