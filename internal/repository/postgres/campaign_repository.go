package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/acme/campaign-engine/internal/domain"
	"github.com/acme/campaign-engine/internal/repository"
)

const campaignColumns = `id, user_id, name, assistant_id, contact_source, contact_list_id, csv_file_id,
	campaign_prompt, daily_cap, calling_days, start_hour, end_hour, time_zone,
	status, execution_status, current_daily_calls, daily_calls_date, total_calls_made,
	consecutive_errors, last_execution_at, next_call_at, created_at, updated_at`

// CampaignRepository implements repository.CampaignRepository using PostgreSQL.
type CampaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository constructs a new repository.
func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Get fetches a campaign by id.
func (r *CampaignRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error) {
	row := r.db.QueryRowxContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id = $1`, id)
	var record campaignRecord
	if err := row.StructScan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("campaign repo: get: %w", err)
	}

	campaign := record.toDomain()
	return &campaign, nil
}

// ListRunning returns running campaigns that are due.
func (r *CampaignRepository) ListRunning(ctx context.Context, now time.Time, limit int) ([]*domain.Campaign, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryxContext(ctx, `SELECT `+campaignColumns+`
		FROM campaigns
		WHERE execution_status = $1 AND (next_call_at IS NULL OR next_call_at <= $2)
		ORDER BY next_call_at ASC NULLS FIRST
		LIMIT $3`, domain.ExecutionRunning, now, limit)
	if err != nil {
		return nil, fmt.Errorf("campaign repo: list running: %w", err)
	}
	defer rows.Close()

	var results []*domain.Campaign
	for rows.Next() {
		var record campaignRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("campaign repo: scan: %w", err)
		}
		campaign := record.toDomain()
		results = append(results, &campaign)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("campaign repo: rows err: %w", err)
	}

	return results, nil
}

// UpdateExecution applies a conditional execution state change.
func (r *CampaignRepository) UpdateExecution(ctx context.Context, id uuid.UUID, tr domain.ExecutionTransition) (bool, error) {
	from := make([]string, 0, len(tr.From))
	for _, s := range tr.From {
		from = append(from, string(s))
	}

	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET
		execution_status = $2,
		status = $3,
		next_call_at = COALESCE($4, next_call_at),
		updated_at = NOW()
	WHERE id = $1 AND (cardinality($5::text[]) = 0 OR execution_status = ANY($5::text[]))`,
		id, tr.To, tr.Status, tr.NextCallAt, pq.StringArray(from))
	if err != nil {
		return false, fmt.Errorf("campaign repo: update execution: %w", err)
	}
	return affected(res)
}

// IncrementDailyCalls bumps counters while under the daily cap.
func (r *CampaignRepository) IncrementDailyCalls(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET
		current_daily_calls = current_daily_calls + 1,
		total_calls_made = total_calls_made + 1,
		last_execution_at = $2,
		updated_at = NOW()
	WHERE id = $1 AND current_daily_calls < daily_cap`, id, at)
	if err != nil {
		return false, fmt.Errorf("campaign repo: increment daily calls: %w", err)
	}
	return affected(res)
}

// ReleaseDailyCall undoes one IncrementDailyCalls. Counters never go below zero.
func (r *CampaignRepository) ReleaseDailyCall(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE campaigns SET
		current_daily_calls = current_daily_calls - 1,
		total_calls_made = GREATEST(total_calls_made - 1, 0),
		updated_at = NOW()
	WHERE id = $1 AND current_daily_calls > 0`, id)
	if err != nil {
		return fmt.Errorf("campaign repo: release daily call: %w", err)
	}
	return nil
}

// RollDailyCounter moves the counter to a new day. A counter that was never
// stamped keeps its value.
func (r *CampaignRepository) RollDailyCounter(ctx context.Context, id uuid.UUID, day time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE campaigns SET
		current_daily_calls = CASE WHEN daily_calls_date IS NULL THEN current_daily_calls ELSE 0 END,
		daily_calls_date = $2::date,
		updated_at = NOW()
	WHERE id = $1 AND daily_calls_date IS DISTINCT FROM $2::date`, id, day.Format(time.DateOnly))
	if err != nil {
		return false, fmt.Errorf("campaign repo: roll daily counter: %w", err)
	}
	return affected(res)
}

// IncrementErrors bumps the consecutive error counter and returns its value.
func (r *CampaignRepository) IncrementErrors(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowxContext(ctx, `UPDATE campaigns SET consecutive_errors = consecutive_errors + 1
		WHERE id = $1 RETURNING consecutive_errors`, id).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, repository.ErrNotFound
		}
		return 0, fmt.Errorf("campaign repo: increment errors: %w", err)
	}
	return n, nil
}

// ResetErrors clears the consecutive error counter.
func (r *CampaignRepository) ResetErrors(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE campaigns SET consecutive_errors = 0 WHERE id = $1 AND consecutive_errors <> 0`, id); err != nil {
		return fmt.Errorf("campaign repo: reset errors: %w", err)
	}
	return nil
}

type campaignRecord struct {
	ID                uuid.UUID      `db:"id"`
	UserID            uuid.UUID      `db:"user_id"`
	Name              string         `db:"name"`
	AssistantID       uuid.NullUUID  `db:"assistant_id"`
	ContactSource     string         `db:"contact_source"`
	ContactListID     uuid.NullUUID  `db:"contact_list_id"`
	CSVFileID         uuid.NullUUID  `db:"csv_file_id"`
	CampaignPrompt    sql.NullString `db:"campaign_prompt"`
	DailyCap          int            `db:"daily_cap"`
	CallingDays       pq.StringArray `db:"calling_days"`
	StartHour         int            `db:"start_hour"`
	EndHour           int            `db:"end_hour"`
	TimeZone          sql.NullString `db:"time_zone"`
	Status            string         `db:"status"`
	ExecutionStatus   string         `db:"execution_status"`
	CurrentDailyCalls int            `db:"current_daily_calls"`
	DailyCallsDate    sql.NullTime   `db:"daily_calls_date"`
	TotalCallsMade    int            `db:"total_calls_made"`
	ConsecutiveErrors int            `db:"consecutive_errors"`
	LastExecutionAt   sql.NullTime   `db:"last_execution_at"`
	NextCallAt        sql.NullTime   `db:"next_call_at"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r campaignRecord) toDomain() domain.Campaign {
	return domain.Campaign{
		ID:                r.ID,
		UserID:            r.UserID,
		Name:              r.Name,
		AssistantID:       nullUUID(r.AssistantID),
		ContactSource:     domain.ContactSource(r.ContactSource),
		ContactListID:     nullUUID(r.ContactListID),
		CSVFileID:         nullUUID(r.CSVFileID),
		CampaignPrompt:    r.CampaignPrompt.String,
		DailyCap:          r.DailyCap,
		CallingDays:       []string(r.CallingDays),
		StartHour:         r.StartHour,
		EndHour:           r.EndHour,
		TimeZone:          r.TimeZone.String,
		Status:            domain.CampaignStatus(r.Status),
		ExecutionStatus:   domain.ExecutionStatus(r.ExecutionStatus),
		CurrentDailyCalls: r.CurrentDailyCalls,
		DailyCallsDate:    nullTime(r.DailyCallsDate),
		TotalCallsMade:    r.TotalCallsMade,
		ConsecutiveErrors: r.ConsecutiveErrors,
		LastExecutionAt:   nullTime(r.LastExecutionAt),
		NextCallAt:        nullTime(r.NextCallAt),
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}
