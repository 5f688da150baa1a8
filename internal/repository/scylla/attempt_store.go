package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/acme/campaign-engine/internal/domain"
)

// AttemptStore keeps the dispatch audit trail in Scylla, partitioned by
// campaign and clustered newest first.
type AttemptStore struct {
	session *gocql.Session
}

// NewAttemptStore creates a new attempt store.
func NewAttemptStore(session *gocql.Session) *AttemptStore {
	return &AttemptStore{session: session}
}

// AppendAttempt inserts one attempt row.
func (s *AttemptStore) AppendAttempt(ctx context.Context, attempt domain.CallAttempt) error {
	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	durationMs := int64(attempt.Duration / time.Millisecond)
	if err := s.session.Query(`INSERT INTO call_attempts_by_campaign
		(campaign_id, created_at, attempt_id, call_id, queue_item_id, phone_number, status, room_name, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.CampaignID.String(), attempt.CreatedAt, attempt.ID.String(), attempt.CallID.String(),
		attempt.QueueItemID.String(), attempt.PhoneNumber, string(attempt.Status), attempt.RoomName,
		attempt.Error, durationMs,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("attempt store: append: %w", err)
	}
	return nil
}

// ListAttemptsByCampaign pages through a campaign's attempts.
func (s *AttemptStore) ListAttemptsByCampaign(ctx context.Context, campaignID uuid.UUID, limit int, pagingState []byte) ([]domain.CallAttempt, []byte, error) {
	if limit <= 0 {
		limit = 100
	}

	query := s.session.Query(`SELECT created_at, attempt_id, call_id, queue_item_id, phone_number, status, room_name, error, duration_ms
		FROM call_attempts_by_campaign WHERE campaign_id = ?`, campaignID.String()).WithContext(ctx)
	query = query.PageSize(limit)
	if len(pagingState) > 0 {
		query = query.PageState(pagingState)
	}

	iter := query.Iter()
	attempts := make([]domain.CallAttempt, 0, limit)

	var (
		created     time.Time
		attemptID   string
		callID      string
		queueItemID string
		phone       string
		status      string
		roomName    string
		errText     string
		durationMs  int64
	)

	for iter.Scan(&created, &attemptID, &callID, &queueItemID, &phone, &status, &roomName, &errText, &durationMs) {
		id, err := uuid.Parse(attemptID)
		if err != nil {
			continue
		}
		attempts = append(attempts, domain.CallAttempt{
			ID:          id,
			CampaignID:  campaignID,
			CallID:      parseOrNil(callID),
			QueueItemID: parseOrNil(queueItemID),
			PhoneNumber: phone,
			Status:      domain.CallStatus(status),
			RoomName:    roomName,
			Error:       errText,
			CreatedAt:   created,
			Duration:    time.Duration(durationMs) * time.Millisecond,
		})
	}

	if err := iter.Close(); err != nil {
		return nil, nil, fmt.Errorf("attempt store: iter close: %w", err)
	}

	return attempts, iter.PageState(), nil
}

func parseOrNil(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil
	}
	return id
}
