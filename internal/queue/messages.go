package queue

import (
	"time"

	"github.com/google/uuid"
)

// CallEvent is emitted after every dispatch attempt.
type CallEvent struct {
	EventID     uuid.UUID `json:"event_id"`
	CampaignID  uuid.UUID `json:"campaign_id"`
	CallID      uuid.UUID `json:"call_id"`
	QueueItemID uuid.UUID `json:"queue_item_id"`
	PhoneNumber string    `json:"phone_number"`
	Status      string    `json:"status"`
	RoomName    string    `json:"room_name,omitempty"`
	Dispatched  bool      `json:"dispatched"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}
