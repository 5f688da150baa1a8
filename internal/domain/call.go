package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus enumerates lifecycle stages of a contact's campaign call.
type CallStatus string

const (
	CallStatusPending   CallStatus = "pending"
	CallStatusCalling   CallStatus = "calling"
	CallStatusAnswered  CallStatus = "answered"
	CallStatusCompleted CallStatus = "completed"
	CallStatusFailed    CallStatus = "failed"
	CallStatusBusy      CallStatus = "busy"
	CallStatusNoAnswer  CallStatus = "no_answer"
)

// CallOutcome is set by downstream conversation analysis, never by the engine.
type CallOutcome string

const (
	OutcomeNone          CallOutcome = "none"
	OutcomeInterested    CallOutcome = "interested"
	OutcomeNotInterested CallOutcome = "not_interested"
	OutcomeCallback      CallOutcome = "callback"
	OutcomeDoNotCall     CallOutcome = "do_not_call"
	OutcomeVoicemail     CallOutcome = "voicemail"
)

// QueueStatus enumerates states of a scheduled work unit.
type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusCancelled  QueueStatus = "cancelled"
)

// CampaignCall is one contact's outcome record within a campaign. There is at
// most one per (CampaignID, PhoneNumber).
type CampaignCall struct {
	ID          uuid.UUID
	CampaignID  uuid.UUID
	ContactID   *uuid.UUID
	PhoneNumber string
	ContactName string
	Email       string
	Status      CallStatus
	Outcome     CallOutcome
	CallSID     string
	RoomName    string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Notes       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CallQueueItem is a scheduled attempt for a CampaignCall.
type CallQueueItem struct {
	ID             uuid.UUID
	CampaignID     uuid.UUID
	CampaignCallID uuid.UUID
	PhoneNumber    string
	Status         QueueStatus
	Priority       int
	ScheduledFor   time.Time
	Attempts       int
	LastAttemptAt  *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ContactCandidate is the normalized projection of a contact from any source.
type ContactCandidate struct {
	ID          *uuid.UUID
	Name        string
	PhoneNumber string
	Email       string
}

// OutboundNumber is the caller identity bound to an assistant.
type OutboundNumber struct {
	Number  string
	TrunkID string
}

// CallAttempt is the audit record of a single dispatch attempt.
type CallAttempt struct {
	ID          uuid.UUID
	CampaignID  uuid.UUID
	CallID      uuid.UUID
	QueueItemID uuid.UUID
	PhoneNumber string
	Status      CallStatus
	RoomName    string
	Error       string
	CreatedAt   time.Time
	Duration    time.Duration
}
