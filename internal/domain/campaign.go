package domain

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates user-facing lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusArchived  CampaignStatus = "archived"
)

// ExecutionStatus enumerates operational states. Only running campaigns are
// picked up by the scheduler.
type ExecutionStatus string

const (
	ExecutionIdle      ExecutionStatus = "idle"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionError     ExecutionStatus = "error"
)

// ContactSource names where a campaign's contacts come from.
type ContactSource string

const (
	ContactSourceList ContactSource = "contact_list"
	ContactSourceCSV  ContactSource = "csv_file"
)

// Campaign models an outbound call campaign and its live execution state.
type Campaign struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Name           string
	AssistantID    *uuid.UUID
	ContactSource  ContactSource
	ContactListID  *uuid.UUID
	CSVFileID      *uuid.UUID
	CampaignPrompt string

	DailyCap    int
	CallingDays []string
	StartHour   int
	EndHour     int
	TimeZone    string

	Status          CampaignStatus
	ExecutionStatus ExecutionStatus

	CurrentDailyCalls int
	DailyCallsDate    *time.Time
	TotalCallsMade    int
	ConsecutiveErrors int
	LastExecutionAt   *time.Time
	NextCallAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location resolves the campaign time zone, falling back to UTC. Zones are
// loaded once per name and shared.
func (c *Campaign) Location() *time.Location {
	return lookupLocation(c.TimeZone)
}

var locations sync.Map // zone name -> *time.Location

func lookupLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	if loc, ok := locations.Load(name); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	actual, _ := locations.LoadOrStore(name, loc)
	return actual.(*time.Location)
}

// RemainingDailyCalls is the number of dispatches still allowed today.
func (c *Campaign) RemainingDailyCalls() int {
	return c.DailyCap - c.CurrentDailyCalls
}

// DailyCapReached reports whether today's quota is used up.
func (c *Campaign) DailyCapReached() bool {
	return c.CurrentDailyCalls >= c.DailyCap
}

// LocalDay truncates t to midnight of its calendar day in the campaign zone.
func (c *Campaign) LocalDay(t time.Time) time.Time {
	loc := c.Location()
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// ExecutionTransition describes a conditional execution state change.
// From lists the states the campaign must currently be in; empty means any.
type ExecutionTransition struct {
	From       []ExecutionStatus
	To         ExecutionStatus
	Status     CampaignStatus
	NextCallAt *time.Time
}

// Allows reports whether the transition may be applied from state s.
func (t ExecutionTransition) Allows(s ExecutionStatus) bool {
	if len(t.From) == 0 {
		return true
	}
	for _, from := range t.From {
		if from == s {
			return true
		}
	}
	return false
}

// CampaignStats aggregates campaign metrics fed by call events.
type CampaignStats struct {
	Dials      int64 `db:"dials"`
	Dispatched int64 `db:"dispatched"`
	Failed     int64 `db:"failed"`
}
