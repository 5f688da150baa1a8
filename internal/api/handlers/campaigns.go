package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/campaign-engine/internal/domain"
)

type campaignResponse struct {
	ID                uuid.UUID              `json:"id"`
	Name              string                 `json:"name"`
	AssistantID       *uuid.UUID             `json:"assistant_id,omitempty"`
	ContactSource     domain.ContactSource   `json:"contact_source"`
	ContactListID     *uuid.UUID             `json:"contact_list_id,omitempty"`
	CSVFileID         *uuid.UUID             `json:"csv_file_id,omitempty"`
	Status            domain.CampaignStatus  `json:"status"`
	ExecutionStatus   domain.ExecutionStatus `json:"execution_status"`
	DailyCap          int                    `json:"daily_cap"`
	CallingDays       []string               `json:"calling_days"`
	StartHour         int                    `json:"start_hour"`
	EndHour           int                    `json:"end_hour"`
	TimeZone          string                 `json:"time_zone"`
	CurrentDailyCalls int                    `json:"current_daily_calls"`
	TotalCallsMade    int                    `json:"total_calls_made"`
	LastExecutionAt   *time.Time             `json:"last_execution_at,omitempty"`
	NextCallAt        *time.Time             `json:"next_call_at,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

type campaignStatsResponse struct {
	Dials      int64 `json:"dials"`
	Dispatched int64 `json:"dispatched"`
	Failed     int64 `json:"failed"`
}

type listCallsResponse struct {
	Calls  []callResponse `json:"calls"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
}

type callResponse struct {
	ID          uuid.UUID          `json:"id"`
	CampaignID  uuid.UUID          `json:"campaign_id"`
	PhoneNumber string             `json:"phone_number"`
	ContactName string             `json:"contact_name,omitempty"`
	Status      domain.CallStatus  `json:"status"`
	Outcome     domain.CallOutcome `json:"outcome"`
	RoomName    string             `json:"room_name,omitempty"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Notes       string             `json:"notes,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
}

type listAttemptsResponse struct {
	Attempts []attemptResponse `json:"attempts"`
	NextPage string            `json:"next_page_token,omitempty"`
}

type attemptResponse struct {
	ID          uuid.UUID         `json:"id"`
	CallID      uuid.UUID         `json:"call_id"`
	QueueItemID uuid.UUID         `json:"queue_item_id"`
	PhoneNumber string            `json:"phone_number"`
	Status      domain.CallStatus `json:"status"`
	RoomName    string            `json:"room_name,omitempty"`
	Error       string            `json:"error,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	campaign, err := h.campaigns.Get(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) startCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	campaign, err := h.campaigns.Start(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) pauseCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	campaign, err := h.campaigns.Pause(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) resumeCampaign(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}
	campaign, err := h.campaigns.Resume(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCampaignResponse(campaign))
}

func (h *HandlerSet) campaignStats(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	stats, err := h.campaigns.Stats(ctx.UserContext(), id)
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(campaignStatsResponse{
		Dials:      stats.Dials,
		Dispatched: stats.Dispatched,
		Failed:     stats.Failed,
	})
}

func (h *HandlerSet) listCampaignCalls(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, err := strconv.Atoi(ctx.Query("limit", "50"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid limit")
	}
	offset, err := strconv.Atoi(ctx.Query("offset", "0"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid offset")
	}

	calls, err := h.campaigns.ListCalls(ctx.UserContext(), id, limit, offset)
	if err != nil {
		return translateError(err)
	}

	resp := listCallsResponse{Calls: make([]callResponse, 0, len(calls)), Offset: offset, Limit: limit}
	for _, c := range calls {
		resp.Calls = append(resp.Calls, callResponse{
			ID:          c.ID,
			CampaignID:  c.CampaignID,
			PhoneNumber: c.PhoneNumber,
			ContactName: c.ContactName,
			Status:      c.Status,
			Outcome:     c.Outcome,
			RoomName:    c.RoomName,
			StartedAt:   c.StartedAt,
			CompletedAt: c.CompletedAt,
			Notes:       c.Notes,
			CreatedAt:   c.CreatedAt,
		})
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func (h *HandlerSet) listCampaignAttempts(ctx *fiber.Ctx) error {
	id, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid campaign id")
	}

	limit, err := strconv.Atoi(ctx.Query("limit", "100"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid limit")
	}

	attempts, next, err := h.campaigns.ListAttempts(ctx.UserContext(), id, limit, ctx.Query("page_token"))
	if err != nil {
		return translateError(err)
	}

	resp := listAttemptsResponse{Attempts: make([]attemptResponse, 0, len(attempts)), NextPage: next}
	for _, a := range attempts {
		resp.Attempts = append(resp.Attempts, attemptResponse{
			ID:          a.ID,
			CallID:      a.CallID,
			QueueItemID: a.QueueItemID,
			PhoneNumber: a.PhoneNumber,
			Status:      a.Status,
			RoomName:    a.RoomName,
			Error:       a.Error,
			DurationMs:  a.Duration.Milliseconds(),
			CreatedAt:   a.CreatedAt,
		})
	}

	return ctx.Status(http.StatusOK).JSON(resp)
}

func toCampaignResponse(campaign *domain.Campaign) campaignResponse {
	days := campaign.CallingDays
	if days == nil {
		days = []string{}
	}
	return campaignResponse{
		ID:                campaign.ID,
		Name:              campaign.Name,
		AssistantID:       campaign.AssistantID,
		ContactSource:     campaign.ContactSource,
		ContactListID:     campaign.ContactListID,
		CSVFileID:         campaign.CSVFileID,
		Status:            campaign.Status,
		ExecutionStatus:   campaign.ExecutionStatus,
		DailyCap:          campaign.DailyCap,
		CallingDays:       days,
		StartHour:         campaign.StartHour,
		EndHour:           campaign.EndHour,
		TimeZone:          campaign.TimeZone,
		CurrentDailyCalls: campaign.CurrentDailyCalls,
		TotalCallsMade:    campaign.TotalCallsMade,
		LastExecutionAt:   campaign.LastExecutionAt,
		NextCallAt:        campaign.NextCallAt,
		CreatedAt:         campaign.CreatedAt,
		UpdatedAt:         campaign.UpdatedAt,
	}
}

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(value)
}
