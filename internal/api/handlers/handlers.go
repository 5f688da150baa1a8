package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/campaign-engine/internal/domain"
	"github.com/acme/campaign-engine/pkg/logger"
)

// CampaignService is the lifecycle surface exposed over HTTP.
type CampaignService interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Start(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Pause(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	Resume(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	ListCalls(ctx context.Context, id uuid.UUID, limit, offset int) ([]domain.CampaignCall, error)
	ListAttempts(ctx context.Context, id uuid.UUID, limit int, token string) ([]domain.CallAttempt, string, error)
	Stats(ctx context.Context, id uuid.UUID) (*domain.CampaignStats, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	campaigns CampaignService
	checks    map[string]HealthCheck
	logger    *logger.Logger
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(campaigns CampaignService, checks map[string]HealthCheck, lg *logger.Logger) *HandlerSet {
	if lg == nil {
		lg = logger.NewNop()
	}
	return &HandlerSet{campaigns: campaigns, checks: checks, logger: lg}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	campaigns := v1.Group("/campaigns")
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Post("/:id/start", h.startCampaign)
	campaigns.Post("/:id/pause", h.pauseCampaign)
	campaigns.Post("/:id/resume", h.resumeCampaign)
	campaigns.Get("/:id/calls", h.listCampaignCalls)
	campaigns.Get("/:id/attempts", h.listCampaignAttempts)
	campaigns.Get("/:id/stats", h.campaignStats)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.logger.WithContext(ctx.UserContext()).Error("request failed", zap.Error(err), zap.String("path", ctx.Path()))
		message = "internal server error"
	}

	return ctx.Status(code).JSON(fiber.Map{
		"error":    message,
		"trace_id": ctx.GetRespHeader("Trace-Id"),
	})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.checks {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	status := fiber.StatusOK
	label := "ok"
	if len(errs) > 0 {
		status = fiber.StatusServiceUnavailable
		label = "degraded"
	}

	return ctx.Status(status).JSON(fiber.Map{"status": label, "errors": errs})
}
