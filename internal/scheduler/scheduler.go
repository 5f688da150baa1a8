package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/campaign-engine/internal/domain"
	"github.com/acme/campaign-engine/internal/metrics"
	"github.com/acme/campaign-engine/internal/repository"
	callsvc "github.com/acme/campaign-engine/internal/service/call"
	"github.com/acme/campaign-engine/internal/service/lease"
	"github.com/acme/campaign-engine/internal/service/replenish"
)

const (
	outcomeOutsideWindow = "outside_window"
	outcomeCapPaused     = "cap_paused"
	outcomeExhausted     = "exhausted"
	outcomeDrained       = "drained"
	outcomeError         = "error"

	tickOK      = "ok"
	tickSkipped = "skipped"
	tickError   = "error"

	defaultFetchLimit = 100
)

// ErrLeaseLost aborts a tick whose lease could not be renewed.
var ErrLeaseLost = errors.New("scheduler: tick lease lost")

// Lease grants exclusive right to run a tick. A nil grant means another
// instance holds it.
type Lease interface {
	Acquire(ctx context.Context) (lease.Grant, error)
}

// Lifecycle applies the engine-driven campaign transitions.
type Lifecycle interface {
	PauseForDailyCap(ctx context.Context, id uuid.UUID) (bool, error)
	MarkError(ctx context.Context, id uuid.UUID) (bool, error)
}

// Replenisher tops up a campaign's queue.
type Replenisher interface {
	Replenish(ctx context.Context, c *domain.Campaign) (replenish.Result, error)
}

// Drainer dispatches due queue items.
type Drainer interface {
	Drain(ctx context.Context, c *domain.Campaign) (callsvc.DrainResult, error)
}

// Options tunes the loop.
type Options struct {
	TickInterval time.Duration
	FetchLimit   int
	// ErrorThreshold is the number of consecutive failing ticks after which a
	// campaign moves to the error state. Zero disables it.
	ErrorThreshold int
	// LeaseRenewInterval is how often a running tick extends its lease. It
	// must be well below the lease TTL. Zero disables renewal.
	LeaseRenewInterval time.Duration
	Now                func() time.Time
}

// Deps groups the collaborators of a Scheduler.
type Deps struct {
	Lease       Lease
	Campaigns   repository.CampaignRepository
	Lifecycle   Lifecycle
	Replenisher Replenisher
	Drainer     Drainer
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// Scheduler periodically walks running campaigns: it checks the calling
// window and daily cap, tops up the queue and drains due items.
type Scheduler struct {
	lease       Lease
	campaigns   repository.CampaignRepository
	lifecycle   Lifecycle
	replenisher Replenisher
	drainer     Drainer
	metrics     *metrics.Metrics
	logger      *zap.Logger
	opts        Options
	tracer      trace.Tracer
}

// New constructs a scheduler.
func New(deps Deps, opts Options) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 30 * time.Second
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = defaultFetchLimit
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		lease:       deps.Lease,
		campaigns:   deps.Campaigns,
		lifecycle:   deps.Lifecycle,
		replenisher: deps.Replenisher,
		drainer:     deps.Drainer,
		metrics:     deps.Metrics,
		logger:      logger,
		opts:        opts,
		tracer:      otel.Tracer("campaign.engine.scheduler"),
	}
}

// Run executes the scheduling loop until cancelled. The first tick runs
// immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler tick failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs one pass over the running campaigns. Failures of a single
// campaign are logged and counted; they never abort the pass.
func (s *Scheduler) Tick(ctx context.Context) error {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "scheduler.tick")
	defer span.End()

	grant, err := s.lease.Acquire(ctx)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveTick(tickError, time.Since(started))
		return fmt.Errorf("scheduler: acquire lease: %w", err)
	}
	if grant == nil {
		s.logger.Debug("scheduler: lease held elsewhere, skipping tick")
		span.SetAttributes(attribute.Bool("lease.acquired", false))
		s.metrics.ObserveTick(tickSkipped, time.Since(started))
		return nil
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := grant.Release(rctx); err != nil {
			s.logger.Warn("scheduler: release lease", zap.Error(err))
		}
	}()

	tickCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	stopRenewal := s.keepAlive(tickCtx, grant, abort)
	defer stopRenewal()

	now := s.opts.Now()
	campaigns, err := s.campaigns.ListRunning(tickCtx, now, s.opts.FetchLimit)
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveTick(tickError, time.Since(started))
		return fmt.Errorf("scheduler: list running campaigns: %w", err)
	}
	span.SetAttributes(attribute.Int("campaign.count", len(campaigns)))
	s.logger.Debug("scheduler: tick started", zap.Int("campaigns", len(campaigns)), zap.Time("now", now))

	for _, campaign := range campaigns {
		if tickCtx.Err() != nil {
			break
		}
		s.runCampaign(tickCtx, campaign, now)
	}

	if cause := context.Cause(tickCtx); errors.Is(cause, ErrLeaseLost) {
		span.RecordError(cause)
		s.metrics.ObserveTick(tickError, time.Since(started))
		return cause
	}
	s.metrics.ObserveTick(tickOK, time.Since(started))
	return ctx.Err()
}

// keepAlive extends the grant every LeaseRenewInterval until stopped. A lost
// lease, or a renewal whose outcome is unknown, aborts the tick so two
// instances never dial for the same campaign at once.
func (s *Scheduler) keepAlive(ctx context.Context, grant lease.Grant, abort context.CancelCauseFunc) func() {
	if s.opts.LeaseRenewInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.opts.LeaseRenewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			held, err := grant.Extend(ctx)
			if err == nil && held {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				s.logger.Error("scheduler: extend lease", zap.Error(err))
				abort(fmt.Errorf("%w: %v", ErrLeaseLost, err))
			} else {
				s.logger.Error("scheduler: lease taken by another instance")
				abort(ErrLeaseLost)
			}
			return
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (s *Scheduler) runCampaign(ctx context.Context, campaign *domain.Campaign, now time.Time) {
	ctx, span := s.tracer.Start(ctx, "scheduler.campaign", trace.WithAttributes(
		attribute.String("campaign.id", campaign.ID.String()),
		attribute.Int("campaign.daily_cap", campaign.DailyCap),
	))
	defer span.End()

	outcome, err := s.safeProcess(ctx, campaign, now)
	if err != nil && ctx.Err() != nil {
		// Interrupted by shutdown or a lost lease; not the campaign's fault.
		span.RecordError(err)
		s.logger.Info("scheduler: campaign interrupted",
			zap.String("campaign_id", campaign.ID.String()),
			zap.Error(context.Cause(ctx)),
		)
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.IncCampaignOutcome(outcomeError)
		s.logger.Error("scheduler: campaign failed",
			zap.String("campaign_id", campaign.ID.String()),
			zap.Error(err),
		)
		s.recordFailure(ctx, campaign)
		return
	}

	span.SetAttributes(attribute.String("campaign.outcome", outcome))
	s.metrics.IncCampaignOutcome(outcome)
}

func (s *Scheduler) safeProcess(ctx context.Context, campaign *domain.Campaign, now time.Time) (outcome string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler: panic processing campaign: %v", r)
		}
	}()
	return s.process(ctx, campaign, now)
}

func (s *Scheduler) process(ctx context.Context, campaign *domain.Campaign, now time.Time) (string, error) {
	if !MayExecuteNow(campaign, now) {
		s.logger.Debug("scheduler: campaign outside calling window", zap.String("campaign_id", campaign.ID.String()))
		return outcomeOutsideWindow, nil
	}

	if err := s.rollDailyCounter(ctx, campaign, now); err != nil {
		return "", err
	}

	if campaign.DailyCapReached() {
		paused, err := s.lifecycle.PauseForDailyCap(ctx, campaign.ID)
		if err != nil {
			return "", fmt.Errorf("scheduler: pause for daily cap: %w", err)
		}
		if paused {
			s.logger.Info("scheduler: daily cap reached, campaign paused",
				zap.String("campaign_id", campaign.ID.String()),
				zap.Int("daily_cap", campaign.DailyCap),
			)
		}
		return outcomeCapPaused, nil
	}

	res, err := s.replenisher.Replenish(ctx, campaign)
	if err != nil {
		return "", fmt.Errorf("scheduler: replenish: %w", err)
	}
	if res.Exhausted {
		return outcomeExhausted, nil
	}

	drained, err := s.drainer.Drain(ctx, campaign)
	if err != nil {
		return "", fmt.Errorf("scheduler: drain: %w", err)
	}
	s.logger.Info("scheduler: campaign processed",
		zap.String("campaign_id", campaign.ID.String()),
		zap.Int("queued", res.Queued),
		zap.Int("dispatched", drained.Dispatched),
		zap.Int("failed", drained.Failed),
		zap.Bool("cap_reached", drained.CapReached),
	)

	if campaign.ConsecutiveErrors > 0 {
		if err := s.campaigns.ResetErrors(ctx, campaign.ID); err != nil {
			s.logger.Warn("scheduler: reset error counter", zap.String("campaign_id", campaign.ID.String()), zap.Error(err))
		}
	}
	return outcomeDrained, nil
}

// rollDailyCounter zeroes the daily counter once the campaign-local day has
// changed and updates the snapshot so the cap check sees the new value.
func (s *Scheduler) rollDailyCounter(ctx context.Context, campaign *domain.Campaign, now time.Time) error {
	day := campaign.LocalDay(now)
	if campaign.DailyCallsDate != nil && sameDay(*campaign.DailyCallsDate, day) {
		return nil
	}
	rolled, err := s.campaigns.RollDailyCounter(ctx, campaign.ID, day)
	if err != nil {
		return fmt.Errorf("scheduler: roll daily counter: %w", err)
	}
	if !rolled {
		return nil
	}
	if campaign.DailyCallsDate != nil {
		s.logger.Info("scheduler: daily counter reset",
			zap.String("campaign_id", campaign.ID.String()),
			zap.Int("previous", campaign.CurrentDailyCalls),
		)
		campaign.CurrentDailyCalls = 0
	}
	campaign.DailyCallsDate = &day
	return nil
}

func (s *Scheduler) recordFailure(ctx context.Context, campaign *domain.Campaign) {
	count, err := s.campaigns.IncrementErrors(ctx, campaign.ID)
	if err != nil {
		s.logger.Warn("scheduler: increment error counter", zap.String("campaign_id", campaign.ID.String()), zap.Error(err))
		return
	}
	if s.opts.ErrorThreshold <= 0 || count < s.opts.ErrorThreshold {
		return
	}
	applied, err := s.lifecycle.MarkError(ctx, campaign.ID)
	if err != nil {
		s.logger.Warn("scheduler: mark campaign errored", zap.String("campaign_id", campaign.ID.String()), zap.Error(err))
		return
	}
	if applied {
		s.logger.Error("scheduler: campaign moved to error state",
			zap.String("campaign_id", campaign.ID.String()),
			zap.Int("consecutive_errors", count),
		)
	}
}

// sameDay compares calendar dates, each in its own location.
func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
