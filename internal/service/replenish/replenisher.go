package replenish

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/campaign-engine/internal/domain"
	"github.com/acme/campaign-engine/internal/metrics"
	"github.com/acme/campaign-engine/internal/repository"
)

// DefaultLowWaterMark is the queue depth above which no new contacts are queued.
const DefaultLowWaterMark = 10

// CandidateSource resolves the contacts a campaign may call.
type CandidateSource interface {
	Resolve(ctx context.Context, c *domain.Campaign) ([]domain.ContactCandidate, error)
}

// Completer finishes a running campaign that has nothing left to call.
type Completer interface {
	CompleteExhausted(ctx context.Context, id uuid.UUID) (bool, error)
}

// Options tunes the replenisher.
type Options struct {
	LowWaterMark int
	Now          func() time.Time
}

// Result summarises one replenish pass.
type Result struct {
	Queued    int
	Skipped   int
	Exhausted bool
}

// Replenisher tops up a campaign's call queue from its contact source.
type Replenisher struct {
	completer Completer
	calls     repository.CallRepository
	queue     repository.QueueRepository
	source    CandidateSource
	metrics   *metrics.Metrics
	logger    *zap.Logger
	opts      Options
}

// New constructs a Replenisher.
func New(
	completer Completer,
	calls repository.CallRepository,
	queue repository.QueueRepository,
	source CandidateSource,
	m *metrics.Metrics,
	logger *zap.Logger,
	opts Options,
) *Replenisher {
	if opts.LowWaterMark < 0 {
		opts.LowWaterMark = DefaultLowWaterMark
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Replenisher{
		completer: completer,
		calls:     calls,
		queue:     queue,
		source:    source,
		metrics:   m,
		logger:    logger,
		opts:      opts,
	}
}

// Replenish queues contacts that have never been attempted. Running it twice
// with an unchanged source creates nothing the second time. When the source
// has nothing left to offer and the queue is empty the campaign is completed.
func (r *Replenisher) Replenish(ctx context.Context, c *domain.Campaign) (Result, error) {
	var res Result

	pending, err := r.queue.CountQueued(ctx, c.ID)
	if err != nil {
		return res, fmt.Errorf("replenish: count queued: %w", err)
	}
	if pending > r.opts.LowWaterMark {
		return res, nil
	}

	candidates, err := r.source.Resolve(ctx, c)
	if err != nil {
		return res, fmt.Errorf("replenish: %w", err)
	}

	if len(candidates) == 0 {
		if pending == 0 {
			return r.exhaust(ctx, c, "no contacts")
		}
		return res, nil
	}

	now := r.opts.Now()
	seen := make(map[string]struct{}, len(candidates))
	for _, cand := range candidates {
		phone := domain.NormalizePhone(cand.PhoneNumber)
		if _, dup := seen[phone]; dup {
			res.Skipped++
			continue
		}
		seen[phone] = struct{}{}

		call := &domain.CampaignCall{
			CampaignID:  c.ID,
			ContactID:   cand.ID,
			PhoneNumber: phone,
			ContactName: cand.Name,
			Email:       cand.Email,
			Status:      domain.CallStatusPending,
			Outcome:     domain.OutcomeNone,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		item := &domain.CallQueueItem{
			CampaignID:   c.ID,
			PhoneNumber:  phone,
			Status:       domain.QueueStatusQueued,
			ScheduledFor: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		created, err := r.calls.CreateWithQueueItem(ctx, call, item)
		if err != nil {
			return res, fmt.Errorf("replenish: queue %s: %w", phone, err)
		}
		if !created {
			res.Skipped++
			continue
		}
		res.Queued++
	}

	r.metrics.AddReplenished(res.Queued)
	if res.Queued > 0 {
		r.logger.Info("queued contacts",
			zap.String("campaign_id", c.ID.String()),
			zap.Int("queued", res.Queued),
			zap.Int("skipped", res.Skipped),
		)
	}

	if res.Queued == 0 && pending == 0 {
		exhausted, err := r.exhaust(ctx, c, "all contacts attempted")
		exhausted.Skipped = res.Skipped
		return exhausted, err
	}
	return res, nil
}

func (r *Replenisher) exhaust(ctx context.Context, c *domain.Campaign, reason string) (Result, error) {
	applied, err := r.completer.CompleteExhausted(ctx, c.ID)
	if err != nil {
		return Result{}, fmt.Errorf("replenish: complete campaign: %w", err)
	}
	if applied {
		r.logger.Info("campaign completed",
			zap.String("campaign_id", c.ID.String()),
			zap.String("reason", reason),
		)
	}
	return Result{Exhausted: true}, nil
}
