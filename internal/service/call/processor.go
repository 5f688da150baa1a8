package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/campaign-engine/internal/domain"
	"github.com/acme/campaign-engine/internal/metrics"
	"github.com/acme/campaign-engine/internal/queue"
	"github.com/acme/campaign-engine/internal/repository"
	"github.com/acme/campaign-engine/internal/telephony"
	apperrors "github.com/acme/campaign-engine/pkg/errors"
)

// ErrNoOutboundTrunk is returned when strict trunk mode is on and the
// campaign's assistant has no active number with a SIP trunk.
var ErrNoOutboundTrunk = fmt.Errorf("%w: no outbound trunk for assistant", apperrors.ErrConfiguration)

const (
	defaultBatchSize      = 5
	defaultRequestTimeout = 10 * time.Second
	defaultParticipant    = "Customer"
)

// EventPublisher emits call events after each attempt.
type EventPublisher interface {
	PublishCallEvent(ctx context.Context, evt queue.CallEvent) error
}

// Options tunes the processor.
type Options struct {
	BatchSize      int
	DispatchDelay  time.Duration
	RequestTimeout time.Duration
	AgentName      string
	// RequireTrunk fails items whose assistant has no outbound trunk. When
	// false the session and agent are still provisioned but no leg is dialed.
	RequireTrunk bool
	Now          func() time.Time
}

// DrainResult summarises one drain pass.
type DrainResult struct {
	Selected   int
	Dispatched int
	Failed     int
	CapReached bool
}

// Processor dispatches due queue items, one at a time.
type Processor struct {
	campaigns repository.CampaignRepository
	calls     repository.CallRepository
	queue     repository.QueueRepository
	numbers   repository.PhoneNumberRepository
	adapter   telephony.Adapter
	attempts  repository.AttemptStore
	events    EventPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	opts      Options
	tracer    trace.Tracer
}

// Deps groups the processor's collaborators. Attempts, Events and Metrics are
// optional.
type Deps struct {
	Campaigns repository.CampaignRepository
	Calls     repository.CallRepository
	Queue     repository.QueueRepository
	Numbers   repository.PhoneNumberRepository
	Adapter   telephony.Adapter
	Attempts  repository.AttemptStore
	Events    EventPublisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// NewProcessor constructs a Processor.
func NewProcessor(deps Deps, opts Options) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.AgentName == "" {
		opts.AgentName = "ai"
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		campaigns: deps.Campaigns,
		calls:     deps.Calls,
		queue:     deps.Queue,
		numbers:   deps.Numbers,
		adapter:   deps.Adapter,
		attempts:  deps.Attempts,
		events:    deps.Events,
		metrics:   deps.Metrics,
		logger:    logger,
		opts:      opts,
		tracer:    otel.Tracer("campaign.engine.processor"),
	}
}

// Drain dispatches up to min(BatchSize, remaining daily quota) due items.
// Failures of individual items are recorded and do not abort the batch; only
// storage errors on the queue itself are returned.
func (p *Processor) Drain(ctx context.Context, c *domain.Campaign) (DrainResult, error) {
	var res DrainResult

	remaining := c.RemainingDailyCalls()
	if remaining <= 0 {
		res.CapReached = true
		return res, nil
	}

	limit := p.opts.BatchSize
	if remaining < limit {
		limit = remaining
	}

	items, err := p.queue.FindDue(ctx, c.ID, p.opts.Now(), limit)
	if err != nil {
		return res, fmt.Errorf("drain: find due: %w", err)
	}
	res.Selected = len(items)

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		outcome, err := p.process(ctx, c, item)
		if err != nil {
			return res, err
		}
		switch outcome {
		case outcomeDispatched:
			res.Dispatched++
		case outcomeCapReached:
			res.CapReached = true
			return res, nil
		case outcomeFailed:
			res.Failed++
		}

		if i < len(items)-1 && outcome != outcomeSkipped {
			if err := sleep(ctx, p.opts.DispatchDelay); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeDispatched
	outcomeCapReached
	outcomeFailed
)

// process dials one item. A daily slot is reserved with the conditional
// increment before anything is claimed or dialed, so a concurrent writer that
// fills the cap stops the batch without an uncounted call. Slots of calls that
// were never placed are given back.
func (p *Processor) process(ctx context.Context, c *domain.Campaign, item domain.CallQueueItem) (outcome, error) {
	sctx, span := p.tracer.Start(ctx, "campaign.dispatch", trace.WithAttributes(
		attribute.String("campaign.id", c.ID.String()),
		attribute.String("queue_item.id", item.ID.String()),
	))
	defer span.End()

	started := p.opts.Now()
	reserved, err := p.campaigns.IncrementDailyCalls(sctx, c.ID, started)
	if err != nil {
		span.RecordError(err)
		return outcomeSkipped, fmt.Errorf("drain: reserve daily call: %w", err)
	}
	if !reserved {
		p.logger.Info("daily cap reached during batch", zap.String("campaign_id", c.ID.String()))
		return outcomeCapReached, nil
	}

	claimed, err := p.queue.Claim(sctx, item.ID, started)
	if err != nil {
		span.RecordError(err)
		p.release(sctx, c)
		return outcomeSkipped, fmt.Errorf("drain: claim %s: %w", item.ID, err)
	}
	if !claimed {
		p.release(sctx, c)
		p.metrics.ObserveDispatch(metrics.ResultSkipped, 0)
		return outcomeSkipped, nil
	}

	roomName, dispatchErr := p.dispatch(sctx, c, item, started)
	elapsed := p.opts.Now().Sub(started)
	if dispatchErr != nil {
		span.RecordError(dispatchErr)
		span.SetStatus(codes.Error, dispatchErr.Error())
		p.release(sctx, c)
		p.fail(sctx, c, item, dispatchErr)
		p.record(sctx, c, item, roomName, domain.CallStatusFailed, dispatchErr, elapsed)
		p.metrics.ObserveDispatch(metrics.ResultFailed, elapsed)
		return outcomeFailed, nil
	}

	if err := p.queue.Finish(sctx, item.ID, domain.QueueStatusCompleted, p.opts.Now()); err != nil {
		p.logger.Warn("finish queue item", zap.String("queue_item_id", item.ID.String()), zap.Error(err))
	}
	p.record(sctx, c, item, roomName, domain.CallStatusCalling, nil, elapsed)
	p.metrics.ObserveDispatch(metrics.ResultDispatched, elapsed)
	return outcomeDispatched, nil
}

// release returns a reserved slot. It outlives cancellation of the drain so a
// shutdown mid-call does not leak quota.
func (p *Processor) release(ctx context.Context, c *domain.Campaign) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.RequestTimeout)
	defer cancel()
	if err := p.campaigns.ReleaseDailyCall(rctx, c.ID); err != nil {
		p.logger.Warn("release daily call", zap.String("campaign_id", c.ID.String()), zap.Error(err))
	}
}

// dispatch provisions the session, the agent and the PSTN leg. It returns the
// room name whenever one was generated, even on failure.
func (p *Processor) dispatch(ctx context.Context, c *domain.Campaign, item domain.CallQueueItem, started time.Time) (string, error) {
	if err := p.calls.MarkCalling(ctx, item.CampaignCallID, started); err != nil {
		return "", fmt.Errorf("mark calling: %w", err)
	}
	call, err := p.calls.Get(ctx, item.CampaignCallID)
	if err != nil {
		return "", fmt.Errorf("load call: %w", err)
	}

	trunk, err := p.resolveTrunk(ctx, c)
	if err != nil {
		return "", err
	}

	destination := domain.NormalizePhone(call.PhoneNumber)
	roomName := fmt.Sprintf("campaign-%s-%s-%d", c.ID, call.ID, started.UnixMilli())

	meta := telephony.CallMetadata{
		AssistantID:    c.AssistantID,
		CampaignID:     c.ID,
		CampaignPrompt: c.CampaignPrompt,
		ContactInfo: telephony.ContactInfo{
			Name:  call.ContactName,
			Email: call.Email,
			Phone: destination,
		},
		Source:          "outbound",
		CallType:        "campaign",
		OutboundTrunkID: trunk,
		PhoneNumber:     destination,
	}
	sessionMeta, err := meta.Encode()
	if err != nil {
		return roomName, fmt.Errorf("encode metadata: %w", err)
	}

	var session telephony.SessionRef
	err = p.withTimeout(ctx, func(ctx context.Context) error {
		session, err = p.adapter.CreateSession(ctx, roomName, sessionMeta)
		return err
	})
	if err != nil {
		return roomName, fmt.Errorf("create session: %w", err)
	}

	meta.RoomName = roomName
	meta.AgentName = p.opts.AgentName
	agentMeta, err := meta.Encode()
	if err != nil {
		return roomName, fmt.Errorf("encode metadata: %w", err)
	}
	err = p.withTimeout(ctx, func(ctx context.Context) error {
		_, err := p.adapter.DispatchAgent(ctx, roomName, p.opts.AgentName, agentMeta)
		return err
	})
	if err != nil {
		return roomName, fmt.Errorf("dispatch agent: %w", err)
	}

	if trunk != "" {
		name := call.ContactName
		if name == "" {
			name = defaultParticipant
		}
		err = p.withTimeout(ctx, func(ctx context.Context) error {
			_, err := p.adapter.PlaceOutboundLeg(ctx, telephony.OutboundLeg{
				SessionName:         roomName,
				TrunkID:             trunk,
				Destination:         destination,
				ParticipantIdentity: "phone-" + destination,
				ParticipantName:     name,
			})
			return err
		})
		if err != nil {
			return roomName, fmt.Errorf("place outbound leg: %w", err)
		}
	} else {
		p.logger.Warn("no outbound trunk, skipping dial",
			zap.String("campaign_id", c.ID.String()),
			zap.String("room", roomName),
		)
	}

	sid := session.SID
	if sid == "" {
		sid = roomName
	}
	if err := p.calls.MarkDispatched(ctx, call.ID, sid, roomName); err != nil {
		return roomName, fmt.Errorf("mark dispatched: %w", err)
	}
	return roomName, nil
}

// resolveTrunk returns the assistant's SIP trunk. An empty trunk with a nil
// error means lenient mode allowed the call to proceed without one.
func (p *Processor) resolveTrunk(ctx context.Context, c *domain.Campaign) (string, error) {
	var trunk string
	if c.AssistantID != nil {
		number, err := p.numbers.FindActiveOutbound(ctx, *c.AssistantID)
		if err != nil {
			return "", fmt.Errorf("lookup outbound number: %w", err)
		}
		if number != nil {
			trunk = number.TrunkID
		}
	}
	if trunk == "" && p.opts.RequireTrunk {
		return "", ErrNoOutboundTrunk
	}
	return trunk, nil
}

func (p *Processor) fail(ctx context.Context, c *domain.Campaign, item domain.CallQueueItem, cause error) {
	p.logger.Warn("call dispatch failed",
		zap.String("campaign_id", c.ID.String()),
		zap.String("queue_item_id", item.ID.String()),
		zap.Error(cause),
	)
	if err := p.queue.Finish(ctx, item.ID, domain.QueueStatusFailed, p.opts.Now()); err != nil {
		p.logger.Warn("finish queue item", zap.String("queue_item_id", item.ID.String()), zap.Error(err))
	}
	if err := p.calls.MarkFailed(ctx, item.CampaignCallID, p.opts.Now(), cause.Error()); err != nil && !errors.Is(err, repository.ErrNotFound) {
		p.logger.Warn("mark call failed", zap.String("call_id", item.CampaignCallID.String()), zap.Error(err))
	}
}

// record writes the audit row and the call event. Both are best effort.
func (p *Processor) record(ctx context.Context, c *domain.Campaign, item domain.CallQueueItem, roomName string, status domain.CallStatus, cause error, elapsed time.Duration) {
	now := p.opts.Now()
	var errText string
	if cause != nil {
		errText = cause.Error()
	}

	if p.attempts != nil {
		attempt := domain.CallAttempt{
			ID:          uuid.New(),
			CampaignID:  c.ID,
			CallID:      item.CampaignCallID,
			QueueItemID: item.ID,
			PhoneNumber: item.PhoneNumber,
			Status:      status,
			RoomName:    roomName,
			Error:       errText,
			CreatedAt:   now,
			Duration:    elapsed,
		}
		if err := p.attempts.AppendAttempt(ctx, attempt); err != nil {
			p.logger.Warn("append attempt", zap.Error(err))
		}
	}

	if p.events != nil {
		evt := queue.CallEvent{
			EventID:     uuid.New(),
			CampaignID:  c.ID,
			CallID:      item.CampaignCallID,
			QueueItemID: item.ID,
			PhoneNumber: item.PhoneNumber,
			Status:      string(status),
			RoomName:    roomName,
			Dispatched:  cause == nil,
			DurationMs:  elapsed.Milliseconds(),
			Error:       errText,
			OccurredAt:  now,
		}
		if err := p.events.PublishCallEvent(ctx, evt); err != nil {
			p.logger.Warn("publish call event", zap.Error(err))
		}
	}
}

func (p *Processor) withTimeout(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, p.opts.RequestTimeout)
	defer cancel()
	return fn(cctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
