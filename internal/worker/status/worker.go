package status

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/campaign-engine/internal/metrics"
	"github.com/acme/campaign-engine/internal/queue"
	"github.com/acme/campaign-engine/internal/repository"
)

const (
	resultApplied = "applied"
	resultInvalid = "invalid"
	resultIgnored = "ignored"
	resultError   = "error"
)

// Reader is the subset of *kafka.Reader the worker needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Worker consumes call events and folds them into campaign statistics.
type Worker struct {
	reader  Reader
	stats   repository.CampaignStatisticsRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// New creates a new status worker.
func New(reader Reader, stats repository.CampaignStatisticsRepository, m *metrics.Metrics, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		reader:  reader,
		stats:   stats,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("campaign.engine.statusworker"),
	}
}

// Run processes events until the context is cancelled. Every fetched message
// is committed, including ones that could not be applied.
func (w *Worker) Run(ctx context.Context) error {
	defer w.reader.Close()

	for {
		msg, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("status worker: fetch", zap.Error(err))
			continue
		}

		if err := w.Handle(ctx, msg); err != nil {
			w.logger.Error("status worker: handle",
				zap.Error(err),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
		}

		if err := w.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("status worker: commit", zap.Error(err))
		}
	}
}

// Handle applies a single message.
func (w *Worker) Handle(ctx context.Context, msg kafka.Message) error {
	var evt queue.CallEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		w.metrics.IncEventsConsumed(resultInvalid)
		return fmt.Errorf("status worker: unmarshal: %w", err)
	}
	if evt.CampaignID == uuid.Nil {
		w.metrics.IncEventsConsumed(resultIgnored)
		return nil
	}

	ctx, span := w.tracer.Start(ctx, "call.event", trace.WithAttributes(
		attribute.String("campaign.id", evt.CampaignID.String()),
		attribute.String("call.id", evt.CallID.String()),
		attribute.String("call.status", evt.Status),
	))
	defer span.End()

	if err := w.stats.ApplyDelta(ctx, evt.CampaignID, deltaFor(evt)); err != nil {
		span.RecordError(err)
		w.metrics.IncEventsConsumed(resultError)
		return fmt.Errorf("status worker: apply stats: %w", err)
	}
	w.metrics.IncEventsConsumed(resultApplied)
	return nil
}

func deltaFor(evt queue.CallEvent) repository.StatsDelta {
	delta := repository.StatsDelta{DialsDelta: 1}
	if evt.Dispatched {
		delta.DispatchedDelta = 1
	} else {
		delta.FailedDelta = 1
	}
	return delta
}
