package publisher

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fjod/go_cart/reservation-service/internal/metrics"
	r "github.com/fjod/go_cart/reservation-service/internal/repository"
)

const batchSize = 100

// EventStore is the slice of the repository the poller reads and acknowledges events through.
type EventStore interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*r.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

type OrphanSweeper interface {
	SweepOrphans(ctx context.Context) (int, error)
}

type OutboxPoller struct {
	eventTick    time.Duration
	recoveryTick time.Duration
	repo         EventStore
	sink         Sink
	sweeper      OrphanSweeper
	metrics      *metrics.Metrics
}

// NewOutboxPoller relays outbox events to sink every second and runs the orphan sweep once a minute.
// sweeper may be nil.
func NewOutboxPoller(repo EventStore, sink Sink, sweeper OrphanSweeper, m *metrics.Metrics) *OutboxPoller {
	return &OutboxPoller{
		eventTick:    time.Second,
		recoveryTick: time.Minute,
		repo:         repo,
		sink:         sink,
		sweeper:      sweeper,
		metrics:      m,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	recoveryTicker := time.NewTicker(p.recoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.sweepOrphans(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		slog.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return
		}

		err := p.sink.Publish(ctx, event)
		switch {
		case errors.Is(err, ErrUnprocessable):
			// retrying cannot help; acknowledge so the batch is not blocked forever
			slog.ErrorContext(ctx, "dropping outbox event", "event_id", event.ID, "event_type", event.EventType, "error", err)
			p.metrics.OutboxEvent("dropped")
		case err != nil:
			slog.WarnContext(ctx, "failed to publish outbox event", "event_id", event.ID, "error", err)
			p.metrics.OutboxEvent("failed")
			continue
		default:
			p.metrics.OutboxEvent("published")
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			slog.ErrorContext(ctx, "failed to mark outbox event as processed", "event_id", event.ID, "error", err)
		}
	}
}

func (p *OutboxPoller) sweepOrphans(ctx context.Context) {
	if p.sweeper == nil {
		return
	}
	n, err := p.sweeper.SweepOrphans(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "orphan reservation sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.InfoContext(ctx, "orphan reservations removed", "count", n)
	}
}
