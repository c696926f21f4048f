package backfill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"factory-edge/internal/buffer"
	"factory-edge/internal/faults"
	"factory-edge/internal/observability/metrics"
	telemetry "factory-edge/internal/telemetry/domain"
)

const (
	defaultInterval  = 5 * time.Second
	defaultBatchSize = 50
)

// Sender delivers a single point to the ingestion endpoint. A nil
// return means the point is ingested.
type Sender interface {
	Send(ctx context.Context, point telemetry.Point) error
}

// Loop is the background synchronization task that drains unsent
// buffer records in creation order. It stops at the first failed
// delivery in a batch: skipping ahead would reorder points at the
// destination when the failure is transient.
type Loop struct {
	buf      buffer.Store
	sender   Sender
	state    *faults.State
	logger   *log.Logger
	interval time.Duration
	batch    int
}

// Option configures the loop.
type Option func(*Loop)

// WithInterval overrides the wake interval.
func WithInterval(interval time.Duration) Option {
	return func(l *Loop) {
		if interval > 0 {
			l.interval = interval
		}
	}
}

// WithBatchSize overrides the per-cycle batch bound.
func WithBatchSize(batch int) Option {
	return func(l *Loop) {
		if batch > 0 {
			l.batch = batch
		}
	}
}

// NewLoop constructs a backfill loop.
func NewLoop(buf buffer.Store, sender Sender, state *faults.State, logger *log.Logger, opts ...Option) (*Loop, error) {
	if buf == nil {
		return nil, errors.New("backfill: nil buffer")
	}
	if sender == nil {
		return nil, errors.New("backfill: nil sender")
	}
	if state == nil {
		return nil, errors.New("backfill: nil fault state")
	}
	if logger == nil {
		logger = log.Default()
	}
	loop := &Loop{
		buf:      buf,
		sender:   sender,
		state:    state,
		logger:   logger,
		interval: defaultInterval,
		batch:    defaultBatchSize,
	}
	for _, opt := range opts {
		opt(loop)
	}
	return loop, nil
}

// Run wakes on a fixed interval until ctx is done. A failed cycle is
// logged and retried on the next wake; it never stops the loop.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.RunOnce(ctx); err != nil {
				l.logger.Printf("backfill cycle error: %v", err)
				metrics.IncBackfillCycle(metrics.ResultError)
				continue
			}
			metrics.IncBackfillCycle(metrics.ResultSuccess)
		}
	}
}

// RunOnce performs one synchronization cycle: skip entirely during a
// network outage, otherwise deliver the oldest unsent records strictly
// in order, marking each sent on success and stopping the batch at the
// first failure.
func (l *Loop) RunOnce(ctx context.Context) error {
	if l.state.IsActive(faults.NetworkOutage) {
		return nil
	}

	records, err := l.buf.ListUnsent(ctx, l.batch)
	if err != nil {
		return fmt.Errorf("backfill: list unsent: %w", err)
	}
	if len(records) == 0 {
		return nil
	}
	l.logger.Printf("backfilling %d buffered points...", len(records))

	delivered := 0
	for _, record := range records {
		var point telemetry.Point
		if err := json.Unmarshal(record.Payload, &point); err != nil {
			// An undecodable payload cannot be delivered; stop the
			// batch like any other failure so later records are not
			// delivered ahead of it.
			l.logger.Printf("backfill: undecodable payload for %s: %v", record.ID, err)
			break
		}
		if err := l.sender.Send(ctx, point); err != nil {
			l.logger.Printf("backfill failed for %s, will retry: %v", record.ID, err)
			break
		}
		if err := l.buf.MarkSent(ctx, record.ID); err != nil {
			return fmt.Errorf("backfill: mark sent %s: %w", record.ID, err)
		}
		delivered++
	}
	metrics.AddBackfillPoints(delivered)

	count, err := l.buf.CountUnsent(ctx)
	if err != nil {
		return fmt.Errorf("backfill: count unsent: %w", err)
	}
	metrics.SetBufferUnsent(count)
	return nil
}
