package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"factory-edge/internal/buffer"
	"factory-edge/internal/faults"
	"factory-edge/internal/observability/metrics"
	telemetry "factory-edge/internal/telemetry/domain"
)

const (
	defaultInterval    = 2 * time.Second
	statusLogFrequency = 10
)

// PointSource produces the telemetry points for one cycle.
type PointSource interface {
	Generate() []telemetry.Point
}

// Publisher publishes a point on the live bus.
type Publisher interface {
	PublishPoint(point telemetry.Point)
}

// Sender delivers a single point to the ingestion endpoint.
type Sender interface {
	Send(ctx context.Context, point telemetry.Point) error
}

// Pipeline runs the per-cycle flow: generate, publish live, buffer
// durably, then attempt immediate delivery. Buffering always precedes
// the delivery attempt, so a crash mid-cycle leaves every point either
// unsent and recoverable or already marked sent, never lost.
type Pipeline struct {
	source   PointSource
	bus      Publisher
	buf      buffer.Store
	sender   Sender
	state    *faults.State
	logger   *log.Logger
	interval time.Duration
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithInterval overrides the cycle interval.
func WithInterval(interval time.Duration) Option {
	return func(p *Pipeline) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// New constructs a pipeline.
func New(source PointSource, bus Publisher, buf buffer.Store, sender Sender, state *faults.State, logger *log.Logger, opts ...Option) (*Pipeline, error) {
	if source == nil {
		return nil, errors.New("pipeline: nil point source")
	}
	if bus == nil {
		return nil, errors.New("pipeline: nil publisher")
	}
	if buf == nil {
		return nil, errors.New("pipeline: nil buffer")
	}
	if sender == nil {
		return nil, errors.New("pipeline: nil sender")
	}
	if state == nil {
		return nil, errors.New("pipeline: nil fault state")
	}
	if logger == nil {
		logger = log.Default()
	}
	pipeline := &Pipeline{
		source:   source,
		bus:      bus,
		buf:      buf,
		sender:   sender,
		state:    state,
		logger:   logger,
		interval: defaultInterval,
	}
	for _, opt := range opts {
		opt(pipeline)
	}
	return pipeline, nil
}

// Run executes cycles until ctx is done, self-pacing to the configured
// interval by subtracting the work time. The current cycle always
// finishes; cancellation is only observed between cycles.
func (p *Pipeline) Run(ctx context.Context) {
	cycle := 0
	for {
		cycle++
		start := time.Now()

		p.RunCycle(ctx)

		if cycle%statusLogFrequency == 0 {
			p.logStatus(ctx, cycle)
		}

		sleep := p.interval - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// RunCycle processes one generation cycle. Buffer errors are logged
// and the point skipped; a single failed point must not halt telemetry
// generation.
func (p *Pipeline) RunCycle(ctx context.Context) {
	for _, point := range p.source.Generate() {
		// Live publication happens unconditionally, independent of
		// delivery outcome.
		p.bus.PublishPoint(point)

		payload, err := json.Marshal(point)
		if err != nil {
			p.logger.Printf("pipeline: marshal point %s: %v", point.ID, err)
			continue
		}
		record := buffer.Record{
			ID:        point.ID,
			Payload:   payload,
			CreatedAt: time.Now().UTC(),
		}
		if err := p.buf.Insert(ctx, record); err != nil {
			// Without a durable record there is nothing for the
			// backfill loop to recover; do not attempt delivery.
			p.logger.Printf("pipeline: buffer insert %s: %v", point.ID, err)
			continue
		}

		if err := p.sender.Send(ctx, point); err != nil {
			// Leave the record unsent; the backfill loop picks it up.
			continue
		}
		if err := p.buf.MarkSent(ctx, point.ID); err != nil {
			p.logger.Printf("pipeline: mark sent %s: %v", point.ID, err)
		}
	}
}

func (p *Pipeline) logStatus(ctx context.Context, cycle int) {
	count, err := p.buf.CountUnsent(ctx)
	if err != nil {
		p.logger.Printf("pipeline: count unsent: %v", err)
		return
	}
	metrics.SetBufferUnsent(count)

	active := p.state.Active()
	faultsLabel := "none"
	if len(active) > 0 {
		faultsLabel = strings.Join(active, ",")
	}
	p.logger.Printf("cycle %d | buffer unsent: %d | active faults: %s", cycle, count, faultsLabel)
}
