package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"artwork-pipeline/internal/queue"
	"artwork-pipeline/internal/telemetry"
)

// Processor pulls deliveries off the queue and hands them to the executor,
// translating outcomes into ack/nack decisions. Exactly one processor owns a
// delivery at a time; that guarantee comes from the queue's lease, not from
// anything here.
type Processor struct {
	queue        *queue.RedisQueue
	executor     *Executor
	logger       zerolog.Logger
	pollInterval time.Duration
}

// NewProcessor builds the worker loop.
func NewProcessor(q *queue.RedisQueue, ex *Executor, logger zerolog.Logger, pollInterval time.Duration) *Processor {
	if pollInterval == 0 {
		pollInterval = time.Second
	}
	return &Processor{queue: q, executor: ex, logger: logger, pollInterval: pollInterval}
}

// Run drives the main worker loop until context cancellation. Multiple Run
// goroutines may share one Processor; each pulls one job at a time.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if reclaimed, err := p.queue.RequeueExpired(ctx, time.Now(), 100); err == nil && len(reclaimed) > 0 {
			telemetry.InFlightGauge.Sub(float64(len(reclaimed)))
			p.logger.Warn().Strs("job_ids", reclaimed).Msg("reclaimed expired leases")
		}
		if depth, err := p.queue.ReadyDepth(ctx); err == nil {
			telemetry.QueueDepthGauge.Set(float64(depth))
		}

		d, err := p.queue.Deliver(ctx)
		if err != nil {
			p.logger.Error().Err(err).Msg("deliver failed")
			p.sleep(ctx)
			continue
		}
		if d == nil {
			p.sleep(ctx)
			continue
		}

		telemetry.InFlightGauge.Inc()
		p.handle(ctx, *d)
		telemetry.InFlightGauge.Dec()
	}
}

func (p *Processor) handle(ctx context.Context, d queue.Delivery) {
	desc := d.Descriptor
	log := p.logger.With().
		Str("job_id", desc.JobID).
		Str("artwork_id", desc.ArtworkID).
		Int("attempt", d.Attempt).
		Logger()

	err := p.executor.Execute(ctx, desc)
	switch {
	case err == nil:
		p.ack(ctx, desc.JobID)
		telemetry.GeneratedCounter.Inc()
		log.Info().Msg("artwork generated")

	case errors.Is(err, errStale):
		// Superseded by a later submission: done from the queue's view.
		p.ack(ctx, desc.JobID)
		telemetry.StaleCounter.Inc()
		log.Info().Msg("stale delivery discarded")

	case errors.Is(err, errRecordGone):
		p.ack(ctx, desc.JobID)
		telemetry.FailedCounter.Inc()
		log.Error().Msg("record gone, job failed permanently")

	default:
		redelivered, nackErr := p.queue.Nack(ctx, d)
		if nackErr != nil {
			log.Error().Err(nackErr).Msg("nack failed, lease will expire")
			return
		}
		if redelivered {
			telemetry.RetryCounter.Inc()
			log.Warn().Err(err).Msg("job failed, redelivering")
			return
		}
		// Redelivery budget spent: the failure becomes the record's
		// terminal state, observable only via polling.
		p.executor.Fail(ctx, desc, publicMessage(err))
		telemetry.FailedCounter.Inc()
		log.Error().Err(err).Msg("job failed after exhausting redeliveries")
	}
}

func (p *Processor) ack(ctx context.Context, jobID string) {
	if err := p.queue.Ack(ctx, jobID); err != nil {
		p.logger.Error().Err(err).Str("job_id", jobID).Msg("ack failed")
	}
}

func (p *Processor) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.pollInterval):
	}
}
