package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"artwork-pipeline/internal/models"
	"artwork-pipeline/internal/store"
)

// Submission error taxonomy, surfaced synchronously to the caller.
var (
	// ErrNotFound means no record exists for the (artwork, owner) pair.
	ErrNotFound = errors.New("artwork not found")
	// ErrConflict means a generation run is already in flight for the record.
	ErrConflict = errors.New("generation already in progress")
	// ErrQueueUnavailable means the queue rejected the job; the record was not touched.
	ErrQueueUnavailable = errors.New("job queue unavailable")
)

// RecordStore is the slice of the record store the dispatcher needs.
// GetArtwork returns store.ErrNotFound for missing or mismatched-owner records.
type RecordStore interface {
	GetArtwork(ctx context.Context, id, ownerID string) (models.Artwork, error)
	MarkQueued(ctx context.Context, id, ownerID, jobID string) (bool, error)
}

// JobQueue accepts job descriptors for asynchronous execution.
type JobQueue interface {
	Enqueue(ctx context.Context, desc models.JobDescriptor) error
}

// Dispatcher validates submissions, applies the duplicate-in-flight guard,
// and enqueues generation jobs.
type Dispatcher struct {
	store  RecordStore
	queue  JobQueue
	logger zerolog.Logger
}

// New constructs a dispatcher.
func New(st RecordStore, q JobQueue, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{store: st, queue: q, logger: logger}
}

// Submit enqueues a generation job for an owned artwork and returns the job id.
//
// A record is resubmittable when its last run failed or when its progress sits
// at 0 or 100; anything in between means a run is in flight and yields
// ErrConflict. The record is mutated only after the enqueue succeeds, so a
// queue outage leaves it untouched.
func (d *Dispatcher) Submit(ctx context.Context, artworkID, ownerID string) (string, error) {
	a, err := d.store.GetArtwork(ctx, artworkID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load artwork: %w", err)
	}

	if a.Status == models.StatusPublished {
		return "", ErrConflict
	}
	if a.Status != models.StatusFailed && a.Progress > 0 && a.Progress < 100 {
		return "", ErrConflict
	}

	desc := models.JobDescriptor{
		JobID:      uuid.NewString(),
		ArtworkID:  artworkID,
		OwnerID:    ownerID,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := d.queue.Enqueue(ctx, desc); err != nil {
		d.logger.Error().Err(err).Str("artwork_id", artworkID).Msg("enqueue failed")
		return "", fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	applied, err := d.store.MarkQueued(ctx, artworkID, ownerID, desc.JobID)
	if err != nil {
		return "", fmt.Errorf("mark queued: %w", err)
	}
	if !applied {
		// A concurrent submit won the record; our queue entry will be
		// discarded by the stale-delivery guard once a worker picks it up.
		return "", ErrConflict
	}

	d.logger.Info().
		Str("artwork_id", artworkID).
		Str("job_id", desc.JobID).
		Msg("generation job enqueued")
	return desc.JobID, nil
}
