package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"artwork-pipeline/internal/artifact"
	"artwork-pipeline/internal/generation"
	"artwork-pipeline/internal/models"
	"artwork-pipeline/internal/store"
)

// Terminal per-delivery outcomes that the processor must not retry.
var (
	// errStale marks a delivery superseded by a newer submission; it is
	// acked without touching the record.
	errStale = errors.New("stale job delivery")
	// errRecordGone marks a delivery whose record vanished; the job fails
	// permanently with nowhere to write the failure.
	errRecordGone = errors.New("record gone")
)

// jobFailure wraps a retryable execution error with a short message that is
// safe to surface on the record. The raw cause only goes to the log.
type jobFailure struct {
	public string
	err    error
}

func (f *jobFailure) Error() string { return f.err.Error() }
func (f *jobFailure) Unwrap() error { return f.err }

func failure(public string, err error) error {
	return &jobFailure{public: public, err: err}
}

// publicMessage extracts the display-safe failure text for the record.
func publicMessage(err error) string {
	var f *jobFailure
	if errors.As(err, &f) {
		return f.public
	}
	return "Generation failed"
}

// RecordStore is the slice of the record store the executor needs. All writes
// are conditional; the applied flag reports whether the record still belonged
// to this job.
type RecordStore interface {
	GetArtwork(ctx context.Context, id, ownerID string) (models.Artwork, error)
	MarkRunning(ctx context.Context, id, ownerID, jobID string) (bool, error)
	ReportProgress(ctx context.Context, id, ownerID, jobID string, progress int, stage string) (bool, error)
	MarkGenerated(ctx context.Context, id, ownerID, jobID string, art store.ArtifactFields) (bool, error)
	MarkFailed(ctx context.Context, id, ownerID, jobID, message string) (bool, error)
}

// Executor drives a single delivered job through the generation state machine.
type Executor struct {
	store     RecordStore
	generator generation.Generator
	artifacts artifact.Store
	logger    zerolog.Logger

	generationTimeout time.Duration
	storageTimeout    time.Duration
	reportRetries     int
	thumbWidth        int
}

// ExecutorOptions bound the executor's external calls.
type ExecutorOptions struct {
	GenerationTimeout time.Duration
	StorageTimeout    time.Duration
	ReportRetries     int
	ThumbWidth        int
}

// NewExecutor wires the executor's collaborators.
func NewExecutor(st RecordStore, gen generation.Generator, art artifact.Store, logger zerolog.Logger, opts ExecutorOptions) *Executor {
	if opts.GenerationTimeout == 0 {
		opts.GenerationTimeout = 2 * time.Minute
	}
	if opts.StorageTimeout == 0 {
		opts.StorageTimeout = 30 * time.Second
	}
	if opts.ReportRetries == 0 {
		opts.ReportRetries = 3
	}
	if opts.ThumbWidth == 0 {
		opts.ThumbWidth = 512
	}
	return &Executor{
		store:             st,
		generator:         gen,
		artifacts:         art,
		logger:            logger,
		generationTimeout: opts.GenerationTimeout,
		storageTimeout:    opts.StorageTimeout,
		reportRetries:     opts.ReportRetries,
		thumbWidth:        opts.ThumbWidth,
	}
}

// Execute runs one delivery. A nil return means the record reached generated.
// errStale and errRecordGone are permanent; any other error is retryable and
// the caller decides, via the queue's redelivery budget, when to give up.
//
// Re-running Execute for the same descriptor converges: the prompt and the
// storage keys are deterministic, so a redelivered job overwrites its own
// output instead of duplicating it.
func (e *Executor) Execute(ctx context.Context, desc models.JobDescriptor) error {
	a, err := e.store.GetArtwork(ctx, desc.ArtworkID, desc.OwnerID)
	if errors.Is(err, store.ErrNotFound) {
		return errRecordGone
	}
	if err != nil {
		return failure("Generation failed", fmt.Errorf("load artwork: %w", err))
	}
	if a.JobID != desc.JobID {
		return errStale
	}

	claimed, err := e.store.MarkRunning(ctx, desc.ArtworkID, desc.OwnerID, desc.JobID)
	if err != nil {
		return failure("Generation failed", fmt.Errorf("mark running: %w", err))
	}
	if !claimed {
		return errStale
	}

	prompt := generation.BuildPrompt(a)
	size := models.SizeForOutput(a.Output)
	e.report(ctx, desc, 10, "Compiling prompt structure…")

	e.report(ctx, desc, 25, "Calling generator…")
	genCtx, cancelGen := context.WithTimeout(ctx, e.generationTimeout)
	data, mime, err := e.generator.Generate(genCtx, prompt, size)
	cancelGen()
	if err != nil {
		return failure("Image generation failed", fmt.Errorf("generate: %w", err))
	}

	e.report(ctx, desc, 80, "Storing output…")
	key := artifact.BuildKey(desc.OwnerID, desc.ArtworkID, "original", mime)
	putCtx, cancelPut := context.WithTimeout(ctx, e.storageTimeout)
	stored, err := e.artifacts.Put(putCtx, key, data, mime)
	cancelPut()
	if err != nil {
		return failure("Storing output failed", fmt.Errorf("store artifact: %w", err))
	}

	e.report(ctx, desc, 90, "Preparing preview…")
	thumb := e.storeThumb(ctx, desc, data, mime)

	fields := store.ArtifactFields{
		URL:      stored.URL,
		Key:      stored.Key,
		Bytes:    stored.Bytes,
		Mime:     mime,
		ThumbURL: thumb.URL,
		ThumbKey: thumb.Key,
	}
	applied, err := e.store.MarkGenerated(ctx, desc.ArtworkID, desc.OwnerID, desc.JobID, fields)
	if err != nil {
		return failure("Generation failed", fmt.Errorf("mark generated: %w", err))
	}
	if !applied {
		// Superseded while we were generating. The successor owns the
		// deterministic keys now, so the stored objects stay in place.
		return errStale
	}
	return nil
}

// Fail writes the terminal failed state after the redelivery budget is spent.
// Progress keeps its last reported value.
func (e *Executor) Fail(ctx context.Context, desc models.JobDescriptor, message string) {
	applied, err := e.store.MarkFailed(ctx, desc.ArtworkID, desc.OwnerID, desc.JobID, message)
	if err != nil {
		e.logger.Error().Err(err).Str("job_id", desc.JobID).Msg("failed to record job failure")
		return
	}
	if !applied {
		e.logger.Debug().Str("job_id", desc.JobID).Msg("failure write skipped, job superseded")
	}
}

// storeThumb derives and stores the preview variant. Thumbnail trouble never
// fails the job; the record just ends up without a preview URL.
func (e *Executor) storeThumb(ctx context.Context, desc models.JobDescriptor, data []byte, mime string) artifact.Stored {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		e.logger.Warn().Err(err).Str("job_id", desc.JobID).Msg("thumbnail decode failed")
		return artifact.Stored{}
	}
	thumb := imaging.Resize(img, e.thumbWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.PNG); err != nil {
		e.logger.Warn().Err(err).Str("job_id", desc.JobID).Msg("thumbnail encode failed")
		return artifact.Stored{}
	}

	key := artifact.BuildKey(desc.OwnerID, desc.ArtworkID, "thumb", mime)
	putCtx, cancel := context.WithTimeout(ctx, e.storageTimeout)
	defer cancel()
	stored, err := e.artifacts.Put(putCtx, key, buf.Bytes(), "image/png")
	if err != nil {
		e.logger.Warn().Err(err).Str("job_id", desc.JobID).Msg("thumbnail upload failed")
		return artifact.Stored{}
	}
	return stored
}

// report writes a progress checkpoint, retrying transient store errors a
// bounded number of times. Checkpoints are observation only; a write that
// never lands is logged and skipped.
func (e *Executor) report(ctx context.Context, desc models.JobDescriptor, progress int, stage string) {
	var lastErr error
	for attempt := 0; attempt <= e.reportRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
			}
		}
		applied, err := e.store.ReportProgress(ctx, desc.ArtworkID, desc.OwnerID, desc.JobID, progress, stage)
		if err == nil {
			if !applied {
				e.logger.Debug().
					Str("job_id", desc.JobID).
					Int("progress", progress).
					Msg("checkpoint skipped, job superseded or already ahead")
			}
			return
		}
		lastErr = err
	}
	e.logger.Warn().Err(lastErr).
		Str("job_id", desc.JobID).
		Int("progress", progress).
		Msg("checkpoint write failed, continuing")
}
