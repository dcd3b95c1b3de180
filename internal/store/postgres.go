package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"artwork-pipeline/internal/models"
)

// ErrNotFound is returned when no record exists for an (id, owner) pair.
// An owner mismatch is indistinguishable from a missing record on purpose.
var ErrNotFound = errors.New("artwork not found")

// Store persists artwork records in Postgres. Every pipeline write is a
// conditional update scoped by (id, owner_id), so concurrent dispatchers and
// workers can never blindly overwrite each other.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const artworkColumns = `
	id, owner_id, title, description, year, collection, notes, tags, output,
	status, progress, stage, error, job_id,
	artifact_url, artifact_key, artifact_bytes, artifact_mime, thumb_url, thumb_key,
	created_at, updated_at`

// CreateDraft inserts a new draft record. Drafts are normally created by the
// editing service; the pipeline only needs this for seeding and tests.
func (s *Store) CreateDraft(ctx context.Context, a models.Artwork) error {
	if a.Tags == nil {
		a.Tags = []string{}
	}
	if a.Output == "" {
		a.Output = models.OutputSquare
	}
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO artworks (id, owner_id, title, description, year, collection, notes, tags, output,
			status, progress, stage, error, job_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, '', '', '', $11, $11)
	`, a.ID, a.OwnerID, a.Title, a.Description, a.Year, a.Collection, a.Notes, a.Tags, a.Output,
		models.StatusDraft, now)
	if err != nil {
		return fmt.Errorf("insert draft: %w", err)
	}
	return nil
}

// GetArtwork fetches a record by id, scoped to its owner.
func (s *Store) GetArtwork(ctx context.Context, id, ownerID string) (models.Artwork, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+artworkColumns+`
		FROM artworks WHERE id = $1 AND owner_id = $2
	`, id, ownerID)

	var a models.Artwork
	err := row.Scan(&a.ID, &a.OwnerID, &a.Title, &a.Description, &a.Year, &a.Collection,
		&a.Notes, &a.Tags, &a.Output,
		&a.Status, &a.Progress, &a.Stage, &a.Error, &a.JobID,
		&a.ArtifactURL, &a.ArtifactKey, &a.ArtifactBytes, &a.ArtifactMime, &a.ThumbURL, &a.ThumbKey,
		&a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Artwork{}, ErrNotFound
	}
	if err != nil {
		return models.Artwork{}, fmt.Errorf("scan artwork: %w", err)
	}
	return a, nil
}

// MarkQueued records a fresh submission: status queued, progress reset, new
// job id. It applies only while the record is resubmittable (failed, or at
// progress 0 or 100) and never touches a published record. Returns whether
// the update applied.
func (s *Store) MarkQueued(ctx context.Context, id, ownerID, jobID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE artworks
		SET status = $3, progress = 0, stage = 'Queued', error = '', job_id = $4, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
		  AND status <> $5
		  AND (status = $6 OR progress = 0 OR progress = 100)
	`, id, ownerID, models.StatusQueued, jobID, models.StatusPublished, models.StatusFailed)
	if err != nil {
		return false, fmt.Errorf("mark queued: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkRunning claims the record for a delivered job. The job_id guard makes a
// stale delivery a no-op, and GREATEST keeps progress from regressing when a
// redelivered job re-claims a record that already reported checkpoints.
func (s *Store) MarkRunning(ctx context.Context, id, ownerID, jobID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE artworks
		SET status = $4, progress = GREATEST(progress, 5), stage = 'Starting generation…', error = '', updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND job_id = $3
		  AND status IN ($5, $6)
	`, id, ownerID, jobID, models.StatusRunning, models.StatusQueued, models.StatusRunning)
	if err != nil {
		return false, fmt.Errorf("mark running: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReportProgress writes a checkpoint. The progress guard keeps checkpoints
// monotonic even if an older write lands late.
func (s *Store) ReportProgress(ctx context.Context, id, ownerID, jobID string, progress int, stage string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE artworks
		SET progress = $4, stage = $5, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND job_id = $3
		  AND status = $6 AND progress <= $4
	`, id, ownerID, jobID, progress, stage, models.StatusRunning)
	if err != nil {
		return false, fmt.Errorf("report progress: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ArtifactFields describes the stored output written on success.
type ArtifactFields struct {
	URL      string
	Key      string
	Bytes    int64
	Mime     string
	ThumbURL string
	ThumbKey string
}

// MarkGenerated moves the record to its success terminal state.
func (s *Store) MarkGenerated(ctx context.Context, id, ownerID, jobID string, art ArtifactFields) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE artworks
		SET status = $4, progress = 100, stage = 'Ready', error = '',
		    artifact_url = $5, artifact_key = $6, artifact_bytes = $7, artifact_mime = $8,
		    thumb_url = $9, thumb_key = $10, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND job_id = $3
		  AND status IN ($11, $12)
	`, id, ownerID, jobID, models.StatusGenerated,
		art.URL, art.Key, art.Bytes, art.Mime, art.ThumbURL, art.ThumbKey,
		models.StatusQueued, models.StatusRunning)
	if err != nil {
		return false, fmt.Errorf("mark generated: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed moves the record to its failure terminal state, preserving the
// last reported progress.
func (s *Store) MarkFailed(ctx context.Context, id, ownerID, jobID, message string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE artworks
		SET status = $4, stage = 'Failed', error = $5, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2 AND job_id = $3
		  AND status IN ($6, $7)
	`, id, ownerID, jobID, models.StatusFailed, message,
		models.StatusQueued, models.StatusRunning)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
