package poll

import (
	"context"
	"errors"
	"time"

	"artwork-pipeline/internal/models"
)

// ErrMaxAttempts is returned when the record never reached a terminal state
// within the attempt budget. Giving up only stops observation; the worker job
// keeps running.
var ErrMaxAttempts = errors.New("polling attempts exhausted")

// StatusFunc reads the current poll-visible fields of a record.
type StatusFunc func(ctx context.Context) (models.ArtworkStatus, error)

// Options tune the polling loop. Zero values take the defaults below.
type Options struct {
	Interval    time.Duration // default 1s
	MaxAttempts int           // default 120
}

// Wait polls until the record reaches a terminal status, the attempt budget
// runs out, or the context is cancelled. The last observed status is returned
// alongside any error, so callers can still render partial progress.
func Wait(ctx context.Context, read StatusFunc, opts Options) (models.ArtworkStatus, error) {
	interval := opts.Interval
	if interval == 0 {
		interval = time.Second
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 120
	}

	var last models.ArtworkStatus
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-time.After(interval):
			}
		}

		st, err := read(ctx)
		if err != nil {
			// Transient read failures burn an attempt but keep polling.
			continue
		}
		last = st
		if models.TerminalStatus(st.Status) {
			return st, nil
		}
	}
	return last, ErrMaxAttempts
}
