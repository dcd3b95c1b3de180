package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"artwork-pipeline/internal/models"
)

func sequenceReader(states ...models.ArtworkStatus) StatusFunc {
	i := 0
	return func(context.Context) (models.ArtworkStatus, error) {
		st := states[i]
		if i < len(states)-1 {
			i++
		}
		return st, nil
	}
}

func TestWaitReachesTerminalState(t *testing.T) {
	read := sequenceReader(
		models.ArtworkStatus{Status: models.StatusQueued, Progress: 0},
		models.ArtworkStatus{Status: models.StatusRunning, Progress: 25},
		models.ArtworkStatus{Status: models.StatusRunning, Progress: 80},
		models.ArtworkStatus{Status: models.StatusGenerated, Progress: 100, ArtifactURL: "https://cdn.test/a.png"},
	)

	st, err := Wait(context.Background(), read, Options{Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if st.Status != models.StatusGenerated || st.ArtifactURL == "" {
		t.Fatalf("unexpected final status: %+v", st)
	}
}

func TestWaitStopsOnFailure(t *testing.T) {
	read := sequenceReader(
		models.ArtworkStatus{Status: models.StatusRunning, Progress: 25},
		models.ArtworkStatus{Status: models.StatusFailed, Progress: 25, Error: "Image generation failed"},
	)

	st, err := Wait(context.Background(), read, Options{Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if st.Status != models.StatusFailed || st.Error == "" {
		t.Fatalf("unexpected final status: %+v", st)
	}
}

func TestWaitMaxAttempts(t *testing.T) {
	read := sequenceReader(models.ArtworkStatus{Status: models.StatusRunning, Progress: 50})

	st, err := Wait(context.Background(), read, Options{Interval: time.Millisecond, MaxAttempts: 5})
	if !errors.Is(err, ErrMaxAttempts) {
		t.Fatalf("expected ErrMaxAttempts, got %v", err)
	}
	// The last observation is still returned so callers can render progress.
	if st.Status != models.StatusRunning || st.Progress != 50 {
		t.Fatalf("unexpected last status: %+v", st)
	}
}

func TestWaitToleratesReadErrors(t *testing.T) {
	calls := 0
	read := func(context.Context) (models.ArtworkStatus, error) {
		calls++
		if calls < 3 {
			return models.ArtworkStatus{}, errors.New("transient")
		}
		return models.ArtworkStatus{Status: models.StatusGenerated, Progress: 100}, nil
	}

	st, err := Wait(context.Background(), read, Options{Interval: time.Millisecond})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if st.Status != models.StatusGenerated {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestWaitHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	read := sequenceReader(models.ArtworkStatus{Status: models.StatusRunning})
	_, err := Wait(ctx, read, Options{Interval: time.Minute})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
