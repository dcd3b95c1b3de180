package worker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"artwork-pipeline/internal/artifact"
	"artwork-pipeline/internal/generation"
	"artwork-pipeline/internal/models"
	"artwork-pipeline/internal/store"
)

// memStore mirrors the conditional-update semantics of the Postgres store.
type memStore struct {
	mu      sync.Mutex
	rec     models.Artwork
	missing bool

	progressHistory []int
	reportFailures  int // fail this many ReportProgress calls first
}

func (m *memStore) snapshot() models.Artwork {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec
}

func (m *memStore) GetArtwork(_ context.Context, id, ownerID string) (models.Artwork, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing || m.rec.ID != id || m.rec.OwnerID != ownerID {
		return models.Artwork{}, store.ErrNotFound
	}
	return m.rec, nil
}

func (m *memStore) MarkRunning(_ context.Context, id, ownerID, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec.ID != id || m.rec.OwnerID != ownerID || m.rec.JobID != jobID {
		return false, nil
	}
	if m.rec.Status != models.StatusQueued && m.rec.Status != models.StatusRunning {
		return false, nil
	}
	m.rec.Status = models.StatusRunning
	if m.rec.Progress < 5 {
		m.rec.Progress = 5
	}
	m.rec.Stage = "Starting generation…"
	m.rec.Error = ""
	m.progressHistory = append(m.progressHistory, m.rec.Progress)
	return true, nil
}

func (m *memStore) ReportProgress(_ context.Context, id, ownerID, jobID string, progress int, stage string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reportFailures > 0 {
		m.reportFailures--
		return false, errors.New("simulated store outage")
	}
	if m.rec.ID != id || m.rec.OwnerID != ownerID || m.rec.JobID != jobID {
		return false, nil
	}
	if m.rec.Status != models.StatusRunning || m.rec.Progress > progress {
		return false, nil
	}
	m.rec.Progress = progress
	m.rec.Stage = stage
	m.progressHistory = append(m.progressHistory, progress)
	return true, nil
}

func (m *memStore) MarkGenerated(_ context.Context, id, ownerID, jobID string, art store.ArtifactFields) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec.ID != id || m.rec.OwnerID != ownerID || m.rec.JobID != jobID {
		return false, nil
	}
	if m.rec.Status != models.StatusQueued && m.rec.Status != models.StatusRunning {
		return false, nil
	}
	m.rec.Status = models.StatusGenerated
	m.rec.Progress = 100
	m.rec.Stage = "Ready"
	m.rec.Error = ""
	m.rec.ArtifactURL = art.URL
	m.rec.ArtifactKey = art.Key
	m.rec.ArtifactBytes = art.Bytes
	m.rec.ArtifactMime = art.Mime
	m.rec.ThumbURL = art.ThumbURL
	m.rec.ThumbKey = art.ThumbKey
	m.progressHistory = append(m.progressHistory, 100)
	return true, nil
}

func (m *memStore) MarkFailed(_ context.Context, id, ownerID, jobID, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec.ID != id || m.rec.OwnerID != ownerID || m.rec.JobID != jobID {
		return false, nil
	}
	if m.rec.Status != models.StatusQueued && m.rec.Status != models.StatusRunning {
		return false, nil
	}
	m.rec.Status = models.StatusFailed
	m.rec.Stage = "Failed"
	m.rec.Error = message
	return true, nil
}

// memArtifacts stores objects in a map, keyed exactly like the real drivers.
type memArtifacts struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
	failPut bool
}

func newMemArtifacts() *memArtifacts {
	return &memArtifacts{objects: map[string][]byte{}}
}

func (m *memArtifacts) Put(_ context.Context, key string, body []byte, _ string) (artifact.Stored, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return artifact.Stored{}, errors.New("bucket unavailable")
	}
	m.puts++
	m.objects[key] = body
	return artifact.Stored{Key: key, URL: "https://cdn.test/" + key, Bytes: int64(len(body))}, nil
}

func (m *memArtifacts) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memArtifacts) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	return out
}

type funcGenerator func(ctx context.Context, prompt, size string) ([]byte, string, error)

func (f funcGenerator) Generate(ctx context.Context, prompt, size string) ([]byte, string, error) {
	return f(ctx, prompt, size)
}

func queuedArtwork(jobID string) models.Artwork {
	return models.Artwork{
		ID:      "art-1",
		OwnerID: "user-1",
		Title:   "Dream Harbor",
		Output:  models.OutputSquare,
		Status:  models.StatusQueued,
		JobID:   jobID,
	}
}

func testDescriptor(jobID string) models.JobDescriptor {
	return models.JobDescriptor{JobID: jobID, ArtworkID: "art-1", OwnerID: "user-1"}
}

func newTestExecutor(st RecordStore, gen generation.Generator, art artifact.Store) *Executor {
	return NewExecutor(st, gen, art, zerolog.Nop(), ExecutorOptions{ThumbWidth: 64})
}

func TestExecuteSuccess(t *testing.T) {
	st := &memStore{rec: queuedArtwork("j1")}
	arts := newMemArtifacts()
	ex := newTestExecutor(st, generation.FakeGenerator{}, arts)

	if err := ex.Execute(context.Background(), testDescriptor("j1")); err != nil {
		t.Fatalf("execute: %v", err)
	}

	rec := st.snapshot()
	if rec.Status != models.StatusGenerated || rec.Progress != 100 || rec.Stage != "Ready" {
		t.Fatalf("unexpected terminal state: %+v", rec)
	}
	if rec.ArtifactKey != "users/user-1/artworks/art-1/original.png" {
		t.Fatalf("unexpected artifact key: %q", rec.ArtifactKey)
	}
	if rec.ArtifactURL == "" || rec.ArtifactBytes == 0 || rec.ArtifactMime != "image/png" {
		t.Fatalf("artifact fields not populated: %+v", rec)
	}
	if rec.ThumbKey != "users/user-1/artworks/art-1/thumb.png" || rec.ThumbURL == "" {
		t.Fatalf("thumbnail fields not populated: %+v", rec)
	}

	for i := 1; i < len(st.progressHistory); i++ {
		if st.progressHistory[i] < st.progressHistory[i-1] {
			t.Fatalf("progress regressed: %v", st.progressHistory)
		}
	}
}

func TestExecuteStaleDelivery(t *testing.T) {
	st := &memStore{rec: queuedArtwork("j2")} // record already owned by a newer job
	arts := newMemArtifacts()
	ex := newTestExecutor(st, generation.FakeGenerator{}, arts)

	err := ex.Execute(context.Background(), testDescriptor("j1"))
	if !errors.Is(err, errStale) {
		t.Fatalf("expected errStale, got %v", err)
	}
	rec := st.snapshot()
	if rec.Status != models.StatusQueued || rec.Progress != 0 {
		t.Fatalf("stale delivery mutated the record: %+v", rec)
	}
	if arts.puts != 0 {
		t.Fatalf("stale delivery wrote %d artifacts", arts.puts)
	}
}

func TestExecuteRecordGone(t *testing.T) {
	st := &memStore{missing: true}
	ex := newTestExecutor(st, generation.FakeGenerator{}, newMemArtifacts())

	err := ex.Execute(context.Background(), testDescriptor("j1"))
	if !errors.Is(err, errRecordGone) {
		t.Fatalf("expected errRecordGone, got %v", err)
	}
}

func TestExecuteGenerationFailure(t *testing.T) {
	st := &memStore{rec: queuedArtwork("j1")}
	gen := funcGenerator(func(context.Context, string, string) ([]byte, string, error) {
		return nil, "", errors.New("model overloaded")
	})
	ex := newTestExecutor(st, gen, newMemArtifacts())

	err := ex.Execute(context.Background(), testDescriptor("j1"))
	if err == nil || errors.Is(err, errStale) || errors.Is(err, errRecordGone) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if got := publicMessage(err); got != "Image generation failed" {
		t.Fatalf("unexpected public message: %q", got)
	}

	// The processor gives up after the redelivery budget; the terminal write
	// keeps the last reported progress.
	ex.Fail(context.Background(), testDescriptor("j1"), publicMessage(err))
	rec := st.snapshot()
	if rec.Status != models.StatusFailed || rec.Stage != "Failed" || rec.Error == "" {
		t.Fatalf("unexpected failure state: %+v", rec)
	}
	if rec.Progress != 25 {
		t.Fatalf("expected progress preserved at 25, got %d", rec.Progress)
	}
}

func TestExecuteStorageFailure(t *testing.T) {
	st := &memStore{rec: queuedArtwork("j1")}
	arts := newMemArtifacts()
	arts.failPut = true
	ex := newTestExecutor(st, generation.FakeGenerator{}, arts)

	err := ex.Execute(context.Background(), testDescriptor("j1"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := publicMessage(err); got != "Storing output failed" {
		t.Fatalf("unexpected public message: %q", got)
	}
}

func TestExecuteIdempotentRedelivery(t *testing.T) {
	st := &memStore{rec: queuedArtwork("j1")}
	arts := newMemArtifacts()
	ex := newTestExecutor(st, generation.FakeGenerator{}, arts)

	if err := ex.Execute(context.Background(), testDescriptor("j1")); err != nil {
		t.Fatalf("first execute: %v", err)
	}

	// Simulate a crash after the artifact was stored but before the terminal
	// write landed, followed by a redelivery of the same descriptor.
	st.mu.Lock()
	st.rec.Status = models.StatusRunning
	st.rec.Progress = 80
	st.mu.Unlock()

	if err := ex.Execute(context.Background(), testDescriptor("j1")); err != nil {
		t.Fatalf("redelivered execute: %v", err)
	}

	rec := st.snapshot()
	if rec.Status != models.StatusGenerated || rec.Progress != 100 {
		t.Fatalf("redelivery did not converge: %+v", rec)
	}
	keys := arts.keys()
	if len(keys) != 2 { // original + thumb, both overwritten in place
		t.Fatalf("expected 2 objects, got %v", keys)
	}
	for _, k := range keys {
		if !strings.HasPrefix(k, "users/user-1/artworks/art-1/") {
			t.Fatalf("object outside deterministic key space: %q", k)
		}
	}
}

func TestExecuteSupersededMidRun(t *testing.T) {
	st := &memStore{rec: queuedArtwork("j1")}
	arts := newMemArtifacts()
	gen := funcGenerator(func(ctx context.Context, prompt, size string) ([]byte, string, error) {
		// A resubmission lands while we are generating.
		st.mu.Lock()
		st.rec.JobID = "j2"
		st.rec.Status = models.StatusQueued
		st.rec.Progress = 0
		st.mu.Unlock()
		return generation.FakeGenerator{}.Generate(ctx, prompt, size)
	})
	ex := newTestExecutor(st, gen, arts)

	err := ex.Execute(context.Background(), testDescriptor("j1"))
	if !errors.Is(err, errStale) {
		t.Fatalf("expected errStale after supersession, got %v", err)
	}
	rec := st.snapshot()
	if rec.Status != models.StatusQueued || rec.JobID != "j2" {
		t.Fatalf("superseded job overwrote the record: %+v", rec)
	}
}

func TestThumbnailFailureIsNonFatal(t *testing.T) {
	st := &memStore{rec: queuedArtwork("j1")}
	arts := newMemArtifacts()
	gen := funcGenerator(func(context.Context, string, string) ([]byte, string, error) {
		return []byte("not an image"), "image/png", nil
	})
	ex := newTestExecutor(st, gen, arts)

	if err := ex.Execute(context.Background(), testDescriptor("j1")); err != nil {
		t.Fatalf("execute: %v", err)
	}
	rec := st.snapshot()
	if rec.Status != models.StatusGenerated {
		t.Fatalf("expected generated, got %+v", rec)
	}
	if rec.ThumbURL != "" || rec.ThumbKey != "" {
		t.Fatalf("expected empty thumbnail fields, got %+v", rec)
	}
	if len(arts.keys()) != 1 {
		t.Fatalf("expected only the original object, got %v", arts.keys())
	}
}

func TestCheckpointFailuresDoNotAbort(t *testing.T) {
	st := &memStore{rec: queuedArtwork("j1"), reportFailures: 100}
	ex := NewExecutor(st, generation.FakeGenerator{}, newMemArtifacts(), zerolog.Nop(), ExecutorOptions{
		ThumbWidth:    64,
		ReportRetries: 1,
	})

	if err := ex.Execute(context.Background(), testDescriptor("j1")); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if rec := st.snapshot(); rec.Status != models.StatusGenerated {
		t.Fatalf("reporting failures must not fail the job: %+v", rec)
	}
}
