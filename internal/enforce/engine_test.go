package enforce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"enforcement-engine/internal/config"
	"enforcement-engine/internal/models"
	"enforcement-engine/internal/store"
)

// fakeJobStore keeps the job and idempotency-key tables in memory with the
// same contract the SQL layer has: one job per key, first writer wins.
type fakeJobStore struct {
	jobs  map[string]models.Job
	byKey map[string]string
}

func newFakeJobStore() *fakeJobStore {
	return &fakeJobStore{jobs: make(map[string]models.Job), byKey: make(map[string]string)}
}

func (f *fakeJobStore) CreateJob(_ context.Context, p store.CreateJobParams) (models.Job, bool, error) {
	if id, ok := f.byKey[p.IdempotencyKey]; ok {
		return f.jobs[id], true, nil
	}
	job := models.Job{
		ID:             uuid.New().String(),
		Kind:           p.Kind,
		IdempotencyKey: p.IdempotencyKey,
		Payload:        p.Payload,
		Status:         models.JobStatusQueued,
		MaxAttempts:    p.MaxAttempts,
		EnqueuedAt:     time.Now().UTC(),
	}
	f.jobs[job.ID] = job
	f.byKey[p.IdempotencyKey] = job.ID
	return job, false, nil
}

func (f *fakeJobStore) GetJob(_ context.Context, id string) (models.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return models.Job{}, models.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeJobStore) MarkJobLeased(_ context.Context, id string) error {
	job := f.jobs[id]
	job.Status = models.JobStatusLeased
	job.ReadCount++
	f.jobs[id] = job
	return nil
}

func (f *fakeJobStore) MarkJobAcked(_ context.Context, id string) error {
	job := f.jobs[id]
	job.Status = models.JobStatusAcked
	f.jobs[id] = job
	return nil
}

func (f *fakeJobStore) GetCase(context.Context, string) (models.EnforcementCase, error) {
	return models.EnforcementCase{}, models.ErrCaseNotFound
}

func (f *fakeJobStore) GetCaseByJudgment(context.Context, string) (models.EnforcementCase, error) {
	return models.EnforcementCase{}, models.ErrCaseNotFound
}

func (f *fakeJobStore) SetStage(context.Context, string, string, string, string) (models.EnforcementCase, bool, error) {
	return models.EnforcementCase{}, false, models.ErrCaseNotFound
}

func (f *fakeJobStore) StageHistory(context.Context, string) ([]models.StageHistoryEntry, error) {
	return nil, nil
}

func (f *fakeJobStore) UpdateCaseTier(context.Context, string, string) error { return nil }

func (f *fakeJobStore) ActiveTaskCodes(context.Context, string) ([]string, error) { return nil, nil }

func (f *fakeJobStore) InsertTasks(context.Context, string, string, []store.TaskDraft) ([]models.EnforcementTask, error) {
	return nil, nil
}

func (f *fakeJobStore) LogCall(context.Context, store.CallLogParams) (models.CallAttempt, *models.EnforcementTask, error) {
	return models.CallAttempt{}, nil, models.ErrTaskNotFound
}

func (f *fakeJobStore) OpenCases(context.Context) ([]models.EnforcementCase, error) { return nil, nil }

func (f *fakeJobStore) ActiveCallTasks(context.Context) ([]store.CallTaskRow, error) {
	return nil, nil
}

func (f *fakeJobStore) LastContacts(context.Context) (map[string]time.Time, error) {
	return nil, nil
}

func (f *fakeJobStore) SnapshotCounts(context.Context) (map[string]int, map[string]int, map[string]int, error) {
	return nil, nil, nil, nil
}

// fakeDeliveryQueue mirrors the Redis queue's per-ID idempotence: a Push for
// an ID that is already tracked is a no-op.
type fakeDeliveryQueue struct {
	ready   []string
	tracked map[string]bool
}

func newFakeDeliveryQueue() *fakeDeliveryQueue {
	return &fakeDeliveryQueue{tracked: make(map[string]bool)}
}

func (f *fakeDeliveryQueue) Push(_ context.Context, jobID, kind string) error {
	if !models.ValidKind(kind) {
		return models.ErrInvalidKind
	}
	if f.tracked[jobID] {
		return nil
	}
	f.tracked[jobID] = true
	f.ready = append(f.ready, jobID)
	return nil
}

func (f *fakeDeliveryQueue) Dequeue(context.Context, string) (string, error) {
	if len(f.ready) == 0 {
		return "", nil
	}
	id := f.ready[0]
	f.ready = f.ready[1:]
	return id, nil
}

func (f *fakeDeliveryQueue) Ack(_ context.Context, jobID string) error {
	delete(f.tracked, jobID)
	return nil
}

func (f *fakeDeliveryQueue) DLQPeek(context.Context, int64) ([]string, error) { return nil, nil }

func (f *fakeDeliveryQueue) ReadyDepth(context.Context) (int64, error) {
	return int64(len(f.ready)), nil
}

func (f *fakeDeliveryQueue) InFlightCount(context.Context) (int64, error) { return 0, nil }

func TestEnqueueJobRejectsUnknownKind(t *testing.T) {
	// Validation runs before any store or queue access.
	eng := NewEngine(config.Config{}, nil, nil)
	_, _, err := eng.EnqueueJob(context.Background(), "teleport", "key-1", nil)
	if !errors.Is(err, models.ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestEnqueueJobRequiresIdempotencyKey(t *testing.T) {
	eng := NewEngine(config.Config{}, nil, nil)
	_, _, err := eng.EnqueueJob(context.Background(), models.KindEnrich, "", nil)
	if !errors.Is(err, models.ErrMissingIdempotencyKey) {
		t.Fatalf("expected ErrMissingIdempotencyKey, got %v", err)
	}
}

func TestEnqueueJobIdempotentPerKey(t *testing.T) {
	st := newFakeJobStore()
	q := newFakeDeliveryQueue()
	eng := NewEngine(config.Config{MaxAttempts: 5}, st, q)
	ctx := context.Background()

	first, reused, err := eng.EnqueueJob(ctx, models.KindEnrich, "key-dup", map[string]any{"case_id": "c1"})
	if err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if reused {
		t.Fatal("first enqueue reported reused")
	}

	second, reused, err := eng.EnqueueJob(ctx, models.KindEnrich, "key-dup", map[string]any{"case_id": "c1"})
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if !reused {
		t.Fatal("second enqueue did not report reused")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate key produced two jobs: %s and %s", first.ID, second.ID)
	}
	if len(st.jobs) != 1 {
		t.Fatalf("store holds %d jobs, want 1", len(st.jobs))
	}
	if got, _ := q.ReadyDepth(ctx); got != 1 {
		t.Fatalf("ready depth %d, want 1", got)
	}
}

func TestEnqueueJobRepushesStrandedQueuedJob(t *testing.T) {
	st := newFakeJobStore()
	q := newFakeDeliveryQueue()
	eng := NewEngine(config.Config{MaxAttempts: 5}, st, q)
	ctx := context.Background()

	// A crash between the insert commit and the push leaves a queued row
	// that Redis never saw.
	stranded, _, err := st.CreateJob(ctx, store.CreateJobParams{Kind: models.KindEnrich, IdempotencyKey: "key-stranded"})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}

	job, reused, err := eng.EnqueueJob(ctx, models.KindEnrich, "key-stranded", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !reused || job.ID != stranded.ID {
		t.Fatalf("got job %s reused=%v, want stranded %s reused", job.ID, reused, stranded.ID)
	}
	got, err := q.Dequeue(ctx, models.KindEnrich)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if got != stranded.ID {
		t.Fatalf("retry did not deliver the stranded job, got %q", got)
	}
}

func TestEnqueueJobReusedAckedJobNotRepushed(t *testing.T) {
	st := newFakeJobStore()
	q := newFakeDeliveryQueue()
	eng := NewEngine(config.Config{MaxAttempts: 5}, st, q)
	ctx := context.Background()

	job, _, err := eng.EnqueueJob(ctx, models.KindEnrich, "key-done", nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Dequeue(ctx, models.KindEnrich); err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if err := eng.AcknowledgeJob(ctx, job.ID); err != nil {
		t.Fatalf("ack: %v", err)
	}

	if _, _, err := eng.EnqueueJob(ctx, models.KindEnrich, "key-done", nil); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if got, _ := q.ReadyDepth(ctx); got != 0 {
		t.Fatalf("acked job went back on the ready list, depth %d", got)
	}
}
