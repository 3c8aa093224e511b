// Package enforce implements the enforcement task orchestration core: the
// job queue contract, the stage state machine, the task rule engine, the
// collectability scorer, and the operator-facing work queue views.
package enforce

import (
	"context"
	"fmt"
	"time"

	"enforcement-engine/internal/config"
	"enforcement-engine/internal/models"
	"enforcement-engine/internal/store"
	"enforcement-engine/internal/telemetry"
)

// Store is the persistence surface the engine needs. *store.Store is the
// production implementation.
type Store interface {
	CreateJob(ctx context.Context, p store.CreateJobParams) (models.Job, bool, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	MarkJobLeased(ctx context.Context, id string) error
	MarkJobAcked(ctx context.Context, id string) error

	GetCase(ctx context.Context, id string) (models.EnforcementCase, error)
	GetCaseByJudgment(ctx context.Context, judgmentID string) (models.EnforcementCase, error)
	SetStage(ctx context.Context, judgmentID, newStage, note, changedBy string) (models.EnforcementCase, bool, error)
	StageHistory(ctx context.Context, judgmentID string) ([]models.StageHistoryEntry, error)
	UpdateCaseTier(ctx context.Context, caseID, tier string) error

	ActiveTaskCodes(ctx context.Context, caseID string) ([]string, error)
	InsertTasks(ctx context.Context, caseID, plaintiffID string, drafts []store.TaskDraft) ([]models.EnforcementTask, error)
	LogCall(ctx context.Context, p store.CallLogParams) (models.CallAttempt, *models.EnforcementTask, error)

	OpenCases(ctx context.Context) ([]models.EnforcementCase, error)
	ActiveCallTasks(ctx context.Context) ([]store.CallTaskRow, error)
	LastContacts(ctx context.Context) (map[string]time.Time, error)
	SnapshotCounts(ctx context.Context) (byStage, byTier, openTasks map[string]int, err error)
}

// Queue is the delivery surface the engine needs. *queue.RedisQueue is the
// production implementation.
type Queue interface {
	Push(ctx context.Context, jobID, kind string) error
	Dequeue(ctx context.Context, kind string) (string, error)
	Ack(ctx context.Context, jobID string) error
	DLQPeek(ctx context.Context, count int64) ([]string, error)
	ReadyDepth(ctx context.Context) (int64, error)
	InFlightCount(ctx context.Context) (int64, error)
}

// Engine composes the durable store and the delivery queue behind the
// operation surface. All methods are safe for concurrent use; per-case
// serialization happens at the row-lock level inside the store.
type Engine struct {
	cfg   config.Config
	store Store
	queue Queue
}

// NewEngine wires the engine.
func NewEngine(cfg config.Config, st Store, q Queue) *Engine {
	return &Engine{cfg: cfg, store: st, queue: q}
}

// EnqueueJob submits a job of the given kind. Submissions sharing an
// idempotency key resolve to one job: the existing job is returned with
// reused=true and nothing lands on the ready list a second time. A reused
// row still sitting in queued state is re-pushed, healing a crash between
// the insert and the original push; Push is idempotent per job ID, so the
// heal cannot double-deliver a job that was pushed fine the first time.
func (e *Engine) EnqueueJob(ctx context.Context, kind, idempotencyKey string, payload map[string]any) (models.Job, bool, error) {
	if !models.ValidKind(kind) {
		return models.Job{}, false, models.ErrInvalidKind
	}
	if idempotencyKey == "" {
		return models.Job{}, false, models.ErrMissingIdempotencyKey
	}

	job, reused, err := e.store.CreateJob(ctx, store.CreateJobParams{
		Kind:           kind,
		IdempotencyKey: idempotencyKey,
		Payload:        payload,
		MaxAttempts:    e.cfg.MaxAttempts,
		IdempotencyTTL: e.cfg.IdempotencyTTL,
	})
	if err != nil {
		return models.Job{}, false, err
	}
	if reused {
		if job.Status == models.JobStatusQueued {
			if err := e.queue.Push(ctx, job.ID, job.Kind); err != nil {
				return models.Job{}, false, fmt.Errorf("push job %s: %w", job.ID, err)
			}
		}
		return job, true, nil
	}

	if err := e.queue.Push(ctx, job.ID, job.Kind); err != nil {
		return models.Job{}, false, fmt.Errorf("push job %s: %w", job.ID, err)
	}
	telemetry.JobsEnqueued.WithLabelValues(kind).Inc()
	return job, false, nil
}

// DequeueJob leases at most one job of the given kind. Returns nil when the
// queue is empty. The returned job stays invisible to other consumers until
// the visibility deadline passes or it is acknowledged.
func (e *Engine) DequeueJob(ctx context.Context, kind string) (*models.Job, error) {
	jobID, err := e.queue.Dequeue(ctx, kind)
	if err != nil {
		return nil, err
	}
	if jobID == "" {
		return nil, nil
	}
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		// Redis knew an ID Postgres no longer has; drop the orphan lease.
		_ = e.queue.Ack(ctx, jobID)
		return nil, err
	}
	if err := e.store.MarkJobLeased(ctx, jobID); err != nil {
		return nil, err
	}
	job.Status = models.JobStatusLeased
	job.ReadCount++
	now := time.Now().UTC()
	job.LeasedAt = &now
	return &job, nil
}

// AcknowledgeJob removes a leased job permanently.
func (e *Engine) AcknowledgeJob(ctx context.Context, jobID string) error {
	if _, err := e.store.GetJob(ctx, jobID); err != nil {
		return err
	}
	if err := e.queue.Ack(ctx, jobID); err != nil {
		return err
	}
	return e.store.MarkJobAcked(ctx, jobID)
}

// GetJob fetches a job by id.
func (e *Engine) GetJob(ctx context.Context, jobID string) (models.Job, error) {
	return e.store.GetJob(ctx, jobID)
}

// DeadLetters lists the oldest dead-lettered job IDs.
func (e *Engine) DeadLetters(ctx context.Context, count int64) ([]string, error) {
	return e.queue.DLQPeek(ctx, count)
}
