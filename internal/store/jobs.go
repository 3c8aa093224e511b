package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"enforcement-engine/internal/models"
)

// CreateJobParams collects inputs required to insert a job row.
type CreateJobParams struct {
	Kind           string
	IdempotencyKey string
	Payload        map[string]any
	MaxAttempts    int
	IdempotencyTTL time.Duration
}

// CreateJob inserts a job row, deduplicated by idempotency key. The key is
// mandatory: re-submitting the same key returns the existing job with
// reused=true instead of creating a second row.
func (s *Store) CreateJob(ctx context.Context, p CreateJobParams) (models.Job, bool, error) {
	if !models.ValidKind(p.Kind) {
		return models.Job{}, false, models.ErrInvalidKind
	}
	if p.IdempotencyKey == "" {
		return models.Job{}, false, models.ErrMissingIdempotencyKey
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = 5
	}
	if p.IdempotencyTTL == 0 {
		p.IdempotencyTTL = 24 * time.Hour
	}
	if p.Payload == nil {
		p.Payload = map[string]any{}
	}

	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("marshal payload: %w", err)
	}

	// Cheap pre-check before opening a transaction.
	if existing, found, err := s.FindJobByIdempotencyKey(ctx, p.IdempotencyKey); err != nil {
		return models.Job{}, false, err
	} else if found {
		return existing, true, nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Job{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, kind, idempotency_key, payload, status, read_count, attempts, max_attempts, enqueued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, $6, $7, $7)
	`, id, p.Kind, p.IdempotencyKey, payloadJSON, models.JobStatusQueued, p.MaxAttempts, now)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("insert job: %w", err)
	}

	expires := now.Add(p.IdempotencyTTL)
	tag, err := tx.Exec(ctx, `
		INSERT INTO idempotency_keys (key, job_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO NOTHING
	`, p.IdempotencyKey, id, expires)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("insert idempotency key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Someone else claimed the key after our pre-check; keep their job.
		if err := tx.Rollback(ctx); err != nil {
			return models.Job{}, false, fmt.Errorf("rollback after idempotency conflict: %w", err)
		}
		existing, found, err := s.FindJobByIdempotencyKey(ctx, p.IdempotencyKey)
		if err != nil {
			return models.Job{}, false, err
		}
		if !found {
			return models.Job{}, false, errors.New("idempotency conflict but no existing job found")
		}
		return existing, true, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, false, fmt.Errorf("commit: %w", err)
	}

	return models.Job{
		ID:             id,
		Kind:           p.Kind,
		IdempotencyKey: p.IdempotencyKey,
		Payload:        p.Payload,
		Status:         models.JobStatusQueued,
		MaxAttempts:    p.MaxAttempts,
		EnqueuedAt:     now,
		UpdatedAt:      now,
	}, false, nil
}

// FindJobByIdempotencyKey returns the job mapped to the key if present and
// unexpired.
func (s *Store) FindJobByIdempotencyKey(ctx context.Context, key string) (models.Job, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT job_id FROM idempotency_keys WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())
	`, key).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, fmt.Errorf("query idempotency key: %w", err)
	}
	job, err := s.GetJob(ctx, id)
	if errors.Is(err, models.ErrJobNotFound) {
		return models.Job{}, false, nil
	}
	if err != nil {
		return models.Job{}, false, err
	}
	return job, true, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, kind, idempotency_key, payload, status, read_count, attempts, max_attempts, last_error, enqueued_at, leased_at, updated_at
		FROM jobs WHERE id = $1
	`, id)

	var job models.Job
	var payloadJSON []byte
	var lastErr pgtype.Text
	var leasedAt pgtype.Timestamptz

	if err := row.Scan(&job.ID, &job.Kind, &job.IdempotencyKey, &payloadJSON, &job.Status, &job.ReadCount, &job.Attempts, &job.MaxAttempts, &lastErr, &job.EnqueuedAt, &leasedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, models.ErrJobNotFound
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	job.LastError = textPtr(lastErr)
	job.LeasedAt = timePtr(leasedAt)
	return job, nil
}

// MarkJobLeased records a successful dequeue: bumps the read counter and
// stamps the lease. Called once per delivery, so read_count doubles as a
// redelivery audit trail.
func (s *Store) MarkJobLeased(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, read_count = read_count + 1, leased_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id, models.JobStatusLeased)
	return err
}

// MarkJobAcked finalizes a job. The row is kept until the idempotency key
// expires so duplicate submissions keep resolving to it.
func (s *Store) MarkJobAcked(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, last_error = NULL, updated_at = NOW() WHERE id = $1
	`, id, models.JobStatusAcked)
	return err
}

// UpdateJobAttempts records a handler failure and requeues the row.
func (s *Store) UpdateJobAttempts(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, attempts = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1
	`, id, models.JobStatusQueued, attempts, lastErr)
	return err
}

// MarkJobDeadLetter flags a job that exhausted its retry budget.
func (s *Store) MarkJobDeadLetter(ctx context.Context, id string, lastErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, last_error = $3, updated_at = NOW() WHERE id = $1
	`, id, models.JobStatusDeadLetter, lastErr)
	return err
}
