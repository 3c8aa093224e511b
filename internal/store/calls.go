package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"enforcement-engine/internal/models"
)

// CallLogParams is the fully decided plan for logging one call: the caller
// has already validated the outcome and decided whether it counts as
// contact and whether a follow-up task is owed.
type CallLogParams struct {
	PlaintiffID    string
	TaskID         string
	Outcome        string
	InterestLevel  string
	Notes          string
	FollowUpAt     *time.Time
	ContactMade    bool
	CreateFollowUp bool
}

// validateCallTask gates a call-outcome plan against the locked task row.
// A task that belongs to a different plaintiff or is no longer workable is
// treated as gone: closing it again or minting a fresh follow-up from it
// would corrupt the queue.
func validateCallTask(task models.EnforcementTask, plaintiffID string) error {
	if task.PlaintiffID != plaintiffID {
		return models.ErrTaskNotFound
	}
	switch task.Status {
	case models.TaskStatusOpen, models.TaskStatusInProgress:
		return nil
	default:
		return models.ErrTaskNotFound
	}
}

// LogCall executes a call-outcome plan atomically: records the immutable
// attempt, closes the worked task, and creates at most one follow-up task.
// Closing the original inside the same transaction is what lets the
// follow-up insert pass the active-task dedupe index.
func (s *Store) LogCall(ctx context.Context, p CallLogParams) (models.CallAttempt, *models.EnforcementTask, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.CallAttempt{}, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var task models.EnforcementTask
	err = tx.QueryRow(ctx, `
		SELECT id, case_id, plaintiff_id, task_code, kind, severity, status
		FROM enforcement_tasks WHERE id = $1 FOR UPDATE
	`, p.TaskID).Scan(&task.ID, &task.CaseID, &task.PlaintiffID, &task.TaskCode, &task.Kind, &task.Severity, &task.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.CallAttempt{}, nil, models.ErrTaskNotFound
	}
	if err != nil {
		return models.CallAttempt{}, nil, fmt.Errorf("lock task: %w", err)
	}
	if err := validateCallTask(task, p.PlaintiffID); err != nil {
		return models.CallAttempt{}, nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE enforcement_tasks SET status = $2 WHERE id = $1
	`, p.TaskID, models.TaskStatusClosed); err != nil {
		return models.CallAttempt{}, nil, fmt.Errorf("close task: %w", err)
	}

	attempt := models.CallAttempt{
		ID:            uuid.New().String(),
		PlaintiffID:   p.PlaintiffID,
		TaskID:        p.TaskID,
		Outcome:       p.Outcome,
		InterestLevel: p.InterestLevel,
		Notes:         p.Notes,
		FollowUpAt:    p.FollowUpAt,
		AttemptedAt:   time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO call_attempts (id, plaintiff_id, task_id, outcome, interest_level, notes, follow_up_at, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, attempt.ID, attempt.PlaintiffID, attempt.TaskID, attempt.Outcome, attempt.InterestLevel, attempt.Notes, attempt.FollowUpAt, attempt.AttemptedAt); err != nil {
		return models.CallAttempt{}, nil, fmt.Errorf("insert call attempt: %w", err)
	}

	if p.ContactMade {
		if _, err := tx.Exec(ctx, `
			INSERT INTO plaintiff_status_history (plaintiff_id, status, changed_at)
			VALUES ($1, 'contacted', NOW())
		`, p.PlaintiffID); err != nil {
			return models.CallAttempt{}, nil, fmt.Errorf("append plaintiff status: %w", err)
		}
	}

	var followUp *models.EnforcementTask
	if p.CreateFollowUp && p.FollowUpAt != nil {
		id := uuid.New().String()
		var createdAt time.Time
		err := tx.QueryRow(ctx, `
			INSERT INTO enforcement_tasks (id, case_id, plaintiff_id, task_code, kind, severity, status, due_at, note, metadata, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '{}', $10, NOW())
			ON CONFLICT (case_id, task_code) WHERE status IN ('open', 'in_progress') DO NOTHING
			RETURNING created_at
		`, id, task.CaseID, task.PlaintiffID, task.TaskCode, task.Kind, task.Severity, models.TaskStatusOpen, *p.FollowUpAt, "follow-up from logged call", "call_logger").Scan(&createdAt)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return models.CallAttempt{}, nil, fmt.Errorf("insert follow-up task: %w", err)
		}
		if err == nil {
			followUp = &models.EnforcementTask{
				ID:          id,
				CaseID:      task.CaseID,
				PlaintiffID: task.PlaintiffID,
				TaskCode:    task.TaskCode,
				Kind:        task.Kind,
				Severity:    task.Severity,
				Status:      models.TaskStatusOpen,
				DueAt:       p.FollowUpAt,
				CreatedBy:   "call_logger",
				CreatedAt:   createdAt,
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.CallAttempt{}, nil, fmt.Errorf("commit: %w", err)
	}
	return attempt, followUp, nil
}
