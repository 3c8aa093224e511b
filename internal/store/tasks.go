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

// TaskDraft is a task the rule engine decided to schedule. The store turns
// drafts into rows, letting the partial unique index drop any draft whose
// (case_id, task_code) already has an active instance.
type TaskDraft struct {
	TaskCode  string
	Kind      string
	Severity  string
	DueAt     time.Time
	Note      string
	Metadata  map[string]any
	CreatedBy string
}

// InsertTasks writes drafts for a case inside one transaction. The case row
// is locked first so two generators for the same case serialize. Drafts
// that hit the active-task dedupe index are skipped silently; only rows
// actually created are returned.
func (s *Store) InsertTasks(ctx context.Context, caseID, plaintiffID string, drafts []TaskDraft) ([]models.EnforcementTask, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var lockedID string
	err = tx.QueryRow(ctx, `SELECT id FROM enforcement_cases WHERE id = $1 FOR UPDATE`, caseID).Scan(&lockedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock case: %w", err)
	}

	created := make([]models.EnforcementTask, 0, len(drafts))
	for _, d := range drafts {
		metaJSON, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal task metadata: %w", err)
		}
		id := uuid.New().String()
		var createdAt time.Time
		err = tx.QueryRow(ctx, `
			INSERT INTO enforcement_tasks (id, case_id, plaintiff_id, task_code, kind, severity, status, due_at, note, metadata, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
			ON CONFLICT (case_id, task_code) WHERE status IN ('open', 'in_progress') DO NOTHING
			RETURNING created_at
		`, id, caseID, plaintiffID, d.TaskCode, d.Kind, d.Severity, models.TaskStatusOpen, d.DueAt, d.Note, metaJSON, d.CreatedBy).Scan(&createdAt)
		if errors.Is(err, pgx.ErrNoRows) {
			// An active task for this code already exists; not an error.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert task %s: %w", d.TaskCode, err)
		}
		due := d.DueAt
		created = append(created, models.EnforcementTask{
			ID:          id,
			CaseID:      caseID,
			PlaintiffID: plaintiffID,
			TaskCode:    d.TaskCode,
			Kind:        d.Kind,
			Severity:    d.Severity,
			Status:      models.TaskStatusOpen,
			DueAt:       &due,
			Note:        d.Note,
			Metadata:    d.Metadata,
			CreatedBy:   d.CreatedBy,
			CreatedAt:   createdAt,
		})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return created, nil
}

// ActiveTaskCodes returns the task codes currently open or in progress for
// a case.
func (s *Store) ActiveTaskCodes(ctx context.Context, caseID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT task_code FROM enforcement_tasks
		WHERE case_id = $1 AND status IN ('open', 'in_progress')
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("query active task codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan task code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// CallTaskRow is an active call-kind task joined with its plaintiff's name
// for the call-queue view.
type CallTaskRow struct {
	Task          models.EnforcementTask
	PlaintiffName string
}

// ActiveCallTasks lists every open or in-progress call-kind task.
func (s *Store) ActiveCallTasks(ctx context.Context) ([]CallTaskRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.id, t.case_id, t.plaintiff_id, t.task_code, t.kind, t.severity, t.status, t.due_at, t.created_at, p.name
		FROM enforcement_tasks t
		JOIN plaintiffs p ON p.id = t.plaintiff_id
		WHERE t.status IN ('open', 'in_progress') AND t.kind = 'call'
	`)
	if err != nil {
		return nil, fmt.Errorf("query call tasks: %w", err)
	}
	defer rows.Close()

	var out []CallTaskRow
	for rows.Next() {
		var r CallTaskRow
		var due pgtype.Timestamptz
		if err := rows.Scan(&r.Task.ID, &r.Task.CaseID, &r.Task.PlaintiffID, &r.Task.TaskCode, &r.Task.Kind, &r.Task.Severity, &r.Task.Status, &due, &r.Task.CreatedAt, &r.PlaintiffName); err != nil {
			return nil, fmt.Errorf("scan call task: %w", err)
		}
		r.Task.DueAt = timePtr(due)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LastContacts returns, per plaintiff, the most recent moment contact was
// made: the newer of the latest contact-bearing status-history entry and
// the latest logged call attempt. Plaintiffs never contacted are absent.
func (s *Store) LastContacts(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT plaintiff_id, MAX(at) FROM (
			SELECT plaintiff_id, MAX(changed_at) AS at
			FROM plaintiff_status_history
			WHERE status IN ('contacted', 'qualified', 'sent_agreement', 'signed')
			GROUP BY plaintiff_id
			UNION ALL
			SELECT plaintiff_id, MAX(attempted_at) AS at
			FROM call_attempts
			GROUP BY plaintiff_id
		) contacts
		GROUP BY plaintiff_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query last contacts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var id string
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan last contact: %w", err)
		}
		out[id] = at
	}
	return out, rows.Err()
}

// OpenCases lists every case that is not closed, for the pipeline view.
func (s *Store) OpenCases(ctx context.Context) ([]models.EnforcementCase, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+caseColumns+` FROM enforcement_cases WHERE status <> 'closed'`)
	if err != nil {
		return nil, fmt.Errorf("query open cases: %w", err)
	}
	defer rows.Close()

	var out []models.EnforcementCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SnapshotCounts aggregates case and task counts for the pipeline snapshot.
func (s *Store) SnapshotCounts(ctx context.Context) (byStage, byTier, openTasks map[string]int, err error) {
	byStage = make(map[string]int)
	byTier = make(map[string]int)
	openTasks = make(map[string]int)

	rows, err := s.pool.Query(ctx, `
		SELECT current_stage, COUNT(*) FROM enforcement_cases WHERE status <> 'closed' GROUP BY current_stage
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("count by stage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, nil, nil, fmt.Errorf("scan stage count: %w", err)
		}
		byStage[stage] = n
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT COALESCE(collectability_tier, 'UNSCORED'), COUNT(*)
		FROM enforcement_cases WHERE status <> 'closed' GROUP BY 1
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("count by tier: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, nil, nil, fmt.Errorf("scan tier count: %w", err)
		}
		byTier[tier] = n
	}
	if err := rows.Err(); err != nil {
		return nil, nil, nil, err
	}

	rows, err = s.pool.Query(ctx, `
		SELECT task_code, COUNT(*) FROM enforcement_tasks
		WHERE status IN ('open', 'in_progress') GROUP BY task_code
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("count open tasks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		var n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, nil, nil, fmt.Errorf("scan task count: %w", err)
		}
		openTasks[code] = n
	}
	return byStage, byTier, openTasks, rows.Err()
}
