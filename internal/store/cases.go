package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"enforcement-engine/internal/models"
)

const caseColumns = `id, judgment_id, plaintiff_id, current_stage, status, priority_level, judgment_amount, judgment_date, collectability_tier, last_scored_at, stage_updated_at, created_at`

func scanCase(row pgx.Row) (models.EnforcementCase, error) {
	var c models.EnforcementCase
	var plaintiff, tier pgtype.Text
	var judgmentDate, lastScored pgtype.Timestamptz
	err := row.Scan(&c.ID, &c.JudgmentID, &plaintiff, &c.CurrentStage, &c.Status, &c.PriorityLevel, &c.JudgmentAmount, &judgmentDate, &tier, &lastScored, &c.StageUpdatedAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.EnforcementCase{}, models.ErrCaseNotFound
	}
	if err != nil {
		return models.EnforcementCase{}, fmt.Errorf("scan case: %w", err)
	}
	c.PlaintiffID = textPtr(plaintiff)
	c.Tier = textPtr(tier)
	c.JudgmentDate = timePtr(judgmentDate)
	c.LastScoredAt = timePtr(lastScored)
	return c, nil
}

// GetCase fetches an enforcement case by id.
func (s *Store) GetCase(ctx context.Context, id string) (models.EnforcementCase, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM enforcement_cases WHERE id = $1`, id)
	return scanCase(row)
}

// GetCaseByJudgment fetches an enforcement case by its judgment id.
func (s *Store) GetCaseByJudgment(ctx context.Context, judgmentID string) (models.EnforcementCase, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM enforcement_cases WHERE judgment_id = $1`, judgmentID)
	return scanCase(row)
}

// SetStage moves a case to newStage and appends the history entry in the
// same transaction. The case row is locked first so concurrent transitions
// on one judgment serialize. A same-stage call is an idempotent no-op and
// writes no history. Stage validation happens in the caller; this layer
// only guarantees atomicity of the update-plus-log pair.
func (s *Store) SetStage(ctx context.Context, judgmentID, newStage, note, changedBy string) (models.EnforcementCase, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.EnforcementCase{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+caseColumns+` FROM enforcement_cases WHERE judgment_id = $1 FOR UPDATE`, judgmentID)
	c, err := scanCase(row)
	if err != nil {
		return models.EnforcementCase{}, false, err
	}

	if c.CurrentStage == newStage {
		return c, false, nil
	}

	row = tx.QueryRow(ctx, `
		UPDATE enforcement_cases
		SET current_stage = $2, stage_updated_at = NOW()
		WHERE judgment_id = $1
		RETURNING `+caseColumns, judgmentID, newStage)
	updated, err := scanCase(row)
	if err != nil {
		return models.EnforcementCase{}, false, fmt.Errorf("update stage: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO stage_history (judgment_id, stage, note, changed_at, changed_by)
		VALUES ($1, $2, $3, NOW(), $4)
	`, judgmentID, newStage, note, changedBy)
	if err != nil {
		return models.EnforcementCase{}, false, fmt.Errorf("append stage history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.EnforcementCase{}, false, fmt.Errorf("commit: %w", err)
	}
	return updated, true, nil
}

// StageHistory returns the append-only transition log for a judgment,
// oldest first.
func (s *Store) StageHistory(ctx context.Context, judgmentID string) ([]models.StageHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT judgment_id, stage, note, changed_at, changed_by
		FROM stage_history WHERE judgment_id = $1 ORDER BY changed_at
	`, judgmentID)
	if err != nil {
		return nil, fmt.Errorf("query stage history: %w", err)
	}
	defer rows.Close()

	var entries []models.StageHistoryEntry
	for rows.Next() {
		var e models.StageHistoryEntry
		if err := rows.Scan(&e.JudgmentID, &e.Stage, &e.Note, &e.ChangedAt, &e.ChangedBy); err != nil {
			return nil, fmt.Errorf("scan stage history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateCaseTier caches a freshly computed collectability tier on the case.
func (s *Store) UpdateCaseTier(ctx context.Context, caseID, tier string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE enforcement_cases SET collectability_tier = $2, last_scored_at = NOW() WHERE id = $1
	`, caseID, tier)
	return err
}
