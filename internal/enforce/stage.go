package enforce

import (
	"context"
	"strings"

	"enforcement-engine/internal/models"
	"enforcement-engine/internal/telemetry"
)

// stageAllowList is the closed set of enforcement stages. Any stage may
// follow any other; the allow-list is the only structural restriction.
var stageAllowList = map[string]bool{
	models.StagePreEnforcement:   true,
	models.StagePaperworkFiled:   true,
	models.StageLevyIssued:       true,
	models.StagePaymentPlan:      true,
	models.StageWaitingPayment:   true,
	models.StageCollected:        true,
	models.StageClosedNoRecovery: true,
}

// NormalizeStage trims and lowercases a caller-supplied stage and checks it
// against the allow-list.
func NormalizeStage(stage string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(stage))
	if !stageAllowList[s] {
		return "", models.ErrInvalidStage
	}
	return s, nil
}

// StageDecision is the resolved outcome of a stage transition request.
type StageDecision struct {
	Stage        string // normalized target stage
	WriteHistory bool   // false when the request repeats the current stage
}

// DecideStageTransition normalizes a requested stage against the allow-list
// and decides whether moving there from currentStage changes anything. A
// same-stage request is an idempotent no-op: no update, no history row.
func DecideStageTransition(currentStage, requested string) (StageDecision, error) {
	stage, err := NormalizeStage(requested)
	if err != nil {
		return StageDecision{}, err
	}
	return StageDecision{Stage: stage, WriteHistory: stage != currentStage}, nil
}

// SetStage transitions a judgment's case to newStage. A transition to the
// current stage is an idempotent no-op and writes no history; otherwise the
// stage update and the history append commit together.
func (e *Engine) SetStage(ctx context.Context, judgmentID, newStage, note, changedBy string) (models.EnforcementCase, error) {
	// Reject bad input before touching the store.
	if _, err := NormalizeStage(newStage); err != nil {
		return models.EnforcementCase{}, err
	}
	cur, err := e.store.GetCaseByJudgment(ctx, judgmentID)
	if err != nil {
		return models.EnforcementCase{}, err
	}
	d, err := DecideStageTransition(cur.CurrentStage, newStage)
	if err != nil {
		return models.EnforcementCase{}, err
	}
	if !d.WriteHistory {
		return cur, nil
	}
	if changedBy == "" {
		changedBy = "system"
	}

	// The store re-checks the no-op condition under the row lock, so a
	// concurrent transition to the requested stage still writes no
	// duplicate history.
	c, changed, err := e.store.SetStage(ctx, judgmentID, d.Stage, note, changedBy)
	if err != nil {
		return models.EnforcementCase{}, err
	}
	if changed {
		telemetry.StageTransitions.WithLabelValues(d.Stage).Inc()
	}
	return c, nil
}

// StageHistory returns the audit trail for a judgment, oldest first.
func (e *Engine) StageHistory(ctx context.Context, judgmentID string) ([]models.StageHistoryEntry, error) {
	return e.store.StageHistory(ctx, judgmentID)
}
