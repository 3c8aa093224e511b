package enforce

import (
	"context"
	"time"

	"enforcement-engine/internal/models"
	"enforcement-engine/internal/store"
	"enforcement-engine/internal/telemetry"
)

var validOutcomes = map[string]bool{
	models.OutcomeReached:   true,
	models.OutcomeVoicemail: true,
	models.OutcomeNoAnswer:  true,
	models.OutcomeBadNumber: true,
	models.OutcomeDoNotCall: true,
}

// CallDecision is the pure part of logging a call: whether a follow-up task
// is owed and whether the plaintiff's contact history advances.
type CallDecision struct {
	ContactMade    bool
	CreateFollowUp bool
}

// DecideCallOutcome validates an outcome and decides its consequences.
// Terminal outcomes suppress follow-up regardless of followUpAt; any other
// outcome owes exactly one follow-up task when followUpAt is set.
func DecideCallOutcome(outcome string, followUpAt *time.Time) (CallDecision, error) {
	if !validOutcomes[outcome] {
		return CallDecision{}, models.ErrInvalidOutcome
	}
	if models.TerminalOutcome(outcome) {
		return CallDecision{}, nil
	}
	return CallDecision{
		ContactMade:    outcome == models.OutcomeReached,
		CreateFollowUp: followUpAt != nil,
	}, nil
}

// CallOutcomeResult is the operation's reply.
type CallOutcomeResult struct {
	Status          string  `json:"status"`
	FollowUpCreated bool    `json:"follow_up_created"`
	FollowUpTaskID  *string `json:"follow_up_task_id,omitempty"`
}

// LogCallOutcome records a call against a task: the attempt is written, the
// task closes, and at most one follow-up call task is created.
func (e *Engine) LogCallOutcome(ctx context.Context, plaintiffID, taskID, outcome, interestLevel, notes string, followUpAt *time.Time) (CallOutcomeResult, error) {
	decision, err := DecideCallOutcome(outcome, followUpAt)
	if err != nil {
		return CallOutcomeResult{}, err
	}

	_, followUp, err := e.store.LogCall(ctx, store.CallLogParams{
		PlaintiffID:    plaintiffID,
		TaskID:         taskID,
		Outcome:        outcome,
		InterestLevel:  interestLevel,
		Notes:          notes,
		FollowUpAt:     followUpAt,
		ContactMade:    decision.ContactMade,
		CreateFollowUp: decision.CreateFollowUp,
	})
	if err != nil {
		return CallOutcomeResult{}, err
	}

	telemetry.CallsLogged.WithLabelValues(outcome).Inc()
	res := CallOutcomeResult{Status: "logged"}
	if followUp != nil {
		res.FollowUpCreated = true
		res.FollowUpTaskID = &followUp.ID
	}
	return res, nil
}
