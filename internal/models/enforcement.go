package models

import (
	"time"
)

// Enforcement stages form the allow-list for the stage state machine.
const (
	StagePreEnforcement   = "pre_enforcement"
	StagePaperworkFiled   = "paperwork_filed"
	StageLevyIssued       = "levy_issued"
	StagePaymentPlan      = "payment_plan"
	StageWaitingPayment   = "waiting_payment"
	StageCollected        = "collected"
	StageClosedNoRecovery = "closed_no_recovery"
)

// Task lifecycle states. A task counts as active while open or in_progress;
// the task-dedupe constraint only applies to active rows.
const (
	TaskStatusOpen       = "open"
	TaskStatusInProgress = "in_progress"
	TaskStatusClosed     = "closed"
)

// Task severity levels.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Priority levels on a judgment, in urgency order. Lower rank sorts first
// in the pipeline view.
const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
	PriorityOnHold = "on_hold"
)

// Collectability tiers. UNSCORED is the pipeline bucket for cases the
// scorer has not touched yet, never a stored value.
const (
	TierA        = "A"
	TierB        = "B"
	TierC        = "C"
	TierUnscored = "UNSCORED"
)

// EnforcementCase tracks a judgment through collections. Rows are never
// hard-deleted; closing sets status.
type EnforcementCase struct {
	ID             string     `json:"id"`
	JudgmentID     string     `json:"judgment_id"`
	PlaintiffID    *string    `json:"plaintiff_id,omitempty"`
	CurrentStage   string     `json:"current_stage"`
	Status         string     `json:"status"`
	PriorityLevel  string     `json:"priority_level"`
	JudgmentAmount float64    `json:"judgment_amount"`
	JudgmentDate   *time.Time `json:"judgment_date,omitempty"`
	Tier           *string    `json:"collectability_tier,omitempty"`
	LastScoredAt   *time.Time `json:"last_scored_at,omitempty"`
	StageUpdatedAt time.Time  `json:"stage_updated_at"`
	CreatedAt      time.Time  `json:"created_at"`
}

// EnforcementTask is one scheduled collection action. At most one row per
// (case_id, task_code) may be active at a time.
type EnforcementTask struct {
	ID          string         `json:"id"`
	CaseID      string         `json:"case_id"`
	PlaintiffID string         `json:"plaintiff_id"`
	TaskCode    string         `json:"task_code"`
	Kind        string         `json:"kind"`
	Severity    string         `json:"severity"`
	Status      string         `json:"status"`
	DueAt       *time.Time     `json:"due_at,omitempty"`
	Note        string         `json:"note"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// StageHistoryEntry is the append-only audit record of stage transitions.
type StageHistoryEntry struct {
	JudgmentID string    `json:"judgment_id"`
	Stage      string    `json:"stage"`
	Note       string    `json:"note"`
	ChangedAt  time.Time `json:"changed_at"`
	ChangedBy  string    `json:"changed_by"`
}

// Call outcomes. Terminal outcomes suppress follow-up task creation.
const (
	OutcomeReached   = "reached"
	OutcomeVoicemail = "voicemail"
	OutcomeNoAnswer  = "no_answer"
	OutcomeBadNumber = "bad_number"
	OutcomeDoNotCall = "do_not_call"
)

// TerminalOutcome reports whether outcome ends the calling relationship.
func TerminalOutcome(outcome string) bool {
	return outcome == OutcomeBadNumber || outcome == OutcomeDoNotCall
}

// CallAttempt records one logged call. Immutable once written.
type CallAttempt struct {
	ID            string     `json:"id"`
	PlaintiffID   string     `json:"plaintiff_id"`
	TaskID        string     `json:"task_id"`
	Outcome       string     `json:"outcome"`
	InterestLevel string     `json:"interest_level,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	FollowUpAt    *time.Time `json:"follow_up_at,omitempty"`
	AttemptedAt   time.Time  `json:"attempted_at"`
}

// PipelineRow is one judgment in the tier-ranked pipeline view.
type PipelineRow struct {
	CaseID         string     `json:"case_id"`
	JudgmentID     string     `json:"judgment_id"`
	Tier           string     `json:"tier"`
	TierRank       int        `json:"tier_rank"`
	PriorityLevel  string     `json:"priority_level"`
	JudgmentAmount float64    `json:"judgment_amount"`
	CurrentStage   string     `json:"current_stage"`
	JudgmentDate   *time.Time `json:"judgment_date,omitempty"`
}

// CallQueueEntry is one plaintiff's single active call task plus contact
// recency, as surfaced to operators.
type CallQueueEntry struct {
	PlaintiffID      string     `json:"plaintiff_id"`
	PlaintiffName    string     `json:"plaintiff_name"`
	TaskID           string     `json:"task_id"`
	CaseID           string     `json:"case_id"`
	TaskCode         string     `json:"task_code"`
	DueAt            *time.Time `json:"due_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	LastContactAt    *time.Time `json:"last_contact_at,omitempty"`
	DaysSinceContact *int       `json:"days_since_contact,omitempty"`
}

// PipelineSnapshot aggregates the live pipeline for dashboards and the
// periodic archiver.
type PipelineSnapshot struct {
	TakenAt         time.Time      `json:"taken_at"`
	CasesByStage    map[string]int `json:"cases_by_stage"`
	CasesByTier     map[string]int `json:"cases_by_tier"`
	OpenTasksByCode map[string]int `json:"open_tasks_by_code"`
	QueueDepth      int64          `json:"queue_depth"`
	InFlight        int64          `json:"in_flight"`
}
