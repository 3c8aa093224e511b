package enforce

import (
	"context"
	"time"

	"enforcement-engine/internal/models"
	"enforcement-engine/internal/store"
	"enforcement-engine/internal/telemetry"
)

// TaskTemplate is one entry in the static task catalog.
type TaskTemplate struct {
	TaskCode       string
	Kind           string
	Severity       string
	DueOffsetDays  int
	Note           string
	RecurrenceDays int // 0 means non-recurring
	Category       string
}

// taskCatalog is the fixed rule set expanded for every case entering
// enforcement. Loaded once; never mutated at runtime.
var taskCatalog = []TaskTemplate{
	{TaskCode: "phone_attempt", Kind: "call", Severity: models.SeverityMedium, DueOffsetDays: 0, Note: "initial phone attempt", Category: "outreach"},
	{TaskCode: "phone_followup", Kind: "call", Severity: models.SeverityMedium, DueOffsetDays: 7, Note: "phone follow-up", Category: "outreach"},
	{TaskCode: "mailer", Kind: "mail", Severity: models.SeverityLow, DueOffsetDays: 7, Note: "send mailer", Category: "outreach"},
	{TaskCode: "demand_letter", Kind: "mail", Severity: models.SeverityHigh, DueOffsetDays: 14, Note: "send demand letter", Category: "legal"},
	{TaskCode: "wage_garnishment_prep", Kind: "legal", Severity: models.SeverityHigh, DueOffsetDays: 14, Note: "prepare wage garnishment", Category: "legal"},
	{TaskCode: "bank_levy_prep", Kind: "legal", Severity: models.SeverityHigh, DueOffsetDays: 14, Note: "prepare bank levy", Category: "legal"},
	{TaskCode: "skiptrace_refresh", Kind: "data", Severity: models.SeverityMedium, DueOffsetDays: 30, Note: "refresh skiptrace data", RecurrenceDays: 30, Category: "data"},
}

// Catalog returns the task template catalog.
func Catalog() []TaskTemplate {
	out := make([]TaskTemplate, len(taskCatalog))
	copy(out, taskCatalog)
	return out
}

// PlanTasks expands the catalog into drafts for one case, skipping any
// template whose task code is already active. The skip is advisory; the
// store's dedupe index is what makes generation race-safe.
func PlanTasks(templates []TaskTemplate, activeCodes []string, now time.Time) []store.TaskDraft {
	active := make(map[string]bool, len(activeCodes))
	for _, code := range activeCodes {
		active[code] = true
	}

	drafts := make([]store.TaskDraft, 0, len(templates))
	for _, t := range templates {
		if active[t.TaskCode] {
			continue
		}
		meta := map[string]any{"category": t.Category}
		if t.RecurrenceDays > 0 {
			meta["recurrence_days"] = t.RecurrenceDays
		}
		drafts = append(drafts, store.TaskDraft{
			TaskCode:  t.TaskCode,
			Kind:      t.Kind,
			Severity:  t.Severity,
			DueAt:     now.AddDate(0, 0, t.DueOffsetDays),
			Note:      t.Note,
			Metadata:  meta,
			CreatedBy: "rule_engine",
		})
	}
	return drafts
}

// GenerateTasks materializes the catalog for a case, returning only the
// tasks actually created. Templates whose code already has an active task
// come back empty, so immediate re-invocation creates nothing.
func (e *Engine) GenerateTasks(ctx context.Context, caseID string) ([]models.EnforcementTask, error) {
	c, err := e.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if c.PlaintiffID == nil || *c.PlaintiffID == "" {
		return nil, models.ErrMissingPlaintiff
	}

	activeCodes, err := e.store.ActiveTaskCodes(ctx, caseID)
	if err != nil {
		return nil, err
	}

	drafts := PlanTasks(taskCatalog, activeCodes, time.Now().UTC())
	if len(drafts) == 0 {
		return nil, nil
	}

	created, err := e.store.InsertTasks(ctx, caseID, *c.PlaintiffID, drafts)
	if err != nil {
		return nil, err
	}
	telemetry.TasksGenerated.Add(float64(len(created)))
	return created, nil
}
