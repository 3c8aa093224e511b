package enforce

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"enforcement-engine/internal/models"
)

// ClassifyTier buckets a judgment by amount and age. A nil judgment date
// leaves the age undefined, which fails every age condition.
//
//	A: amount >= 3000 and age <= 365 days
//	B: 1000 <= amount <= 2999, or 366 <= age <= 1095 days
//	C: everything else
func ClassifyTier(amount float64, judgmentDate *time.Time, now time.Time) string {
	ageKnown := judgmentDate != nil
	var ageDays int
	if ageKnown {
		ageDays = int(now.Sub(*judgmentDate).Hours() / 24)
	}

	if amount >= 3000 && ageKnown && ageDays <= 365 {
		return models.TierA
	}
	if amount >= 1000 && amount <= 2999 {
		return models.TierB
	}
	if ageKnown && ageDays >= 366 && ageDays <= 1095 {
		return models.TierB
	}
	return models.TierC
}

// RequestRescore enqueues an asynchronous rescoring job for a case. The
// idempotency key carries a random salt so repeated manual requests are
// distinct submissions rather than deduplicated against each other.
func (e *Engine) RequestRescore(ctx context.Context, caseID string, force bool, requestedBy string) (models.Job, error) {
	c, err := e.store.GetCase(ctx, caseID)
	if err != nil {
		return models.Job{}, err
	}
	if c.PlaintiffID == nil || *c.PlaintiffID == "" {
		return models.Job{}, models.ErrMissingPlaintiff
	}
	if requestedBy == "" {
		requestedBy = "system"
	}

	key := fmt.Sprintf("rescore:%s:%s", caseID, uuid.New().String())
	payload := map[string]any{
		"case_id":      caseID,
		"plaintiff_id": *c.PlaintiffID,
		"force":        force,
		"requested_by": requestedBy,
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	}
	job, _, err := e.EnqueueJob(ctx, models.KindCollectability, key, payload)
	return job, err
}

// Rescore recomputes and caches a case's tier. Fresh scores are kept unless
// force is set; freshness is bounded by maxAge.
func (e *Engine) Rescore(ctx context.Context, caseID string, force bool, maxAge time.Duration) (string, error) {
	c, err := e.store.GetCase(ctx, caseID)
	if err != nil {
		return "", err
	}
	if !force && c.LastScoredAt != nil && time.Since(*c.LastScoredAt) < maxAge {
		if c.Tier != nil {
			return *c.Tier, nil
		}
	}

	tier := ClassifyTier(c.JudgmentAmount, c.JudgmentDate, time.Now().UTC())
	if err := e.store.UpdateCaseTier(ctx, caseID, tier); err != nil {
		return "", err
	}
	return tier, nil
}
