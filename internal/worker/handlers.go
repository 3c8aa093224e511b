package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"enforcement-engine/internal/enforce"
	"enforcement-engine/internal/models"
)

// scoreFreshness bounds how long a cached tier is trusted before a
// non-forced rescore recomputes it.
const scoreFreshness = time.Hour

// NewCollectabilityHandler consumes collectability jobs: it recomputes the
// case's tier and caches it on the case row. Dead-ends (case gone, no
// plaintiff) are swallowed so the job is not retried pointlessly.
func NewCollectabilityHandler(eng *enforce.Engine) Handler {
	return func(ctx context.Context, job models.Job) error {
		caseID, _ := job.Payload["case_id"].(string)
		if caseID == "" {
			log.Printf("collectability job %s missing case_id, dropping", job.ID)
			return nil
		}
		force, _ := job.Payload["force"].(bool)

		tier, err := eng.Rescore(ctx, caseID, force, scoreFreshness)
		if errors.Is(err, models.ErrCaseNotFound) {
			log.Printf("collectability job %s: case %s gone, dropping", job.ID, caseID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("rescore case %s: %w", caseID, err)
		}
		log.Printf("case %s scored tier %s", caseID, tier)
		return nil
	}
}

// NewEnforceHandler consumes enforce jobs: it expands the task catalog for
// the case named in the payload. Generation is idempotent via the
// active-task dedupe constraint, so redelivery is harmless.
func NewEnforceHandler(eng *enforce.Engine) Handler {
	return func(ctx context.Context, job models.Job) error {
		caseID, _ := job.Payload["case_id"].(string)
		if caseID == "" {
			log.Printf("enforce job %s missing case_id, dropping", job.ID)
			return nil
		}

		created, err := eng.GenerateTasks(ctx, caseID)
		if errors.Is(err, models.ErrCaseNotFound) || errors.Is(err, models.ErrMissingPlaintiff) {
			log.Printf("enforce job %s: case %s not schedulable (%v), dropping", job.ID, caseID, err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("generate tasks for case %s: %w", caseID, err)
		}
		log.Printf("case %s: %d tasks generated", caseID, len(created))
		return nil
	}
}

// RegisterDefaultHandlers wires the kinds this worker owns. The remaining
// kinds (enrich, outreach, case_copilot) are drained by external consumers
// through the dequeue API.
func RegisterDefaultHandlers(p *Processor, eng *enforce.Engine) {
	p.RegisterHandler(models.KindCollectability, NewCollectabilityHandler(eng))
	p.RegisterHandler(models.KindEnforce, NewEnforceHandler(eng))
}
