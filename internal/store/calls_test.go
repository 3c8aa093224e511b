package store

import (
	"errors"
	"testing"

	"enforcement-engine/internal/models"
)

func TestValidateCallTask(t *testing.T) {
	base := models.EnforcementTask{
		ID:          "t1",
		CaseID:      "c1",
		PlaintiffID: "p1",
		TaskCode:    "phone_attempt",
		Kind:        "call",
		Status:      models.TaskStatusOpen,
	}

	if err := validateCallTask(base, "p1"); err != nil {
		t.Fatalf("open task, owning plaintiff: %v", err)
	}

	inProgress := base
	inProgress.Status = models.TaskStatusInProgress
	if err := validateCallTask(inProgress, "p1"); err != nil {
		t.Fatalf("in-progress task, owning plaintiff: %v", err)
	}

	if err := validateCallTask(base, "p2"); !errors.Is(err, models.ErrTaskNotFound) {
		t.Fatalf("foreign plaintiff: expected ErrTaskNotFound, got %v", err)
	}

	// A task already closed must not be re-closed or spawn a follow-up.
	closed := base
	closed.Status = models.TaskStatusClosed
	if err := validateCallTask(closed, "p1"); !errors.Is(err, models.ErrTaskNotFound) {
		t.Fatalf("closed task: expected ErrTaskNotFound, got %v", err)
	}
}
