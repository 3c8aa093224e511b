package enforce

import (
	"errors"
	"testing"
	"time"

	"enforcement-engine/internal/models"
)

func TestDecideCallOutcomeFollowUp(t *testing.T) {
	followUp := time.Now().Add(72 * time.Hour)

	d, err := DecideCallOutcome(models.OutcomeReached, &followUp)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.CreateFollowUp {
		t.Fatalf("reached with follow_up_at should create a follow-up task")
	}
	if !d.ContactMade {
		t.Fatalf("reached should count as contact")
	}

	d, err = DecideCallOutcome(models.OutcomeVoicemail, &followUp)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !d.CreateFollowUp || d.ContactMade {
		t.Fatalf("voicemail: follow-up owed but no contact, got %+v", d)
	}
}

func TestDecideCallOutcomeNoFollowUpWithoutDate(t *testing.T) {
	d, err := DecideCallOutcome(models.OutcomeReached, nil)
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if d.CreateFollowUp {
		t.Fatalf("no follow_up_at means no follow-up task")
	}
}

func TestDecideCallOutcomeTerminalSuppressesFollowUp(t *testing.T) {
	followUp := time.Now().Add(24 * time.Hour)
	for _, outcome := range []string{models.OutcomeDoNotCall, models.OutcomeBadNumber} {
		d, err := DecideCallOutcome(outcome, &followUp)
		if err != nil {
			t.Fatalf("%s: %v", outcome, err)
		}
		if d.CreateFollowUp || d.ContactMade {
			t.Fatalf("%s: terminal outcome must suppress follow-up, got %+v", outcome, d)
		}
	}
}

func TestDecideCallOutcomeRejectsUnknown(t *testing.T) {
	if _, err := DecideCallOutcome("ghosted", nil); !errors.Is(err, models.ErrInvalidOutcome) {
		t.Fatalf("expected ErrInvalidOutcome, got %v", err)
	}
}
