package care

import (
	"strings"
	"testing"
	"time"

	"github.com/trimwell/portal/internal/patient/domain"
)

func TestDeriveActiveIndexAlwaysInRange(t *testing.T) {
	engine := NewProtocolEngine()

	records := []*domain.PatientRecord{
		testPatient(domain.StatusActionRequired, 1),
		withPsych(testPatient(domain.StatusLabsOrdered, 1)),
		withPsych(testPatient(domain.StatusOngoingTreatment, 3)),
		withPsych(testPatient(domain.StatusMonitoringLoop, 2)),
		{Status: domain.StatusAwaitingShipment, CurrentCycle: 1},
		{},
	}

	for i, rec := range records {
		d := engine.Derive(rec)
		if len(d.Steps) == 0 {
			t.Fatalf("record %d: empty step sequence", i)
		}
		if d.ActiveIndex < 0 || d.ActiveIndex >= len(d.Steps) {
			t.Errorf("record %d: active index %d out of range [0,%d)",
				i, d.ActiveIndex, len(d.Steps))
		}
	}
}

func TestDeriveCompletedLabsEmptyConsult(t *testing.T) {
	// AwaitingShipment matches no rendered step without a prescription, so
	// selection falls through to the sub-state data: labs are terminal,
	// consultation untouched, active step must be the clinical stage.
	rec := withPsych(testPatient(domain.StatusAwaitingShipment, 1))
	rec.Tracking = map[domain.Section]*domain.SectionState{
		domain.SectionLabs: {Status: domain.SubStatusCompleted},
	}

	d := NewProtocolEngine().Derive(rec)
	active := d.Steps[d.ActiveIndex]
	if active.Stage != StageClinical {
		t.Errorf("expected clinical stage active, got %q (index %d)",
			active.Stage, d.ActiveIndex)
	}
	if active.Cycle != 1 {
		t.Errorf("expected cycle 1, got %d", active.Cycle)
	}
}

func TestDeriveStatusMatchTakesPrecedence(t *testing.T) {
	rec := withPsych(testPatient(domain.StatusReadyForConsult, 1))
	// Non-terminal labs data must not override an explicit status match.
	rec.Tracking = map[domain.Section]*domain.SectionState{
		domain.SectionLabs: {Status: domain.SubStatusOngoing},
	}

	d := NewProtocolEngine().Derive(rec)
	if got := d.Steps[d.ActiveIndex].Stage; got != StageClinical {
		t.Errorf("expected clinical stage from status match, got %q", got)
	}
}

func TestPharmacyStepRequiresPrescription(t *testing.T) {
	rec := withPsych(testPatient(domain.StatusReadyForConsult, 1))
	for _, step := range StepSequence(rec) {
		if step.Stage == StagePharmacy {
			t.Fatal("pharmacy step must be omitted without a prescription")
		}
	}

	rec.Clinic.Prescription = &domain.Prescription{Name: "Semaglutide 0.25mg"}
	found := false
	for _, step := range StepSequence(rec) {
		if step.Stage == StagePharmacy {
			found = true
		}
	}
	if !found {
		t.Error("pharmacy step must appear once a prescription exists")
	}
}

func TestIntakeStepPresence(t *testing.T) {
	fresh := testPatient(domain.StatusActionRequired, 1)
	if StepSequence(fresh)[0].Stage != StageIntake {
		t.Error("new patients must start with the intake step")
	}

	done := withPsych(testPatient(domain.StatusLabsOrdered, 1))
	for _, step := range StepSequence(done) {
		if step.Stage == StageIntake {
			t.Error("completed intake must drop out of the sequence")
		}
	}

	later := withPsych(testPatient(domain.StatusLabsOrdered, 2))
	for _, step := range StepSequence(later) {
		if step.Stage == StageIntake {
			t.Error("intake never appears past the first cycle")
		}
	}
}

func TestCycleQualifiedLabels(t *testing.T) {
	rec := withPsych(testPatient(domain.StatusLabsOrdered, 2))
	var sawCycleTwo bool
	for _, step := range StepSequence(rec) {
		if step.Cycle == 2 && step.Stage == StageMetabolic {
			sawCycleTwo = true
			if !strings.Contains(step.Label, "Cycle 2") {
				t.Errorf("cycle 2 step label must be qualified, got %q", step.Label)
			}
		}
		if step.Cycle == 1 && strings.Contains(step.Label, "Cycle 1") {
			t.Errorf("first cycle labels stay unqualified, got %q", step.Label)
		}
	}
	if !sawCycleTwo {
		t.Fatal("expected a cycle 2 metabolic step")
	}
}

func TestStepIDsAreStableAcrossDerivations(t *testing.T) {
	rec := withPsych(testPatient(domain.StatusLabsOrdered, 1))
	first := StepSequence(rec)
	second := StepSequence(rec)
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("step %d id changed between derivations: %q vs %q",
				i, first[i].ID, second[i].ID)
		}
	}
}

func TestHeuristicFallbackOverHistory(t *testing.T) {
	// No structured sub-state and a status that matches no rendered step:
	// the history text decides.
	rec := &domain.PatientRecord{
		Status:       domain.StatusAwaitingShipment,
		CurrentCycle: 1,
		Psych:        map[string]any{"phq9": 2},
		PatientHistory: []domain.TimelineEvent{
			{Title: "Blood work ordered", Type: domain.EventTypeLabs, Date: time.Now()},
		},
	}

	d := NewProtocolEngine().Derive(rec)
	if got := d.Steps[d.ActiveIndex].Stage; got != StageMetabolic {
		t.Errorf("expected metabolic stage from history heuristic, got %q", got)
	}
}

func TestActionCompletionIsMonotonic(t *testing.T) {
	rec := withPsych(testPatient(domain.StatusOngoingTreatment, 1))
	rec.Tracking = map[domain.Section]*domain.SectionState{
		domain.SectionShipment: {Status: domain.ShipmentDelivered},
	}

	d := NewProtocolEngine().Derive(rec)
	for _, step := range d.Steps {
		if step.Stage != StagePharmacy {
			continue
		}
		for _, action := range step.Actions {
			if !action.Completed {
				t.Errorf("action %q must stay completed once surpassed", action.ID)
			}
		}
		return
	}
	t.Fatal("expected a pharmacy step for a delivered shipment")
}

func TestPendingUntouchedStepsHideActions(t *testing.T) {
	rec := testPatient(domain.StatusActionRequired, 1)

	d := NewProtocolEngine().Derive(rec)
	for i, step := range d.Steps {
		if step.State != StepPending {
			continue
		}
		if len(step.Actions) != 0 {
			t.Errorf("pending untouched step %d (%s) must hide its actions", i, step.Stage)
		}
	}
}
