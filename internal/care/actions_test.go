package care

import (
	"context"
	"testing"

	"github.com/trimwell/portal/internal/patient/domain"
)

func labsCompletedAction() StepAction {
	return StepAction{
		ID:           "labs-completed",
		Label:        "Mark labs completed",
		Target:       TargetLabs,
		TargetStatus: domain.SubStatusCompleted,
	}
}

func TestApplyActionIsIdempotent(t *testing.T) {
	h := newHarness()
	rec := h.addPatient(withPsych(testPatient(domain.StatusAwaitingLabResults, 1)))

	first, err := h.handler.Apply(context.Background(), rec.ID, labsCompletedAction(), "Dr. Moen")
	if err != nil {
		t.Fatalf("first apply failed: %v", err)
	}
	after := len(first.History())

	second, err := h.handler.Apply(context.Background(), rec.ID, labsCompletedAction(), "Dr. Moen")
	if err != nil {
		t.Fatalf("second apply failed: %v", err)
	}

	if got := len(second.History()); got != after {
		t.Errorf("re-applying the same action must not duplicate history: %d -> %d",
			after, got)
	}
}

func TestApplyActionWritesBothSectionMaps(t *testing.T) {
	h := newHarness()
	rec := withPsych(testPatient(domain.StatusAwaitingLabResults, 1))
	rec.Tracking = map[domain.Section]*domain.SectionState{
		domain.SectionLabs: {Status: domain.SubStatusOngoing, Date: "2026-02-12"},
	}
	h.addPatient(rec)

	updated, err := h.handler.Apply(context.Background(), rec.ID, labsCompletedAction(), "Dr. Moen")
	if err != nil {
		t.Fatal(err)
	}

	if got := updated.Tracking[domain.SectionLabs].Status; got != domain.SubStatusCompleted {
		t.Errorf("tracking not updated, got %q", got)
	}
	if got := updated.CurrentLoop[domain.SectionLabs].Status; got != domain.SubStatusCompleted {
		t.Errorf("current_loop not updated, got %q", got)
	}
	if got := updated.Tracking[domain.SectionLabs].Date; got != "2026-02-12" {
		t.Errorf("booking date must survive the transition, got %q", got)
	}
}

func TestLabsCompletedDerivesConsultStatus(t *testing.T) {
	t.Run("without consult date", func(t *testing.T) {
		h := newHarness()
		rec := h.addPatient(withPsych(testPatient(domain.StatusAwaitingLabResults, 1)))

		updated, err := h.handler.Apply(context.Background(), rec.ID, labsCompletedAction(), "Dr. Moen")
		if err != nil {
			t.Fatal(err)
		}
		if updated.Status != domain.StatusReadyForConsult {
			t.Errorf("expected Ready for Consult, got %q", updated.Status)
		}
	})

	t.Run("with consult date", func(t *testing.T) {
		h := newHarness()
		rec := withPsych(testPatient(domain.StatusAwaitingLabResults, 1))
		rec.Tracking = map[domain.Section]*domain.SectionState{
			domain.SectionConsultation: {Status: domain.SubStatusBooked, Date: "2026-03-10"},
		}
		h.addPatient(rec)

		updated, err := h.handler.Apply(context.Background(), rec.ID, labsCompletedAction(), "Dr. Moen")
		if err != nil {
			t.Fatal(err)
		}
		if updated.Status != domain.StatusConsultationScheduled {
			t.Errorf("expected Consultation Scheduled, got %q", updated.Status)
		}
	})
}

func TestConsultationCompletedAwaitsShipment(t *testing.T) {
	h := newHarness()
	rec := h.addPatient(withPsych(testPatient(domain.StatusConsultationScheduled, 1)))

	updated, err := h.handler.Apply(context.Background(), rec.ID, StepAction{
		ID:           "consultation-completed",
		Label:        "Mark consultation completed",
		Target:       TargetConsultation,
		TargetStatus: domain.SubStatusCompleted,
	}, "Dr. Moen")
	if err != nil {
		t.Fatal(err)
	}

	if updated.Status != domain.StatusAwaitingShipment {
		t.Errorf("expected Awaiting Shipment, got %q", updated.Status)
	}
}

func TestShipmentTransitionsToOngoingTreatment(t *testing.T) {
	for _, target := range []string{domain.ShipmentShipped, domain.ShipmentDelivered} {
		h := newHarness()
		rec := withPsych(testPatient(domain.StatusAwaitingShipment, 1))
		rec.Tracking = map[domain.Section]*domain.SectionState{
			domain.SectionShipment: {Status: domain.ShipmentAwaiting},
		}
		h.addPatient(rec)

		updated, err := h.handler.Apply(context.Background(), rec.ID, StepAction{
			ID:           "shipment-update",
			Label:        "Update shipment",
			Target:       TargetShipment,
			TargetStatus: target,
		}, "coordinator")
		if err != nil {
			t.Fatalf("%s: %v", target, err)
		}
		if updated.Status != domain.StatusOngoingTreatment {
			t.Errorf("%s: expected Ongoing Treatment, got %q", target, updated.Status)
		}
	}
}

func TestProfileActionAlwaysEmitsEvent(t *testing.T) {
	h := newHarness()
	rec := h.addPatient(testPatient(domain.StatusActionRequired, 1))
	before := len(rec.History())

	action := StepAction{
		ID:           "intake-reviewed",
		Label:        "Mark intake reviewed",
		Target:       TargetProfile,
		TargetStatus: string(domain.StatusAssessmentReview),
	}

	if _, err := h.handler.Apply(context.Background(), rec.ID, action, "Dr. Moen"); err != nil {
		t.Fatal(err)
	}
	updated, err := h.handler.Apply(context.Background(), rec.ID, action, "Dr. Moen")
	if err != nil {
		t.Fatal(err)
	}

	if got := len(updated.History()); got != before+2 {
		t.Errorf("profile actions always log, expected %d events, got %d", before+2, got)
	}
	if updated.Status != domain.StatusAssessmentReview {
		t.Errorf("expected Assessment Review, got %q", updated.Status)
	}
}

func TestStartNewCycle(t *testing.T) {
	h := newHarness()
	rec := withPsych(testPatient(domain.StatusMonitoringLoop, 1))
	rec.Tracking = map[domain.Section]*domain.SectionState{
		domain.SectionLabs:     {Status: domain.SubStatusCompleted},
		domain.SectionShipment: {Status: domain.ShipmentDelivered},
	}
	h.addPatient(rec)
	protocolEvents := countEvents(rec, domain.EventTypeProtocol)

	updated, err := h.handler.StartNewCycle(context.Background(), rec.ID, "Dr. Moen")
	if err != nil {
		t.Fatal(err)
	}

	if updated.CurrentCycle != 2 {
		t.Errorf("expected cycle 2, got %d", updated.CurrentCycle)
	}
	if updated.Status != domain.StatusLabsOrdered {
		t.Errorf("expected Labs Ordered, got %q", updated.Status)
	}
	if got := countEvents(updated, domain.EventTypeProtocol); got != protocolEvents+1 {
		t.Errorf("expected exactly one new Protocol event, got %d new", got-protocolEvents)
	}
	if got := updated.Tracking[domain.SectionLabs].Status; got != domain.SubStatusBooked {
		t.Errorf("labs must reset to booked, got %q", got)
	}
	if got := updated.Tracking[domain.SectionShipment].Status; got != domain.ShipmentAwaiting {
		t.Errorf("shipment must reset to awaiting, got %q", got)
	}
	if len(updated.CurrentLoop) != 0 {
		t.Errorf("current_loop must reset for the new cycle, got %v", updated.CurrentLoop)
	}
}

func TestApplyActionRejectsBadTargets(t *testing.T) {
	h := newHarness()
	rec := h.addPatient(testPatient(domain.StatusLabsOrdered, 1))

	tests := []StepAction{
		{ID: "bad-status", Target: TargetLabs, TargetStatus: "finished"},
		{ID: "bad-profile", Target: TargetProfile, TargetStatus: "Graduated"},
		{ID: "bad-target", Target: "billing", TargetStatus: "done"},
	}
	for _, action := range tests {
		if _, err := h.handler.Apply(context.Background(), rec.ID, action, "x"); err == nil {
			t.Errorf("action %q must be rejected", action.ID)
		}
	}
}

func countEvents(rec *domain.PatientRecord, t domain.EventType) int {
	n := 0
	for _, event := range rec.History() {
		if event.Type == t {
			n++
		}
	}
	return n
}
