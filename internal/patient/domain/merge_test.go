package domain

import (
	"testing"
	"time"
)

func statusPtr(s Status) *Status { return &s }
func intPtr(i int) *int          { return &i }
func strPtr(s string) *string    { return &s }

func TestApplyShallowSectionMerge(t *testing.T) {
	rec := &PatientRecord{
		Status:       StatusAwaitingShipment,
		CurrentCycle: 1,
		Tracking: map[Section]*SectionState{
			SectionLabs:     {Status: SubStatusCompleted, Date: "2026-02-10"},
			SectionShipment: {Status: ShipmentAwaiting},
		},
	}

	err := rec.Apply(&PartialUpdate{
		Tracking: map[Section]*SectionState{
			SectionShipment: {Status: ShipmentShipped},
		},
	}, time.Now())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if got := rec.Tracking[SectionShipment].Status; got != ShipmentShipped {
		t.Errorf("expected shipment status %q, got %q", ShipmentShipped, got)
	}
	labs := rec.Tracking[SectionLabs]
	if labs == nil || labs.Status != SubStatusCompleted || labs.Date != "2026-02-10" {
		t.Errorf("sibling labs sub-state must survive untouched, got %+v", labs)
	}
}

func TestApplyClinicKeyOverlay(t *testing.T) {
	rec := &PatientRecord{Status: StatusConsultationScheduled, CurrentCycle: 1}

	if err := rec.Apply(&PartialUpdate{
		Clinic: &ClinicUpdate{Prescription: &Prescription{Name: "Semaglutide 0.25mg"}},
	}, time.Now()); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if rec.Clinic.Prescription == nil || rec.Clinic.Prescription.Name != "Semaglutide 0.25mg" {
		t.Errorf("expected prescription set, got %+v", rec.Clinic.Prescription)
	}

	// An empty clinic update must not clear the existing prescription.
	if err := rec.Apply(&PartialUpdate{Clinic: &ClinicUpdate{}}, time.Now()); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if rec.Clinic.Prescription == nil {
		t.Error("absent clinic keys must leave existing values untouched")
	}
}

func TestApplyFullReplacementFields(t *testing.T) {
	rec := &PatientRecord{
		Status:       StatusOngoingTreatment,
		CurrentCycle: 2,
		WeeklyLogs:   []WeeklyLog{{Week: "2026-W06", Weight: 92.4}},
		Vitals:       map[string]any{"height_cm": 178},
	}

	err := rec.Apply(&PartialUpdate{
		WeeklyLogs: []WeeklyLog{
			{Week: "2026-W06", Weight: 92.4},
			{Week: "2026-W07", Weight: 91.8},
		},
	}, time.Now())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if len(rec.WeeklyLogs) != 2 {
		t.Errorf("weekly logs must be fully replaced, got %d entries", len(rec.WeeklyLogs))
	}
	if rec.Vitals == nil {
		t.Error("absent sections must stay untouched")
	}
}

func TestApplyCycleMonotonicity(t *testing.T) {
	rec := &PatientRecord{Status: StatusOngoingTreatment, CurrentCycle: 3}

	if err := rec.Apply(&PartialUpdate{CurrentCycle: intPtr(2)}, time.Now()); err == nil {
		t.Fatal("expected decreasing cycle update to be rejected")
	}
	if rec.CurrentCycle != 3 {
		t.Errorf("rejected update must leave cycle unchanged, got %d", rec.CurrentCycle)
	}

	if err := rec.Apply(&PartialUpdate{CurrentCycle: intPtr(4)}, time.Now()); err != nil {
		t.Fatalf("increasing cycle update failed: %v", err)
	}
	if rec.CurrentCycle != 4 {
		t.Errorf("expected cycle 4, got %d", rec.CurrentCycle)
	}
}

func TestApplyResetLoop(t *testing.T) {
	rec := &PatientRecord{
		Status:       StatusMonitoringLoop,
		CurrentCycle: 1,
		Tracking: map[Section]*SectionState{
			SectionLabs:     {Status: SubStatusCompleted},
			SectionShipment: {Status: ShipmentDelivered},
		},
		CurrentLoop: map[Section]*SectionState{
			SectionConsultation: {Status: SubStatusCompleted},
		},
	}

	err := rec.Apply(&PartialUpdate{
		Status:       statusPtr(StatusLabsOrdered),
		CurrentCycle: intPtr(2),
		ResetLoop:    true,
	}, time.Now())
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if len(rec.Tracking) != 0 || len(rec.CurrentLoop) != 0 {
		t.Errorf("reset must clear both section maps, got tracking=%v loop=%v",
			rec.Tracking, rec.CurrentLoop)
	}
	if rec.Status != StatusLabsOrdered || rec.CurrentCycle != 2 {
		t.Errorf("expected Labs Ordered cycle 2, got %q cycle %d", rec.Status, rec.CurrentCycle)
	}
}

func TestModifiedSections(t *testing.T) {
	tests := []struct {
		name   string
		update PartialUpdate
		want   []string
	}{
		{
			"status only",
			PartialUpdate{Status: statusPtr(StatusReadyForConsult)},
			[]string{PersistProfile},
		},
		{
			"tracking and clinic",
			PartialUpdate{
				Tracking: map[Section]*SectionState{SectionLabs: {Status: SubStatusBooked}},
				Clinic:   &ClinicUpdate{Prescription: &Prescription{Name: "Tirzepatide"}},
			},
			[]string{PersistTracking, PersistClinic},
		},
		{
			"contact fields",
			PartialUpdate{Phone: strPtr("+4791112233")},
			[]string{PersistProfile},
		},
		{
			"empty",
			PartialUpdate{},
			nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.update.Modified()
			if len(got) != len(tt.want) {
				t.Fatalf("Modified() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Modified()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}
