package domain

import (
	"testing"
	"time"

	"github.com/trimwell/portal/internal/shared/types"
)

func TestNewPatientRecord(t *testing.T) {
	rec, err := NewPatientRecord("Mira", "Olsen", "mira@example.com")
	if err != nil {
		t.Fatalf("NewPatientRecord failed: %v", err)
	}

	if rec.Status != StatusActionRequired {
		t.Errorf("expected status %q, got %q", StatusActionRequired, rec.Status)
	}
	if rec.CurrentCycle != 1 {
		t.Errorf("expected cycle 1, got %d", rec.CurrentCycle)
	}
	if rec.ID.IsZero() {
		t.Error("expected a generated patient id")
	}
	if len(rec.PatientHistory) != 1 {
		t.Fatalf("expected seeded welcome event, got %d events", len(rec.PatientHistory))
	}
	if rec.PatientHistory[0].Type != EventTypeNote {
		t.Errorf("expected welcome event type Note, got %q", rec.PatientHistory[0].Type)
	}
	if rec.HistoryLog() != "patient_history" {
		t.Errorf("new records must write to patient_history, got %q", rec.HistoryLog())
	}
}

func TestNewPatientRecordValidation(t *testing.T) {
	tests := []struct {
		name      string
		firstName string
		lastName  string
		email     string
	}{
		{"missing first name", "", "Olsen", "mira@example.com"},
		{"missing last name", "Mira", "", "mira@example.com"},
		{"missing email", "Mira", "Olsen", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPatientRecord(tt.firstName, tt.lastName, tt.email); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		input   string
		want    Status
		wantErr bool
	}{
		{"Labs Ordered", StatusLabsOrdered, false},
		{"labs ordered", StatusLabsOrdered, false},
		{"ONGOING TREATMENT", StatusOngoingTreatment, false},
		{"Monitoring Loop", StatusMonitoringLoop, false},
		{"Completed", "", true},
		{"", "", true},
		{"labs", "", true},
	}

	for _, tt := range tests {
		got, err := ParseStatus(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseStatus(%q): expected error, got %q", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseStatus(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStatus(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestAppendEventWritesExactlyOneLog(t *testing.T) {
	t.Run("patient history preferred", func(t *testing.T) {
		rec, err := NewPatientRecord("Mira", "Olsen", "mira@example.com")
		if err != nil {
			t.Fatal(err)
		}
		before := len(rec.PatientHistory)

		rec.AppendEvent(TimelineEvent{
			ID:    types.NewID(),
			Date:  time.Now(),
			Title: "Labs ordered",
			Type:  EventTypeLabs,
		})

		if len(rec.PatientHistory) != before+1 {
			t.Errorf("expected %d history events, got %d", before+1, len(rec.PatientHistory))
		}
		if len(rec.Timeline) != 0 {
			t.Errorf("legacy timeline must stay untouched, got %d events", len(rec.Timeline))
		}
		if rec.PatientHistory[0].Title != "Labs ordered" {
			t.Errorf("expected newest event first, got %q", rec.PatientHistory[0].Title)
		}
	})

	t.Run("legacy timeline fallback", func(t *testing.T) {
		rec := &PatientRecord{
			ID:       types.NewID(),
			Status:   StatusOngoingTreatment,
			Timeline: []TimelineEvent{{Title: "Imported entry", Type: EventTypeNote}},
		}

		rec.AppendEvent(TimelineEvent{Title: "Shipment delivered", Type: EventTypeShipment})

		if rec.PatientHistory != nil {
			t.Error("legacy records must not grow a patient_history log")
		}
		if len(rec.Timeline) != 2 {
			t.Fatalf("expected 2 timeline events, got %d", len(rec.Timeline))
		}
		if rec.Timeline[0].Title != "Shipment delivered" {
			t.Errorf("expected newest event first, got %q", rec.Timeline[0].Title)
		}
		if rec.Timeline[1].Title != "Imported entry" {
			t.Errorf("existing entries must be preserved, got %q", rec.Timeline[1].Title)
		}
	})
}

func TestHistoryPrefersPatientHistory(t *testing.T) {
	rec := &PatientRecord{
		Timeline:       []TimelineEvent{{Title: "legacy"}},
		PatientHistory: []TimelineEvent{{Title: "canonical"}},
	}
	events := rec.History()
	if len(events) != 1 || events[0].Title != "canonical" {
		t.Errorf("History must prefer patient_history, got %+v", events)
	}
}

func TestCurrentSectionPrefersCurrentLoop(t *testing.T) {
	rec := &PatientRecord{
		Tracking: map[Section]*SectionState{
			SectionLabs: {Status: SubStatusCompleted},
		},
		CurrentLoop: map[Section]*SectionState{
			SectionLabs: {Status: SubStatusBooked},
		},
	}

	if got := rec.CurrentSection(SectionLabs); got == nil || got.Status != SubStatusBooked {
		t.Errorf("expected current_loop sub-state, got %+v", got)
	}

	// An empty current_loop entry must not shadow tracking data.
	rec.CurrentLoop[SectionLabs] = &SectionState{}
	if got := rec.CurrentSection(SectionLabs); got == nil || got.Status != SubStatusCompleted {
		t.Errorf("expected tracking fallback, got %+v", got)
	}
}

func TestHasPrescription(t *testing.T) {
	base := func() *PatientRecord { return &PatientRecord{Status: StatusOngoingTreatment} }

	if base().HasPrescription() {
		t.Error("empty record must not report a prescription")
	}

	withClinic := base()
	withClinic.Clinic.Prescription = &Prescription{Name: "Semaglutide 0.5mg"}
	if !withClinic.HasPrescription() {
		t.Error("clinic prescription must count")
	}

	withShipment := base()
	withShipment.Tracking = map[Section]*SectionState{
		SectionShipment: {Status: ShipmentAwaiting},
	}
	if !withShipment.HasPrescription() {
		t.Error("shipment sub-state must count as prescription evidence")
	}

	withLoop := base()
	withLoop.CurrentLoop = map[Section]*SectionState{
		SectionShipment: {Date: "2026-03-01"},
	}
	if !withLoop.HasPrescription() {
		t.Error("current_loop shipment sub-state must count")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	rec, err := NewPatientRecord("Mira", "Olsen", "mira@example.com")
	if err != nil {
		t.Fatal(err)
	}
	rec.Tracking = map[Section]*SectionState{
		SectionLabs: {Status: SubStatusBooked, Date: "2026-04-01"},
	}
	rec.Vitals = map[string]any{"weight_kg": 92.0}

	cp := rec.Clone()
	cp.Status = StatusOngoingTreatment
	cp.Tracking[SectionLabs].Status = SubStatusCompleted
	cp.Vitals["weight_kg"] = 80.0
	cp.AppendEvent(TimelineEvent{Title: "Scribble"})

	if rec.Status != StatusActionRequired {
		t.Errorf("clone mutation leaked into the original status: %q", rec.Status)
	}
	if got := rec.Tracking[SectionLabs].Status; got != SubStatusBooked {
		t.Errorf("clone sub-states must not alias the original, got %q", got)
	}
	if got := rec.Vitals["weight_kg"]; got != 92.0 {
		t.Errorf("clone vitals must not alias the original, got %v", got)
	}
	if got := len(rec.History()); got != 1 {
		t.Errorf("expected the seeded event only, got %d", got)
	}
}

func TestClonePreservesHistoryLog(t *testing.T) {
	legacy := &PatientRecord{Timeline: []TimelineEvent{{Title: "Imported"}}}
	if got := legacy.Clone().HistoryLog(); got != "timeline" {
		t.Errorf("legacy records must keep writing to timeline, got %q", got)
	}

	rec, err := NewPatientRecord("Mira", "Olsen", "mira@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got := rec.Clone().HistoryLog(); got != "patient_history" {
		t.Errorf("new records must keep writing to patient_history, got %q", got)
	}
}
