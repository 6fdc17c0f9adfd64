package domain

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/trimwell/portal/internal/shared/types"
)

// Status is the top-level protocol status of a patient. It is the primary,
// but not sole, signal for protocol position.
type Status string

const (
	StatusAssessmentReview          Status = "Assessment Review"
	StatusLabsOrdered               Status = "Labs Ordered"
	StatusAwaitingLabResults        Status = "Awaiting Lab Results"
	StatusReadyForConsult           Status = "Ready for Consult"
	StatusConsultationScheduled     Status = "Consultation Scheduled"
	StatusAwaitingShipment          Status = "Awaiting Shipment"
	StatusOngoingTreatment          Status = "Ongoing Treatment"
	StatusMonitoringLoop            Status = "Monitoring Loop"
	StatusActionRequired            Status = "Action Required"
	StatusAdditionalTestingRequired Status = "Additional Testing Required"
)

// AllStatuses lists every valid protocol status.
var AllStatuses = []Status{
	StatusAssessmentReview,
	StatusLabsOrdered,
	StatusAwaitingLabResults,
	StatusReadyForConsult,
	StatusConsultationScheduled,
	StatusAwaitingShipment,
	StatusOngoingTreatment,
	StatusMonitoringLoop,
	StatusActionRequired,
	StatusAdditionalTestingRequired,
}

// ParseStatus resolves a string to a canonical Status, case-insensitively.
// Unknown values are rejected at the boundary, never silently accepted.
func ParseStatus(s string) (Status, error) {
	for _, status := range AllStatuses {
		if strings.EqualFold(s, string(status)) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown patient status %q", s)
}

// Equals compares a status against a raw string, case-insensitively.
func (s Status) Equals(other string) bool {
	return strings.EqualFold(string(s), other)
}

// UnmarshalJSON rejects unknown statuses at the decoding boundary.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Section identifies an operational sub-state of the current cycle.
type Section string

const (
	SectionLabs         Section = "labs"
	SectionConsultation Section = "consultation"
	SectionShipment     Section = "shipment"
)

// TrackedSections lists the sections carried in Tracking and CurrentLoop.
var TrackedSections = []Section{SectionLabs, SectionConsultation, SectionShipment}

// ParseSection resolves a string to a tracked Section.
func ParseSection(s string) (Section, error) {
	for _, section := range TrackedSections {
		if strings.EqualFold(s, string(section)) {
			return section, nil
		}
	}
	return "", fmt.Errorf("unknown tracking section %q", s)
}

// UnmarshalText validates section names, including map keys, at the
// decoding boundary.
func (s *Section) UnmarshalText(text []byte) error {
	parsed, err := ParseSection(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Sub-status values used inside SectionState. Labs and consultations move
// booked -> ongoing -> completed; shipments move Awaiting Shipment ->
// Shipped -> Delivered.
const (
	SubStatusBooked    = "booked"
	SubStatusOngoing   = "ongoing"
	SubStatusCompleted = "completed"

	ShipmentAwaiting  = "Awaiting Shipment"
	ShipmentShipped   = "Shipped"
	ShipmentDelivered = "Delivered"
)

// SectionState is the operational sub-status of one tracked section.
// Date and Time are kept as the free-form strings the intake forms produce.
type SectionState struct {
	Status    string     `json:"status,omitempty"`
	Date      string     `json:"date,omitempty"`
	Time      string     `json:"time,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// IsZero reports whether the sub-state carries no signal at all.
func (s *SectionState) IsZero() bool {
	return s == nil || (s.Status == "" && s.Date == "" && s.Time == "" && s.UpdatedAt == nil)
}

// Clone returns a copy so callers cannot alias stored sub-states.
func (s *SectionState) Clone() *SectionState {
	if s == nil {
		return nil
	}
	cp := *s
	if s.UpdatedAt != nil {
		t := *s.UpdatedAt
		cp.UpdatedAt = &t
	}
	return &cp
}

// Prescription is the active medication order held under Clinic.
type Prescription struct {
	Name         string `json:"name"`
	Dosage       string `json:"dosage,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Status       string `json:"status,omitempty"`
}

// Clinic groups clinician-owned data on the record.
type Clinic struct {
	Prescription *Prescription `json:"prescription,omitempty"`
}

// Address is the shipping destination for medication.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country,omitempty"`
}

// Report is an uploaded document reference (lab PDF, consult summary).
type Report struct {
	ID         types.ID  `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url,omitempty"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// WeeklyLog is one week of self-reported progress.
type WeeklyLog struct {
	Week   string  `json:"week"`
	Weight float64 `json:"weight,omitempty"`
	Notes  string  `json:"notes,omitempty"`
}

// DailyLog is one day of self-reported adherence data.
type DailyLog struct {
	Date     string `json:"date"`
	TookDose bool   `json:"took_dose"`
	Notes    string `json:"notes,omitempty"`
}

// CareTeamMember is a staff member attached to the patient.
type CareTeamMember struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// PatientRecord is the aggregate root for a patient in the weight-management
// program. It is created once at registration and mutated exclusively through
// the update reducer for the life of the treatment relationship.
type PatientRecord struct {
	ID types.ID `json:"id"`

	Status       Status `json:"status"`
	CurrentCycle int    `json:"current_cycle"`

	// Contact fields
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`

	ShippingAddress *Address `json:"shipping_address,omitempty"`

	// Tracking holds the latest operational sub-status per section across
	// cycles; CurrentLoop shadows it scoped to the active cycle and is
	// preferred when both carry data.
	Tracking    map[Section]*SectionState `json:"tracking,omitempty"`
	CurrentLoop map[Section]*SectionState `json:"current_loop,omitempty"`

	Clinic Clinic `json:"clinic"`

	// Dual append-only history logs. PatientHistory is preferred when both
	// exist; exactly one receives new events at write time, decided by which
	// is already initialized. New records initialize PatientHistory so they
	// converge on a single canonical log; Timeline remains readable for
	// records imported with legacy data.
	Timeline       []TimelineEvent `json:"timeline,omitempty"`
	PatientHistory []TimelineEvent `json:"patient_history,omitempty"`

	// Supporting sections, read-only for the derivation engines.
	Vitals     map[string]any   `json:"vitals,omitempty"`
	Reports    []Report         `json:"reports,omitempty"`
	WeeklyLogs []WeeklyLog      `json:"weekly_logs,omitempty"`
	DailyLogs  []DailyLog       `json:"daily_logs,omitempty"`
	Psych      map[string]any   `json:"psych,omitempty"`
	Medical    map[string]any   `json:"medical,omitempty"`
	CareTeam   []CareTeamMember `json:"care_team,omitempty"`
	CarePlan   map[string]any   `json:"care_plan,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPatientRecord creates a registered patient with the seeded welcome
// timeline entry. New patients start in Action Required until intake review.
func NewPatientRecord(firstName, lastName, email string) (*PatientRecord, error) {
	if firstName == "" || lastName == "" {
		return nil, fmt.Errorf("patient name is required")
	}
	if email == "" {
		return nil, fmt.Errorf("patient email is required")
	}

	now := time.Now().UTC()
	rec := &PatientRecord{
		ID:           types.NewID(),
		Status:       StatusActionRequired,
		CurrentCycle: 1,
		FirstName:    firstName,
		LastName:     lastName,
		Email:        email,
		Tracking:     make(map[Section]*SectionState),
		CurrentLoop:  make(map[Section]*SectionState),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	rec.PatientHistory = []TimelineEvent{{
		ID:          types.NewID(),
		Date:        now,
		Title:       "Welcome to the program",
		Description: "Account created. Complete your intake assessment to get started.",
		Type:        EventTypeNote,
	}}

	return rec, nil
}

// Clone returns a deep copy of the record. Stores hand clones to readers so
// a record being merged is never observed mid-write.
func (p *PatientRecord) Clone() *PatientRecord {
	if p == nil {
		return nil
	}
	cp := *p
	if p.ShippingAddress != nil {
		addr := *p.ShippingAddress
		cp.ShippingAddress = &addr
	}
	cp.Tracking = cloneSectionStates(p.Tracking)
	cp.CurrentLoop = cloneSectionStates(p.CurrentLoop)
	if p.Clinic.Prescription != nil {
		rx := *p.Clinic.Prescription
		cp.Clinic.Prescription = &rx
	}
	// Nil-ness of PatientHistory is load-bearing for HistoryLog, and
	// slices.Clone preserves it.
	cp.Timeline = slices.Clone(p.Timeline)
	cp.PatientHistory = slices.Clone(p.PatientHistory)
	cp.Vitals = maps.Clone(p.Vitals)
	cp.Reports = slices.Clone(p.Reports)
	cp.WeeklyLogs = slices.Clone(p.WeeklyLogs)
	cp.DailyLogs = slices.Clone(p.DailyLogs)
	cp.Psych = maps.Clone(p.Psych)
	cp.Medical = maps.Clone(p.Medical)
	cp.CareTeam = slices.Clone(p.CareTeam)
	cp.CarePlan = maps.Clone(p.CarePlan)
	return &cp
}

func cloneSectionStates(m map[Section]*SectionState) map[Section]*SectionState {
	if m == nil {
		return nil
	}
	out := make(map[Section]*SectionState, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// AppendEvent prepends an event to the record's active history log.
// PatientHistory receives it when initialized, otherwise Timeline; never
// both. Existing entries are never touched.
func (p *PatientRecord) AppendEvent(e TimelineEvent) {
	if p.PatientHistory != nil {
		p.PatientHistory = append([]TimelineEvent{e}, p.PatientHistory...)
		return
	}
	p.Timeline = append([]TimelineEvent{e}, p.Timeline...)
}

// History returns the record's events, PatientHistory preferred.
func (p *PatientRecord) History() []TimelineEvent {
	if p.PatientHistory != nil {
		return p.PatientHistory
	}
	return p.Timeline
}

// HistoryLog names the log AppendEvent would write to.
func (p *PatientRecord) HistoryLog() string {
	if p.PatientHistory != nil {
		return "patient_history"
	}
	return "timeline"
}

// CurrentSection returns the sub-state for a section, CurrentLoop preferred
// over Tracking. Nil when neither carries data.
func (p *PatientRecord) CurrentSection(section Section) *SectionState {
	if st, ok := p.CurrentLoop[section]; ok && !st.IsZero() {
		return st
	}
	if st, ok := p.Tracking[section]; ok && !st.IsZero() {
		return st
	}
	return nil
}

// HasPrescription reports whether a prescription exists for the current
// cycle, checked via the clinic object or either shipment sub-state.
func (p *PatientRecord) HasPrescription() bool {
	if p.Clinic.Prescription != nil && p.Clinic.Prescription.Name != "" {
		return true
	}
	if st, ok := p.Tracking[SectionShipment]; ok && !st.IsZero() {
		return true
	}
	if st, ok := p.CurrentLoop[SectionShipment]; ok && !st.IsZero() {
		return true
	}
	return false
}

// HasPsychData reports whether any psychometric intake data exists.
func (p *PatientRecord) HasPsychData() bool {
	return len(p.Psych) > 0
}

// IntakeOutstanding reports whether the onboarding phase is still pending.
func (p *PatientRecord) IntakeOutstanding() bool {
	return p.Status == StatusActionRequired || !p.HasPsychData()
}

// FullName returns the patient's display name.
func (p *PatientRecord) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}
