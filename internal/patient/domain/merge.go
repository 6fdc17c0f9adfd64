package domain

import (
	"fmt"
	"time"
)

// Persistable section names, matching the storage layout. Each modified
// section is persisted independently after a merge.
const (
	PersistProfile    = "profile"
	PersistTracking   = "tracking"
	PersistClinic     = "clinic"
	PersistLoop       = "current_loop"
	PersistVitals     = "vitals"
	PersistReports    = "reports"
	PersistWeeklyLogs = "weekly_logs"
	PersistDailyLogs  = "daily_logs"
	PersistPsych      = "psych"
	PersistMedical    = "medical"
	PersistCareTeam   = "care_team"
	PersistCarePlan   = "care_plan"
	PersistHistory    = "history"
)

// ClinicUpdate is the partial form of Clinic. Keys present overlay the
// matching key on the record; absent keys leave it untouched.
type ClinicUpdate struct {
	Prescription *Prescription `json:"prescription,omitempty"`
}

// PartialUpdate is a sparse overlay of PatientRecord fields. Present fields
// replace the record's value; for Tracking, CurrentLoop and Clinic the merge
// is a shallow per-key union so sibling sub-states survive untouched.
type PartialUpdate struct {
	Status       *Status `json:"status,omitempty"`
	CurrentCycle *int    `json:"current_cycle,omitempty"`

	FirstName       *string  `json:"first_name,omitempty"`
	LastName        *string  `json:"last_name,omitempty"`
	Phone           *string  `json:"phone,omitempty"`
	ShippingAddress *Address `json:"shipping_address,omitempty"`

	Tracking    map[Section]*SectionState `json:"tracking,omitempty"`
	CurrentLoop map[Section]*SectionState `json:"current_loop,omitempty"`
	Clinic      *ClinicUpdate             `json:"clinic,omitempty"`

	// ResetLoop clears Tracking and CurrentLoop before the overlay is
	// applied. Set by the cycle rollover action only.
	ResetLoop bool `json:"reset_loop,omitempty"`

	Vitals     map[string]any   `json:"vitals,omitempty"`
	Reports    []Report         `json:"reports,omitempty"`
	WeeklyLogs []WeeklyLog      `json:"weekly_logs,omitempty"`
	DailyLogs  []DailyLog       `json:"daily_logs,omitempty"`
	Psych      map[string]any   `json:"psych,omitempty"`
	Medical    map[string]any   `json:"medical,omitempty"`
	CareTeam   []CareTeamMember `json:"care_team,omitempty"`
	CarePlan   map[string]any   `json:"care_plan,omitempty"`
}

// IsEmpty reports whether the update would touch nothing.
func (u *PartialUpdate) IsEmpty() bool {
	return u == nil || len(u.Modified()) == 0
}

// Modified lists the persistable sections this update touches.
func (u *PartialUpdate) Modified() []string {
	if u == nil {
		return nil
	}
	var sections []string
	if u.Status != nil || u.CurrentCycle != nil || u.FirstName != nil ||
		u.LastName != nil || u.Phone != nil || u.ShippingAddress != nil {
		sections = append(sections, PersistProfile)
	}
	if len(u.Tracking) > 0 || u.ResetLoop {
		sections = append(sections, PersistTracking)
	}
	if u.Clinic != nil {
		sections = append(sections, PersistClinic)
	}
	if len(u.CurrentLoop) > 0 || u.ResetLoop {
		sections = append(sections, PersistLoop)
	}
	if u.Vitals != nil {
		sections = append(sections, PersistVitals)
	}
	if u.Reports != nil {
		sections = append(sections, PersistReports)
	}
	if u.WeeklyLogs != nil {
		sections = append(sections, PersistWeeklyLogs)
	}
	if u.DailyLogs != nil {
		sections = append(sections, PersistDailyLogs)
	}
	if u.Psych != nil {
		sections = append(sections, PersistPsych)
	}
	if u.Medical != nil {
		sections = append(sections, PersistMedical)
	}
	if u.CareTeam != nil {
		sections = append(sections, PersistCareTeam)
	}
	if u.CarePlan != nil {
		sections = append(sections, PersistCarePlan)
	}
	return sections
}

// Apply merges the update into the record in place. The treatment cycle
// counter only moves forward; a decrease is rejected and leaves the record
// unchanged.
func (p *PatientRecord) Apply(u *PartialUpdate, now time.Time) error {
	if u == nil {
		return nil
	}
	if u.CurrentCycle != nil && *u.CurrentCycle < p.CurrentCycle {
		return fmt.Errorf("treatment cycle cannot move backwards: have %d, got %d",
			p.CurrentCycle, *u.CurrentCycle)
	}

	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.CurrentCycle != nil {
		p.CurrentCycle = *u.CurrentCycle
	}
	if u.FirstName != nil {
		p.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		p.LastName = *u.LastName
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	if u.ShippingAddress != nil {
		p.ShippingAddress = u.ShippingAddress
	}

	if u.ResetLoop {
		p.Tracking = make(map[Section]*SectionState)
		p.CurrentLoop = make(map[Section]*SectionState)
	}
	if len(u.Tracking) > 0 {
		if p.Tracking == nil {
			p.Tracking = make(map[Section]*SectionState)
		}
		for section, state := range u.Tracking {
			p.Tracking[section] = state.Clone()
		}
	}
	if len(u.CurrentLoop) > 0 {
		if p.CurrentLoop == nil {
			p.CurrentLoop = make(map[Section]*SectionState)
		}
		for section, state := range u.CurrentLoop {
			p.CurrentLoop[section] = state.Clone()
		}
	}
	if u.Clinic != nil {
		if u.Clinic.Prescription != nil {
			p.Clinic.Prescription = u.Clinic.Prescription
		}
	}

	if u.Vitals != nil {
		p.Vitals = u.Vitals
	}
	if u.Reports != nil {
		p.Reports = u.Reports
	}
	if u.WeeklyLogs != nil {
		p.WeeklyLogs = u.WeeklyLogs
	}
	if u.DailyLogs != nil {
		p.DailyLogs = u.DailyLogs
	}
	if u.Psych != nil {
		p.Psych = u.Psych
	}
	if u.Medical != nil {
		p.Medical = u.Medical
	}
	if u.CareTeam != nil {
		p.CareTeam = u.CareTeam
	}
	if u.CarePlan != nil {
		p.CarePlan = u.CarePlan
	}

	p.UpdatedAt = now
	return nil
}
