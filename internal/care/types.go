// Package care derives the treatment protocol view, the coordinator task
// queue and status transitions from patient records. Nothing in this package
// owns durable state; every derivation is recomputed from the record.
package care

import (
	"strings"

	"github.com/trimwell/portal/internal/patient/domain"
)

// Stage identifies a protocol step kind.
type Stage string

const (
	StageIntake    Stage = "intake"
	StageMetabolic Stage = "metabolic"
	StageClinical  Stage = "clinical"
	StagePharmacy  Stage = "pharmacy"
	StageCareLoop  Stage = "care_loop"
)

// ActionTarget names what a step action mutates.
type ActionTarget string

const (
	TargetProfile      ActionTarget = "profile"
	TargetLabs         ActionTarget = "labs"
	TargetConsultation ActionTarget = "consultation"
	TargetShipment     ActionTarget = "shipment"
	TargetCareLoop     ActionTarget = "care_loop"
)

// Section maps an action target to the tracked section it touches.
// Profile and care loop targets have no section.
func (t ActionTarget) Section() (domain.Section, bool) {
	switch t {
	case TargetLabs:
		return domain.SectionLabs, true
	case TargetConsultation:
		return domain.SectionConsultation, true
	case TargetShipment:
		return domain.SectionShipment, true
	default:
		return "", false
	}
}

// StepAction is a staff-invokable action attached to a protocol step.
type StepAction struct {
	ID           string       `json:"id"`
	Label        string       `json:"label"`
	Target       ActionTarget `json:"target"`
	TargetStatus string       `json:"target_status"`
}

// ProtocolStep is one step of the derived protocol sequence.
type ProtocolStep struct {
	ID          string          `json:"id"`
	Stage       Stage           `json:"stage"`
	Cycle       int             `json:"cycle"`
	Label       string          `json:"label"`
	Description string          `json:"description,omitempty"`
	Statuses    []domain.Status `json:"-"`
	Actions     []StepAction    `json:"actions,omitempty"`
}

// Matches reports whether the step applies to a top-level status.
func (s ProtocolStep) Matches(status domain.Status) bool {
	for _, st := range s.Statuses {
		if st == status {
			return true
		}
	}
	return false
}

// StepState is a step's derived display state.
type StepState string

const (
	StepCompleted StepState = "completed"
	StepActive    StepState = "active"
	StepPending   StepState = "pending"
)

// ActionView pairs an action with its derived completion flag.
type ActionView struct {
	StepAction
	Completed bool `json:"completed"`
}

// StepView is a step annotated for rendering.
type StepView struct {
	ProtocolStep
	State   StepState    `json:"state"`
	Actions []ActionView `json:"actions,omitempty"`
}

// Derivation is the full derived protocol for one patient.
type Derivation struct {
	Steps       []StepView `json:"steps"`
	ActiveIndex int        `json:"active_index"`
}

// TaskType categorizes a coordinator task.
type TaskType string

const (
	TaskLabCoordination     TaskType = "Lab Coordination"
	TaskConsultCoordination TaskType = "Consultation Coordination"
	TaskIntakeReview        TaskType = "Intake Review"
	TaskShipmentFollowUp    TaskType = "Medication Shipment"
)

// Priority orders the coordinator queue. High sorts first.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Rank returns the sort rank of a priority, lower first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Max returns the higher of two priorities.
func (p Priority) Max(other Priority) Priority {
	if other.Rank() < p.Rank() {
		return other
	}
	return p
}

// Task is one derived work item on the care coordinator queue. A patient
// appears at most once; contributing rules merge into Types and Details.
type Task struct {
	PatientID   string     `json:"patient_id"`
	PatientName string     `json:"patient_name"`
	Types       []TaskType `json:"types"`
	Details     []string   `json:"details"`
	Priority    Priority   `json:"priority"`
	Timestamp   string     `json:"timestamp,omitempty"`
}

// HasType reports whether a rule of the given type contributed to the task.
func (t *Task) HasType(tt TaskType) bool {
	for _, existing := range t.Types {
		if existing == tt {
			return true
		}
	}
	return false
}

// subStatusRank orders a section's sub-status progression. Unknown values
// rank zero so they never count as progress.
func subStatusRank(section domain.Section, status string) int {
	if section == domain.SectionShipment {
		switch {
		case strings.EqualFold(status, domain.ShipmentAwaiting):
			return 1
		case strings.EqualFold(status, domain.ShipmentShipped):
			return 2
		case strings.EqualFold(status, domain.ShipmentDelivered):
			return 3
		}
		return 0
	}
	switch {
	case strings.EqualFold(status, domain.SubStatusBooked):
		return 1
	case strings.EqualFold(status, domain.SubStatusOngoing):
		return 2
	case strings.EqualFold(status, domain.SubStatusCompleted):
		return 3
	}
	return 0
}

// terminalRank is the rank of each section's terminal sub-status.
const terminalRank = 3

func isTerminal(section domain.Section, status string) bool {
	return subStatusRank(section, status) >= terminalRank
}
