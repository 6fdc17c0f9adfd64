package care

import (
	"fmt"

	"github.com/trimwell/portal/internal/patient/domain"
	"github.com/trimwell/portal/internal/shared/types"
)

// StepSequence builds the protocol step list for a patient: the one-time
// onboarding intake while it is outstanding, then per cycle a metabolic
// panel, clinical consultation, pharmacy fulfillment and care loop step.
// The pharmacy step is omitted for cycles without prescription evidence.
// Step IDs are deterministic so a step keeps its identity across
// re-derivations of the same record.
func StepSequence(rec *domain.PatientRecord) []ProtocolStep {
	cycles := rec.CurrentCycle
	if cycles < 1 {
		cycles = 1
	}

	steps := make([]ProtocolStep, 0, cycles*4+1)

	if rec.CurrentCycle <= 1 && rec.IntakeOutstanding() {
		steps = append(steps, intakeStep(rec))
	}

	for cycle := 1; cycle <= cycles; cycle++ {
		steps = append(steps, metabolicStep(rec, cycle), clinicalStep(rec, cycle))
		// Pharmacy applies to the current cycle only when a prescription
		// exists; completed cycles always shipped.
		if cycle < rec.CurrentCycle || rec.HasPrescription() {
			steps = append(steps, pharmacyStep(rec, cycle))
		}
		steps = append(steps, careLoopStep(rec, cycle))
	}

	return steps
}

func stepID(rec *domain.PatientRecord, stage Stage, cycle int) string {
	return types.NewDeterministicID("protocol-step",
		fmt.Sprintf("%s/%s/%d", rec.ID, stage, cycle)).String()
}

func cycleLabel(label string, cycle int) string {
	if cycle <= 1 {
		return label
	}
	return fmt.Sprintf("%s (Cycle %d)", label, cycle)
}

func intakeStep(rec *domain.PatientRecord) ProtocolStep {
	return ProtocolStep{
		ID:          stepID(rec, StageIntake, 1),
		Stage:       StageIntake,
		Cycle:       1,
		Label:       "Onboarding Intake",
		Description: "Health assessment and psychometric screening review.",
		Statuses:    []domain.Status{domain.StatusActionRequired, domain.StatusAssessmentReview},
		Actions: []StepAction{{
			ID:           "intake-reviewed",
			Label:        "Mark intake reviewed",
			Target:       TargetProfile,
			TargetStatus: string(domain.StatusAssessmentReview),
		}},
	}
}

func metabolicStep(rec *domain.PatientRecord, cycle int) ProtocolStep {
	return ProtocolStep{
		ID:          stepID(rec, StageMetabolic, cycle),
		Stage:       StageMetabolic,
		Cycle:       cycle,
		Label:       cycleLabel("Metabolic Panel", cycle),
		Description: "Blood work ordered and collected at a partner laboratory.",
		Statuses: []domain.Status{
			domain.StatusLabsOrdered,
			domain.StatusAwaitingLabResults,
			domain.StatusAdditionalTestingRequired,
		},
		Actions: []StepAction{
			{
				ID:           "labs-ongoing",
				Label:        "Mark labs in progress",
				Target:       TargetLabs,
				TargetStatus: domain.SubStatusOngoing,
			},
			{
				ID:           "labs-completed",
				Label:        "Mark labs completed",
				Target:       TargetLabs,
				TargetStatus: domain.SubStatusCompleted,
			},
		},
	}
}

func clinicalStep(rec *domain.PatientRecord, cycle int) ProtocolStep {
	return ProtocolStep{
		ID:          stepID(rec, StageClinical, cycle),
		Stage:       StageClinical,
		Cycle:       cycle,
		Label:       cycleLabel("Clinical Consultation", cycle),
		Description: "Physician reviews results and adjusts the treatment plan.",
		Statuses: []domain.Status{
			domain.StatusReadyForConsult,
			domain.StatusConsultationScheduled,
		},
		Actions: []StepAction{
			{
				ID:           "consultation-ongoing",
				Label:        "Mark consultation in progress",
				Target:       TargetConsultation,
				TargetStatus: domain.SubStatusOngoing,
			},
			{
				ID:           "consultation-completed",
				Label:        "Mark consultation completed",
				Target:       TargetConsultation,
				TargetStatus: domain.SubStatusCompleted,
			},
		},
	}
}

func pharmacyStep(rec *domain.PatientRecord, cycle int) ProtocolStep {
	return ProtocolStep{
		ID:          stepID(rec, StagePharmacy, cycle),
		Stage:       StagePharmacy,
		Cycle:       cycle,
		Label:       cycleLabel("Medication Shipment", cycle),
		Description: "Prescription dispensed and shipped to the patient.",
		Statuses:    []domain.Status{domain.StatusAwaitingShipment},
		Actions: []StepAction{
			{
				ID:           "shipment-shipped",
				Label:        "Mark shipped",
				Target:       TargetShipment,
				TargetStatus: domain.ShipmentShipped,
			},
			{
				ID:           "shipment-delivered",
				Label:        "Mark delivered",
				Target:       TargetShipment,
				TargetStatus: domain.ShipmentDelivered,
			},
		},
	}
}

func careLoopStep(rec *domain.PatientRecord, cycle int) ProtocolStep {
	return ProtocolStep{
		ID:          stepID(rec, StageCareLoop, cycle),
		Stage:       StageCareLoop,
		Cycle:       cycle,
		Label:       cycleLabel("Care Loop", cycle),
		Description: "Ongoing treatment with progress logging and monitoring.",
		Statuses: []domain.Status{
			domain.StatusOngoingTreatment,
			domain.StatusMonitoringLoop,
		},
		Actions: []StepAction{{
			ID:           "start-new-cycle",
			Label:        "Start new treatment cycle",
			Target:       TargetCareLoop,
			TargetStatus: "new_cycle",
		}},
	}
}
