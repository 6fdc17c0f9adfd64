package care

import (
	"regexp"

	"github.com/trimwell/portal/internal/patient/domain"
	"github.com/trimwell/portal/internal/shared/metrics"
)

// stageResolver locates the active step when the top-level status alone
// cannot. Resolvers are tried in order; the first that reports ok wins.
type stageResolver interface {
	resolve(rec *domain.PatientRecord, steps []ProtocolStep) (int, bool)
}

// ProtocolEngine derives the protocol step view for a patient record.
// Derivation is pure; the engine holds no per-patient state.
type ProtocolEngine struct {
	resolvers []stageResolver
}

// NewProtocolEngine builds the engine with the structured sub-state resolver
// first and the history text heuristic as fallback.
func NewProtocolEngine() *ProtocolEngine {
	return &ProtocolEngine{
		resolvers: []stageResolver{structuredResolver{}, heuristicResolver{}},
	}
}

// Derive computes the step sequence and active step for a record. The active
// index is always within the sequence bounds. Precedence: top-level status
// match scoped to the current cycle, then the resolver chain over sub-state
// data and history text, then the first maintenance stage of the current
// cycle, then the final step.
func (e *ProtocolEngine) Derive(rec *domain.PatientRecord) Derivation {
	steps := StepSequence(rec)
	if len(steps) == 0 {
		return Derivation{Steps: []StepView{}, ActiveIndex: 0}
	}

	active, ok := statusMatch(rec, steps)
	if !ok {
		for _, r := range e.resolvers {
			if idx, found := r.resolve(rec, steps); found {
				active = idx
				ok = true
				break
			}
		}
	}
	if !ok {
		active, ok = firstMaintenanceStep(rec, steps)
	}
	if !ok {
		active = len(steps) - 1
	}
	metrics.RecordProtocolDerivation(string(steps[active].Stage))

	views := make([]StepView, len(steps))
	for i, step := range steps {
		state := StepPending
		switch {
		case i < active:
			state = StepCompleted
		case i == active:
			state = StepActive
		}
		views[i] = StepView{
			ProtocolStep: step,
			State:        state,
		}
		// Untouched future steps hide their actions; completed and active
		// ones, plus any step already carrying data, keep them visible.
		if state != StepPending || stepTouched(rec, step) {
			views[i].Actions = actionViews(rec, step)
		}
	}

	return Derivation{Steps: views, ActiveIndex: active}
}

// firstMaintenanceStep finds the first non-intake step of the current cycle.
func firstMaintenanceStep(rec *domain.PatientRecord, steps []ProtocolStep) (int, bool) {
	for i, step := range steps {
		if step.Stage != StageIntake && step.Cycle == rec.CurrentCycle {
			return i, true
		}
	}
	return 0, false
}

// stepTouched reports whether any corroborating data exists for a step.
func stepTouched(rec *domain.PatientRecord, step ProtocolStep) bool {
	section, ok := stageSection(step.Stage)
	if !ok {
		return false
	}
	return rec.CurrentSection(section) != nil
}

// statusMatch finds the current-cycle step whose status set contains the
// record's top-level status.
func statusMatch(rec *domain.PatientRecord, steps []ProtocolStep) (int, bool) {
	for i, step := range steps {
		if step.Cycle != rec.CurrentCycle && step.Stage != StageIntake {
			continue
		}
		if step.Matches(rec.Status) {
			return i, true
		}
	}
	return 0, false
}

// structuredResolver inspects the tracked sub-states of the current cycle.
// A section holding non-terminal data marks its stage active; when every
// populated section is terminal, the step after the last terminal one is
// active. No sub-state data at all defers to the next resolver.
type structuredResolver struct{}

func (structuredResolver) resolve(rec *domain.PatientRecord, steps []ProtocolStep) (int, bool) {
	lastTerminal := -1
	for i, step := range steps {
		if step.Cycle != rec.CurrentCycle {
			continue
		}
		section, ok := stageSection(step.Stage)
		if !ok {
			continue
		}
		st := rec.CurrentSection(section)
		if st == nil {
			continue
		}
		if !isTerminal(section, st.Status) {
			return i, true
		}
		lastTerminal = i
	}
	if lastTerminal >= 0 {
		if lastTerminal+1 < len(steps) {
			return lastTerminal + 1, true
		}
		return lastTerminal, true
	}
	return 0, false
}

// stageSection maps a stage to the tracked section it reads. Intake and the
// care loop carry no section of their own.
func stageSection(stage Stage) (domain.Section, bool) {
	switch stage {
	case StageMetabolic:
		return domain.SectionLabs, true
	case StageClinical:
		return domain.SectionConsultation, true
	case StagePharmacy:
		return domain.SectionShipment, true
	default:
		return "", false
	}
}

var stagePatterns = []struct {
	stage Stage
	re    *regexp.Regexp
}{
	{StagePharmacy, regexp.MustCompile(`(?i)\b(ship|shipped|shipment|deliver|dispens)`)},
	{StageClinical, regexp.MustCompile(`(?i)\b(consult|physician|appointment)`)},
	{StageMetabolic, regexp.MustCompile(`(?i)\b(lab|labs|blood\s*work|panel)`)},
	{StageIntake, regexp.MustCompile(`(?i)\b(intake|assessment|onboard)`)},
}

// heuristicResolver scans the history log, newest first, for stage keywords
// in event titles and descriptions. Used only for records that carry no
// structured sub-state, typically legacy imports.
type heuristicResolver struct{}

func (heuristicResolver) resolve(rec *domain.PatientRecord, steps []ProtocolStep) (int, bool) {
	for _, event := range rec.History() {
		text := event.Title + " " + event.Description
		for _, p := range stagePatterns {
			if !p.re.MatchString(text) {
				continue
			}
			for i, step := range steps {
				if step.Stage == p.stage && (step.Cycle == rec.CurrentCycle || step.Stage == StageIntake) {
					return i, true
				}
			}
		}
	}
	return 0, false
}

// actionViews annotates a step's actions with derived completion. Completion
// is monotonic over each section's sub-status progression, so an action stays
// completed once the section has moved past its target.
func actionViews(rec *domain.PatientRecord, step ProtocolStep) []ActionView {
	if len(step.Actions) == 0 {
		return nil
	}
	views := make([]ActionView, len(step.Actions))
	for i, action := range step.Actions {
		views[i] = ActionView{
			StepAction: action,
			Completed:  actionCompleted(rec, step, action),
		}
	}
	return views
}

func actionCompleted(rec *domain.PatientRecord, step ProtocolStep, action StepAction) bool {
	switch action.Target {
	case TargetProfile:
		return rec.Status != domain.StatusActionRequired
	case TargetCareLoop:
		return step.Cycle < rec.CurrentCycle
	}
	section, ok := action.Target.Section()
	if !ok {
		return false
	}
	st := rec.CurrentSection(section)
	if st == nil {
		return false
	}
	target := subStatusRank(section, action.TargetStatus)
	if target == 0 {
		return false
	}
	return subStatusRank(section, st.Status) >= target
}
