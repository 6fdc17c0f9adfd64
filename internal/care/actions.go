package care

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trimwell/portal/internal/patient/domain"
	"github.com/trimwell/portal/internal/shared/errors"
	"github.com/trimwell/portal/internal/shared/metrics"
	"github.com/trimwell/portal/internal/shared/types"
)

// ActionHandler translates operator-selected step actions into the
// (event, partial update) pairs the reducer applies.
type ActionHandler struct {
	reducer *Reducer
	source  RecordSource
	log     zerolog.Logger
}

// NewActionHandler wires the handler.
func NewActionHandler(reducer *Reducer, source RecordSource, log zerolog.Logger) *ActionHandler {
	return &ActionHandler{reducer: reducer, source: source, log: log}
}

// Apply executes a step action against a patient. Section actions write the
// target sub-status into both tracking and current_loop and derive the new
// top-level status; an event is emitted only when the sub-status actually
// changes, so re-applying an action never duplicates history.
func (h *ActionHandler) Apply(ctx context.Context, patientID types.ID, action StepAction, actor string) (*domain.PatientRecord, error) {
	if action.Target == TargetCareLoop {
		return h.StartNewCycle(ctx, patientID, actor)
	}

	rec, err := h.source.Get(ctx, patientID)
	if err != nil {
		return nil, errors.Wrap(err, "loading patient")
	}

	var event *domain.TimelineEvent
	var update *domain.PartialUpdate

	switch action.Target {
	case TargetProfile:
		status, err := domain.ParseStatus(action.TargetStatus)
		if err != nil {
			return nil, errors.Validation(err.Error(), nil)
		}
		update = &domain.PartialUpdate{Status: &status}
		event = &domain.TimelineEvent{
			Title:       action.Label,
			Description: fmt.Sprintf("Status updated to %s.", status),
			Type:        domain.EventTypeAssessment,
			Doctor:      actor,
		}

	case TargetLabs, TargetConsultation, TargetShipment:
		section, _ := action.Target.Section()
		event, update, err = h.sectionTransition(rec, section, action, actor)
		if err != nil {
			return nil, err
		}

	default:
		return nil, errors.Validation(fmt.Sprintf("unknown action target %q", action.Target), nil)
	}

	return h.reducer.ApplyUpdate(ctx, patientID, event, update)
}

// sectionTransition builds the update for a labs, consultation or shipment
// action. The prior date and time survive the sub-status write so booking
// details are not lost on completion.
func (h *ActionHandler) sectionTransition(rec *domain.PatientRecord, section domain.Section, action StepAction, actor string) (*domain.TimelineEvent, *domain.PartialUpdate, error) {
	if subStatusRank(section, action.TargetStatus) == 0 {
		return nil, nil, errors.Validation(
			fmt.Sprintf("invalid %s status %q", section, action.TargetStatus), nil)
	}

	prior := rec.CurrentSection(section)
	now := time.Now().UTC()

	state := &domain.SectionState{Status: action.TargetStatus, UpdatedAt: &now}
	if prior != nil {
		state.Date = prior.Date
		state.Time = prior.Time
	}

	update := &domain.PartialUpdate{
		Tracking:    map[domain.Section]*domain.SectionState{section: state},
		CurrentLoop: map[domain.Section]*domain.SectionState{section: state.Clone()},
	}
	if next, ok := derivedStatus(rec, section, action.TargetStatus); ok {
		update.Status = &next
	}

	changed := prior == nil || !strings.EqualFold(prior.Status, action.TargetStatus)
	if !changed {
		h.log.Debug().
			Str("patient_id", rec.ID.String()).
			Str("section", string(section)).
			Str("status", action.TargetStatus).
			Msg("section already in target state, skipping event")
		return nil, update, nil
	}

	event := &domain.TimelineEvent{
		Title:       action.Label,
		Description: fmt.Sprintf("%s status set to %s.", sectionNoun(section), action.TargetStatus),
		Type:        sectionEventType(section),
		Doctor:      actor,
	}
	return event, update, nil
}

// derivedStatus is the fixed lookup from a section transition to the new
// top-level status. Completed labs move to consult readiness, or straight to
// Consultation Scheduled when a consult date already exists.
func derivedStatus(rec *domain.PatientRecord, section domain.Section, subStatus string) (domain.Status, bool) {
	switch section {
	case domain.SectionLabs:
		if strings.EqualFold(subStatus, domain.SubStatusCompleted) {
			if st := rec.CurrentSection(domain.SectionConsultation); st != nil && st.Date != "" {
				return domain.StatusConsultationScheduled, true
			}
			return domain.StatusReadyForConsult, true
		}
	case domain.SectionConsultation:
		if strings.EqualFold(subStatus, domain.SubStatusCompleted) {
			return domain.StatusAwaitingShipment, true
		}
	case domain.SectionShipment:
		if strings.EqualFold(subStatus, domain.ShipmentShipped) ||
			strings.EqualFold(subStatus, domain.ShipmentDelivered) {
			return domain.StatusOngoingTreatment, true
		}
	}
	return "", false
}

// StartNewCycle rolls the patient into the next treatment cycle: the cycle
// counter increments, both section maps reset to fresh sub-states and the
// status returns to Labs Ordered. A Protocol event is always emitted.
func (h *ActionHandler) StartNewCycle(ctx context.Context, patientID types.ID, actor string) (*domain.PatientRecord, error) {
	rec, err := h.source.Get(ctx, patientID)
	if err != nil {
		return nil, errors.Wrap(err, "loading patient")
	}

	next := rec.CurrentCycle + 1
	status := domain.StatusLabsOrdered

	update := &domain.PartialUpdate{
		Status:       &status,
		CurrentCycle: &next,
		ResetLoop:    true,
		Tracking: map[domain.Section]*domain.SectionState{
			domain.SectionLabs:         {Status: domain.SubStatusBooked},
			domain.SectionConsultation: {Status: domain.SubStatusBooked},
			domain.SectionShipment:     {Status: domain.ShipmentAwaiting},
		},
	}
	event := &domain.TimelineEvent{
		Title:       fmt.Sprintf("Treatment cycle %d started", next),
		Description: "New maintenance cycle opened. Lab work has been ordered.",
		Type:        domain.EventTypeProtocol,
		Doctor:      actor,
	}

	updated, err := h.reducer.ApplyUpdate(ctx, patientID, event, update)
	if err != nil {
		return nil, err
	}
	metrics.RecordCycleStarted()
	return updated, nil
}

func sectionNoun(section domain.Section) string {
	switch section {
	case domain.SectionLabs:
		return "Lab work"
	case domain.SectionConsultation:
		return "Consultation"
	case domain.SectionShipment:
		return "Shipment"
	default:
		return "Section"
	}
}

func sectionEventType(section domain.Section) domain.EventType {
	switch section {
	case domain.SectionLabs:
		return domain.EventTypeLabs
	case domain.SectionConsultation:
		return domain.EventTypeConsultation
	case domain.SectionShipment:
		return domain.EventTypeShipment
	default:
		return domain.EventTypeNote
	}
}
