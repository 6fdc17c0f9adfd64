package care

import (
	"fmt"
	"sort"
	"strings"

	"github.com/trimwell/portal/internal/patient/domain"
	"github.com/trimwell/portal/internal/shared/metrics"
)

// TaskEngine derives the care coordinator queue from the patient population.
// The scan is read-only and recomputed per request; no queue is persisted.
type TaskEngine struct{}

// NewTaskEngine builds the engine.
func NewTaskEngine() *TaskEngine {
	return &TaskEngine{}
}

// taskRule evaluates one concern for one patient. A rule that fires returns
// the task type, a detail line, a priority vote and the sub-state date it
// considers most relevant.
type taskRule func(rec *domain.PatientRecord) (TaskType, string, Priority, string, bool)

// Rule declaration order matters: each firing rule overwrites the task
// timestamp, so the last one wins.
var taskRules = []taskRule{
	labCoordinationRule,
	consultCoordinationRule,
	intakeReviewRule,
	shipmentRule,
}

// DeriveQueue scans the population and returns the deduplicated queue,
// sorted by priority rank ascending. Ties keep scan order.
func (e *TaskEngine) DeriveQueue(patients []*domain.PatientRecord) []Task {
	tasks := make([]Task, 0)
	index := make(map[string]int)

	for _, rec := range patients {
		for _, rule := range taskRules {
			taskType, detail, priority, timestamp, fired := rule(rec)
			if !fired {
				continue
			}

			id := rec.ID.String()
			i, seen := index[id]
			if !seen {
				tasks = append(tasks, Task{
					PatientID:   id,
					PatientName: rec.FullName(),
					Priority:    priority,
				})
				i = len(tasks) - 1
				index[id] = i
			}

			task := &tasks[i]
			if !task.HasType(taskType) {
				task.Types = append(task.Types, taskType)
			}
			task.Details = append(task.Details, detail)
			task.Priority = task.Priority.Max(priority)
			task.Timestamp = timestamp
		}
	}

	sort.SliceStable(tasks, func(a, b int) bool {
		return tasks[a].Priority.Rank() < tasks[b].Priority.Rank()
	})
	for _, t := range tasks {
		metrics.RecordTaskDerived(string(t.Priority))
	}
	return tasks
}

// labCoordinationRule fires when a lab appointment has a date but is not yet
// completed. Booked labs need confirmation; anything further needs a
// progress check.
func labCoordinationRule(rec *domain.PatientRecord) (TaskType, string, Priority, string, bool) {
	return coordinationRule(rec, domain.SectionLabs, TaskLabCoordination, "lab appointment")
}

// consultCoordinationRule is the lab rule's shape over consultations.
func consultCoordinationRule(rec *domain.PatientRecord) (TaskType, string, Priority, string, bool) {
	return coordinationRule(rec, domain.SectionConsultation, TaskConsultCoordination, "consultation")
}

func coordinationRule(rec *domain.PatientRecord, section domain.Section, taskType TaskType, noun string) (TaskType, string, Priority, string, bool) {
	st := rec.CurrentSection(section)
	if st == nil || st.Date == "" {
		return "", "", "", "", false
	}
	if strings.EqualFold(st.Status, domain.SubStatusCompleted) {
		return "", "", "", "", false
	}

	detail := fmt.Sprintf("Review %s progress for %s", noun, st.Date)
	if strings.EqualFold(st.Status, domain.SubStatusBooked) {
		detail = fmt.Sprintf("Confirm %s booked for %s", noun, st.Date)
	}

	priority := PriorityMedium
	if rec.Status == domain.StatusActionRequired {
		priority = PriorityHigh
	}
	return taskType, detail, priority, st.Date, true
}

// intakeReviewRule fires while intake is incomplete: status still Action
// Required, or no psychometric data recorded yet. Always high priority.
func intakeReviewRule(rec *domain.PatientRecord) (TaskType, string, Priority, string, bool) {
	if !rec.IntakeOutstanding() {
		return "", "", "", "", false
	}
	detail := fmt.Sprintf("Review intake assessment for %s", rec.FullName())
	return TaskIntakeReview, detail, PriorityHigh, rec.CreatedAt.Format("2006-01-02"), true
}

// shipmentRule fires when a prescription exists and the shipment has a
// status short of Delivered. Undelivered initial shipments are high
// priority; in-transit ones drop to medium.
func shipmentRule(rec *domain.PatientRecord) (TaskType, string, Priority, string, bool) {
	if !rec.HasPrescription() {
		return "", "", "", "", false
	}
	st := rec.CurrentSection(domain.SectionShipment)
	if st == nil || st.Status == "" || strings.EqualFold(st.Status, domain.ShipmentDelivered) {
		return "", "", "", "", false
	}

	priority := PriorityHigh
	detail := "Coordinate initial medication shipment"
	if strings.EqualFold(st.Status, domain.ShipmentShipped) {
		priority = PriorityMedium
		detail = "Track medication shipment in transit"
	}
	return TaskShipmentFollowUp, detail, priority, st.Date, true
}
