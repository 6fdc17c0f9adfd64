package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/trimwell/portal/internal/shared/types"
)

// EventType categorizes a timeline event.
type EventType string

const (
	EventTypeAssessment   EventType = "Assessment"
	EventTypeLabs         EventType = "Labs"
	EventTypeConsultation EventType = "Consultation"
	EventTypeShipment     EventType = "Shipment"
	EventTypeProtocol     EventType = "Protocol"
	EventTypeNote         EventType = "Note"
)

// AllEventTypes lists every valid timeline event type.
var AllEventTypes = []EventType{
	EventTypeAssessment,
	EventTypeLabs,
	EventTypeConsultation,
	EventTypeShipment,
	EventTypeProtocol,
	EventTypeNote,
}

// ParseEventType resolves a string to a canonical EventType.
func ParseEventType(s string) (EventType, error) {
	for _, t := range AllEventTypes {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown timeline event type %q", s)
}

// UnmarshalJSON rejects unknown event types at the decoding boundary.
func (t *EventType) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseEventType(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// LabOrder captures an ordered lab panel attached to an event.
type LabOrder struct {
	Panels []string `json:"panels,omitempty"`
	Notes  string   `json:"notes,omitempty"`
}

// FollowUpRequest captures a requested follow-up attached to an event.
type FollowUpRequest struct {
	Reason  string `json:"reason,omitempty"`
	DueDate string `json:"due_date,omitempty"`
}

// EventContext carries optional structured payloads with an event.
type EventContext struct {
	PrescriptionChange *Prescription    `json:"prescription_change,omitempty"`
	LabOrder           *LabOrder        `json:"lab_order,omitempty"`
	FollowUp           *FollowUpRequest `json:"follow_up,omitempty"`
	Extra              map[string]any   `json:"extra,omitempty"`
}

// TimelineEvent is one immutable entry in a patient's history log.
type TimelineEvent struct {
	ID          types.ID      `json:"id"`
	Date        time.Time     `json:"date"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Type        EventType     `json:"type"`
	Doctor      string        `json:"doctor,omitempty"`
	DocumentID  string        `json:"document_id,omitempty"`
	Context     *EventContext `json:"context,omitempty"`
}
