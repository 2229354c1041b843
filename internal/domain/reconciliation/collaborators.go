package reconciliation

import (
	"context"

	"github.com/google/uuid"
)

// Notification is a fire-and-forget message dispatched by the workflow.
// Delivery failures never fail the workflow operation.
type Notification struct {
	Type       string            `json:"type"`
	Recipients []string          `json:"recipients"`
	Title      string            `json:"title"`
	Message    string            `json:"message"`
	Data       map[string]string `json:"data,omitempty"`
}

// Notifier dispatches workflow notifications (critical alerts, review
// requests, review feedback).
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Activity is an audit-log entry for one workflow action.
type Activity struct {
	EntityType     string            `json:"entity_type"`
	EntityID       uuid.UUID         `json:"entity_id"`
	Action         string            `json:"action"`
	UserID         string            `json:"user_id"`
	OrganizationID string            `json:"organization_id"`
	Details        map[string]string `json:"details,omitempty"`
}

// ActivityLogger records workflow actions for audit. Invoked on initiate,
// resolve and review.
type ActivityLogger interface {
	LogActivity(ctx context.Context, a Activity) error
}

// Event is a domain event published on finalize.
type Event struct {
	EventType      string                 `json:"event_type"`
	EntityID       uuid.UUID              `json:"entity_id"`
	EntityType     string                 `json:"entity_type"`
	OrganizationID string                 `json:"organization_id"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

// EventPublisher publishes domain events. The workflow publishes exactly one
// event per record, when the record transitions to completed.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// PrescriptionAction names the concrete mutation implied by a resolution.
type PrescriptionAction string

const (
	ActionAddMedication   PrescriptionAction = "add_medication"
	ActionDiscontinue     PrescriptionAction = "discontinue_medication"
	ActionAdjustDose      PrescriptionAction = "adjust_dose"
	ActionAdjustFrequency PrescriptionAction = "adjust_frequency"
	ActionAdjustRoute     PrescriptionAction = "adjust_route"
)

// PrescriptionChange carries a resolution that implies a real prescription
// mutation to the modifier collaborator. MedicationName and NewValue come
// from the resolved discrepancy so the modifier can locate and update the
// affected prescription.
type PrescriptionChange struct {
	RecordID       uuid.UUID          `json:"record_id"`
	ResidentID     uuid.UUID          `json:"resident_id"`
	OrganizationID string             `json:"organization_id"`
	MedicationName string             `json:"medication_name"`
	NewValue       *string            `json:"new_value,omitempty"`
	Resolution     Resolution         `json:"resolution"`
	Action         PrescriptionAction `json:"action"`
}

// PrescriptionModifier applies prescription changes implied by resolutions
// with a type other than no_action_required.
type PrescriptionModifier interface {
	ApplyChange(ctx context.Context, change PrescriptionChange) error
}

// MedicationLookup supplies the resident's current active medication set when
// initiate is called without an explicit target list.
type MedicationLookup interface {
	GetCurrentMedicationList(ctx context.Context, residentID uuid.UUID, orgID string) (*MedicationSource, error)
}
