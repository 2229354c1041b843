package medlist

import (
	"time"

	"github.com/google/uuid"
)

// ListEntry maps to the medication_list table: one row per medication on a
// resident's current administration record (MAR).
type ListEntry struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	ResidentID       uuid.UUID  `db:"resident_id" json:"resident_id"`
	OrganizationID   string     `db:"organization_id" json:"organization_id"`
	Name             string     `db:"name" json:"name"`
	GenericName      *string    `db:"generic_name" json:"generic_name,omitempty"`
	ActiveIngredient string     `db:"active_ingredient" json:"active_ingredient"`
	Strength         string     `db:"strength" json:"strength"`
	Dosage           string     `db:"dosage" json:"dosage"`
	Frequency        string     `db:"frequency" json:"frequency"`
	Route            string     `db:"route" json:"route"`
	Indication       *string    `db:"indication" json:"indication,omitempty"`
	Prescriber       *string    `db:"prescriber" json:"prescriber,omitempty"`
	StartDate        *time.Time `db:"start_date" json:"start_date,omitempty"`
	EndDate          *time.Time `db:"end_date" json:"end_date,omitempty"`
	LastTaken        *time.Time `db:"last_taken" json:"last_taken,omitempty"`
	Adherence        *string    `db:"adherence" json:"adherence,omitempty"`
	IsActive         bool       `db:"is_active" json:"is_active"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// ChangeLog maps to the prescription_change table: every prescription
// mutation applied through the reconciliation workflow, kept for audit.
type ChangeLog struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ResidentID     uuid.UUID `db:"resident_id" json:"resident_id"`
	OrganizationID string    `db:"organization_id" json:"organization_id"`
	RecordID       uuid.UUID `db:"record_id" json:"record_id"`
	ResolutionID   uuid.UUID `db:"resolution_id" json:"resolution_id"`
	Action         string    `db:"action" json:"action"`
	MedicationName string    `db:"medication_name" json:"medication_name"`
	NewValue       *string   `db:"new_value" json:"new_value,omitempty"`
	AppliedBy      string    `db:"applied_by" json:"applied_by"`
	AppliedAt      time.Time `db:"applied_at" json:"applied_at"`
}
