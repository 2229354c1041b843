package reconciliation

import (
	"time"

	"github.com/google/uuid"
)

// SourceType identifies where a medication list snapshot came from.
type SourceType string

const (
	SourceHomeMedications     SourceType = "home_medications"
	SourceHospitalMedications SourceType = "hospital_medications"
	SourceGPList              SourceType = "gp_list"
	SourcePharmacyRecords     SourceType = "pharmacy_records"
	SourceCareHomeMAR         SourceType = "care_home_mar"
)

// Reliability grades how much a medication source can be trusted.
type Reliability string

const (
	ReliabilityHigh       Reliability = "high"
	ReliabilityMedium     Reliability = "medium"
	ReliabilityLow        Reliability = "low"
	ReliabilityUnverified Reliability = "unverified"
)

// MedicationEntry is a single medication on a source list. Matching across
// lists is performed on the lower-cased ActiveIngredient, never on Name, so
// two brand names of the same ingredient reconcile as one medication.
type MedicationEntry struct {
	Name             string     `json:"name"`
	GenericName      *string    `json:"generic_name,omitempty"`
	ActiveIngredient string     `json:"active_ingredient"`
	Strength         string     `json:"strength"`
	Dosage           string     `json:"dosage"`
	Frequency        string     `json:"frequency"`
	Route            string     `json:"route"`
	Indication       *string    `json:"indication,omitempty"`
	Prescriber       *string    `json:"prescriber,omitempty"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	EndDate          *time.Time `json:"end_date,omitempty"`
	LastTaken        *time.Time `json:"last_taken,omitempty"`
	Adherence        *string    `json:"adherence,omitempty"`
	Source           string     `json:"source"`
	IsActive         bool       `json:"is_active"`
}

// MedicationSource is an ordered snapshot of a resident's medications at one
// care-transition point.
type MedicationSource struct {
	SourceType  SourceType        `json:"source_type"`
	SourceDate  time.Time         `json:"source_date"`
	Medications []MedicationEntry `json:"medications"`
	Reliability Reliability       `json:"reliability"`
	VerifiedBy  *string           `json:"verified_by,omitempty"`
}

// DiscrepancyType classifies a single detected difference between sources.
type DiscrepancyType string

const (
	DiscrepancyOmission          DiscrepancyType = "omission"
	DiscrepancyAddition          DiscrepancyType = "addition"
	DiscrepancyDoseChange        DiscrepancyType = "dose_change"
	DiscrepancyFrequencyChange   DiscrepancyType = "frequency_change"
	DiscrepancyRouteChange       DiscrepancyType = "route_change"
	DiscrepancyFormulationChange DiscrepancyType = "formulation_change"
	DiscrepancyTimingChange      DiscrepancyType = "timing_change"
	DiscrepancyIndicationChange  DiscrepancyType = "indication_change"
)

// Severity is the clinical risk tier of a discrepancy.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// DiscrepancyStatus tracks a discrepancy through resolution.
type DiscrepancyStatus string

const (
	DiscrepancyIdentified   DiscrepancyStatus = "identified"
	DiscrepancyUnderReview  DiscrepancyStatus = "under_review"
	DiscrepancyResolved     DiscrepancyStatus = "resolved"
	DiscrepancyAcceptedRisk DiscrepancyStatus = "accepted_risk"
)

// Discrepancy is one detected difference between two medication sources for
// one medication. It is owned by exactly one ReconciliationRecord.
type Discrepancy struct {
	ID                   uuid.UUID         `json:"id"`
	Type                 DiscrepancyType   `json:"type"`
	Severity             Severity          `json:"severity"`
	MedicationName       string            `json:"medication_name"`
	SourceValue          *string           `json:"source_value,omitempty"`
	TargetValue          *string           `json:"target_value,omitempty"`
	Description          string            `json:"description"`
	ClinicalSignificance string            `json:"clinical_significance"`
	RequiresAction       bool              `json:"requires_action"`
	IdentifiedBy         string            `json:"identified_by"`
	IdentifiedDate       time.Time         `json:"identified_date"`
	Status               DiscrepancyStatus `json:"status"`
}

// ResolutionType describes the action taken to address a discrepancy.
type ResolutionType string

const (
	ResolutionMedicationAdded         ResolutionType = "medication_added"
	ResolutionMedicationRemoved       ResolutionType = "medication_removed"
	ResolutionDoseAdjusted            ResolutionType = "dose_adjusted"
	ResolutionFrequencyChanged        ResolutionType = "frequency_changed"
	ResolutionRouteChanged            ResolutionType = "route_changed"
	ResolutionNoActionRequired        ResolutionType = "no_action_required"
	ResolutionClinicalReviewRequested ResolutionType = "clinical_review_requested"
)

// Resolution records how one discrepancy was addressed. A discrepancy has at
// most one active resolution; re-resolving replaces the previous one.
type Resolution struct {
	ID               uuid.UUID      `json:"id"`
	DiscrepancyID    uuid.UUID      `json:"discrepancy_id"`
	ResolutionType   ResolutionType `json:"resolution_type"`
	ResolutionAction string         `json:"resolution_action"`
	Rationale        string         `json:"rationale"`
	ResolvedBy       string         `json:"resolved_by"`
	ResolvedDate     time.Time      `json:"resolved_date"`
	ApprovedBy       *string        `json:"approved_by,omitempty"`
	ApprovalDate     *time.Time     `json:"approval_date,omitempty"`
	FollowUpRequired bool           `json:"follow_up_required"`
	FollowUpDate     *time.Time     `json:"follow_up_date,omitempty"`
}

// ReviewType identifies the stage of a pharmacist review.
type ReviewType string

const (
	ReviewInitial       ReviewType = "initial"
	ReviewFollowUp      ReviewType = "follow_up"
	ReviewFinalApproval ReviewType = "final_approval"
)

// ApprovalStatus is the outcome of a pharmacist review.
type ApprovalStatus string

const (
	ApprovalApproved        ApprovalStatus = "approved"
	ApprovalRequiresChanges ApprovalStatus = "requires_changes"
	ApprovalRejected        ApprovalStatus = "rejected"
)

// RiskAssessment summarises the residual risk found during review.
type RiskAssessment struct {
	OverallRisk          Severity `json:"overall_risk"`
	SpecificRisks        []string `json:"specific_risks"`
	MitigationStrategies []string `json:"mitigation_strategies"`
}

// PharmacistReview is a clinical sign-off attached to a record. Only the
// latest review is kept on the record; callers needing review history must
// persist reviews separately.
type PharmacistReview struct {
	PharmacistID       string         `json:"pharmacist_id"`
	ReviewDate         time.Time      `json:"review_date"`
	ReviewType         ReviewType     `json:"review_type"`
	Recommendations    []string       `json:"recommendations"`
	ClinicalAssessment string         `json:"clinical_assessment"`
	RiskAssessment     RiskAssessment `json:"risk_assessment"`
	ApprovalStatus     ApprovalStatus `json:"approval_status"`
	Notes              string         `json:"notes"`
}

// ReconciliationType identifies the care transition that triggered the
// reconciliation.
type ReconciliationType string

const (
	TypeAdmission      ReconciliationType = "admission"
	TypeDischarge      ReconciliationType = "discharge"
	TypeTransfer       ReconciliationType = "transfer"
	TypePeriodicReview ReconciliationType = "periodic_review"
)

// Status is the reconciliation workflow state.
type Status string

const (
	StatusInProgress     Status = "in_progress"
	StatusRequiresReview Status = "requires_review"
	StatusCompleted      Status = "completed"
	StatusApproved       Status = "approved"
)

// ReconciliationRecord is the aggregate root of one reconciliation. Records
// are keyed by (ID, OrganizationID) and are never physically deleted; they
// are retained for audit and metrics.
type ReconciliationRecord struct {
	ID                 uuid.UUID          `json:"id"`
	ResidentID         uuid.UUID          `json:"resident_id"`
	ReconciliationType ReconciliationType `json:"reconciliation_type"`
	ReconciliationDate time.Time          `json:"reconciliation_date"`
	PerformedBy        string             `json:"performed_by"`
	ReviewedBy         *string            `json:"reviewed_by,omitempty"`
	Status             Status             `json:"status"`
	SourceList         MedicationSource   `json:"source_list"`
	TargetList         MedicationSource   `json:"target_list"`
	Discrepancies      []Discrepancy      `json:"discrepancies"`
	Resolutions        []Resolution       `json:"resolutions"`
	ClinicalNotes      string             `json:"clinical_notes"`
	PharmacistReview   *PharmacistReview  `json:"pharmacist_review,omitempty"`
	OrganizationID     string             `json:"organization_id"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Terminal reports whether no further workflow transitions are defined for
// the record's status. Completed records are terminal unless review after
// completion is enabled on the service.
func (r *ReconciliationRecord) Terminal() bool {
	return r.Status == StatusApproved
}

// DiscrepancyByID returns a pointer into the record's discrepancy slice, or
// nil when the id is unknown.
func (r *ReconciliationRecord) DiscrepancyByID(id uuid.UUID) *Discrepancy {
	for i := range r.Discrepancies {
		if r.Discrepancies[i].ID == id {
			return &r.Discrepancies[i]
		}
	}
	return nil
}

// AllDiscrepanciesSettled reports whether every discrepancy is resolved or
// accepted as risk. A record with no discrepancies is settled.
func (r *ReconciliationRecord) AllDiscrepanciesSettled() bool {
	for i := range r.Discrepancies {
		s := r.Discrepancies[i].Status
		if s != DiscrepancyResolved && s != DiscrepancyAcceptedRisk {
			return false
		}
	}
	return true
}

// CriticalCount returns the number of critical discrepancies on the record.
func (r *ReconciliationRecord) CriticalCount() int {
	n := 0
	for i := range r.Discrepancies {
		if r.Discrepancies[i].Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// CompletionTimeMinutes returns the elapsed time between record creation and
// last update, rounded to whole minutes.
func (r *ReconciliationRecord) CompletionTimeMinutes() int {
	ms := r.UpdatedAt.Sub(r.CreatedAt).Milliseconds()
	return int(float64(ms)/60000 + 0.5)
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
