package reconciliation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Policy carries the workflow decisions that are deliberately configurable
// rather than hard-coded.
type Policy struct {
	// ReviewAfterCompletion permits a pharmacist review on a record that
	// already reached completed. When false, completed is terminal.
	ReviewAfterCompletion bool
	// MetricsTimeout bounds metrics aggregation over large date ranges.
	// Zero disables the bound.
	MetricsTimeout time.Duration
}

// Service orchestrates the reconciliation workflow: initiate, resolve,
// review, finalize. All collaborators are constructor-injected so the
// workflow is unit-testable without real I/O.
type Service struct {
	records       RecordRepository
	meds          MedicationLookup
	detector      *Detector
	notifier      Notifier
	audit         ActivityLogger
	events        EventPublisher
	prescriptions PrescriptionModifier
	logger        zerolog.Logger
	policy        Policy

	// Workflow mutations for one resident are serialized so a discrepancy
	// transitions identified -> resolved exactly once even under
	// concurrent resolvers.
	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex

	now func() time.Time
}

func NewService(
	records RecordRepository,
	meds MedicationLookup,
	detector *Detector,
	notifier Notifier,
	audit ActivityLogger,
	events EventPublisher,
	prescriptions PrescriptionModifier,
	logger zerolog.Logger,
	policy Policy,
) *Service {
	return &Service{
		records:       records,
		meds:          meds,
		detector:      detector,
		notifier:      notifier,
		audit:         audit,
		events:        events,
		prescriptions: prescriptions,
		logger:        logger,
		policy:        policy,
		locks:         make(map[uuid.UUID]*sync.Mutex),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) residentLock(residentID uuid.UUID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[residentID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[residentID] = mu
	}
	return mu
}

// InitiateRequest is the caller's input to Initiate.
type InitiateRequest struct {
	ResidentID         uuid.UUID          `json:"resident_id"`
	ReconciliationType ReconciliationType `json:"reconciliation_type"`
	PerformedBy        string             `json:"performed_by"`
	SourceList         MedicationSource   `json:"source_list"`
	TargetList         *MedicationSource  `json:"target_list,omitempty"`
	ClinicalNotes      string             `json:"clinical_notes"`
	OrganizationID     string             `json:"organization_id"`
}

var validReconciliationTypes = map[ReconciliationType]bool{
	TypeAdmission: true, TypeDischarge: true, TypeTransfer: true, TypePeriodicReview: true,
}

func (r *InitiateRequest) validate() error {
	if r.ResidentID == uuid.Nil {
		return &ValidationError{Field: "resident_id", Reason: "is required"}
	}
	if !validReconciliationTypes[r.ReconciliationType] {
		return &ValidationError{Field: "reconciliation_type", Reason: fmt.Sprintf("invalid value %q", r.ReconciliationType)}
	}
	if r.PerformedBy == "" {
		return &ValidationError{Field: "performed_by", Reason: "is required"}
	}
	if r.OrganizationID == "" {
		return &ValidationError{Field: "organization_id", Reason: "is required"}
	}
	active := 0
	for i := range r.SourceList.Medications {
		if r.SourceList.Medications[i].IsActive {
			active++
		}
	}
	if active == 0 {
		return &ValidationError{Field: "source_list", Reason: "must contain at least one active medication"}
	}
	return nil
}

// Initiate validates the request, resolves the target list, runs the
// detector, decides whether pharmacist review is required, persists the new
// record and dispatches alerts. No domain event is emitted at this stage.
func (s *Service) Initiate(ctx context.Context, req *InitiateRequest) (*ReconciliationRecord, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	mu := s.residentLock(req.ResidentID)
	mu.Lock()
	defer mu.Unlock()

	target := req.TargetList
	if target == nil {
		current, err := s.meds.GetCurrentMedicationList(ctx, req.ResidentID, req.OrganizationID)
		if err != nil {
			return nil, &ValidationError{Field: "resident_id", Reason: fmt.Sprintf("current medication list unavailable: %v", err)}
		}
		target = current
	}

	now := s.now()
	discrepancies := s.detector.Detect(req.SourceList, *target, req.PerformedBy, now)

	status := StatusInProgress
	requiresReview := RequiresPharmacistReview(discrepancies)
	if requiresReview {
		status = StatusRequiresReview
	}

	rec := &ReconciliationRecord{
		ID:                 uuid.New(),
		ResidentID:         req.ResidentID,
		ReconciliationType: req.ReconciliationType,
		ReconciliationDate: now,
		PerformedBy:        req.PerformedBy,
		Status:             status,
		SourceList:         req.SourceList,
		TargetList:         *target,
		Discrepancies:      discrepancies,
		Resolutions:        []Resolution{},
		ClinicalNotes:      req.ClinicalNotes,
		OrganizationID:     req.OrganizationID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.records.Save(ctx, rec); err != nil {
		s.logger.Error().Err(err).
			Str("record_id", rec.ID.String()).
			Str("resident_id", rec.ResidentID.String()).
			Str("organization_id", rec.OrganizationID).
			Msg("save reconciliation record")
		return nil, fmt.Errorf("save reconciliation record: %w", err)
	}

	for i := range discrepancies {
		d := &discrepancies[i]
		if d.Severity != SeverityCritical {
			continue
		}
		s.notify(ctx, Notification{
			Type:       "critical_medication_alert",
			Recipients: []string{"pharmacist", "care_manager"},
			Title:      "Critical medication discrepancy",
			Message:    fmt.Sprintf("%s: %s", d.MedicationName, d.Description),
			Data: map[string]string{
				"record_id":      rec.ID.String(),
				"resident_id":    rec.ResidentID.String(),
				"discrepancy_id": d.ID.String(),
				"severity":       string(d.Severity),
			},
		})
	}

	if requiresReview {
		s.notify(ctx, Notification{
			Type:       "pharmacist_review_request",
			Recipients: []string{"pharmacist"},
			Title:      "Medication reconciliation requires review",
			Message:    fmt.Sprintf("Reconciliation for resident %s has %d discrepancies requiring pharmacist review", rec.ResidentID, len(discrepancies)),
			Data: map[string]string{
				"record_id":   rec.ID.String(),
				"resident_id": rec.ResidentID.String(),
			},
		})
	}

	if err := s.logActivity(ctx, Activity{
		EntityType:     "reconciliation_record",
		EntityID:       rec.ID,
		Action:         "initiate",
		UserID:         req.PerformedBy,
		OrganizationID: req.OrganizationID,
		Details: map[string]string{
			"reconciliation_type": string(req.ReconciliationType),
			"discrepancy_count":   fmt.Sprintf("%d", len(discrepancies)),
			"requires_review":     fmt.Sprintf("%t", requiresReview),
		},
	}); err != nil {
		return nil, err
	}

	return rec, nil
}

// GetRecord fetches one record by id within the organization.
func (s *Service) GetRecord(ctx context.Context, id uuid.UUID, orgID string) (*ReconciliationRecord, error) {
	return s.records.GetByID(ctx, id, orgID)
}

// ListRecords returns records for the organization, newest first.
func (s *Service) ListRecords(ctx context.Context, orgID string, dateRange DateRange, limit, offset int) ([]*ReconciliationRecord, int, error) {
	return s.records.ListByOrganization(ctx, orgID, dateRange, limit, offset)
}

// prescriptionAction maps a resolution type to the concrete prescription
// mutation it implies. The second return is false for resolutions that do
// not change any prescription.
func prescriptionAction(t ResolutionType) (PrescriptionAction, bool) {
	switch t {
	case ResolutionMedicationAdded:
		return ActionAddMedication, true
	case ResolutionMedicationRemoved:
		return ActionDiscontinue, true
	case ResolutionDoseAdjusted:
		return ActionAdjustDose, true
	case ResolutionFrequencyChanged:
		return ActionAdjustFrequency, true
	case ResolutionRouteChanged:
		return ActionAdjustRoute, true
	default:
		return "", false
	}
}

var validResolutionTypes = map[ResolutionType]bool{
	ResolutionMedicationAdded: true, ResolutionMedicationRemoved: true,
	ResolutionDoseAdjusted: true, ResolutionFrequencyChanged: true,
	ResolutionRouteChanged: true, ResolutionNoActionRequired: true,
	ResolutionClinicalReviewRequested: true,
}

// ResolveDiscrepancy appends (or overwrites) the resolution for one
// discrepancy and marks it resolved. When every discrepancy on the record is
// settled the record transitions to completed and the finalize event is
// published exactly once.
func (s *Service) ResolveDiscrepancy(ctx context.Context, recordID uuid.UUID, orgID string, discrepancyID uuid.UUID, res Resolution) (*ReconciliationRecord, error) {
	if res.ResolvedBy == "" {
		return nil, &ValidationError{Field: "resolved_by", Reason: "is required"}
	}
	if !validResolutionTypes[res.ResolutionType] {
		return nil, &ValidationError{Field: "resolution_type", Reason: fmt.Sprintf("invalid value %q", res.ResolutionType)}
	}

	// A first read establishes the resident so mutations can be serialized;
	// the record is re-read under the lock.
	probe, err := s.records.GetByID(ctx, recordID, orgID)
	if err != nil {
		return nil, err
	}

	mu := s.residentLock(probe.ResidentID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.records.GetByID(ctx, recordID, orgID)
	if err != nil {
		return nil, err
	}

	if rec.Status != StatusInProgress && rec.Status != StatusRequiresReview {
		return nil, &StateError{RecordStatus: rec.Status, Operation: "resolve a discrepancy on"}
	}

	disc := rec.DiscrepancyByID(discrepancyID)
	if disc == nil {
		return nil, fmt.Errorf("discrepancy %s: %w", discrepancyID, ErrNotFound)
	}

	now := s.now()
	res.ID = uuid.New()
	res.DiscrepancyID = discrepancyID
	res.ResolvedDate = now

	// Re-resolving replaces the active resolution for the discrepancy.
	replaced := false
	for i := range rec.Resolutions {
		if rec.Resolutions[i].DiscrepancyID == discrepancyID {
			rec.Resolutions[i] = res
			replaced = true
			break
		}
	}
	if !replaced {
		rec.Resolutions = append(rec.Resolutions, res)
	}
	disc.Status = DiscrepancyResolved
	rec.UpdatedAt = now

	if err := s.records.AppendResolution(ctx, recordID, rec, orgID); err != nil {
		s.logger.Error().Err(err).
			Str("record_id", recordID.String()).
			Str("resident_id", rec.ResidentID.String()).
			Str("organization_id", orgID).
			Msg("append resolution")
		return nil, fmt.Errorf("append resolution: %w", err)
	}

	if rec.AllDiscrepanciesSettled() {
		rec.Status = StatusCompleted
		if err := s.records.UpdateStatus(ctx, recordID, StatusCompleted, orgID); err != nil {
			s.logger.Error().Err(err).
				Str("record_id", recordID.String()).
				Str("organization_id", orgID).
				Msg("update record status")
			return nil, fmt.Errorf("update record status: %w", err)
		}
		if err := s.events.Publish(ctx, Event{
			EventType:      "medication_reconciliation_completed",
			EntityID:       rec.ID,
			EntityType:     "reconciliation_record",
			OrganizationID: orgID,
			Data: map[string]interface{}{
				"resident_id":             rec.ResidentID.String(),
				"discrepancy_count":       len(rec.Discrepancies),
				"resolution_count":        len(rec.Resolutions),
				"critical_count":          rec.CriticalCount(),
				"completion_time_minutes": rec.CompletionTimeMinutes(),
			},
		}); err != nil {
			s.logger.Error().Err(err).
				Str("record_id", rec.ID.String()).
				Str("organization_id", orgID).
				Msg("publish completion event")
			return nil, fmt.Errorf("publish completion event: %w", err)
		}
	}

	if action, ok := prescriptionAction(res.ResolutionType); ok {
		change := PrescriptionChange{
			RecordID:       rec.ID,
			ResidentID:     rec.ResidentID,
			OrganizationID: orgID,
			MedicationName: disc.MedicationName,
			NewValue:       disc.TargetValue,
			Resolution:     res,
			Action:         action,
		}
		if err := s.prescriptions.ApplyChange(ctx, change); err != nil {
			s.logger.Error().Err(err).
				Str("record_id", rec.ID.String()).
				Str("resident_id", rec.ResidentID.String()).
				Str("organization_id", orgID).
				Str("action", string(action)).
				Msg("apply prescription change")
			return nil, fmt.Errorf("apply prescription change: %w", err)
		}
	}

	if err := s.logActivity(ctx, Activity{
		EntityType:     "reconciliation_record",
		EntityID:       rec.ID,
		Action:         "resolve_discrepancy",
		UserID:         res.ResolvedBy,
		OrganizationID: orgID,
		Details: map[string]string{
			"discrepancy_id":  discrepancyID.String(),
			"resolution_type": string(res.ResolutionType),
			"record_status":   string(rec.Status),
		},
	}); err != nil {
		return nil, err
	}

	return rec, nil
}

var validApprovalStatuses = map[ApprovalStatus]bool{
	ApprovalApproved: true, ApprovalRequiresChanges: true, ApprovalRejected: true,
}

// PerformPharmacistReview attaches the review to the record and moves the
// workflow to approved or back to requires_review depending on the outcome.
func (s *Service) PerformPharmacistReview(ctx context.Context, recordID uuid.UUID, orgID string, review PharmacistReview) (*ReconciliationRecord, error) {
	if review.PharmacistID == "" {
		return nil, &ValidationError{Field: "pharmacist_id", Reason: "is required"}
	}
	if !validApprovalStatuses[review.ApprovalStatus] {
		return nil, &ValidationError{Field: "approval_status", Reason: fmt.Sprintf("invalid value %q", review.ApprovalStatus)}
	}

	probe, err := s.records.GetByID(ctx, recordID, orgID)
	if err != nil {
		return nil, err
	}

	mu := s.residentLock(probe.ResidentID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.records.GetByID(ctx, recordID, orgID)
	if err != nil {
		return nil, err
	}

	if rec.Status == StatusApproved {
		return nil, &StateError{RecordStatus: rec.Status, Operation: "review"}
	}
	if rec.Status == StatusCompleted && !s.policy.ReviewAfterCompletion {
		return nil, &StateError{RecordStatus: rec.Status, Operation: "review"}
	}
	if len(rec.Discrepancies) == 0 {
		return nil, &StateError{RecordStatus: rec.Status, Operation: "review (no discrepancies on)"}
	}

	now := s.now()
	if review.ReviewDate.IsZero() {
		review.ReviewDate = now
	}
	rec.PharmacistReview = &review
	rec.ReviewedBy = strPtr(review.PharmacistID)
	if review.ApprovalStatus == ApprovalApproved {
		rec.Status = StatusApproved
	} else {
		rec.Status = StatusRequiresReview
	}
	rec.UpdatedAt = now

	if err := s.records.AppendReview(ctx, recordID, rec, orgID); err != nil {
		s.logger.Error().Err(err).
			Str("record_id", recordID.String()).
			Str("resident_id", rec.ResidentID.String()).
			Str("organization_id", orgID).
			Msg("append pharmacist review")
		return nil, fmt.Errorf("append pharmacist review: %w", err)
	}

	switch review.ApprovalStatus {
	case ApprovalApproved:
		s.notify(ctx, Notification{
			Type:       "reconciliation_approved",
			Recipients: []string{rec.PerformedBy},
			Title:      "Medication reconciliation approved",
			Message:    fmt.Sprintf("Reconciliation %s approved by pharmacist %s", rec.ID, review.PharmacistID),
			Data:       map[string]string{"record_id": rec.ID.String()},
		})
	case ApprovalRequiresChanges:
		s.notify(ctx, Notification{
			Type:       "reconciliation_review_feedback",
			Recipients: []string{rec.PerformedBy},
			Title:      "Medication reconciliation requires changes",
			Message:    fmt.Sprintf("Pharmacist %s requested changes: %s", review.PharmacistID, review.ClinicalAssessment),
			Data:       map[string]string{"record_id": rec.ID.String()},
		})
	}

	if err := s.logActivity(ctx, Activity{
		EntityType:     "reconciliation_record",
		EntityID:       rec.ID,
		Action:         "pharmacist_review",
		UserID:         review.PharmacistID,
		OrganizationID: orgID,
		Details: map[string]string{
			"review_type":     string(review.ReviewType),
			"approval_status": string(review.ApprovalStatus),
			"record_status":   string(rec.Status),
		},
	}); err != nil {
		return nil, err
	}

	return rec, nil
}

// notify dispatches a notification best-effort. Delivery failures are logged
// and never fail the workflow operation.
func (s *Service) notify(ctx context.Context, n Notification) {
	if err := s.notifier.Send(ctx, n); err != nil {
		s.logger.Warn().Err(err).
			Str("notification_type", n.Type).
			Msg("notification dispatch failed")
	}
}

func (s *Service) logActivity(ctx context.Context, a Activity) error {
	if err := s.audit.LogActivity(ctx, a); err != nil {
		s.logger.Error().Err(err).
			Str("entity_id", a.EntityID.String()).
			Str("action", a.Action).
			Str("organization_id", a.OrganizationID).
			Msg("audit log write failed")
		return fmt.Errorf("audit log: %w", err)
	}
	return nil
}
