package medlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medrec/medrec/internal/domain/reconciliation"
)

// ErrNotFound is returned when a list entry does not resolve for the given
// resident and organization.
var ErrNotFound = errors.New("not found")

// Service maintains resident medication lists. It implements the
// reconciliation workflow's MedicationLookup and PrescriptionModifier
// collaborators.
type Service struct {
	entries ListRepository
	changes ChangeLogRepository
}

func NewService(entries ListRepository, changes ChangeLogRepository) *Service {
	return &Service{entries: entries, changes: changes}
}

// GetCurrentMedicationList snapshots the resident's active medications as a
// care-home MAR source for use as a reconciliation target.
func (s *Service) GetCurrentMedicationList(ctx context.Context, residentID uuid.UUID, orgID string) (*reconciliation.MedicationSource, error) {
	if residentID == uuid.Nil {
		return nil, fmt.Errorf("resident_id is required")
	}
	entries, err := s.entries.ListActiveByResident(ctx, residentID, orgID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("resident %s: %w", residentID, ErrNotFound)
	}

	meds := make([]reconciliation.MedicationEntry, 0, len(entries))
	for _, e := range entries {
		meds = append(meds, reconciliation.MedicationEntry{
			Name:             e.Name,
			GenericName:      e.GenericName,
			ActiveIngredient: e.ActiveIngredient,
			Strength:         e.Strength,
			Dosage:           e.Dosage,
			Frequency:        e.Frequency,
			Route:            e.Route,
			Indication:       e.Indication,
			Prescriber:       e.Prescriber,
			StartDate:        e.StartDate,
			EndDate:          e.EndDate,
			LastTaken:        e.LastTaken,
			Adherence:        e.Adherence,
			Source:           string(reconciliation.SourceCareHomeMAR),
			IsActive:         e.IsActive,
		})
	}

	return &reconciliation.MedicationSource{
		SourceType:  reconciliation.SourceCareHomeMAR,
		SourceDate:  time.Now().UTC(),
		Medications: meds,
		Reliability: reconciliation.ReliabilityHigh,
	}, nil
}

// AddMedication records a new medication on the resident's list.
func (s *Service) AddMedication(ctx context.Context, e *ListEntry) error {
	if e.ResidentID == uuid.Nil {
		return fmt.Errorf("resident_id is required")
	}
	if e.Name == "" {
		return fmt.Errorf("name is required")
	}
	if e.ActiveIngredient == "" {
		return fmt.Errorf("active_ingredient is required")
	}
	e.IsActive = true
	return s.entries.Create(ctx, e)
}

// ApplyChange applies the prescription mutation implied by a reconciliation
// resolution: adding, discontinuing, or adjusting a medication on the
// resident's current list. Every applied change is logged.
func (s *Service) ApplyChange(ctx context.Context, change reconciliation.PrescriptionChange) error {
	switch change.Action {
	case reconciliation.ActionAddMedication:
		entry := &ListEntry{
			ResidentID:       change.ResidentID,
			OrganizationID:   change.OrganizationID,
			Name:             change.MedicationName,
			ActiveIngredient: change.MedicationName,
			IsActive:         true,
		}
		if change.NewValue != nil {
			entry.Dosage = *change.NewValue
		}
		if err := s.entries.Create(ctx, entry); err != nil {
			return fmt.Errorf("add medication %s: %w", change.MedicationName, err)
		}

	case reconciliation.ActionDiscontinue:
		entry, err := s.entries.FindActiveByName(ctx, change.ResidentID, change.OrganizationID, change.MedicationName)
		if err != nil {
			return fmt.Errorf("discontinue %s: %w", change.MedicationName, err)
		}
		if err := s.entries.Deactivate(ctx, entry.ID); err != nil {
			return fmt.Errorf("discontinue %s: %w", change.MedicationName, err)
		}

	case reconciliation.ActionAdjustDose, reconciliation.ActionAdjustFrequency, reconciliation.ActionAdjustRoute:
		entry, err := s.entries.FindActiveByName(ctx, change.ResidentID, change.OrganizationID, change.MedicationName)
		if err != nil {
			return fmt.Errorf("adjust %s: %w", change.MedicationName, err)
		}
		if change.NewValue != nil {
			switch change.Action {
			case reconciliation.ActionAdjustDose:
				entry.Dosage = *change.NewValue
			case reconciliation.ActionAdjustFrequency:
				entry.Frequency = *change.NewValue
			case reconciliation.ActionAdjustRoute:
				entry.Route = *change.NewValue
			}
		}
		if err := s.entries.Update(ctx, entry); err != nil {
			return fmt.Errorf("adjust %s: %w", change.MedicationName, err)
		}

	default:
		return fmt.Errorf("unsupported prescription action: %s", change.Action)
	}

	return s.changes.Create(ctx, &ChangeLog{
		ResidentID:     change.ResidentID,
		OrganizationID: change.OrganizationID,
		RecordID:       change.RecordID,
		ResolutionID:   change.Resolution.ID,
		Action:         string(change.Action),
		MedicationName: change.MedicationName,
		NewValue:       change.NewValue,
		AppliedBy:      change.Resolution.ResolvedBy,
	})
}

// GetChangeHistory returns prescription changes applied for the resident,
// newest first.
func (s *Service) GetChangeHistory(ctx context.Context, residentID uuid.UUID, orgID string, limit int) ([]*ChangeLog, error) {
	return s.changes.ListByResident(ctx, residentID, orgID, limit)
}
