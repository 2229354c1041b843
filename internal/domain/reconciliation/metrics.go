package reconciliation

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// HistorySummary is one reconciliation record condensed for history views.
type HistorySummary struct {
	RecordID              uuid.UUID          `json:"record_id"`
	ReconciliationType    ReconciliationType `json:"reconciliation_type"`
	ReconciliationDate    time.Time          `json:"reconciliation_date"`
	Status                Status             `json:"status"`
	SourceMedicationCount int                `json:"source_medication_count"`
	TargetMedicationCount int                `json:"target_medication_count"`
	FinalMedicationCount  int                `json:"final_medication_count"`
	DiscrepancyCount      int                `json:"discrepancy_count"`
	ResolutionCount       int                `json:"resolution_count"`
	CriticalIssueCount    int                `json:"critical_issue_count"`
	PharmacistReviewed    bool               `json:"pharmacist_reviewed"`
	CompletionTimeMinutes int                `json:"completion_time_minutes"`
}

// Metrics aggregates an organization's reconciliation activity over a date
// range.
type Metrics struct {
	TotalReconciliations  int                     `json:"total_reconciliations"`
	TotalDiscrepancies    int                     `json:"total_discrepancies"`
	AverageDiscrepancies  float64                 `json:"average_discrepancies"`
	AverageCompletionTime float64                 `json:"average_completion_time_minutes"`
	DiscrepancyTypes      map[DiscrepancyType]int `json:"discrepancy_types"`
	ResolutionTypes       map[ResolutionType]int  `json:"resolution_types"`
	PharmacistReviewRate  float64                 `json:"pharmacist_review_rate"`
	CriticalIssueRate     float64                 `json:"critical_issue_rate"`
	CompletionTimeP50     float64                 `json:"completion_time_p50"`
	CompletionTimeP90     float64                 `json:"completion_time_p90"`
	CompletionTimeP99     float64                 `json:"completion_time_p99"`
}

// GetReconciliationHistory returns the resident's most recent records
// summarized, newest first.
func (s *Service) GetReconciliationHistory(ctx context.Context, residentID uuid.UUID, orgID string, limit int) ([]HistorySummary, error) {
	if residentID == uuid.Nil {
		return nil, &ValidationError{Field: "resident_id", Reason: "is required"}
	}
	records, err := s.records.ListByResident(ctx, residentID, orgID, limit)
	if err != nil {
		return nil, err
	}

	summaries := make([]HistorySummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, HistorySummary{
			RecordID:              rec.ID,
			ReconciliationType:    rec.ReconciliationType,
			ReconciliationDate:    rec.ReconciliationDate,
			Status:                rec.Status,
			SourceMedicationCount: activeCount(rec.SourceList),
			TargetMedicationCount: activeCount(rec.TargetList),
			FinalMedicationCount:  finalMedicationCount(rec),
			DiscrepancyCount:      len(rec.Discrepancies),
			ResolutionCount:       len(rec.Resolutions),
			CriticalIssueCount:    rec.CriticalCount(),
			PharmacistReviewed:    rec.PharmacistReview != nil,
			CompletionTimeMinutes: rec.CompletionTimeMinutes(),
		})
	}
	return summaries, nil
}

// GenerateReconciliationMetrics scans every record in range and computes the
// organization's aggregate metrics. Aggregation is bounded by the service's
// metrics timeout since the record count is unbounded.
func (s *Service) GenerateReconciliationMetrics(ctx context.Context, orgID string, dateRange DateRange) (*Metrics, error) {
	if orgID == "" {
		return nil, &ValidationError{Field: "organization_id", Reason: "is required"}
	}
	if s.policy.MetricsTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.policy.MetricsTimeout)
		defer cancel()
	}

	records, _, err := s.records.ListByOrganization(ctx, orgID, dateRange, 0, 0)
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		DiscrepancyTypes: make(map[DiscrepancyType]int),
		ResolutionTypes:  make(map[ResolutionType]int),
	}

	var completionTimes []float64
	totalCompletion := 0.0
	criticalDiscrepancies := 0
	recordsWithReview := 0

	for _, rec := range records {
		m.TotalReconciliations++
		m.TotalDiscrepancies += len(rec.Discrepancies)

		for i := range rec.Discrepancies {
			d := &rec.Discrepancies[i]
			m.DiscrepancyTypes[d.Type]++
			if d.Severity == SeverityCritical {
				criticalDiscrepancies++
			}
		}
		for i := range rec.Resolutions {
			m.ResolutionTypes[rec.Resolutions[i].ResolutionType]++
		}
		if rec.PharmacistReview != nil {
			recordsWithReview++
		}

		ct := float64(rec.CompletionTimeMinutes())
		completionTimes = append(completionTimes, ct)
		totalCompletion += ct
	}

	if m.TotalReconciliations > 0 {
		m.AverageDiscrepancies = float64(m.TotalDiscrepancies) / float64(m.TotalReconciliations)
		m.AverageCompletionTime = totalCompletion / float64(m.TotalReconciliations)
		m.PharmacistReviewRate = float64(recordsWithReview) / float64(m.TotalReconciliations) * 100
	}
	if m.TotalDiscrepancies > 0 {
		m.CriticalIssueRate = float64(criticalDiscrepancies) / float64(m.TotalDiscrepancies) * 100
	}
	if len(completionTimes) > 0 {
		sorted := append([]float64(nil), completionTimes...)
		sort.Float64s(sorted)
		m.CompletionTimeP50 = percentile(sorted, 50)
		m.CompletionTimeP90 = percentile(sorted, 90)
		m.CompletionTimeP99 = percentile(sorted, 99)
	}

	return m, nil
}

// percentile computes the p-th percentile of ascending-sorted values by
// linear interpolation between ranks: index = (p/100)*(n-1), then
// values[lo]*(hi-index) + values[hi]*(index-lo).
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(index))
	hi := int(math.Ceil(index))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo]*(float64(hi)-index) + sorted[hi]*(index-float64(lo))
}

func activeCount(src MedicationSource) int {
	n := 0
	for i := range src.Medications {
		if src.Medications[i].IsActive {
			n++
		}
	}
	return n
}

// finalMedicationCount is the target list adjusted by the prescription
// changes recorded in resolutions: additions raise it, removals lower it.
func finalMedicationCount(rec *ReconciliationRecord) int {
	n := activeCount(rec.TargetList)
	for i := range rec.Resolutions {
		switch rec.Resolutions[i].ResolutionType {
		case ResolutionMedicationAdded:
			n++
		case ResolutionMedicationRemoved:
			if n > 0 {
				n--
			}
		}
	}
	return n
}
