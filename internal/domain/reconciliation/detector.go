package reconciliation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Detector diffs two medication sources and emits severity-scored
// discrepancies. It is pure: no I/O, deterministic output order (source-order
// omissions and field changes first, then target-order additions).
type Detector struct {
	classifier *Classifier
}

// NewDetector builds a Detector around the given classifier.
func NewDetector(classifier *Classifier) *Detector {
	return &Detector{classifier: classifier}
}

// ingredientKey is the cross-list matching key: the lower-cased active
// ingredient, independent of brand name.
func ingredientKey(e MedicationEntry) string {
	return strings.ToLower(e.ActiveIngredient)
}

// activeByKey indexes the active entries of a source by ingredient key.
// Inactive and historical entries never generate discrepancies.
func activeByKey(src MedicationSource) map[string]MedicationEntry {
	m := make(map[string]MedicationEntry, len(src.Medications))
	for _, e := range src.Medications {
		if e.IsActive {
			m[ingredientKey(e)] = e
		}
	}
	return m
}

// Detect compares source against target and returns every difference as a
// classified discrepancy, attributed to identifiedBy and timestamped at now.
func (d *Detector) Detect(source, target MedicationSource, identifiedBy string, now time.Time) []Discrepancy {
	sourceMap := activeByKey(source)
	targetMap := activeByKey(target)

	var found []Discrepancy

	for _, entry := range source.Medications {
		if !entry.IsActive {
			continue
		}
		key := ingredientKey(entry)
		targetEntry, present := targetMap[key]
		if !present {
			found = append(found, d.newDiscrepancy(DiscrepancyOmission, entry, "", "", identifiedBy, now))
			continue
		}

		if entry.Dosage != targetEntry.Dosage {
			found = append(found, d.newDiscrepancy(DiscrepancyDoseChange, entry, entry.Dosage, targetEntry.Dosage, identifiedBy, now))
		}
		if entry.Frequency != targetEntry.Frequency {
			found = append(found, d.newDiscrepancy(DiscrepancyFrequencyChange, entry, entry.Frequency, targetEntry.Frequency, identifiedBy, now))
		}
		if entry.Route != targetEntry.Route {
			found = append(found, d.newDiscrepancy(DiscrepancyRouteChange, entry, entry.Route, targetEntry.Route, identifiedBy, now))
		}
	}

	for _, entry := range target.Medications {
		if !entry.IsActive {
			continue
		}
		if _, present := sourceMap[ingredientKey(entry)]; !present {
			found = append(found, d.newDiscrepancy(DiscrepancyAddition, entry, "", "", identifiedBy, now))
		}
	}

	return found
}

func (d *Detector) newDiscrepancy(dtype DiscrepancyType, entry MedicationEntry, sourceVal, targetVal, identifiedBy string, now time.Time) Discrepancy {
	disc := Discrepancy{
		ID:             uuid.New(),
		Type:           dtype,
		MedicationName: entry.Name,
		IdentifiedBy:   identifiedBy,
		IdentifiedDate: now,
		Status:         DiscrepancyIdentified,
		RequiresAction: true,
	}

	switch dtype {
	case DiscrepancyOmission:
		disc.SourceValue = strPtr(fmt.Sprintf("%s %s", entry.Dosage, entry.Frequency))
		disc.TargetValue = strPtr("Not prescribed")
		disc.Description = fmt.Sprintf("%s present on source list but missing from target list", entry.Name)
		disc.Severity = d.classifier.Classify(DiscrepancyOmission, entry, "", "")
	case DiscrepancyAddition:
		disc.SourceValue = strPtr("Not prescribed")
		disc.TargetValue = strPtr(fmt.Sprintf("%s %s", entry.Dosage, entry.Frequency))
		disc.Description = fmt.Sprintf("%s present on target list but missing from source list", entry.Name)
		disc.Severity = d.classifier.Classify(DiscrepancyAddition, entry, "", "")
	case DiscrepancyDoseChange:
		disc.SourceValue = strPtr(sourceVal)
		disc.TargetValue = strPtr(targetVal)
		disc.Description = fmt.Sprintf("Dosage of %s differs between lists: %q vs %q", entry.Name, sourceVal, targetVal)
		disc.Severity = d.classifier.Classify(DiscrepancyDoseChange, entry, sourceVal, targetVal)
	case DiscrepancyFrequencyChange:
		disc.SourceValue = strPtr(sourceVal)
		disc.TargetValue = strPtr(targetVal)
		disc.Description = fmt.Sprintf("Frequency of %s differs between lists: %q vs %q", entry.Name, sourceVal, targetVal)
		disc.Severity = d.classifier.Classify(DiscrepancyFrequencyChange, entry, "", "")
	case DiscrepancyRouteChange:
		disc.SourceValue = strPtr(sourceVal)
		disc.TargetValue = strPtr(targetVal)
		disc.Description = fmt.Sprintf("Route of %s differs between lists: %q vs %q", entry.Name, sourceVal, targetVal)
		disc.Severity = d.classifier.Classify(DiscrepancyRouteChange, entry, "", "")
	}

	disc.ClinicalSignificance = d.classifier.ClinicalSignificance(dtype, entry)
	return disc
}

// RequiresPharmacistReview reports whether the detected set of discrepancies
// crosses the risk threshold for a mandatory pharmacist sign-off: any high or
// critical finding, or a medium-severity omission.
func RequiresPharmacistReview(discrepancies []Discrepancy) bool {
	for i := range discrepancies {
		d := &discrepancies[i]
		if d.Severity == SeverityCritical || d.Severity == SeverityHigh {
			return true
		}
		if d.Type == DiscrepancyOmission && d.Severity == SeverityMedium {
			return true
		}
	}
	return false
}
