package reconciliation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultHighRiskIngredients is the built-in set of narrow-therapeutic-index
// ingredients. Matching is by substring containment on the lower-cased
// active ingredient, so "warfarin sodium" is still caught.
var DefaultHighRiskIngredients = []string{
	"warfarin",
	"insulin",
	"digoxin",
	"lithium",
	"phenytoin",
	"carbamazepine",
	"theophylline",
	"methotrexate",
}

var doseNumberPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)`)

// Classifier assigns severity tiers and clinical-significance text to
// detected discrepancies. The high-risk table is injectable so the rule set
// can be updated without code changes.
type Classifier struct {
	highRisk []string
}

// NewClassifier builds a Classifier over the given high-risk ingredient
// table. Entries are lower-cased; an empty table falls back to the default
// set.
func NewClassifier(highRisk []string) *Classifier {
	if len(highRisk) == 0 {
		highRisk = DefaultHighRiskIngredients
	}
	lowered := make([]string, len(highRisk))
	for i, h := range highRisk {
		lowered[i] = strings.ToLower(h)
	}
	return &Classifier{highRisk: lowered}
}

// IsHighRisk reports whether the active ingredient matches the high-risk
// table by substring containment.
func (c *Classifier) IsHighRisk(activeIngredient string) bool {
	ing := strings.ToLower(activeIngredient)
	for _, h := range c.highRisk {
		if strings.Contains(ing, h) {
			return true
		}
	}
	return false
}

// Classify assigns the severity tier for one discrepancy.
func (c *Classifier) Classify(dtype DiscrepancyType, entry MedicationEntry, sourceDosage, targetDosage string) Severity {
	if c.IsHighRisk(entry.ActiveIngredient) {
		if dtype == DiscrepancyOmission {
			return SeverityCritical
		}
		return SeverityHigh
	}

	switch dtype {
	case DiscrepancyOmission:
		if entry.Indication != nil && strings.Contains(strings.ToLower(*entry.Indication), "cardiac") {
			return SeverityHigh
		}
		return SeverityMedium
	case DiscrepancyAddition:
		return SeverityMedium
	case DiscrepancyRouteChange:
		return SeverityHigh
	case DiscrepancyFrequencyChange:
		return SeverityMedium
	case DiscrepancyDoseChange:
		return doseChangeSeverity(sourceDosage, targetDosage)
	default:
		return SeverityMedium
	}
}

// doseChangeSeverity grades a dose change by the percentage delta between the
// leading numeric tokens of the two dosage strings. Boundary values belong to
// the higher band (exactly 50% is critical). If either side fails to parse
// the change cannot be quantified and defaults to medium.
func doseChangeSeverity(sourceDosage, targetDosage string) Severity {
	src, okSrc := leadingDoseValue(sourceDosage)
	tgt, okTgt := leadingDoseValue(targetDosage)
	if !okSrc || !okTgt || src == 0 {
		return SeverityMedium
	}

	changePct := abs(tgt-src) / src * 100
	switch {
	case changePct >= 50:
		return SeverityCritical
	case changePct >= 25:
		return SeverityHigh
	case changePct >= 10:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// leadingDoseValue extracts the first decimal number from a free-text dosage
// string such as "500 mg" or "2.5mg twice daily".
func leadingDoseValue(dosage string) (float64, bool) {
	m := doseNumberPattern.FindString(dosage)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ClinicalSignificance produces the templated risk sentence for one
// discrepancy type.
func (c *Classifier) ClinicalSignificance(dtype DiscrepancyType, entry MedicationEntry) string {
	riskClass := "standard-risk"
	if c.IsHighRisk(entry.ActiveIngredient) {
		riskClass = "high-risk"
	}

	switch dtype {
	case DiscrepancyOmission:
		return fmt.Sprintf("Omission of %s medication %s may lead to loss of therapeutic effect or withdrawal", riskClass, entry.Name)
	case DiscrepancyAddition:
		return fmt.Sprintf("Newly added %s medication %s requires verification of indication and interactions", riskClass, entry.Name)
	case DiscrepancyDoseChange:
		return fmt.Sprintf("Dose change for %s medication %s may alter therapeutic response or cause toxicity", riskClass, entry.Name)
	case DiscrepancyFrequencyChange:
		return fmt.Sprintf("Frequency change for %s medication %s may affect steady-state drug levels", riskClass, entry.Name)
	case DiscrepancyRouteChange:
		return fmt.Sprintf("Route change for %s medication %s may significantly alter bioavailability and therapeutic effect", riskClass, entry.Name)
	default:
		return fmt.Sprintf("Change detected for %s medication %s requires clinical verification", riskClass, entry.Name)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
