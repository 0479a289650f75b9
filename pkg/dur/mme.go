package dur

import (
	"fmt"

	"github.com/openpharma/rxengine/pkg/model"
)

// MME thresholds per CDC guidance.
const (
	MMEWarning  = 50
	MMEDanger   = 90
	MMECritical = 120
)

// methadoneFactor returns the dose-dependent conversion factor for
// methadone: the factor is selected by the total daily dose in mg.
func methadoneFactor(dailyDoseMg float64) float64 {
	switch {
	case dailyDoseMg <= 20:
		return 4
	case dailyDoseMg <= 40:
		return 8
	case dailyDoseMg <= 60:
		return 10
	default:
		return 12
	}
}

// DailyMME computes morphine milligram equivalents per day:
// dailyDose = quantity × strength / daysSupply, dailyMME = dailyDose ×
// factor. Returns 0 for non-opioids or degenerate inputs.
func (e *Engine) DailyMME(drugName string, quantity, strengthMg float64, daysSupply int) float64 {
	if daysSupply <= 0 || quantity <= 0 || strengthMg <= 0 {
		return 0
	}
	dailyDose := quantity * strengthMg / float64(daysSupply)

	if drugMatches(drugName, "methadone") {
		return dailyDose * methadoneFactor(dailyDose)
	}
	for _, entry := range e.ds.MMEFactors {
		if drugMatches(drugName, entry.Drug) {
			return dailyDose * entry.Factor
		}
	}
	return 0
}

// mmeAlerts grades a computed daily MME against the thresholds.
func mmeAlerts(dailyMME float64) []model.DURAlert {
	if dailyMME <= 0 {
		return nil
	}
	var (
		severity model.DURSeverity
		code     string
	)
	switch {
	case dailyMME >= MMECritical:
		severity, code = model.DURCritical, "MME-903"
	case dailyMME >= MMEDanger:
		severity, code = model.DURHigh, "MME-902"
	case dailyMME >= MMEWarning:
		severity, code = model.DURModerate, "MME-901"
	default:
		return nil
	}
	return []model.DURAlert{{
		Category:              model.DUROpioidDose,
		Severity:              severity,
		Code:                  code,
		Message:               fmt.Sprintf("Daily opioid dose %.1f MME", dailyMME),
		Recommendation:        "Review with prescriber; consider naloxone co-prescription",
		Overridable:           true,
		RequiresDocumentation: severity.Rank() >= model.DURHigh.Rank(),
	}}
}
