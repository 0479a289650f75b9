package pdmp_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/pdmp"
)

var now = time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)

func rec(drug string, strength, qty float64, ds int, dispensedDaysAgo int, prescriber, pharmacy, payment string) model.PDMPRecord {
	return model.PDMPRecord{
		DrugName:      drug,
		Quantity:      qty,
		DaysSupply:    ds,
		Strength:      strength,
		DispensedDate: now.AddDate(0, 0, -dispensedDaysAgo),
		PrescriberID:  prescriber,
		PharmacyID:    pharmacy,
		PaymentType:   payment,
		State:         "OH",
	}
}

func alertTypes(alerts []model.PDMPAlert) []model.PDMPAlertType {
	out := make([]model.PDMPAlertType, len(alerts))
	for i, a := range alerts {
		out[i] = a.Type
	}
	return out
}

func findAlert(t *testing.T, alerts []model.PDMPAlert, typ model.PDMPAlertType) model.PDMPAlert {
	t.Helper()
	for _, a := range alerts {
		if a.Type == typ {
			return a
		}
	}
	t.Fatalf("alert %s not found", typ)
	return model.PDMPAlert{}
}

func TestAnalyze_CleanHistory(t *testing.T) {
	a := pdmp.NewAnalyzer(nil)
	res := a.Analyze([]model.PDMPRecord{
		rec("Tramadol 50mg", 50, 30, 10, 60, "dr-1", "ph-1", "insurance"),
	}, now)

	assert.Empty(t, res.Alerts)
	assert.Equal(t, 0, res.RiskScore)
	assert.Equal(t, model.PDMPRiskLow, res.RiskLevel)
	assert.False(t, res.RequiresPharmacistReview)
}

// Twelve months of history: five prescribers, four pharmacies, 95 MME
// across active fills, and an eight-day overlap.
func TestAnalyze_DoctorShoppingComposite(t *testing.T) {
	a := pdmp.NewAnalyzer(nil)
	records := []model.PDMPRecord{
		rec("Oxycodone 10mg", 10, 120, 30, 25, "dr-1", "ph-1", "insurance"),
		rec("Morphine 15mg", 15, 70, 30, 3, "dr-2", "ph-2", "insurance"),
		rec("Hydrocodone 5mg", 5, 30, 10, 120, "dr-3", "ph-3", "insurance"),
		rec("Tramadol 50mg", 50, 30, 10, 200, "dr-4", "ph-4", "insurance"),
		rec("Codeine 30mg", 30, 20, 5, 300, "dr-5", "ph-1", "insurance"),
	}

	res := a.Analyze(records, now)

	assert.Equal(t, 95, res.RiskScore)
	assert.Equal(t, model.PDMPRiskCritical, res.RiskLevel)
	assert.True(t, res.RequiresPharmacistReview)

	types := alertTypes(res.Alerts)
	assert.Contains(t, types, model.PDMPMultiplePrescribers)
	assert.Contains(t, types, model.PDMPMultiplePharmacies)
	assert.Contains(t, types, model.PDMPHighMME)
	assert.Contains(t, types, model.PDMPOverlappingPrescriptions)
	assert.Contains(t, types, model.PDMPDoctorShopping)
	assert.Len(t, res.Alerts, 5)

	shopping := findAlert(t, res.Alerts, model.PDMPDoctorShopping)
	assert.Equal(t, model.DURCritical, shopping.Severity)
	assert.True(t, shopping.RequiresAction)

	mme := findAlert(t, res.Alerts, model.PDMPHighMME)
	assert.Contains(t, mme.Description, "95.0 MME")
}

func TestAnalyze_EarlyRefill(t *testing.T) {
	a := pdmp.NewAnalyzer(nil)
	records := []model.PDMPRecord{
		rec("Alprazolam 1mg", 1, 30, 30, 30, "dr-1", "ph-1", "insurance"),
		// Second fill at day 20 of a 30-day supply, before the 80% mark.
		rec("Alprazolam 1mg", 1, 30, 30, 10, "dr-1", "ph-1", "insurance"),
	}

	res := a.Analyze(records, now)

	types := alertTypes(res.Alerts)
	assert.Contains(t, types, model.PDMPEarlyRefill)
	assert.Equal(t, 10, res.RiskScore)
	assert.Equal(t, model.PDMPRiskLow, res.RiskLevel)
}

func TestAnalyze_NoEarlyRefillAtEightyPercent(t *testing.T) {
	a := pdmp.NewAnalyzer(nil)
	records := []model.PDMPRecord{
		rec("Alprazolam 1mg", 1, 30, 30, 54, "dr-1", "ph-1", "insurance"),
		rec("Alprazolam 1mg", 1, 30, 30, 30, "dr-1", "ph-1", "insurance"),
	}

	res := a.Analyze(records, now)
	assert.NotContains(t, alertTypes(res.Alerts), model.PDMPEarlyRefill)
}

func TestAnalyze_CashOnly(t *testing.T) {
	a := pdmp.NewAnalyzer(nil)
	two := []model.PDMPRecord{
		rec("Tramadol 50mg", 50, 30, 10, 90, "dr-1", "ph-1", "cash"),
		rec("Tramadol 50mg", 50, 30, 10, 60, "dr-1", "ph-1", "cash"),
	}
	res := a.Analyze(two, now)
	assert.NotContains(t, alertTypes(res.Alerts), model.PDMPCashOnly)

	three := append(two, rec("Tramadol 50mg", 50, 30, 10, 30, "dr-1", "ph-1", "CASH"))
	res = a.Analyze(three, now)
	assert.Contains(t, alertTypes(res.Alerts), model.PDMPCashOnly)
}

func TestAnalyze_DangerousCombination(t *testing.T) {
	a := pdmp.NewAnalyzer(nil)
	records := []model.PDMPRecord{
		rec("Oxycodone 5mg", 5, 60, 30, 5, "dr-1", "ph-1", "insurance"),
		rec("Alprazolam 1mg", 1, 30, 30, 2, "dr-1", "ph-1", "insurance"),
	}

	res := a.Analyze(records, now)

	types := alertTypes(res.Alerts)
	assert.Contains(t, types, model.PDMPDangerousCombination)
	assert.Contains(t, types, model.PDMPOverlappingPrescriptions)
	assert.Equal(t, 40, res.RiskScore)
	assert.Equal(t, model.PDMPRiskHigh, res.RiskLevel)
	assert.True(t, res.RequiresPharmacistReview)

	combo := findAlert(t, res.Alerts, model.PDMPDangerousCombination)
	assert.True(t, combo.RequiresAction)
}

func TestAnalyze_CombinationRequiresBothActive(t *testing.T) {
	a := pdmp.NewAnalyzer(nil)
	records := []model.PDMPRecord{
		// Benzodiazepine supply exhausted months before the opioid fill.
		rec("Alprazolam 1mg", 1, 30, 30, 120, "dr-1", "ph-1", "insurance"),
		rec("Oxycodone 5mg", 5, 60, 30, 5, "dr-1", "ph-1", "insurance"),
	}

	res := a.Analyze(records, now)
	assert.NotContains(t, alertTypes(res.Alerts), model.PDMPDangerousCombination)
}

func TestAnalyze_MMECountsActiveOnly(t *testing.T) {
	a := pdmp.NewAnalyzer(nil)
	records := []model.PDMPRecord{
		// Massive historical fill whose supply window has closed.
		rec("Morphine 30mg", 30, 240, 30, 90, "dr-1", "ph-1", "insurance"),
		rec("Tramadol 50mg", 50, 30, 10, 5, "dr-1", "ph-1", "insurance"),
	}

	res := a.Analyze(records, now)
	assert.NotContains(t, alertTypes(res.Alerts), model.PDMPHighMME)
}

func TestAnalyze_ScoreCappedAtHundred(t *testing.T) {
	a := pdmp.NewAnalyzer(nil)
	records := []model.PDMPRecord{
		rec("Oxycodone 30mg", 30, 120, 30, 10, "dr-1", "ph-1", "cash"),
		rec("Alprazolam 1mg", 1, 30, 30, 8, "dr-2", "ph-2", "cash"),
		rec("Oxycodone 30mg", 30, 90, 30, 30, "dr-3", "ph-3", "cash"),
		rec("Hydrocodone 5mg", 5, 30, 10, 100, "dr-4", "ph-4", "insurance"),
	}

	res := a.Analyze(records, now)

	require.Len(t, res.Alerts, 8)
	assert.Equal(t, 100, res.RiskScore)
	assert.Equal(t, model.PDMPRiskCritical, res.RiskLevel)
}

func TestAnalyze_PrescriberThreshold(t *testing.T) {
	a := pdmp.NewAnalyzer(nil)
	var records []model.PDMPRecord
	for i := 0; i < 3; i++ {
		records = append(records, rec("Tramadol 50mg", 50, 30, 10, 100+30*i,
			"dr-"+string(rune('1'+i)), "ph-1", "insurance"))
	}

	res := a.Analyze(records, now)
	assert.NotContains(t, alertTypes(res.Alerts), model.PDMPMultiplePrescribers)

	records = append(records, rec("Tramadol 50mg", 50, 30, 10, 220, "dr-4", "ph-1", "insurance"))
	res = a.Analyze(records, now)
	assert.Contains(t, alertTypes(res.Alerts), model.PDMPMultiplePrescribers)
}
