// Package pdmp analyzes state registry dispensing history for
// controlled-substance risk patterns and runs the multi-state query
// pipeline that produces them.
package pdmp

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openpharma/rxengine/pkg/dur"
	"github.com/openpharma/rxengine/pkg/model"
)

// Pattern thresholds. Counts are over the full query window; MME and
// overlap are over currently-active prescriptions only.
const (
	PrescriberThreshold = 4
	PharmacyThreshold   = 4
	MMEThreshold        = 90
	OverlapMinDays      = 7
	CashThreshold       = 3
	EarlyRefillFraction = 0.8
)

// Risk weights per detected pattern, capped at 100.
var riskWeights = map[model.PDMPAlertType]int{
	model.PDMPMultiplePrescribers:      15,
	model.PDMPMultiplePharmacies:       15,
	model.PDMPHighMME:                  25,
	model.PDMPDangerousCombination:     30,
	model.PDMPEarlyRefill:              10,
	model.PDMPCashOnly:                 5,
	model.PDMPOverlappingPrescriptions: 10,
	model.PDMPDoctorShopping:           30,
}

type alertTemplate struct {
	severity       model.DURSeverity
	description    string
	recommendation string
}

var alertTable = map[model.PDMPAlertType]alertTemplate{
	model.PDMPMultiplePrescribers: {
		severity:       model.DURHigh,
		description:    "Controlled substances from %d distinct prescribers in the query window",
		recommendation: "Verify coordination of care with each prescriber",
	},
	model.PDMPMultiplePharmacies: {
		severity:       model.DURHigh,
		description:    "Controlled substances filled at %d distinct pharmacies in the query window",
		recommendation: "Confirm the patient's regular pharmacy and reason for switching",
	},
	model.PDMPHighMME: {
		severity:       model.DURHigh,
		description:    "Total daily opioid dose %.1f MME across active prescriptions",
		recommendation: "Review with prescriber; consider taper plan and naloxone co-prescription",
	},
	model.PDMPDangerousCombination: {
		severity:       model.DURCritical,
		description:    "Concurrent active opioid and benzodiazepine therapy",
		recommendation: "Contact prescriber before dispensing; document clinical rationale",
	},
	model.PDMPEarlyRefill: {
		severity:       model.DURModerate,
		description:    "Refill of %s obtained before 80%% of the prior supply elapsed",
		recommendation: "Ask the patient about usage; confirm dose change with prescriber",
	},
	model.PDMPCashOnly: {
		severity:       model.DURModerate,
		description:    "%d cash payments for controlled substances in the query window",
		recommendation: "Review payment history; cash payment can bypass insurer controls",
	},
	model.PDMPOverlappingPrescriptions: {
		severity:       model.DURModerate,
		description:    "Active prescriptions overlap by %d days",
		recommendation: "Confirm intended concurrent therapy with prescribers",
	},
	model.PDMPDoctorShopping: {
		severity:       model.DURCritical,
		description:    "Multiple-prescriber and multiple-pharmacy thresholds both exceeded",
		recommendation: "Do not dispense without prescriber contact; consider reporting per state law",
	},
}

// Analysis is the pure result of pattern detection over one history.
type Analysis struct {
	Alerts    []model.PDMPAlert
	RiskScore int
	RiskLevel model.PDMPRiskLevel

	RequiresPharmacistReview bool
}

// Analyzer detects prescribing patterns in registry records. It is
// pure: no clock, no store, no I/O.
type Analyzer struct {
	engine *dur.Engine
}

// NewAnalyzer builds an Analyzer. A nil engine uses the built-in
// dataset for MME conversion factors.
func NewAnalyzer(engine *dur.Engine) *Analyzer {
	if engine == nil {
		engine = dur.NewEngine(nil)
	}
	return &Analyzer{engine: engine}
}

// Analyze runs all pattern detectors over the records and grades the
// composite risk. now anchors the active-prescription window.
func (a *Analyzer) Analyze(records []model.PDMPRecord, now time.Time) Analysis {
	var alerts []model.PDMPAlert
	add := func(t model.PDMPAlertType, args ...any) {
		tpl := alertTable[t]
		alerts = append(alerts, model.PDMPAlert{
			Type:           t,
			Severity:       tpl.severity,
			Description:    fmt.Sprintf(tpl.description, args...),
			Recommendation: tpl.recommendation,
			RequiresAction: tpl.severity == model.DURCritical,
		})
	}

	prescribers := uniqueCount(records, func(r model.PDMPRecord) string { return r.PrescriberID })
	pharmacies := uniqueCount(records, func(r model.PDMPRecord) string { return r.PharmacyID })
	if prescribers >= PrescriberThreshold {
		add(model.PDMPMultiplePrescribers, prescribers)
	}
	if pharmacies >= PharmacyThreshold {
		add(model.PDMPMultiplePharmacies, pharmacies)
	}

	active := activeRecords(records, now)

	if mme := a.totalDailyMME(active); mme >= MMEThreshold {
		add(model.PDMPHighMME, mme)
	}
	if hasOpioidBenzoOverlap(active) {
		add(model.PDMPDangerousCombination)
	}
	if drug, ok := earlyRefill(records); ok {
		add(model.PDMPEarlyRefill, drug)
	}
	if n := cashCount(records); n >= CashThreshold {
		add(model.PDMPCashOnly, n)
	}
	if days := maxOverlapDays(active); days >= OverlapMinDays {
		add(model.PDMPOverlappingPrescriptions, days)
	}
	if prescribers >= PrescriberThreshold && pharmacies >= PharmacyThreshold {
		add(model.PDMPDoctorShopping)
	}

	score := 0
	for _, al := range alerts {
		score += riskWeights[al.Type]
	}
	if score > 100 {
		score = 100
	}

	level := riskLevel(score)
	return Analysis{
		Alerts:                   alerts,
		RiskScore:                score,
		RiskLevel:                level,
		RequiresPharmacistReview: level == model.PDMPRiskHigh || level == model.PDMPRiskCritical,
	}
}

func riskLevel(score int) model.PDMPRiskLevel {
	switch {
	case score >= 60:
		return model.PDMPRiskCritical
	case score >= 40:
		return model.PDMPRiskHigh
	case score >= 20:
		return model.PDMPRiskModerate
	}
	return model.PDMPRiskLow
}

func uniqueCount(records []model.PDMPRecord, key func(model.PDMPRecord) string) int {
	seen := map[string]struct{}{}
	for _, r := range records {
		if k := key(r); k != "" {
			seen[k] = struct{}{}
		}
	}
	return len(seen)
}

// activeRecords keeps prescriptions whose supply window reaches now.
func activeRecords(records []model.PDMPRecord, now time.Time) []model.PDMPRecord {
	var out []model.PDMPRecord
	for _, r := range records {
		end := r.DispensedDate.AddDate(0, 0, r.DaysSupply)
		if !end.Before(now) {
			out = append(out, r)
		}
	}
	return out
}

func (a *Analyzer) totalDailyMME(active []model.PDMPRecord) float64 {
	total := 0.0
	for _, r := range active {
		total += a.engine.DailyMME(r.DrugName, r.Quantity, r.Strength, r.DaysSupply)
	}
	return total
}

var (
	opioidNames = []string{
		"morphine", "oxycodone", "hydrocodone", "hydromorphone",
		"codeine", "tramadol", "fentanyl", "methadone", "oxymorphone",
	}
	benzoNames = []string{
		"alprazolam", "diazepam", "lorazepam", "clonazepam", "temazepam", "midazolam",
	}
)

func matchesAny(drugName string, names []string) bool {
	lower := strings.ToLower(drugName)
	for _, n := range names {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

// hasOpioidBenzoOverlap reports a concurrently active opioid and
// benzodiazepine, the combination behind most overdose deaths
// involving both classes.
func hasOpioidBenzoOverlap(active []model.PDMPRecord) bool {
	opioid, benzo := false, false
	for _, r := range active {
		if matchesAny(r.DrugName, opioidNames) {
			opioid = true
		}
		if matchesAny(r.DrugName, benzoNames) {
			benzo = true
		}
	}
	return opioid && benzo
}

// earlyRefill finds a same-drug refill dispensed before 80% of the
// prior fill's days supply elapsed. Returns the first offending drug.
func earlyRefill(records []model.PDMPRecord) (string, bool) {
	byDrug := map[string][]model.PDMPRecord{}
	for _, r := range records {
		k := strings.ToLower(r.DrugName)
		byDrug[k] = append(byDrug[k], r)
	}
	drugs := make([]string, 0, len(byDrug))
	for k := range byDrug {
		drugs = append(drugs, k)
	}
	sort.Strings(drugs)

	for _, k := range drugs {
		fills := byDrug[k]
		sort.Slice(fills, func(i, j int) bool {
			return fills[i].DispensedDate.Before(fills[j].DispensedDate)
		})
		for i := 1; i < len(fills); i++ {
			prev := fills[i-1]
			if prev.DaysSupply <= 0 {
				continue
			}
			elapsed := fills[i].DispensedDate.Sub(prev.DispensedDate).Hours() / 24
			if elapsed < EarlyRefillFraction*float64(prev.DaysSupply) {
				return prev.DrugName, true
			}
		}
	}
	return "", false
}

func cashCount(records []model.PDMPRecord) int {
	n := 0
	for _, r := range records {
		if strings.EqualFold(r.PaymentType, "cash") {
			n++
		}
	}
	return n
}

// maxOverlapDays returns the longest pairwise overlap, in whole days,
// between supply windows of active prescriptions for different drugs.
func maxOverlapDays(active []model.PDMPRecord) int {
	max := 0
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			if strings.EqualFold(a.DrugName, b.DrugName) {
				continue
			}
			start := a.DispensedDate
			if b.DispensedDate.After(start) {
				start = b.DispensedDate
			}
			end := a.DispensedDate.AddDate(0, 0, a.DaysSupply)
			if be := b.DispensedDate.AddDate(0, 0, b.DaysSupply); be.Before(end) {
				end = be
			}
			if d := int(end.Sub(start).Hours() / 24); d > max {
				max = d
			}
		}
	}
	return max
}
