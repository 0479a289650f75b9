package dur

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openpharma/rxengine/pkg/model"
)

// Engine evaluates reviews against one immutable dataset. Safe for
// concurrent use.
type Engine struct {
	ds *Dataset
}

// NewEngine builds an Engine over the given dataset, or the compiled-in
// defaults when nil.
func NewEngine(ds *Dataset) *Engine {
	if ds == nil {
		ds = DefaultDataset()
	}
	return &Engine{ds: ds}
}

// Check runs every rule group independently and returns the merged,
// deterministically ordered alert set.
func (e *Engine) Check(in Input) Result {
	var alerts []model.DURAlert

	alerts = append(alerts, e.checkInteractions(in)...)
	alerts = append(alerts, e.checkDuplicateTherapy(in)...)
	alerts = append(alerts, e.checkAllergies(in)...)
	alerts = append(alerts, e.checkContraindications(in)...)
	alerts = append(alerts, e.checkAge(in)...)
	alerts = append(alerts, e.checkRenal(in)...)
	alerts = append(alerts, e.checkHepatic(in)...)
	alerts = append(alerts, e.checkPregnancyNursing(in)...)
	alerts = append(alerts, e.checkMonitoring(in)...)

	dailyMME := e.DailyMME(in.Candidate.Name, in.Quantity, in.Candidate.Strength, in.DaysSupply)
	alerts = append(alerts, mmeAlerts(dailyMME)...)

	sortAlerts(alerts)

	hasHigh := false
	for _, a := range alerts {
		if a.Severity.Rank() >= model.DURHigh.Rank() {
			hasHigh = true
			break
		}
	}
	return Result{
		Alerts:                alerts,
		Passed:                len(alerts) == 0,
		HasHighSeverityAlerts: hasHigh,
		DailyMME:              dailyMME,
	}
}

// sortAlerts orders severity descending, then category lexical, then
// code lexical; stable for equal keys.
func sortAlerts(alerts []model.DURAlert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		return a.Code < b.Code
	})
}

// normalize lowercases and strips non-alphanumerics so that
// "Tylenol PM" matches "tylenolpm".
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// drugMatches applies the table-lookup rule: normalized substring match
// in either direction.
func drugMatches(a, b string) bool {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return false
	}
	return strings.Contains(na, nb) || strings.Contains(nb, na)
}

func (e *Engine) checkInteractions(in Input) []model.DURAlert {
	var out []model.DURAlert
	for _, med := range in.CurrentMedications {
		for _, entry := range e.ds.Interactions {
			hit := (drugMatches(in.Candidate.Name, entry.DrugA) && drugMatches(med.Name, entry.DrugB)) ||
				(drugMatches(in.Candidate.Name, entry.DrugB) && drugMatches(med.Name, entry.DrugA))
			if !hit {
				continue
			}
			out = append(out, model.DURAlert{
				Category:              model.DURInteraction,
				Severity:              entry.Severity,
				Code:                  entry.Code,
				Message:               fmt.Sprintf("%s with %s: %s", entry.DrugA, entry.DrugB, entry.Effect),
				Recommendation:        entry.Recommendation,
				Overridable:           true,
				RequiresDocumentation: entry.Severity.Rank() >= model.DURHigh.Rank(),
			})
		}
	}
	return out
}

func (e *Engine) checkDuplicateTherapy(in Input) []model.DURAlert {
	if in.Candidate.TherapeuticClass == "" {
		return nil
	}
	var out []model.DURAlert
	for _, med := range in.CurrentMedications {
		if med.TherapeuticClass == "" {
			continue
		}
		if normalize(med.TherapeuticClass) != normalize(in.Candidate.TherapeuticClass) {
			continue
		}
		if drugMatches(med.Name, in.Candidate.Name) {
			// Same drug is a refill, not duplicate therapy.
			continue
		}
		out = append(out, model.DURAlert{
			Category:       model.DURDuplicateTherapy,
			Severity:       model.DURModerate,
			Code:           "DUP-001",
			Message:        fmt.Sprintf("Duplicate therapy: %s class already active", in.Candidate.TherapeuticClass),
			Recommendation: "Confirm intent to run two agents of the same class",
			Overridable:    true,
		})
	}
	return out
}

func (e *Engine) checkAllergies(in Input) []model.DURAlert {
	var out []model.DURAlert
	for _, allergen := range in.Allergies {
		if drugMatches(in.Candidate.Name, allergen) {
			out = append(out, model.DURAlert{
				Category:              model.DURAllergy,
				Severity:              model.DURHigh,
				Code:                  "ALG-001",
				Message:               "Documented allergy to " + allergen,
				Recommendation:        "Do not dispense without prescriber confirmation",
				Overridable:           true,
				RequiresDocumentation: true,
			})
			continue
		}
		for _, class := range e.ds.AllergyClasses {
			if !drugMatches(allergen, class.Allergen) {
				continue
			}
			for _, agent := range class.CrossReactive {
				if drugMatches(in.Candidate.Name, agent) {
					out = append(out, model.DURAlert{
						Category:              model.DURAllergy,
						Severity:              class.Severity,
						Code:                  class.Code,
						Message:               fmt.Sprintf("Cross-reactivity: %s allergy vs %s", class.Allergen, agent),
						Recommendation:        "Assess reaction history before dispensing",
						Overridable:           true,
						RequiresDocumentation: class.Severity.Rank() >= model.DURHigh.Rank(),
					})
				}
			}
		}
	}
	return out
}

func (e *Engine) checkContraindications(in Input) []model.DURAlert {
	var out []model.DURAlert
	for _, entry := range e.ds.Contraindications {
		if !drugMatches(in.Candidate.Name, entry.Drug) {
			continue
		}
		for _, cond := range in.Conditions {
			if !conditionMatches(cond, entry.Condition) {
				continue
			}
			rec := "Contact prescriber"
			if len(entry.Alternatives) > 0 {
				rec = "Consider alternatives: " + strings.Join(entry.Alternatives, ", ")
			}
			out = append(out, model.DURAlert{
				Category:              model.DURContraindication,
				Severity:              entry.Severity,
				Code:                  entry.Code,
				Message:               entry.Message,
				Recommendation:        rec,
				Overridable:           false,
				RequiresDocumentation: true,
			})
		}
	}
	return out
}

func (e *Engine) checkAge(in Input) []model.DURAlert {
	var out []model.DURAlert
	for _, entry := range e.ds.Pediatric {
		if in.Age >= entry.MinAge || !drugMatches(in.Candidate.Name, entry.Drug) {
			continue
		}
		if entry.RequiresCondition != "" {
			found := false
			for _, cond := range in.Conditions {
				if conditionMatches(cond, entry.RequiresCondition) {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, model.DURAlert{
			Category:              model.DURAge,
			Severity:              entry.Severity,
			Code:                  entry.Code,
			Message:               entry.Message,
			Recommendation:        "Contact prescriber for pediatric alternative",
			Overridable:           entry.Severity != model.DURCritical,
			RequiresDocumentation: true,
		})
	}

	if in.Age >= 65 {
		for _, drug := range e.ds.BeersList {
			if drugMatches(in.Candidate.Name, drug) {
				out = append(out, model.DURAlert{
					Category:       model.DURAge,
					Severity:       model.DURModerate,
					Code:           "AGE-350",
					Message:        "Beers Criteria: potentially inappropriate in patients 65+",
					Recommendation: "Consider safer alternative per Beers list",
					Overridable:    true,
				})
				break
			}
		}
		for _, drug := range e.ds.FallRisk {
			if drugMatches(in.Candidate.Name, drug) {
				out = append(out, model.DURAlert{
					Category:       model.DURAge,
					Severity:       model.DURLow,
					Code:           "AGE-351",
					Message:        "Fall-risk medication in patient 65+",
					Recommendation: "Counsel on fall precautions",
					Overridable:    true,
				})
				break
			}
		}
	}
	return out
}

func (e *Engine) checkRenal(in Input) []model.DURAlert {
	if in.CrCl == nil {
		return nil
	}
	crcl := *in.CrCl
	var out []model.DURAlert
	for _, entry := range e.ds.Renal {
		if crcl < entry.MinCrCl && drugMatches(in.Candidate.Name, entry.Drug) {
			out = append(out, model.DURAlert{
				Category:              model.DURRenal,
				Severity:              entry.Severity,
				Code:                  entry.Code,
				Message:               entry.Message,
				Recommendation:        "Verify renal dosing with prescriber",
				Overridable:           entry.Severity.Rank() < model.DURHigh.Rank(),
				RequiresDocumentation: true,
			})
		}
	}
	if crcl < 15 {
		out = append(out, model.DURAlert{
			Category:              model.DURRenal,
			Severity:              model.DURHigh,
			Code:                  "REN-400",
			Message:               "CrCl below 15 mL/min: review all renally cleared medications",
			Recommendation:        "Pharmacist review of full profile required",
			Overridable:           true,
			RequiresDocumentation: true,
		})
	}
	return out
}

func (e *Engine) checkHepatic(in Input) []model.DURAlert {
	if in.Hepatic == "" || in.Hepatic == model.HepaticNone {
		return nil
	}
	severity := model.DURModerate
	switch in.Hepatic {
	case model.HepaticModerate:
		severity = model.DURHigh
	case model.HepaticSevere:
		severity = model.DURCritical
	}
	var out []model.DURAlert
	for _, entry := range e.ds.Hepatic {
		if drugMatches(in.Candidate.Name, entry.Drug) {
			out = append(out, model.DURAlert{
				Category:              model.DURHepatic,
				Severity:              severity,
				Code:                  entry.Code,
				Message:               fmt.Sprintf("Hepatic concern with %s impairment", in.Hepatic),
				Recommendation:        "Confirm hepatic dosing with prescriber",
				Overridable:           severity != model.DURCritical,
				RequiresDocumentation: true,
			})
		}
	}
	return out
}

func (e *Engine) checkPregnancyNursing(in Input) []model.DURAlert {
	var out []model.DURAlert
	if in.Pregnant {
		for _, drug := range e.ds.PregnancyX {
			if drugMatches(in.Candidate.Name, drug) {
				out = append(out, model.DURAlert{
					Category:              model.DURPregnancy,
					Severity:              model.DURHigh,
					Code:                  "PRG-701",
					Message:               "Pregnancy Category X: fetal risk outweighs any benefit",
					Recommendation:        "Do not dispense; contact prescriber",
					Overridable:           false,
					RequiresDocumentation: true,
				})
			}
		}
		for _, drug := range e.ds.PregnancyD {
			if drugMatches(in.Candidate.Name, drug) {
				out = append(out, model.DURAlert{
					Category:              model.DURPregnancy,
					Severity:              model.DURHigh,
					Code:                  "PRG-702",
					Message:               "Pregnancy Category D: positive evidence of fetal risk",
					Recommendation:        "Confirm risk/benefit with prescriber",
					Overridable:           true,
					RequiresDocumentation: true,
				})
			}
		}
	}
	if in.Nursing {
		for _, drug := range e.ds.NursingAvoid {
			if drugMatches(in.Candidate.Name, drug) {
				out = append(out, model.DURAlert{
					Category:              model.DURNursing,
					Severity:              model.DURHigh,
					Code:                  "NRS-703",
					Message:               "Avoid while nursing: infant exposure risk",
					Recommendation:        "Contact prescriber for alternative",
					Overridable:           false,
					RequiresDocumentation: true,
				})
			}
		}
	}
	return out
}

func (e *Engine) checkMonitoring(in Input) []model.DURAlert {
	var out []model.DURAlert
	for _, entry := range e.ds.Monitoring {
		if drugMatches(in.Candidate.Name, entry.Drug) {
			out = append(out, model.DURAlert{
				Category:       model.DURMonitoring,
				Severity:       model.DURLow,
				Code:           entry.Code,
				Message:        "Monitoring required: " + strings.Join(entry.Parameters, ", "),
				Recommendation: "Frequency: " + entry.Frequency,
				Overridable:    true,
			})
		}
	}
	return out
}

// conditionMatches compares patient conditions against table entries
// with the same normalization as drug names, substring either way.
func conditionMatches(patientCond, tableCond string) bool {
	return drugMatches(patientCond, tableCond)
}
