package dur_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpharma/rxengine/pkg/dur"
	"github.com/openpharma/rxengine/pkg/model"
)

func newEngine() *dur.Engine { return dur.NewEngine(nil) }

func TestCheck_CleanProfile(t *testing.T) {
	res := newEngine().Check(dur.Input{
		Candidate:  dur.Candidate{Name: "Lisinopril", TherapeuticClass: "ACE inhibitor", Strength: 10},
		Quantity:   30,
		DaysSupply: 30,
		Age:        54,
	})
	assert.True(t, res.Passed)
	assert.False(t, res.HasHighSeverityAlerts)
	assert.Empty(t, res.Alerts)
}

func TestCheck_SerotoninSyndrome(t *testing.T) {
	res := newEngine().Check(dur.Input{
		Candidate:          dur.Candidate{Name: "Tramadol", Strength: 50},
		Quantity:           30,
		DaysSupply:         10,
		CurrentMedications: []dur.Medication{{Name: "Sertraline"}},
		Age:                40,
	})
	require.False(t, res.Passed)
	assert.True(t, res.HasHighSeverityAlerts)

	found := false
	for _, a := range res.Alerts {
		if a.Category == model.DURInteraction && a.Severity == model.DURHigh {
			assert.Contains(t, a.Message, "serotonin syndrome")
			assert.True(t, a.Overridable)
			found = true
		}
	}
	assert.True(t, found, "expected high interaction alert")
}

func TestCheck_InteractionMatchesEitherDirection(t *testing.T) {
	e := newEngine()
	// Candidate sertraline against active tramadol hits the same row.
	res := e.Check(dur.Input{
		Candidate:          dur.Candidate{Name: "Sertraline HCl"},
		CurrentMedications: []dur.Medication{{Name: "tramadol 50mg"}},
		Quantity:           30, DaysSupply: 30, Age: 40,
	})
	assert.True(t, res.HasHighSeverityAlerts)
}

func TestCheck_DuplicateTherapy(t *testing.T) {
	res := newEngine().Check(dur.Input{
		Candidate:          dur.Candidate{Name: "Escitalopram", TherapeuticClass: "SSRI"},
		CurrentMedications: []dur.Medication{{Name: "Sertraline", TherapeuticClass: "SSRI"}},
		Quantity:           30, DaysSupply: 30, Age: 40,
	})
	var dup *model.DURAlert
	for i := range res.Alerts {
		if res.Alerts[i].Category == model.DURDuplicateTherapy {
			dup = &res.Alerts[i]
		}
	}
	require.NotNil(t, dup)
	assert.Equal(t, model.DURModerate, dup.Severity)
	assert.Contains(t, dup.Message, "Duplicate therapy")
}

func TestCheck_DuplicateTherapy_SameDrugIsNotDuplicate(t *testing.T) {
	res := newEngine().Check(dur.Input{
		Candidate:          dur.Candidate{Name: "Sertraline", TherapeuticClass: "SSRI"},
		CurrentMedications: []dur.Medication{{Name: "Sertraline", TherapeuticClass: "SSRI"}},
		Quantity:           30, DaysSupply: 30, Age: 40,
	})
	for _, a := range res.Alerts {
		assert.NotEqual(t, model.DURDuplicateTherapy, a.Category)
	}
}

func TestCheck_DirectAllergy(t *testing.T) {
	res := newEngine().Check(dur.Input{
		Candidate: dur.Candidate{Name: "Amoxicillin"},
		Allergies: []string{"amoxicillin"},
		Quantity:  20, DaysSupply: 10, Age: 30,
	})
	require.False(t, res.Passed)
	assert.Equal(t, model.DURAllergy, res.Alerts[0].Category)
	assert.Equal(t, model.DURHigh, res.Alerts[0].Severity)
}

func TestCheck_PenicillinCrossReactivity(t *testing.T) {
	res := newEngine().Check(dur.Input{
		Candidate: dur.Candidate{Name: "Cephalexin"},
		Allergies: []string{"Penicillin"},
		Quantity:  28, DaysSupply: 7, Age: 30,
	})
	require.False(t, res.Passed)
	found := false
	for _, a := range res.Alerts {
		if a.Category == model.DURAllergy {
			assert.Contains(t, a.Message, "Cross-reactivity")
			found = true
		}
	}
	assert.True(t, found)
}

func TestCheck_SulfaThiazideCrossReactivity(t *testing.T) {
	res := newEngine().Check(dur.Input{
		Candidate: dur.Candidate{Name: "Hydrochlorothiazide"},
		Allergies: []string{"sulfa"},
		Quantity:  30, DaysSupply: 30, Age: 50,
	})
	assert.False(t, res.Passed)
}

func TestCheck_ContraindicationNonOverridable(t *testing.T) {
	res := newEngine().Check(dur.Input{
		Candidate:  dur.Candidate{Name: "Propranolol"},
		Conditions: []string{"Asthma"},
		Quantity:   30, DaysSupply: 30, Age: 45,
	})
	require.False(t, res.Passed)
	var ci *model.DURAlert
	for i := range res.Alerts {
		if res.Alerts[i].Category == model.DURContraindication {
			ci = &res.Alerts[i]
		}
	}
	require.NotNil(t, ci)
	assert.False(t, ci.Overridable)
	assert.Contains(t, ci.Recommendation, "metoprolol")
}

func TestCheck_PediatricFluoroquinolone(t *testing.T) {
	res := newEngine().Check(dur.Input{
		Candidate: dur.Candidate{Name: "Ciprofloxacin"},
		Quantity:  14, DaysSupply: 7, Age: 15,
	})
	require.False(t, res.Passed)
	assert.Equal(t, model.DURAge, res.Alerts[0].Category)
	assert.Equal(t, model.DURHigh, res.Alerts[0].Severity)
}

func TestCheck_AspirinReyeRequiresViralIllness(t *testing.T) {
	e := newEngine()
	base := dur.Input{
		Candidate: dur.Candidate{Name: "Aspirin"},
		Quantity:  30, DaysSupply: 30, Age: 12,
	}
	res := e.Check(base)
	for _, a := range res.Alerts {
		assert.NotEqual(t, "AGE-305", a.Code, "no viral illness, no Reye alert")
	}

	base.Conditions = []string{"viral illness"}
	res = e.Check(base)
	found := false
	for _, a := range res.Alerts {
		if a.Code == "AGE-305" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCheck_GeriatricBeersAndFallRisk(t *testing.T) {
	res := newEngine().Check(dur.Input{
		Candidate: dur.Candidate{Name: "Diazepam"},
		Quantity:  30, DaysSupply: 30, Age: 72,
	})
	codes := map[string]model.DURSeverity{}
	for _, a := range res.Alerts {
		codes[a.Code] = a.Severity
	}
	assert.Equal(t, model.DURModerate, codes["AGE-350"])
	assert.Equal(t, model.DURLow, codes["AGE-351"])
}

func TestCheck_RenalMetformin(t *testing.T) {
	crcl := 25.0
	res := newEngine().Check(dur.Input{
		Candidate: dur.Candidate{Name: "Metformin"},
		CrCl:      &crcl,
		Quantity:  60, DaysSupply: 30, Age: 60,
	})
	require.False(t, res.Passed)
	assert.Equal(t, model.DURRenal, res.Alerts[0].Category)
	assert.Equal(t, model.DURHigh, res.Alerts[0].Severity)
}

func TestCheck_GlobalLowCrCl(t *testing.T) {
	crcl := 12.0
	res := newEngine().Check(dur.Input{
		Candidate: dur.Candidate{Name: "Lisinopril"},
		CrCl:      &crcl,
		Quantity:  30, DaysSupply: 30, Age: 70,
	})
	found := false
	for _, a := range res.Alerts {
		if a.Code == "REN-400" {
			assert.Equal(t, model.DURHigh, a.Severity)
			found = true
		}
	}
	assert.True(t, found)
}

func TestCheck_HepaticEscalation(t *testing.T) {
	e := newEngine()
	mk := func(level model.HepaticImpairment) dur.Input {
		return dur.Input{
			Candidate: dur.Candidate{Name: "Simvastatin"},
			Hepatic:   level,
			Quantity:  30, DaysSupply: 30, Age: 55,
		}
	}
	assert.Equal(t, model.DURModerate, e.Check(mk(model.HepaticMild)).Alerts[0].Severity)
	assert.Equal(t, model.DURHigh, e.Check(mk(model.HepaticModerate)).Alerts[0].Severity)
	assert.Equal(t, model.DURCritical, e.Check(mk(model.HepaticSevere)).Alerts[0].Severity)
	assert.True(t, e.Check(mk(model.HepaticNone)).Passed)
}

func TestCheck_PregnancyCategoryX(t *testing.T) {
	res := newEngine().Check(dur.Input{
		Candidate: dur.Candidate{Name: "Isotretinoin"},
		Pregnant:  true,
		Quantity:  30, DaysSupply: 30, Age: 28,
	})
	require.False(t, res.Passed)
	assert.Equal(t, "PRG-701", res.Alerts[0].Code)
	assert.False(t, res.Alerts[0].Overridable)
}

func TestCheck_PregnancyCategoryDOverridable(t *testing.T) {
	res := newEngine().Check(dur.Input{
		Candidate: dur.Candidate{Name: "Lisinopril"},
		Pregnant:  true,
		Quantity:  30, DaysSupply: 30, Age: 30,
	})
	require.False(t, res.Passed)
	assert.Equal(t, "PRG-702", res.Alerts[0].Code)
	assert.True(t, res.Alerts[0].Overridable)
}

func TestCheck_NursingAvoidNonOverridable(t *testing.T) {
	res := newEngine().Check(dur.Input{
		Candidate: dur.Candidate{Name: "Codeine"},
		Nursing:   true,
		Quantity:  20, DaysSupply: 5, Age: 30,
	})
	found := false
	for _, a := range res.Alerts {
		if a.Category == model.DURNursing {
			assert.False(t, a.Overridable)
			found = true
		}
	}
	assert.True(t, found)
}

func TestCheck_MonitoringInformational(t *testing.T) {
	res := newEngine().Check(dur.Input{
		Candidate: dur.Candidate{Name: "Warfarin"},
		Quantity:  30, DaysSupply: 30, Age: 60,
	})
	found := false
	for _, a := range res.Alerts {
		if a.Category == model.DURMonitoring {
			assert.Equal(t, model.DURLow, a.Severity)
			assert.Contains(t, a.Message, "INR")
			found = true
		}
	}
	assert.True(t, found)
}

func TestCheck_AlertOrderingDeterministic(t *testing.T) {
	e := newEngine()
	in := dur.Input{
		Candidate:          dur.Candidate{Name: "Warfarin"},
		CurrentMedications: []dur.Medication{{Name: "Ibuprofen"}, {Name: "Aspirin"}},
		Allergies:          []string{"aspirin"},
		Pregnant:           true,
		Quantity:           30, DaysSupply: 30, Age: 70,
	}
	first := e.Check(in)
	for i := 0; i < 5; i++ {
		again := e.Check(in)
		require.Equal(t, first.Alerts, again.Alerts, "ordering must be stable across runs")
	}
	// Severity non-increasing; category then code lexical within ties.
	for i := 1; i < len(first.Alerts); i++ {
		prev, cur := first.Alerts[i-1], first.Alerts[i]
		require.GreaterOrEqual(t, prev.Severity.Rank(), cur.Severity.Rank())
		if prev.Severity == cur.Severity {
			if prev.Category == cur.Category {
				require.LessOrEqual(t, prev.Code, cur.Code)
			} else {
				require.Less(t, string(prev.Category), string(cur.Category))
			}
		}
	}
}
