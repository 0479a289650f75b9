package dur_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpharma/rxengine/pkg/dur"
	"github.com/openpharma/rxengine/pkg/model"
)

const minimalBundle = `
manifest:
  name: curated
  version: 1.2.0
interactions:
  - drug_a: warfarin
    drug_b: fluconazole
    severity: high
    code: DDI-005
    effect: CYP2C9 inhibition raises INR
override_codes: ["M0", "99"]
`

func TestParseDataset(t *testing.T) {
	ds, err := dur.ParseDataset([]byte(minimalBundle))
	require.NoError(t, err)
	assert.Equal(t, "curated", ds.Manifest.Name)
	require.Len(t, ds.Interactions, 1)
	assert.Equal(t, model.DURHigh, ds.Interactions[0].Severity)
	assert.Equal(t, []string{"M0", "99"}, ds.OverrideCodes)
}

func TestParseDataset_EngineUsesBundle(t *testing.T) {
	ds, err := dur.ParseDataset([]byte(minimalBundle))
	require.NoError(t, err)
	e := dur.NewEngine(ds)
	res := e.Check(dur.Input{
		Candidate:          dur.Candidate{Name: "Warfarin"},
		CurrentMedications: []dur.Medication{{Name: "Fluconazole"}},
		Quantity:           30, DaysSupply: 30, Age: 60,
	})
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, "DDI-005", res.Alerts[0].Code)
}

func TestDatasetValidate_VersionGate(t *testing.T) {
	cases := []struct {
		version string
		ok      bool
	}{
		{"1.0.0", true},
		{"1.9.3", true},
		{"2.0.0", false},
		{"0.9.0", false},
		{"", false},
		{"not-semver", false},
	}
	for _, tc := range cases {
		ds := dur.DefaultDataset()
		ds.Manifest.Version = tc.version
		err := ds.Validate()
		if tc.ok {
			assert.NoError(t, err, "version %q", tc.version)
		} else {
			assert.Error(t, err, "version %q", tc.version)
		}
	}
}

func TestDatasetValidate_EmptyOverrideCodes(t *testing.T) {
	ds := dur.DefaultDataset()
	ds.OverrideCodes = nil
	assert.Error(t, ds.Validate())
}

func TestDefaultDataset_Valid(t *testing.T) {
	assert.NoError(t, dur.DefaultDataset().Validate())
}

func TestParseDataset_BadYAML(t *testing.T) {
	_, err := dur.ParseDataset([]byte("{not yaml:::"))
	assert.Error(t, err)
}
