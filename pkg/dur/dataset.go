package dur

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/openpharma/rxengine/pkg/model"
)

// DatasetConstraint is the semver range the engine accepts for a loaded
// clinical dataset. Major bumps change table semantics and require a
// code review.
const DatasetConstraint = ">= 1.0.0, < 2.0.0"

// Dataset is the curated clinical reference data the engine evaluates
// against. It ships with compiled-in defaults and can be replaced by a
// YAML bundle at startup; the rule code never hard-codes clinical facts.
type Dataset struct {
	Manifest Manifest `yaml:"manifest"`

	Interactions      []InteractionEntry      `yaml:"interactions"`
	AllergyClasses    []AllergyClassEntry     `yaml:"allergy_classes"`
	Contraindications []ContraindicationEntry `yaml:"contraindications"`
	Pediatric         []PediatricEntry        `yaml:"pediatric"`
	BeersList         []string                `yaml:"beers_list"`
	FallRisk          []string                `yaml:"fall_risk"`
	Renal             []RenalEntry            `yaml:"renal"`
	Hepatic           []HepaticEntry          `yaml:"hepatic"`
	PregnancyX        []string                `yaml:"pregnancy_x"`
	PregnancyD        []string                `yaml:"pregnancy_d"`
	NursingAvoid      []string                `yaml:"nursing_avoid"`
	Monitoring        []MonitoringEntry       `yaml:"monitoring"`
	MMEFactors        []MMEFactorEntry        `yaml:"mme_factors"`

	// OverrideCodes is the accepted NCPDP-style override code set;
	// configurable data, not a hard-coded list.
	OverrideCodes []string `yaml:"override_codes"`
}

// Manifest versions a dataset bundle.
type Manifest struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Source  string `yaml:"source,omitempty"`
}

// InteractionEntry is one curated drug-drug interaction.
type InteractionEntry struct {
	DrugA          string            `yaml:"drug_a"`
	DrugB          string            `yaml:"drug_b"`
	Severity       model.DURSeverity `yaml:"severity"`
	Code           string            `yaml:"code"`
	Effect         string            `yaml:"effect"`
	Recommendation string            `yaml:"recommendation,omitempty"`
}

// AllergyClassEntry maps a documented allergen to cross-reactive agents.
type AllergyClassEntry struct {
	Allergen      string            `yaml:"allergen"`
	CrossReactive []string          `yaml:"cross_reactive"`
	Severity      model.DURSeverity `yaml:"severity"`
	Code          string            `yaml:"code"`
}

// ContraindicationEntry pairs a drug with a disqualifying condition.
type ContraindicationEntry struct {
	Drug         string            `yaml:"drug"`
	Condition    string            `yaml:"condition"`
	Severity     model.DURSeverity `yaml:"severity"`
	Code         string            `yaml:"code"`
	Message      string            `yaml:"message"`
	Alternatives []string          `yaml:"alternatives,omitempty"`
}

// PediatricEntry restricts a drug below an age threshold. When
// RequiresCondition is set, the alert fires only if the patient carries
// that condition (aspirin + viral illness).
type PediatricEntry struct {
	Drug              string            `yaml:"drug"`
	MinAge            int               `yaml:"min_age"`
	Severity          model.DURSeverity `yaml:"severity"`
	Code              string            `yaml:"code"`
	Message           string            `yaml:"message"`
	RequiresCondition string            `yaml:"requires_condition,omitempty"`
}

// RenalEntry flags a drug below a creatinine-clearance floor.
type RenalEntry struct {
	Drug     string            `yaml:"drug"`
	MinCrCl  float64           `yaml:"min_crcl"`
	Severity model.DURSeverity `yaml:"severity"`
	Code     string            `yaml:"code"`
	Message  string            `yaml:"message"`
}

// HepaticEntry names a drug with hepatic concern. The emitted severity
// escalates with the documented impairment.
type HepaticEntry struct {
	Drug string `yaml:"drug"`
	Code string `yaml:"code"`
}

// MonitoringEntry lists mandatory lab monitoring for a drug.
type MonitoringEntry struct {
	Drug       string   `yaml:"drug"`
	Parameters []string `yaml:"parameters"`
	Frequency  string   `yaml:"frequency"`
	Code       string   `yaml:"code"`
}

// MMEFactorEntry is an opioid conversion factor. Methadone uses
// dose-dependent brackets instead.
type MMEFactorEntry struct {
	Drug   string  `yaml:"drug"`
	Factor float64 `yaml:"factor"`
}

// Validate checks the manifest version against the engine's accepted
// range.
func (d *Dataset) Validate() error {
	if d.Manifest.Version == "" {
		return fmt.Errorf("dur dataset: manifest version missing")
	}
	v, err := semver.NewVersion(d.Manifest.Version)
	if err != nil {
		return fmt.Errorf("dur dataset: bad version %q: %w", d.Manifest.Version, err)
	}
	c, err := semver.NewConstraint(DatasetConstraint)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("dur dataset: version %s outside accepted range %s", v, DatasetConstraint)
	}
	if len(d.OverrideCodes) == 0 {
		return fmt.Errorf("dur dataset: override code set empty")
	}
	return nil
}

// LoadDataset reads a YAML bundle from disk and validates it.
func LoadDataset(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dur dataset: %w", err)
	}
	return ParseDataset(raw)
}

// ParseDataset decodes and validates a YAML bundle.
func ParseDataset(raw []byte) (*Dataset, error) {
	var d Dataset
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("dur dataset: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
