// Package dur implements drug utilization review as a pure decision
// engine. Check never suspends and never touches a store; callers feed
// it the candidate drug and the patient's clinical snapshot.
package dur

import (
	"github.com/openpharma/rxengine/pkg/model"
)

// Medication is one entry of the patient's active medication list.
type Medication struct {
	Name             string `json:"name"`
	TherapeuticClass string `json:"therapeutic_class,omitempty"`
	NDC              string `json:"ndc,omitempty"`
}

// Candidate is the drug under review.
type Candidate struct {
	Name             string  `json:"name"`
	TherapeuticClass string  `json:"therapeutic_class,omitempty"`
	NDC              string  `json:"ndc,omitempty"`
	Strength         float64 `json:"strength"`
	StrengthUnit     string  `json:"strength_unit,omitempty"`
	Route            string  `json:"route,omitempty"`
	Frequency        string  `json:"frequency,omitempty"`
}

// Input is the full clinical snapshot for one review.
type Input struct {
	Candidate  Candidate    `json:"candidate"`
	Quantity   float64      `json:"quantity"`
	DaysSupply int          `json:"days_supply"`

	CurrentMedications []Medication `json:"current_medications,omitempty"`
	Allergies          []string     `json:"allergies,omitempty"`
	Conditions         []string     `json:"conditions,omitempty"`

	Age      int  `json:"age"`
	Pregnant bool `json:"pregnant"`
	Nursing  bool `json:"nursing"`

	// CrCl is creatinine clearance in mL/min; nil when unknown.
	CrCl    *float64                `json:"crcl,omitempty"`
	Hepatic model.HepaticImpairment `json:"hepatic,omitempty"`
}

// Result is the complete review outcome.
type Result struct {
	Alerts []model.DURAlert `json:"alerts"`

	// Passed is true when the review produced no alerts at all.
	Passed bool `json:"passed"`
	// HasHighSeverityAlerts is true when any alert is high or critical;
	// verification cannot complete until each such alert is resolved or
	// overridden.
	HasHighSeverityAlerts bool `json:"has_high_severity_alerts"`

	// DailyMME is the computed morphine-milligram-equivalent per day;
	// zero for non-opioids.
	DailyMME float64 `json:"daily_mme,omitempty"`
}
