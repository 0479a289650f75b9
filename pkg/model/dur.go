package model

import "time"

// DURSeverity orders alerts for display and gating.
type DURSeverity string

const (
	DURLow      DURSeverity = "low"
	DURModerate DURSeverity = "moderate"
	DURHigh     DURSeverity = "high"
	DURCritical DURSeverity = "critical"
)

// Rank maps severity to a sortable weight, higher is more severe.
func (s DURSeverity) Rank() int {
	switch s {
	case DURCritical:
		return 4
	case DURHigh:
		return 3
	case DURModerate:
		return 2
	case DURLow:
		return 1
	}
	return 0
}

// DURCategory names the rule group that produced an alert.
type DURCategory string

const (
	DURInteraction      DURCategory = "drug_interaction"
	DURDuplicateTherapy DURCategory = "duplicate_therapy"
	DURAllergy          DURCategory = "allergy"
	DURContraindication DURCategory = "contraindication"
	DURAge              DURCategory = "age"
	DURRenal            DURCategory = "renal"
	DURHepatic          DURCategory = "hepatic"
	DURPregnancy        DURCategory = "pregnancy"
	DURNursing          DURCategory = "nursing"
	DURMonitoring       DURCategory = "monitoring"
	DUROpioidDose       DURCategory = "opioid_dose"
)

// DUROverride records a pharmacist acknowledgement of an alert.
type DUROverride struct {
	AlertCode string    `json:"alert_code"`
	Code      string    `json:"code"`
	Reason    string    `json:"reason"`
	ActorID   string    `json:"actor_id"`
	At        time.Time `json:"at"`
}

// DURAlert is one finding from the DUR engine.
type DURAlert struct {
	Category       DURCategory `json:"category"`
	Severity       DURSeverity `json:"severity"`
	Code           string      `json:"code"`
	Message        string      `json:"message"`
	Recommendation string      `json:"recommendation,omitempty"`

	Overridable           bool `json:"overridable"`
	RequiresDocumentation bool `json:"requires_documentation"`

	Override *DUROverride `json:"override,omitempty"`
}

// Acknowledged reports whether the alert carries a valid override.
func (a DURAlert) Acknowledged() bool { return a.Override != nil }
