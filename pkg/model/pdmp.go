package model

import "time"

// PDMPRecord is one dispensing event returned by a state registry.
// Records are immutable once the query completes.
type PDMPRecord struct {
	DrugName      string    `json:"drug_name"`
	NDC           string    `json:"ndc,omitempty"`
	Quantity      float64   `json:"quantity"`
	DaysSupply    int       `json:"days_supply"`
	Strength      float64   `json:"strength"`
	DispensedDate time.Time `json:"dispensed_date"`
	PrescriberID  string    `json:"prescriber_id"`
	PharmacyID    string    `json:"pharmacy_id"`
	PaymentType   string    `json:"payment_type"` // insurance | cash
	State         string    `json:"state"`
}

// PDMPRiskLevel bands the composite risk score.
type PDMPRiskLevel string

const (
	PDMPRiskLow      PDMPRiskLevel = "low"
	PDMPRiskModerate PDMPRiskLevel = "moderate"
	PDMPRiskHigh     PDMPRiskLevel = "high"
	PDMPRiskCritical PDMPRiskLevel = "critical"
)

// PDMPAlertType names a detected prescribing pattern.
type PDMPAlertType string

const (
	PDMPMultiplePrescribers      PDMPAlertType = "multiple_prescribers"
	PDMPMultiplePharmacies       PDMPAlertType = "multiple_pharmacies"
	PDMPHighMME                  PDMPAlertType = "high_mme"
	PDMPDangerousCombination     PDMPAlertType = "dangerous_combination"
	PDMPEarlyRefill              PDMPAlertType = "early_refill"
	PDMPCashOnly                 PDMPAlertType = "cash_only"
	PDMPOverlappingPrescriptions PDMPAlertType = "overlapping_prescriptions"
	PDMPDoctorShopping           PDMPAlertType = "doctor_shopping"
)

// PDMPAlert is one pattern finding with its fixed guidance.
type PDMPAlert struct {
	Type           PDMPAlertType `json:"type"`
	Severity       DURSeverity   `json:"severity"`
	Description    string        `json:"description"`
	Recommendation string        `json:"recommendation"`

	RequiresAction bool `json:"requires_action"`

	AcknowledgedBy string    `json:"acknowledged_by,omitempty"`
	AcknowledgedAt time.Time `json:"acknowledged_at,omitempty"`
	AckNotes       string    `json:"ack_notes,omitempty"`
}

// PDMPReviewDecision is the pharmacist's disposition of a result.
type PDMPReviewDecision string

const (
	PDMPApprove     PDMPReviewDecision = "approve"
	PDMPDeny        PDMPReviewDecision = "deny"
	PDMPInvestigate PDMPReviewDecision = "investigate"
)

// PDMPResult is the completed query with analysis attached.
type PDMPResult struct {
	QueryID       string   `json:"query_id"`
	PatientID     string   `json:"patient_id"`
	QueriedStates []string `json:"queried_states"`
	// Partial marks a result assembled from a subset of states after
	// provider timeout.
	Partial bool `json:"partial,omitempty"`

	Records []PDMPRecord `json:"records"`
	Alerts  []PDMPAlert  `json:"alerts"`

	RiskScore int           `json:"risk_score"`
	RiskLevel PDMPRiskLevel `json:"risk_level"`

	RequiresPharmacistReview bool `json:"requires_pharmacist_review"`

	ReviewDecision PDMPReviewDecision `json:"review_decision,omitempty"`
	ReviewNotes    string             `json:"review_notes,omitempty"`
	ReviewedBy     string             `json:"reviewed_by,omitempty"`

	QueriedAt time.Time `json:"queried_at"`

	Version int64 `json:"version"`
}
