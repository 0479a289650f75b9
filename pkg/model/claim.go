package model

import "time"

// ClaimState is the adjudication lifecycle.
type ClaimState string

const (
	ClaimPending   ClaimState = "pending"
	ClaimApproved  ClaimState = "approved"
	ClaimRejected  ClaimState = "rejected"
	ClaimAppealing ClaimState = "appealing"
	ClaimReversed  ClaimState = "reversed"
	ClaimCash      ClaimState = "cash_conversion"
)

// Claim is a child aggregate of Fill. Resubmissions create a new attempt
// and retain the original.
type Claim struct {
	ID             string `json:"id"`
	PrescriptionID string `json:"prescription_id"`
	FillID         string `json:"fill_id,omitempty"`
	AttemptNo      int    `json:"attempt_no"`

	BIN      string `json:"bin"`
	PCN      string `json:"pcn"`
	GroupID  string `json:"group_id"`
	MemberID string `json:"member_id"`

	State          ClaimState `json:"state"`
	RejectCode     string     `json:"reject_code,omitempty"`
	RejectReason   string     `json:"reject_reason,omitempty"`
	OverrideCode   string     `json:"override_code,omitempty"`
	OverrideReason string     `json:"override_reason,omitempty"`

	GrossPrice   Cents `json:"gross_price"`
	PatientPay   Cents `json:"patient_pay"`
	InsurancePay Cents `json:"insurance_pay"`
	// PayDivergenceCents records a switch response whose split did not
	// sum to gross; the claim is normalized, never silently corrected.
	PayDivergenceCents Cents `json:"pay_divergence_cents,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
	ResolvedAt  time.Time `json:"resolved_at,omitempty"`

	Interrupted bool `json:"interrupted,omitempty"`

	Version int64 `json:"version"`
}
