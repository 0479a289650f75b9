package model

import "time"

// VerifyState is the verification session lifecycle.
type VerifyState string

const (
	VerifyInProgress  VerifyState = "in_progress"
	VerifyPendingDUR  VerifyState = "pending_dur"
	VerifyPendingScan VerifyState = "pending_scan"
	VerifyApproved    VerifyState = "approved"
	VerifyRejected    VerifyState = "rejected"
	VerifyRework      VerifyState = "returned_for_rework"
)

// Terminal reports whether the session is closed.
func (s VerifyState) Terminal() bool {
	switch s {
	case VerifyApproved, VerifyRejected, VerifyRework:
		return true
	}
	return false
}

// Checklist carries the pharmacist's final-check booleans. The three
// controlled-substance items are nullable: nil means not applicable.
type Checklist struct {
	PatientNameVerified  bool `json:"patient_name_verified"`
	PatientDOBVerified   bool `json:"patient_dob_verified"`
	AllergiesReviewed    bool `json:"allergies_reviewed"`
	DrugVerified         bool `json:"drug_verified"`
	StrengthVerified     bool `json:"strength_verified"`
	QuantityVerified     bool `json:"quantity_verified"`
	DaysSupplyVerified   bool `json:"days_supply_verified"`
	SigVerified          bool `json:"sig_verified"`
	InteractionsCleared  bool `json:"interactions_cleared"`
	NDCVerified          bool `json:"ndc_verified"`
	ExpiryValid          bool `json:"expiry_valid"`
	LabelCorrect         bool `json:"label_correct"`
	PackagingAppropriate bool `json:"packaging_appropriate"`
	AppearanceCorrect    bool `json:"appearance_correct"`

	ScheduleVerified   *bool `json:"schedule_verified,omitempty"`
	PDMPReviewed       *bool `json:"pdmp_reviewed,omitempty"`
	IDRequirementNoted *bool `json:"id_requirement_noted,omitempty"`
}

// Complete reports whether every required boolean is set, and every
// non-nil controlled item is true.
func (c Checklist) Complete() bool {
	required := []bool{
		c.PatientNameVerified, c.PatientDOBVerified, c.AllergiesReviewed,
		c.DrugVerified, c.StrengthVerified, c.QuantityVerified,
		c.DaysSupplyVerified, c.SigVerified, c.InteractionsCleared,
		c.NDCVerified, c.ExpiryValid, c.LabelCorrect,
		c.PackagingAppropriate, c.AppearanceCorrect,
	}
	for _, v := range required {
		if !v {
			return false
		}
	}
	for _, v := range []*bool{c.ScheduleVerified, c.PDMPReviewed, c.IDRequirementNoted} {
		if v != nil && !*v {
			return false
		}
	}
	return true
}

// NDCMatchLevel grades a scan against the prescribed NDC.
type NDCMatchLevel string

const (
	NDCMatchExact          NDCMatchLevel = "exact"
	NDCMatchPackageVariant NDCMatchLevel = "package_variant"
	NDCMatchNone           NDCMatchLevel = "no_match"
)

// ScanResult is the outcome of a barcode scan inside a session.
type ScanResult struct {
	RawBarcode  string        `json:"raw_barcode"`
	ScannedNDC  string        `json:"scanned_ndc"`
	Match       NDCMatchLevel `json:"match"`
	// VariantConsent records explicit operator acceptance of a
	// package-variant match.
	VariantConsent bool      `json:"variant_consent,omitempty"`
	At             time.Time `json:"at"`
}

// VerifyDecision is the pharmacist's terminal call.
type VerifyDecision string

const (
	DecisionApproved VerifyDecision = "approved"
	DecisionRejected VerifyDecision = "rejected"
	DecisionRework   VerifyDecision = "returned_for_rework"
)

// VerificationSession is a child aggregate of Fill; at most one
// non-terminal session per fill.
type VerificationSession struct {
	ID             string `json:"id"`
	PrescriptionID string `json:"prescription_id"`
	FillID         string `json:"fill_id"`
	PharmacistID   string `json:"pharmacist_id"`

	State     VerifyState `json:"state"`
	Checklist Checklist   `json:"checklist"`

	Scan *ScanResult `json:"scan,omitempty"`

	Alerts         []DURAlert `json:"alerts,omitempty"`
	PDMPSkipReason string     `json:"pdmp_skip_reason,omitempty"`

	Decision        VerifyDecision `json:"decision,omitempty"`
	Notes           string         `json:"notes,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	Version int64 `json:"version"`
}
