package model

import (
	"time"

	"github.com/openpharma/rxengine/pkg/rxerr"
)

// RxState is the prescription lifecycle state.
type RxState string

const (
	RxIntake              RxState = "intake"
	RxDataEntry           RxState = "data_entry"
	RxClaimPending        RxState = "claim_pending"
	RxClaimRejected       RxState = "claim_rejected"
	RxFillPending         RxState = "fill_pending"
	RxFilled              RxState = "filled"
	RxVerificationPending RxState = "verification_pending"
	RxRework              RxState = "rework"
	RxVerified            RxState = "verified"
	RxReadyForPickup      RxState = "ready_for_pickup"
	RxPickedUp            RxState = "picked_up"
	RxDelivered           RxState = "delivered"
	RxRejected            RxState = "rejected"
	RxCancelled           RxState = "cancelled"
	RxExpired             RxState = "expired"
)

// Terminal reports whether the state admits no further transitions.
func (s RxState) Terminal() bool {
	switch s {
	case RxPickedUp, RxDelivered, RxRejected, RxCancelled, RxExpired:
		return true
	}
	return false
}

// Priority orders the work queue.
type Priority string

const (
	PriorityStat   Priority = "STAT"
	PriorityUrgent Priority = "URGENT"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

// IntakeSource identifies how the prescription arrived.
type IntakeSource string

const (
	SourceERx    IntakeSource = "eRx"
	SourceFax    IntakeSource = "fax"
	SourcePhone  IntakeSource = "phone"
	SourceWalkIn IntakeSource = "walkin"
)

// Prescription is the root aggregate. Fills, claims and verification
// sessions reference it by ID; it never embeds them.
type Prescription struct {
	ID       string `json:"id"`
	RxNumber string `json:"rx_number"`

	PatientID    string `json:"patient_id"`
	PrescriberID string `json:"prescriber_id"`
	DrugNDC      string `json:"drug_ndc"`
	DrugName     string `json:"drug_name"`

	Quantity   float64 `json:"quantity"`
	DaysSupply int     `json:"days_supply"`
	Sig        string  `json:"sig"`
	DAW        int     `json:"daw"`

	RefillsAuthorized int `json:"refills_authorized"`
	RefillsRemaining  int `json:"refills_remaining"`

	WrittenDate    time.Time `json:"written_date"`
	ExpirationDate time.Time `json:"expiration_date"`

	State    RxState     `json:"state"`
	Schedule DEASchedule `json:"schedule"`
	Priority Priority    `json:"priority"`

	Source    IntakeSource `json:"source"`
	ICD10     string       `json:"icd10,omitempty"`

	// LastFillDate is the dispense date of the most recent completed
	// fill; zero when never filled.
	LastFillDate time.Time `json:"last_fill_date,omitempty"`
	FillCount    int       `json:"fill_count"`

	// Interrupted marks a record whose finishing write raced a
	// cancellation; state remains consistent.
	Interrupted bool `json:"interrupted,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate enforces the aggregate invariants.
func (p Prescription) Validate() error {
	if p.RefillsRemaining > p.RefillsAuthorized {
		return rxerr.ErrInvalidField.WithField("refills_remaining").
			WithDetail("exceeds refills_authorized")
	}
	if p.Schedule == ScheduleII && p.RefillsAuthorized != 0 {
		return rxerr.ErrInvalidField.WithField("refills_authorized").
			WithDetail("schedule II prescriptions are not refillable")
	}
	if !p.ExpirationDate.After(p.WrittenDate) {
		return rxerr.ErrInvalidField.WithField("expiration_date").
			WithDetail("must be after written_date")
	}
	if p.DAW < 0 || p.DAW > 9 {
		return rxerr.ErrInvalidField.WithField("daw").WithDetail("must be 0-9")
	}
	return nil
}
