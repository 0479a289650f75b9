// Package ports declares the interfaces the core consumes. Transport,
// persistence and external registries live behind these; the core never
// imports their implementations directly.
package ports

import (
	"context"
	"time"

	"github.com/openpharma/rxengine/pkg/model"
)

// Clock abstracts time for calendar rules and tests.
type Clock interface {
	Now() time.Time
}

// IDGen mints identifiers with a resource prefix ("rx", "fill", ...).
type IDGen interface {
	New(prefix string) string
}

// Store is the persistence port: transactional reads/writes with
// optimistic versioning per aggregate. Writes fail with
// rxerr.ErrConcurrentMutation when the stored version differs from the
// version on the passed aggregate; reads of absent rows fail with
// rxerr.ErrNotFound.
type Store interface {
	GetPatient(ctx context.Context, id string) (model.Patient, error)
	FindPatientByMRN(ctx context.Context, mrn string, dob time.Time) (model.Patient, error)
	PutPatient(ctx context.Context, p model.Patient) (model.Patient, error)

	GetDrug(ctx context.Context, ndc string) (model.Drug, error)
	PutDrug(ctx context.Context, d model.Drug) error

	GetPrescription(ctx context.Context, id string) (model.Prescription, error)
	PutPrescription(ctx context.Context, rx model.Prescription) (model.Prescription, error)
	// ListPrescriptionsByPatient returns all prescriptions for the
	// patient, newest written first.
	ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]model.Prescription, error)
	// ListPrescriptionsByState returns prescriptions in the state,
	// least recently updated first. Backs the work and will-call queues.
	ListPrescriptionsByState(ctx context.Context, state model.RxState) ([]model.Prescription, error)

	GetFill(ctx context.Context, id string) (model.Fill, error)
	PutFill(ctx context.Context, f model.Fill) (model.Fill, error)
	// ListFillsByPrescription returns fills ordered by fill number.
	ListFillsByPrescription(ctx context.Context, rxID string) ([]model.Fill, error)

	GetClaim(ctx context.Context, id string) (model.Claim, error)
	PutClaim(ctx context.Context, c model.Claim) (model.Claim, error)
	ListClaimsByFill(ctx context.Context, fillID string) ([]model.Claim, error)

	GetSession(ctx context.Context, id string) (model.VerificationSession, error)
	PutSession(ctx context.Context, s model.VerificationSession) (model.VerificationSession, error)
	// OpenSessionForFill returns the non-terminal session for the fill,
	// or rxerr.ErrNotFound.
	OpenSessionForFill(ctx context.Context, fillID string) (model.VerificationSession, error)

	GetPDMPResult(ctx context.Context, queryID string) (model.PDMPResult, error)
	PutPDMPResult(ctx context.Context, r model.PDMPResult) (model.PDMPResult, error)
}

// ClaimRequest is the NCPDP-shaped payload sent to the switch.
type ClaimRequest struct {
	ClaimID           string
	BIN               string
	PCN               string
	GroupID           string
	MemberID          string
	NDC               string
	Quantity          float64
	DaysSupply        int
	DAW               int
	PrescriberDEA     string
	PrescriberNPI     string
	UsualAndCustomary model.Cents

	// Override fields are set only on resubmission with a prior
	// authorization or clarification code.
	OverrideCode   string
	OverrideReason string
}

// ClaimResponseStatus is the switch-level disposition.
type ClaimResponseStatus string

const (
	ClaimRespApproved ClaimResponseStatus = "approved"
	ClaimRespRejected ClaimResponseStatus = "rejected"
	ClaimRespPending  ClaimResponseStatus = "pending"
)

// ClaimResponse is the parsed switch response.
type ClaimResponse struct {
	Status        ClaimResponseStatus
	RejectCode    string
	RejectMessage string
	GrossPrice    model.Cents
	PatientPay    model.Cents
	InsurancePay  model.Cents
}

// ClaimSwitch transmits claims. Transport failures must be returned as
// rxerr transient errors so the adjudicator can retry.
type ClaimSwitch interface {
	Send(ctx context.Context, req ClaimRequest) (ClaimResponse, error)
	// Reverse emits a B2 reversal for a previously approved claim.
	Reverse(ctx context.Context, claimID string) error
}

// PDMPQuery asks one or more state registries for dispensing history.
type PDMPQuery struct {
	PatientID string
	FirstName string
	LastName  string
	DOB       time.Time
	States    []string
	Window    time.Duration
}

// PDMPProvider queries state registries. A per-state timeout yields a
// partial result rather than a failure.
type PDMPProvider interface {
	Query(ctx context.Context, state string, q PDMPQuery) ([]model.PDMPRecord, error)
}

// ImmunizationReport is the payload submitted to a state IIS.
type ImmunizationReport struct {
	PatientID      string
	VaccineCVX     string
	LotNumber      string
	AdministeredAt time.Time
	AdministeredBy string
	State          string
}

// RegistryClient submits immunization reports to a state IIS.
type RegistryClient interface {
	Submit(ctx context.Context, report ImmunizationReport) (ackID string, err error)
}

// SuggestedField is one confidence-scored extraction from a scanned
// document. BBox is the source region, normalized to [0,1].
type SuggestedField struct {
	Field      string
	Value      string
	Confidence int // 0-100
	BBox       [4]float64
}

// Suggestor extracts prescription fields from a document image. Never on
// the safety-critical path: a timeout simply returns no fields.
type Suggestor interface {
	Extract(ctx context.Context, document []byte) ([]SuggestedField, error)
}
