package fill

import (
	"context"
	"time"

	"github.com/openpharma/rxengine/pkg/audit"
	"github.com/openpharma/rxengine/pkg/inventory"
	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/ndc"
	"github.com/openpharma/rxengine/pkg/ports"
	"github.com/openpharma/rxengine/pkg/rbac"
	"github.com/openpharma/rxengine/pkg/rxerr"
)

// Readmitter re-enters a dispensed prescription at adjudication for
// its next fill cycle. The workflow machine implements it.
type Readmitter interface {
	Readmit(ctx context.Context, rxID string) (model.Prescription, error)
}

// Filler drives fill attempts: it opens new fills once eligibility
// clears, reserves stock, and finalizes the counted product for
// verification. The pure rules in this package do the judging; the
// Filler does the bookkeeping.
type Filler struct {
	store   ports.Store
	ledger  *inventory.Ledger
	clock   ports.Clock
	ids     ports.IDGen
	rec     audit.Recorder
	authz   rbac.Authorizer
	readmit Readmitter

	pharmacyID string
}

// NewFiller wires a Filler. ledger and rec may be nil; without a
// ledger no stock is reserved or consumed.
func NewFiller(store ports.Store, ledger *inventory.Ledger, clock ports.Clock, ids ports.IDGen, rec audit.Recorder, pharmacyID string) *Filler {
	return &Filler{
		store: store, ledger: ledger, clock: clock, ids: ids, rec: rec,
		pharmacyID: pharmacyID,
	}
}

// WithAuthorizer gates Start and Finalize through authz.
func (s *Filler) WithAuthorizer(authz rbac.Authorizer) *Filler {
	s.authz = authz
	return s
}

// WithReadmitter routes refill re-admission through r instead of a
// direct store write, so the state change shares the machine's audit
// and observer path.
func (s *Filler) WithReadmitter(r Readmitter) *Filler {
	s.readmit = r
	return s
}

// Start opens the next fill for a prescription. Eligibility runs
// first: an ineligible request is rejected with only the policy audit
// entry, the prescription untouched. For an eligible refill on a
// dispensed prescription the lifecycle re-enters at claim_pending.
// Stock for the prescribed quantity is reserved before the fill is
// persisted, so two racing starts cannot oversell.
func (s *Filler) Start(ctx context.Context, rxID string) (model.Fill, RefillCheck, error) {
	rx, err := s.store.GetPrescription(ctx, rxID)
	if err != nil {
		return model.Fill{}, RefillCheck{}, err
	}
	if err := rbac.Allow(ctx, s.authz, rbac.Request{
		Resource: rbac.ResMedication, Action: rbac.ActCreate, ResourcePatientID: rx.PatientID,
	}); err != nil {
		return model.Fill{}, RefillCheck{}, err
	}
	now := s.clock.Now()

	check := CanRefill(rx, now)
	if !check.OK {
		s.record(ctx, "fill.start", rxID, model.OutcomeDenied,
			map[string]any{"errors": len(check.Errors)})
		return model.Fill{}, check, check.Errors[0]
	}

	fills, err := s.store.ListFillsByPrescription(ctx, rxID)
	if err != nil {
		return model.Fill{}, check, err
	}
	if n := len(fills); n > 0 {
		switch fills[n-1].Status {
		case model.FillInProgress, model.FillFilled, model.FillVerified:
			return model.Fill{}, check, rxerr.ErrDuplicateFill.
				WithDetail("fill %d is still open", fills[n-1].FillNumber)
		}
	}

	switch rx.State {
	case model.RxClaimPending, model.RxClaimRejected, model.RxFillPending:
	case model.RxPickedUp, model.RxDelivered:
		// Refill re-admission: the next cycle starts at adjudication.
		if s.readmit != nil {
			rx, err = s.readmit.Readmit(ctx, rxID)
		} else {
			rx.State = model.RxClaimPending
			rx.UpdatedAt = now
			rx, err = s.store.PutPrescription(ctx, rx)
		}
		if err != nil {
			return model.Fill{}, check, err
		}
		s.record(ctx, "rx.refill", rxID, model.OutcomeSuccess,
			map[string]any{"fill_number": len(fills)})
	default:
		return model.Fill{}, check, rxerr.ErrInvalidTransition.
			WithDetail("prescription is %s, cannot start a fill", rx.State)
	}

	if s.ledger != nil && rx.DrugNDC != "" {
		if err := s.ledger.Allocate(ctx, s.pharmacyID, rx.DrugNDC, rx.Quantity); err != nil {
			s.record(ctx, "fill.start", rxID, model.OutcomeDenied,
				map[string]any{"reason": "allocation failed"})
			return model.Fill{}, check, err
		}
	}

	f := model.Fill{
		ID:                 s.ids.New("fill"),
		PrescriptionID:     rx.ID,
		FillNumber:         len(fills),
		DispensedNDC:       rx.DrugNDC,
		QuantityPrescribed: rx.Quantity,
		QuantityDispensed:  rx.Quantity,
		DaysSupply:         rx.DaysSupply,
		Status:             model.FillInProgress,
		FillDate:           now,
	}
	f, err = s.store.PutFill(ctx, f)
	if err != nil {
		if s.ledger != nil && rx.DrugNDC != "" {
			_ = s.ledger.Deallocate(ctx, s.pharmacyID, rx.DrugNDC, rx.Quantity)
		}
		return model.Fill{}, check, err
	}

	s.record(ctx, "fill.start", f.ID, model.OutcomeSuccess, map[string]any{
		"prescription": rx.ID,
		"fill_number":  f.FillNumber,
		"warnings":     len(check.Warnings),
	})
	return f, check, nil
}

// FinalizeInput is what the technician records at the counting bench.
type FinalizeInput struct {
	Lot       string
	LotExpiry time.Time
	// Barcode is the scan of the stock bottle; when present it sets
	// the dispensed NDC.
	Barcode string
	// Quantity dispensed; zero means the full prescribed quantity.
	// Anything short of prescribed is a partial fill and needs a
	// reason.
	Quantity      float64
	PartialReason string
	Packaging     string
}

// Finalize completes the count: product identity, lot, quantity and
// auxiliary labels land on the fill and it moves to filled. The fill
// is validated for verification before anything is persisted; an
// invalid count leaves the fill in progress.
func (s *Filler) Finalize(ctx context.Context, fillID string, in FinalizeInput) (model.Fill, ValidationResult, error) {
	f, err := s.store.GetFill(ctx, fillID)
	if err != nil {
		return model.Fill{}, ValidationResult{}, err
	}
	if err := rbac.Allow(ctx, s.authz, rbac.Request{
		Resource: rbac.ResMedication, Action: rbac.ActUpdate,
	}); err != nil {
		return model.Fill{}, ValidationResult{}, err
	}
	if f.Status != model.FillInProgress {
		return model.Fill{}, ValidationResult{}, rxerr.ErrInvalidTransition.
			WithDetail("fill is %s, not in progress", f.Status)
	}
	rx, err := s.store.GetPrescription(ctx, f.PrescriptionID)
	if err != nil {
		return model.Fill{}, ValidationResult{}, err
	}

	if in.Barcode != "" {
		scanned, _, err := ndc.ParseBarcode(in.Barcode)
		if err != nil {
			return model.Fill{}, ValidationResult{}, err
		}
		f.DispensedNDC = scanned
	}
	f.Lot = in.Lot
	f.LotExpiry = in.LotExpiry
	f.Packaging = in.Packaging

	qty := in.Quantity
	if qty == 0 {
		qty = f.QuantityPrescribed
	}
	switch {
	case qty < 0 || qty > f.QuantityPrescribed:
		return model.Fill{}, ValidationResult{}, rxerr.ErrInvalidField.
			WithField("quantity").WithDetail("must be in (0, prescribed]")
	case qty < f.QuantityPrescribed:
		if in.PartialReason == "" {
			return model.Fill{}, ValidationResult{}, rxerr.ErrMissingRequired.
				WithField("partial_reason")
		}
		f.IsPartialFill = true
		f.PartialReason = in.PartialReason
		f.RemainingQuantity = f.QuantityPrescribed - qty
	}
	f.QuantityDispensed = qty

	drug := s.drugFor(ctx, f, rx)
	f.AuxLabelCodes = AuxLabelCodes(AuxiliaryLabels(drug))
	f.Status = model.FillFilled

	res := ValidateFillForVerification(f, rx, drug, s.clock.Now())
	if !res.Valid {
		s.record(ctx, "fill.finalize", f.ID, model.OutcomeDenied,
			map[string]any{"errors": len(res.Errors)})
		return model.Fill{}, res, res.Errors[0]
	}

	if err := s.rebalance(ctx, rx, f); err != nil {
		return model.Fill{}, res, err
	}

	f, err = s.store.PutFill(ctx, f)
	if err != nil {
		return model.Fill{}, res, err
	}
	s.record(ctx, "fill.finalize", f.ID, model.OutcomeSuccess, map[string]any{
		"prescription": rx.ID,
		"ndc":          f.DispensedNDC,
		"partial":      f.IsPartialFill,
	})
	return f, res, nil
}

// Validate re-runs the pre-verification review of a fill on demand.
func (s *Filler) Validate(ctx context.Context, fillID string) (ValidationResult, error) {
	f, err := s.store.GetFill(ctx, fillID)
	if err != nil {
		return ValidationResult{}, err
	}
	rx, err := s.store.GetPrescription(ctx, f.PrescriptionID)
	if err != nil {
		return ValidationResult{}, err
	}
	return ValidateFillForVerification(f, rx, s.drugFor(ctx, f, rx), s.clock.Now()), nil
}

// rebalance moves the Start reservation to the finalized product and
// quantity: a scan onto a different package releases the original
// reservation, and a partial fill releases the quantity owed.
func (s *Filler) rebalance(ctx context.Context, rx model.Prescription, f model.Fill) error {
	if s.ledger == nil || rx.DrugNDC == "" {
		return nil
	}
	if f.DispensedNDC != rx.DrugNDC {
		if err := s.ledger.Allocate(ctx, s.pharmacyID, f.DispensedNDC, f.QuantityDispensed); err != nil {
			return err
		}
		return s.ledger.Deallocate(ctx, s.pharmacyID, rx.DrugNDC, f.QuantityPrescribed)
	}
	if owed := f.QuantityPrescribed - f.QuantityDispensed; owed > 0 {
		return s.ledger.Deallocate(ctx, s.pharmacyID, rx.DrugNDC, owed)
	}
	return nil
}

// drugFor resolves reference data for the dispensed product, falling
// back to what the prescription itself carries.
func (s *Filler) drugFor(ctx context.Context, f model.Fill, rx model.Prescription) model.Drug {
	if f.DispensedNDC != "" {
		if d, err := s.store.GetDrug(ctx, f.DispensedNDC); err == nil {
			return d
		}
	}
	if rx.DrugNDC != "" && rx.DrugNDC != f.DispensedNDC {
		if d, err := s.store.GetDrug(ctx, rx.DrugNDC); err == nil {
			return d
		}
	}
	return model.Drug{
		NDC:         rx.DrugNDC,
		GenericName: rx.DrugName,
		Schedule:    rx.Schedule,
	}
}

func (s *Filler) record(ctx context.Context, action, id string, outcome model.AuditOutcome, meta map[string]any) {
	if s.rec == nil {
		return
	}
	_, _ = s.rec.Record(ctx, action, "fill", id, outcome, false, meta)
}
