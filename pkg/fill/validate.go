package fill

import (
	"time"

	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/rxerr"
)

// ValidationResult is the outcome of the pre-verification review of a
// finalized fill. Warnings surface to the pharmacist but never block.
type ValidationResult struct {
	Valid    bool
	Errors   []error
	Warnings []string
}

// ValidateFillForVerification checks a filled record before a
// verification session may open against it.
func ValidateFillForVerification(f model.Fill, rx model.Prescription, drug model.Drug, now time.Time) ValidationResult {
	var res ValidationResult
	errf := func(e error) { res.Errors = append(res.Errors, e) }
	warnf := func(w string) { res.Warnings = append(res.Warnings, w) }

	if f.DispensedNDC == "" {
		errf(rxerr.ErrMissingRequired.WithField("dispensed_ndc"))
	}
	if f.QuantityDispensed <= 0 {
		errf(rxerr.ErrInvalidField.WithField("quantity_dispensed").
			WithDetail("must be positive"))
	} else if f.QuantityDispensed > f.QuantityPrescribed && !f.IsPartialFill {
		errf(rxerr.ErrInvalidField.WithField("quantity_dispensed").
			WithDetail("exceeds quantity prescribed"))
	}
	if f.IsPartialFill {
		if f.PartialReason == "" {
			errf(rxerr.ErrMissingRequired.WithField("partial_reason"))
		}
		if f.RemainingQuantity <= 0 {
			errf(rxerr.ErrInvalidField.WithField("remaining_quantity").
				WithDetail("partial fill must leave quantity owed"))
		}
	}
	if !f.LotExpiry.IsZero() && !f.LotExpiry.After(now) {
		errf(rxerr.ErrInvalidField.WithField("lot_expiry").WithDetail("product expired"))
	}
	if rx.DAW < 0 || rx.DAW > 9 {
		errf(rxerr.ErrInvalidField.WithField("daw").WithDetail("must be 0-9"))
	}

	if f.Lot == "" {
		if rx.Schedule.Controlled() {
			errf(rxerr.ErrMissingRequired.WithField("lot").
				WithDetail("lot required for controlled substances"))
		} else {
			warnf("lot number not recorded")
		}
	}
	if !f.LotExpiry.IsZero() && f.DaysSupply > 0 {
		if f.LotExpiry.Before(now.AddDate(0, 0, f.DaysSupply)) {
			warnf("product expires within the days supply")
		}
	}

	recommended := AuxiliaryLabels(drug)
	applied := map[string]bool{}
	for _, code := range f.AuxLabelCodes {
		applied[code] = true
	}
	for _, l := range recommended {
		if !applied[l.Code] {
			warnf("recommended auxiliary label not applied: " + l.Code)
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}
