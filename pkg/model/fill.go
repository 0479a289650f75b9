package model

import "time"

// FillStatus tracks a single fill attempt.
type FillStatus string

const (
	FillInProgress FillStatus = "in_progress"
	FillFilled     FillStatus = "filled"
	FillVerified   FillStatus = "verified"
	FillDispensed  FillStatus = "dispensed"
	FillReturned   FillStatus = "returned_to_stock"
	FillVoided     FillStatus = "voided"
)

// Fill is a child aggregate of Prescription. FillNumber is dense and
// monotone per prescription, starting at 0.
type Fill struct {
	ID             string `json:"id"`
	PrescriptionID string `json:"prescription_id"`
	FillNumber     int    `json:"fill_number"`

	DispensedNDC string    `json:"dispensed_ndc"`
	Lot          string    `json:"lot,omitempty"`
	LotExpiry    time.Time `json:"lot_expiry,omitempty"`

	QuantityPrescribed float64 `json:"quantity_prescribed"`
	QuantityDispensed  float64 `json:"quantity_dispensed"`
	DaysSupply         int     `json:"days_supply"`

	IsPartialFill     bool    `json:"is_partial_fill"`
	PartialReason     string  `json:"partial_reason,omitempty"`
	RemainingQuantity float64 `json:"remaining_quantity,omitempty"`

	AuxLabelCodes []string `json:"aux_label_codes,omitempty"`
	Packaging     string   `json:"packaging,omitempty"`

	AcquisitionCost Cents `json:"acquisition_cost"`
	CashPrice       Cents `json:"cash_price"`

	Status   FillStatus `json:"status"`
	FillDate time.Time  `json:"fill_date"`

	// DispenseToken dedupes Dispense.Hand; set on first hand-off.
	DispenseToken string    `json:"dispense_token,omitempty"`
	DispensedAt   time.Time `json:"dispensed_at,omitempty"`

	Interrupted bool `json:"interrupted,omitempty"`

	Version int64 `json:"version"`
}
