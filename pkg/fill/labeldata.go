package fill

import (
	"fmt"
	"time"

	"github.com/openpharma/rxengine/pkg/model"
)

// DiscardByGraceDays pads the days supply before the computed
// discard-by date, bounded above by the product expiry.
const DiscardByGraceDays = 14

// PharmacyIdentity is the dispensing pharmacy block printed on every
// label.
type PharmacyIdentity struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Phone   string `json:"phone"`
	NPI     string `json:"npi,omitempty"`
	DEA     string `json:"dea,omitempty"`
}

// LabelData is the structured label payload. It carries no formatting;
// printing devices consume it downstream.
type LabelData struct {
	Pharmacy PharmacyIdentity `json:"pharmacy"`

	PatientName string `json:"patient_name"`
	RxNumber    string `json:"rx_number"`
	FillNumber  int    `json:"fill_number"`

	DrugName string `json:"drug_name"`
	Strength string `json:"strength"`
	Form     string `json:"form"`
	NDC      string `json:"ndc"`

	Quantity   float64 `json:"quantity"`
	DaysSupply int     `json:"days_supply"`
	Sig        string  `json:"sig"`

	FillDate  time.Time `json:"fill_date"`
	DiscardBy time.Time `json:"discard_by"`

	AuxiliaryLabels []string `json:"auxiliary_labels,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// DiscardBy computes the beyond-use date: the earlier of the product
// expiry and fill date + days supply + grace.
func DiscardBy(lotExpiry, fillDate time.Time, daysSupply int) time.Time {
	byUse := fillDate.AddDate(0, 0, daysSupply+DiscardByGraceDays)
	if !lotExpiry.IsZero() && lotExpiry.Before(byUse) {
		return lotExpiry
	}
	return byUse
}

// AssembleLabel builds the label payload for a verified fill.
func AssembleLabel(pharmacy PharmacyIdentity, patient model.Patient, rx model.Prescription, f model.Fill, drug model.Drug, warnings []string) LabelData {
	texts := make([]string, 0, len(f.AuxLabelCodes))
	for _, code := range f.AuxLabelCodes {
		if t := LabelText(code); t != "" {
			texts = append(texts, t)
		}
	}
	name := drug.GenericName
	if drug.BrandName != "" {
		name = fmt.Sprintf("%s (%s)", drug.BrandName, drug.GenericName)
	}
	return LabelData{
		Pharmacy:        pharmacy,
		PatientName:     patient.LastName + ", " + patient.FirstName,
		RxNumber:        rx.RxNumber,
		FillNumber:      f.FillNumber,
		DrugName:        name,
		Strength:        fmt.Sprintf("%g %s", drug.Strength, drug.StrengthUnit),
		Form:            string(drug.Form),
		NDC:             f.DispensedNDC,
		Quantity:        f.QuantityDispensed,
		DaysSupply:      f.DaysSupply,
		Sig:             rx.Sig,
		FillDate:        f.FillDate,
		DiscardBy:       DiscardBy(f.LotExpiry, f.FillDate, f.DaysSupply),
		AuxiliaryLabels: texts,
		Warnings:        warnings,
	}
}
