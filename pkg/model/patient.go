package model

import "time"

// Gender as recorded on the pharmacy profile.
type Gender string

const (
	GenderFemale  Gender = "F"
	GenderMale    Gender = "M"
	GenderOther   Gender = "X"
	GenderUnknown Gender = "U"
)

// Allergy is a known patient allergy, free-text allergen plus reaction.
type Allergy struct {
	Allergen string `json:"allergen"`
	Reaction string `json:"reaction,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// HepaticImpairment grades liver function for DUR dose checks.
type HepaticImpairment string

const (
	HepaticNone     HepaticImpairment = "none"
	HepaticMild     HepaticImpairment = "mild"
	HepaticModerate HepaticImpairment = "moderate"
	HepaticSevere   HepaticImpairment = "severe"
)

// Patient is the patient aggregate. Other aggregates reference it by ID.
type Patient struct {
	ID        string    `json:"id"`
	MRN       string    `json:"mrn"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	DOB       time.Time `json:"dob"`
	Gender    Gender    `json:"gender"`

	AddressLine1 string `json:"address_line1,omitempty"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	Zip          string `json:"zip,omitempty"`
	Phone        string `json:"phone,omitempty"`

	Allergies  []Allergy `json:"allergies,omitempty"`
	Conditions []string  `json:"conditions,omitempty"`

	Pregnant bool `json:"pregnant"`
	Nursing  bool `json:"nursing"`

	// CrCl is creatinine clearance in mL/min; nil when unknown.
	CrCl *float64 `json:"crcl,omitempty"`

	Hepatic HepaticImpairment `json:"hepatic,omitempty"`

	Version int64 `json:"version"`
}

// AgeAt computes whole years of age at the given instant.
func (p Patient) AgeAt(now time.Time) int {
	years := now.Year() - p.DOB.Year()
	anniversary := p.DOB.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	return years
}
