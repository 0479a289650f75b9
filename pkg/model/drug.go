package model

// DEASchedule classifies controlled-substance status.
type DEASchedule string

const (
	ScheduleI      DEASchedule = "I"
	ScheduleII     DEASchedule = "II"
	ScheduleIII    DEASchedule = "III"
	ScheduleIV     DEASchedule = "IV"
	ScheduleV      DEASchedule = "V"
	ScheduleLegend DEASchedule = "LEGEND"
	ScheduleOTC    DEASchedule = "OTC"
)

// Controlled reports whether the schedule is C-II through C-V.
func (s DEASchedule) Controlled() bool {
	switch s {
	case ScheduleII, ScheduleIII, ScheduleIV, ScheduleV:
		return true
	}
	return false
}

// DosageForm of the finished product.
type DosageForm string

const (
	FormTablet     DosageForm = "tablet"
	FormCapsule    DosageForm = "capsule"
	FormSuspension DosageForm = "suspension"
	FormSolution   DosageForm = "solution"
	FormInjection  DosageForm = "injection"
	FormCream      DosageForm = "cream"
	FormPatch      DosageForm = "patch"
	FormInhaler    DosageForm = "inhaler"
)

// Drug is read-mostly reference data, keyed by 11-digit NDC.
type Drug struct {
	NDC              string      `json:"ndc"`
	GenericName      string      `json:"generic_name"`
	BrandName        string      `json:"brand_name,omitempty"`
	Strength         float64     `json:"strength"`
	StrengthUnit     string      `json:"strength_unit"`
	Form             DosageForm  `json:"form"`
	Route            string      `json:"route"`
	Schedule         DEASchedule `json:"schedule"`
	RxNormCUI        string      `json:"rxnorm_cui,omitempty"`
	TherapeuticClass string      `json:"therapeutic_class,omitempty"`
	Manufacturer     string      `json:"manufacturer,omitempty"`
}
