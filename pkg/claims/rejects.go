package claims

// RejectSeverity grades a reject code for the work queue.
type RejectSeverity string

const (
	RejectError   RejectSeverity = "error"
	RejectWarning RejectSeverity = "warning"
)

// RejectInfo is reference data for one NCPDP reject code: what it
// means, whether an override resubmission is permitted, and the
// resolution steps surfaced to the technician.
type RejectInfo struct {
	Code        string
	Description string
	Severity    RejectSeverity
	Overridable bool
	Resolutions []string
}

// RejectCodeSystem is attached when the switch response cannot be
// parsed; the failure is ours or the switch's, never the plan's.
const RejectCodeSystem = "E0"

var rejectTable = map[string]RejectInfo{
	"70": {
		Code: "70", Description: "Product/Service Not Covered",
		Severity: RejectError, Overridable: false,
		Resolutions: []string{
			"Verify NDC billed matches product on hand",
			"Check plan formulary for a covered alternative",
			"Offer cash price or discount card",
		},
	},
	"75": {
		Code: "75", Description: "Prior Authorization Required",
		Severity: RejectError, Overridable: false,
		Resolutions: []string{
			"Initiate prior authorization with the prescriber",
			"Offer cash price while PA is pending",
		},
	},
	"76": {
		Code: "76", Description: "Plan Limitations Exceeded",
		Severity: RejectError, Overridable: true,
		Resolutions: []string{
			"Check quantity against plan limits",
			"Submit with clarification override if limit exception applies",
		},
	},
	"79": {
		Code: "79", Description: "Refill Too Soon",
		Severity: RejectError, Overridable: true,
		Resolutions: []string{
			"Confirm the next eligible fill date with the patient",
			"Submit vacation/lost-medication override if documented",
		},
	},
	"88": {
		Code: "88", Description: "DUR Reject",
		Severity: RejectError, Overridable: true,
		Resolutions: []string{
			"Review the DUR conflict with the pharmacist",
			"Submit DUR override codes after professional review",
		},
	},
	RejectCodeSystem: {
		Code: RejectCodeSystem, Description: "Processor Error",
		Severity: RejectError, Overridable: false,
		Resolutions: []string{
			"Retry the claim",
			"Contact the switch help desk if the error persists",
		},
	},
}

// LookupReject resolves a reject code. Unknown codes pass through with
// warning severity and the default resolution.
func LookupReject(code string) RejectInfo {
	if info, ok := rejectTable[code]; ok {
		return info
	}
	return RejectInfo{
		Code:        code,
		Description: "Unrecognized reject code",
		Severity:    RejectWarning,
		Overridable: false,
		Resolutions: []string{"Contact prescriber"},
	}
}
