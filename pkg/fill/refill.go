// Package fill owns the fill side of the pipeline. The rules are pure
// functions: refill eligibility, pre-verification validation,
// auxiliary label derivation and label data assembly. The Filler in
// service.go applies them against the store and the inventory ledger.
package fill

import (
	"fmt"
	"math"
	"time"

	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/rxerr"
)

// Controlled-substance fill calendars in days from the written date.
const (
	ScheduleIIWindowDays  = 90
	ControlledWindowDays  = 180
	RefillElapsedFraction = 0.8
)

// RefillCheck is the outcome of a refill eligibility review. OK is
// true when no hard errors fired; warnings never block on their own.
type RefillCheck struct {
	OK                bool
	Errors            []error
	Warnings          []string
	DaysUntilEligible int
}

// CanRefill evaluates fill eligibility for a prescription as of now.
// An original fill (FillCount 0) is gated only by expiry and the
// controlled calendar; a refill additionally requires refills
// remaining and is outright rejected for Schedule II.
// Refill-too-soon is a warning with a computed wait, never a reject.
func CanRefill(p model.Prescription, now time.Time) RefillCheck {
	var check RefillCheck
	isRefill := p.FillCount > 0

	// Fillable through the expiration day itself; expiry is a
	// calendar comparison, not an instant one.
	if dateOf(p.ExpirationDate).Before(dateOf(now)) {
		check.Errors = append(check.Errors,
			rxerr.ErrInvalidTransition.WithDetail("prescription expired"))
	}
	if isRefill {
		if p.Schedule == model.ScheduleII {
			check.Errors = append(check.Errors,
				rxerr.ErrScheduleIIRefill.WithDetail("schedule II prescriptions cannot be refilled"))
		} else if p.RefillsRemaining <= 0 {
			check.Errors = append(check.Errors,
				rxerr.ErrInvalidTransition.WithDetail("no refills remaining"))
		}
	}

	daysSinceWritten := daysBetween(p.WrittenDate, now)
	switch p.Schedule {
	case model.ScheduleII:
		if daysSinceWritten > ScheduleIIWindowDays {
			check.Errors = append(check.Errors,
				rxerr.ErrControlledWindow.WithDetail(
					"schedule II fill window of %d days exceeded", ScheduleIIWindowDays))
		}
	case model.ScheduleIII, model.ScheduleIV, model.ScheduleV:
		if daysSinceWritten > ControlledWindowDays {
			check.Errors = append(check.Errors,
				rxerr.ErrControlledWindow.WithDetail(
					"controlled fill window of %d days exceeded", ControlledWindowDays))
		}
	}

	if !p.LastFillDate.IsZero() && p.DaysSupply > 0 {
		eligibleAfter := int(math.Ceil(RefillElapsedFraction * float64(p.DaysSupply)))
		daysSinceFill := daysBetween(p.LastFillDate, now)
		if daysSinceFill < eligibleAfter {
			check.DaysUntilEligible = eligibleAfter - daysSinceFill
			check.Warnings = append(check.Warnings,
				fmt.Sprintf("refill too soon: eligible in %d day(s)", check.DaysUntilEligible))
		}
	}

	check.OK = len(check.Errors) == 0
	return check
}

// daysBetween counts whole days from a to b, flooring partial days.
func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// dateOf truncates to the calendar day in UTC.
func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
