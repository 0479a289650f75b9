package dur

import (
	"time"

	"github.com/openpharma/rxengine/pkg/auth"
	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/rxerr"
)

// MinOverrideReasonLen is the minimum free-text justification length.
const MinOverrideReasonLen = 10

// OverrideRequest carries an acknowledgement attempt for one alert.
type OverrideRequest struct {
	Code   string
	Reason string
	Actor  auth.Principal
	At     time.Time
}

// ValidateOverride checks an override attempt against an alert. A nil
// return means the override is acceptable; the caller records it on the
// alert.
func (e *Engine) ValidateOverride(alert model.DURAlert, req OverrideRequest) error {
	if !alert.Overridable {
		return rxerr.ErrNonOverridable.WithDetail("alert %s cannot be overridden", alert.Code)
	}
	if req.Actor == nil || !req.Actor.HasRole(auth.RolePharmacist) {
		return rxerr.ErrNotAuthorized.WithDetail("DUR override requires pharmacist role")
	}
	if !e.AcceptedOverrideCode(req.Code) {
		return rxerr.ErrInvalidField.WithField("code").
			WithDetail("override code %q not in accepted set", req.Code)
	}
	if len(req.Reason) < MinOverrideReasonLen {
		return rxerr.ErrInvalidField.WithField("reason").
			WithDetail("justification must be at least %d characters", MinOverrideReasonLen)
	}
	return nil
}

// AcceptedOverrideCode reports membership in the dataset's code set.
func (e *Engine) AcceptedOverrideCode(code string) bool {
	for _, c := range e.ds.OverrideCodes {
		if c == code {
			return true
		}
	}
	return false
}

// ApplyOverride validates and stamps the override onto a copy of the
// alert.
func (e *Engine) ApplyOverride(alert model.DURAlert, req OverrideRequest) (model.DURAlert, error) {
	if err := e.ValidateOverride(alert, req); err != nil {
		return alert, err
	}
	alert.Override = &model.DUROverride{
		AlertCode: alert.Code,
		Code:      req.Code,
		Reason:    req.Reason,
		ActorID:   req.Actor.GetID(),
		At:        req.At,
	}
	return alert, nil
}
