// Package verify runs the pharmacist verification session: the release
// gate between a filled prescription and the will-call shelf.
package verify

import (
	"context"

	"github.com/openpharma/rxengine/pkg/audit"
	"github.com/openpharma/rxengine/pkg/auth"
	"github.com/openpharma/rxengine/pkg/dur"
	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/ndc"
	"github.com/openpharma/rxengine/pkg/ports"
	"github.com/openpharma/rxengine/pkg/rbac"
	"github.com/openpharma/rxengine/pkg/rxerr"
)

// Verifier drives verification sessions. One open session per fill is
// enforced by the store.
type Verifier struct {
	store  ports.Store
	clock  ports.Clock
	ids    ports.IDGen
	rec    audit.Recorder
	engine *dur.Engine
	authz  rbac.Authorizer
}

// NewVerifier wires a Verifier. A nil engine uses the built-in DUR
// dataset for override validation.
func NewVerifier(store ports.Store, clock ports.Clock, ids ports.IDGen, rec audit.Recorder, engine *dur.Engine) *Verifier {
	if engine == nil {
		engine = dur.NewEngine(nil)
	}
	return &Verifier{store: store, clock: clock, ids: ids, rec: rec, engine: engine}
}

// WithAuthorizer gates session opening and closure through authz.
func (v *Verifier) WithAuthorizer(authz rbac.Authorizer) *Verifier {
	v.authz = authz
	return v
}

// Open starts a session for a filled prescription. The DUR alerts from
// the review that accompanied this fill are snapshotted onto the
// session; they must be resolved before approval.
func (v *Verifier) Open(ctx context.Context, rx model.Prescription, f model.Fill, alerts []model.DURAlert, pharmacist auth.Principal) (model.VerificationSession, error) {
	if pharmacist == nil || !pharmacist.HasRole(auth.RolePharmacist) {
		return model.VerificationSession{}, rxerr.ErrNotAuthorized.
			WithDetail("verification requires pharmacist role")
	}
	if err := rbac.Allow(ctx, v.authz, rbac.Request{
		Resource:          rbac.ResMedication,
		Action:            rbac.ActUpdate,
		ResourcePatientID: rx.PatientID,
	}); err != nil {
		return model.VerificationSession{}, err
	}
	if f.Status != model.FillFilled {
		return model.VerificationSession{}, rxerr.ErrInvalidTransition.
			WithDetail("fill status %s cannot enter verification", f.Status)
	}

	s := model.VerificationSession{
		ID:             v.ids.New("vs"),
		PrescriptionID: rx.ID,
		FillID:         f.ID,
		PharmacistID:   pharmacist.GetID(),
		State:          model.VerifyInProgress,
		Alerts:         alerts,
		StartedAt:      v.clock.Now(),
	}
	s, err := v.store.PutSession(ctx, s)
	if err != nil {
		return model.VerificationSession{}, err
	}
	v.record(ctx, "verify.open", s.ID, model.OutcomeSuccess, map[string]any{"fill_id": f.ID})
	return s, nil
}

// UpdateChecklist replaces the checklist snapshot and advances the
// session when it is complete.
func (v *Verifier) UpdateChecklist(ctx context.Context, sessionID string, c model.Checklist) (model.VerificationSession, error) {
	s, err := v.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.VerificationSession{}, err
	}
	if s.State.Terminal() {
		return model.VerificationSession{}, rxerr.ErrInvalidTransition.
			WithDetail("session is closed")
	}
	s.Checklist = c
	s = advance(s)
	return v.store.PutSession(ctx, s)
}

// Acknowledge records a DUR override for one alert on the session.
func (v *Verifier) Acknowledge(ctx context.Context, sessionID, alertCode, overrideCode, reason string) (model.VerificationSession, error) {
	s, err := v.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.VerificationSession{}, err
	}
	if s.State.Terminal() {
		return model.VerificationSession{}, rxerr.ErrInvalidTransition.
			WithDetail("session is closed")
	}
	actor, err := auth.GetPrincipal(ctx)
	if err != nil {
		return model.VerificationSession{}, rxerr.ErrNotAuthorized.Wrap(err)
	}

	idx := -1
	for i := range s.Alerts {
		if s.Alerts[i].Code == alertCode {
			idx = i
			break
		}
	}
	if idx < 0 {
		return model.VerificationSession{}, rxerr.ErrNotFound.WithDetail("alert")
	}

	overridden, err := v.engine.ApplyOverride(s.Alerts[idx], dur.OverrideRequest{
		Code:   overrideCode,
		Reason: reason,
		Actor:  actor,
		At:     v.clock.Now(),
	})
	if err != nil {
		v.record(ctx, "verify.ack", s.ID, model.OutcomeDenied, map[string]any{"alert": alertCode})
		return model.VerificationSession{}, err
	}
	s.Alerts[idx] = overridden
	s = advance(s)
	s, err = v.store.PutSession(ctx, s)
	if err != nil {
		return model.VerificationSession{}, err
	}
	v.record(ctx, "verify.ack", s.ID, model.OutcomeSuccess,
		map[string]any{"alert": alertCode, "override": overrideCode})
	return s, nil
}

// Scan records a barcode scan and grades it against the prescribed
// NDC: exact, package variant, or no match.
func (v *Verifier) Scan(ctx context.Context, sessionID, raw string) (model.VerificationSession, error) {
	s, err := v.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.VerificationSession{}, err
	}
	if s.State.Terminal() {
		return model.VerificationSession{}, rxerr.ErrInvalidTransition.
			WithDetail("session is closed")
	}
	f, err := v.store.GetFill(ctx, s.FillID)
	if err != nil {
		return model.VerificationSession{}, err
	}

	scanned, _, err := ndc.ParseBarcode(raw)
	if err != nil {
		v.record(ctx, "verify.scan", s.ID, model.OutcomeFailure, map[string]any{"error": "unrecognized barcode"})
		return model.VerificationSession{}, rxerr.ErrInvalidField.WithField("barcode").Wrap(err)
	}

	match := model.NDCMatchNone
	switch {
	case scanned == f.DispensedNDC:
		match = model.NDCMatchExact
	case ndc.SameProduct(scanned, f.DispensedNDC):
		match = model.NDCMatchPackageVariant
	}
	s.Scan = &model.ScanResult{
		RawBarcode: raw,
		ScannedNDC: scanned,
		Match:      match,
		At:         v.clock.Now(),
	}
	s = advance(s)
	s, err = v.store.PutSession(ctx, s)
	if err != nil {
		return model.VerificationSession{}, err
	}
	v.record(ctx, "verify.scan", s.ID, model.OutcomeSuccess, map[string]any{"match": string(match)})
	return s, nil
}

// ConsentToVariant records explicit operator acceptance of a
// package-variant scan.
func (v *Verifier) ConsentToVariant(ctx context.Context, sessionID string) (model.VerificationSession, error) {
	s, err := v.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.VerificationSession{}, err
	}
	if s.Scan == nil || s.Scan.Match != model.NDCMatchPackageVariant {
		return model.VerificationSession{}, rxerr.ErrInvalidTransition.
			WithDetail("no package-variant scan to consent to")
	}
	s.Scan.VariantConsent = true
	return v.store.PutSession(ctx, s)
}

// SkipPDMP documents why the PDMP review was not performed for a
// controlled fill.
func (v *Verifier) SkipPDMP(ctx context.Context, sessionID, reason string) (model.VerificationSession, error) {
	if reason == "" {
		return model.VerificationSession{}, rxerr.ErrMissingRequired.WithField("reason")
	}
	s, err := v.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.VerificationSession{}, err
	}
	if s.State.Terminal() {
		return model.VerificationSession{}, rxerr.ErrInvalidTransition.
			WithDetail("session is closed")
	}
	s.PDMPSkipReason = reason
	return v.store.PutSession(ctx, s)
}

// Decide closes the session. Approval re-checks every gate; rejection
// requires a reason; rework sends the fill back to data entry.
func (v *Verifier) Decide(ctx context.Context, sessionID string, decision model.VerifyDecision, notes, rejectionReason string) (model.VerificationSession, error) {
	s, err := v.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.VerificationSession{}, err
	}
	if err := rbac.Allow(ctx, v.authz, rbac.Request{
		Resource: rbac.ResMedication,
		Action:   rbac.ActUpdate,
	}); err != nil {
		return model.VerificationSession{}, err
	}
	if s.State.Terminal() {
		return model.VerificationSession{}, rxerr.ErrInvalidTransition.
			WithDetail("session is closed")
	}

	switch decision {
	case model.DecisionApproved:
		rx, err := v.store.GetPrescription(ctx, s.PrescriptionID)
		if err != nil {
			return model.VerificationSession{}, err
		}
		if err := approvalGate(s, rx); err != nil {
			v.record(ctx, "verify.decide", s.ID, model.OutcomeDenied, map[string]any{"reason": rxerr.UserMessage(err)})
			return model.VerificationSession{}, err
		}
		s.State = model.VerifyApproved
	case model.DecisionRejected:
		if rejectionReason == "" {
			return model.VerificationSession{}, rxerr.ErrMissingRequired.WithField("rejection_reason")
		}
		s.State = model.VerifyRejected
		s.RejectionReason = rejectionReason
	case model.DecisionRework:
		s.State = model.VerifyRework
	default:
		return model.VerificationSession{}, rxerr.ErrInvalidField.WithField("decision")
	}

	s.Decision = decision
	s.Notes = notes
	s.CompletedAt = v.clock.Now()
	s, err = v.store.PutSession(ctx, s)
	if err != nil {
		return model.VerificationSession{}, err
	}

	if decision == model.DecisionApproved {
		f, err := v.store.GetFill(ctx, s.FillID)
		if err != nil {
			return model.VerificationSession{}, err
		}
		f.Status = model.FillVerified
		if _, err := v.store.PutFill(ctx, f); err != nil {
			return model.VerificationSession{}, err
		}
	}

	v.record(ctx, "verify.decide", s.ID, model.OutcomeSuccess, map[string]any{"decision": string(decision)})
	return s, nil
}

// approvalGate enforces the completion rule for approval.
func approvalGate(s model.VerificationSession, rx model.Prescription) error {
	if !s.Checklist.Complete() {
		return rxerr.ErrInvalidTransition.WithDetail("checklist incomplete")
	}
	if s.Scan == nil {
		return rxerr.ErrInvalidTransition.WithDetail("no NDC scan recorded")
	}
	switch s.Scan.Match {
	case model.NDCMatchExact:
	case model.NDCMatchPackageVariant:
		if !s.Scan.VariantConsent {
			return rxerr.ErrInvalidTransition.WithDetail("package-variant scan requires operator consent")
		}
	default:
		return rxerr.ErrSafetyHold.WithDetail("scanned NDC does not match")
	}
	if n := unresolvedAlerts(s.Alerts); n > 0 {
		return rxerr.ErrSafetyHold.WithDetail("%d unresolved DUR alert(s)", n)
	}
	if rx.Schedule.Controlled() {
		reviewed := s.Checklist.PDMPReviewed != nil && *s.Checklist.PDMPReviewed
		if !reviewed && s.PDMPSkipReason == "" {
			return rxerr.ErrInvalidTransition.WithDetail("PDMP review required for controlled substances")
		}
	}
	return nil
}

// unresolvedAlerts counts blocking alerts: high severity and above
// without an override record.
func unresolvedAlerts(alerts []model.DURAlert) int {
	n := 0
	for _, a := range alerts {
		if a.Severity.Rank() >= model.DURHigh.Rank() && a.Override == nil {
			n++
		}
	}
	return n
}

// advance recomputes the working state from session progress.
func advance(s model.VerificationSession) model.VerificationSession {
	if s.State.Terminal() {
		return s
	}
	switch {
	case !s.Checklist.Complete():
		s.State = model.VerifyInProgress
	case unresolvedAlerts(s.Alerts) > 0:
		s.State = model.VerifyPendingDUR
	default:
		s.State = model.VerifyPendingScan
	}
	return s
}

func (v *Verifier) record(ctx context.Context, action, id string, outcome model.AuditOutcome, meta map[string]any) {
	if v.rec == nil {
		return
	}
	_, _ = v.rec.Record(ctx, action, "verification_session", id, outcome, false, meta)
}
