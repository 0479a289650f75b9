// Package claims adjudicates fills against the payer via the
// ClaimSwitch port: submission, override resubmission, cash
// conversion and reversal.
package claims

import (
	"context"
	"time"

	"github.com/openpharma/rxengine/pkg/audit"
	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/ports"
	"github.com/openpharma/rxengine/pkg/rbac"
	"github.com/openpharma/rxengine/pkg/rxerr"
	"github.com/openpharma/rxengine/pkg/util/resiliency"
)

// SwitchTimeout bounds one adjudication round trip, retries included.
const SwitchTimeout = 30 * time.Second

// Coverage is the patient's plan identification block.
type Coverage struct {
	BIN      string
	PCN      string
	GroupID  string
	MemberID string
}

// PrescriberInfo carries the prescriber identifiers the switch wants.
type PrescriberInfo struct {
	DEA string
	NPI string
}

// PrescriberDirectory resolves prescriber identifiers for claim
// rebuilds. May be nil; identifiers are then omitted.
type PrescriberDirectory interface {
	Lookup(ctx context.Context, prescriberID string) (PrescriberInfo, error)
}

// Submission is everything needed to build one claim request.
type Submission struct {
	Prescription      model.Prescription
	Fill              model.Fill
	Coverage          Coverage
	Prescriber        PrescriberInfo
	UsualAndCustomary model.Cents
}

// Adjudicator drives the claim lifecycle. A circuit breaker guards the
// switch; only transient transport errors are retried.
type Adjudicator struct {
	sw      ports.ClaimSwitch
	store   ports.Store
	clock   ports.Clock
	ids     ports.IDGen
	rec     audit.Recorder
	dir     PrescriberDirectory
	authz   rbac.Authorizer
	breaker *resiliency.CircuitBreaker
	policy  resiliency.Policy
}

// NewAdjudicator wires an Adjudicator with the standard retry schedule.
func NewAdjudicator(sw ports.ClaimSwitch, store ports.Store, clock ports.Clock, ids ports.IDGen, rec audit.Recorder, dir PrescriberDirectory) *Adjudicator {
	return &Adjudicator{
		sw:      sw,
		store:   store,
		clock:   clock,
		ids:     ids,
		rec:     rec,
		dir:     dir,
		breaker: resiliency.NewCircuitBreaker("claim_switch", 5, time.Minute),
		policy:  resiliency.ClaimSwitchPolicy,
	}
}

// WithAuthorizer gates every claim mutation through authz.
func (a *Adjudicator) WithAuthorizer(authz rbac.Authorizer) *Adjudicator {
	a.authz = authz
	return a
}

func (a *Adjudicator) allowed(ctx context.Context, action rbac.Action, patientID string) error {
	return rbac.Allow(ctx, a.authz, rbac.Request{
		Resource: rbac.ResBilling, Action: action, ResourcePatientID: patientID,
	})
}

// Submit builds and transmits the first claim attempt for a fill.
func (a *Adjudicator) Submit(ctx context.Context, sub Submission) (model.Claim, error) {
	if err := a.allowed(ctx, rbac.ActCreate, sub.Prescription.PatientID); err != nil {
		return model.Claim{}, err
	}
	attempt, err := a.nextAttempt(ctx, sub.Fill.ID)
	if err != nil {
		return model.Claim{}, err
	}
	claim := model.Claim{
		ID:             a.ids.New("claim"),
		PrescriptionID: sub.Prescription.ID,
		FillID:         sub.Fill.ID,
		AttemptNo:      attempt,
		BIN:            sub.Coverage.BIN,
		PCN:            sub.Coverage.PCN,
		GroupID:        sub.Coverage.GroupID,
		MemberID:       sub.Coverage.MemberID,
		State:          model.ClaimPending,
		SubmittedAt:    a.clock.Now(),
	}
	claim, err = a.store.PutClaim(ctx, claim)
	if err != nil {
		return model.Claim{}, err
	}
	return a.transmit(ctx, claim, a.buildRequest(claim, sub))
}

// Resubmit opens a fresh attempt for a rejected claim. The original is
// retained untouched.
func (a *Adjudicator) Resubmit(ctx context.Context, claimID string) (model.Claim, error) {
	prior, sub, err := a.reload(ctx, claimID)
	if err != nil {
		return model.Claim{}, err
	}
	if err := a.allowed(ctx, rbac.ActUpdate, sub.Prescription.PatientID); err != nil {
		return model.Claim{}, err
	}
	if prior.State != model.ClaimRejected {
		return model.Claim{}, rxerr.ErrInvalidTransition.
			WithDetail("resubmit requires a rejected claim, state is %s", prior.State)
	}
	return a.submitAttempt(ctx, prior, sub, "", "")
}

// SubmitWithOverride resubmits a rejected claim carrying an override
// code. Permitted only for reject codes whose reference entry allows
// an override.
func (a *Adjudicator) SubmitWithOverride(ctx context.Context, claimID, code, reason string) (model.Claim, error) {
	prior, sub, err := a.reload(ctx, claimID)
	if err != nil {
		return model.Claim{}, err
	}
	if err := a.allowed(ctx, rbac.ActUpdate, sub.Prescription.PatientID); err != nil {
		return model.Claim{}, err
	}
	if prior.State != model.ClaimRejected {
		return model.Claim{}, rxerr.ErrInvalidTransition.
			WithDetail("override requires a rejected claim, state is %s", prior.State)
	}
	if info := LookupReject(prior.RejectCode); !info.Overridable {
		return model.Claim{}, rxerr.ErrNonOverridable.
			WithDetail("reject code %s does not accept overrides", prior.RejectCode)
	}
	if reason == "" {
		return model.Claim{}, rxerr.ErrMissingRequired.WithField("reason")
	}
	return a.submitAttempt(ctx, prior, sub, code, reason)
}

// ConvertToCash terminates an unapproved claim; the fill proceeds at
// the cash price.
func (a *Adjudicator) ConvertToCash(ctx context.Context, claimID string) (model.Claim, error) {
	claim, err := a.store.GetClaim(ctx, claimID)
	if err != nil {
		return model.Claim{}, err
	}
	if err := a.allowed(ctx, rbac.ActUpdate, ""); err != nil {
		return model.Claim{}, err
	}
	switch claim.State {
	case model.ClaimPending, model.ClaimRejected:
	default:
		return model.Claim{}, rxerr.ErrInvalidTransition.
			WithDetail("cash conversion from state %s not permitted", claim.State)
	}
	claim.State = model.ClaimCash
	claim.ResolvedAt = a.clock.Now()
	claim, err = a.store.PutClaim(ctx, claim)
	if err != nil {
		return model.Claim{}, err
	}
	a.record(ctx, "claim.cash_conversion", claim.ID, model.OutcomeSuccess, nil)
	return claim, nil
}

// Reverse emits a B2 reversal for an approved claim whose fill has not
// been handed to the patient.
func (a *Adjudicator) Reverse(ctx context.Context, claimID string) (model.Claim, error) {
	claim, err := a.store.GetClaim(ctx, claimID)
	if err != nil {
		return model.Claim{}, err
	}
	if err := a.allowed(ctx, rbac.ActUpdate, ""); err != nil {
		return model.Claim{}, err
	}
	if claim.State != model.ClaimApproved {
		return model.Claim{}, rxerr.ErrInvalidTransition.
			WithDetail("reversal requires an approved claim, state is %s", claim.State)
	}
	if claim.FillID != "" {
		f, err := a.store.GetFill(ctx, claim.FillID)
		if err != nil {
			return model.Claim{}, err
		}
		if f.Status == model.FillDispensed {
			return model.Claim{}, rxerr.ErrInvalidTransition.
				WithDetail("cannot reverse after dispense")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, SwitchTimeout)
	defer cancel()
	_, err = resiliency.Do(callCtx, a.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.sw.Reverse(ctx, claim.ID)
	})
	if err != nil {
		a.record(ctx, "claim.reverse", claim.ID, model.OutcomeFailure, map[string]any{"error": rxerr.UserMessage(err)})
		return model.Claim{}, err
	}

	claim.State = model.ClaimReversed
	claim.ResolvedAt = a.clock.Now()
	claim, err = a.store.PutClaim(ctx, claim)
	if err != nil {
		return model.Claim{}, err
	}
	a.record(ctx, "claim.reverse", claim.ID, model.OutcomeSuccess, nil)
	return claim, nil
}

// submitAttempt clones a prior claim into the next attempt and
// transmits it.
func (a *Adjudicator) submitAttempt(ctx context.Context, prior model.Claim, sub Submission, overrideCode, overrideReason string) (model.Claim, error) {
	claim := model.Claim{
		ID:             a.ids.New("claim"),
		PrescriptionID: prior.PrescriptionID,
		FillID:         prior.FillID,
		AttemptNo:      prior.AttemptNo + 1,
		BIN:            prior.BIN,
		PCN:            prior.PCN,
		GroupID:        prior.GroupID,
		MemberID:       prior.MemberID,
		OverrideCode:   overrideCode,
		OverrideReason: overrideReason,
		State:          model.ClaimPending,
		SubmittedAt:    a.clock.Now(),
	}
	claim, err := a.store.PutClaim(ctx, claim)
	if err != nil {
		return model.Claim{}, err
	}
	req := a.buildRequest(claim, sub)
	req.OverrideCode = overrideCode
	req.OverrideReason = overrideReason
	return a.transmit(ctx, claim, req)
}

// transmit sends one request through the breaker and retry policy and
// folds the response into the claim.
func (a *Adjudicator) transmit(ctx context.Context, claim model.Claim, req ports.ClaimRequest) (model.Claim, error) {
	if !a.breaker.Allow() {
		err := rxerr.ErrExternalUnavailable.WithDetail("claim switch circuit open")
		a.record(ctx, "claim.submit", claim.ID, model.OutcomeFailure, map[string]any{"error": rxerr.UserMessage(err)})
		return claim, err
	}

	callCtx, cancel := context.WithTimeout(ctx, SwitchTimeout)
	defer cancel()
	resp, err := resiliency.Do(callCtx, a.policy, func(ctx context.Context) (ports.ClaimResponse, error) {
		return a.sw.Send(ctx, req)
	})
	if err != nil {
		a.breaker.Failure()
		if rxerr.IsRetryable(err) {
			// Retries exhausted; the claim stays pending for a later
			// sweep.
			a.record(ctx, "claim.submit", claim.ID, model.OutcomeFailure, map[string]any{"error": rxerr.UserMessage(err)})
			return claim, err
		}
		// Permanent parse or protocol failure: fail the claim as a
		// system reject.
		claim.State = model.ClaimRejected
		claim.RejectCode = RejectCodeSystem
		claim.RejectReason = rxerr.UserMessage(err)
		claim.ResolvedAt = a.clock.Now()
		if updated, perr := a.store.PutClaim(ctx, claim); perr == nil {
			claim = updated
			a.record(ctx, "claim.submit", claim.ID, model.OutcomeFailure,
				map[string]any{"reject_code": RejectCodeSystem})
		}
		return claim, err
	}
	a.breaker.Success()

	switch resp.Status {
	case ports.ClaimRespApproved:
		claim.State = model.ClaimApproved
		claim.GrossPrice = resp.GrossPrice
		claim.PatientPay = resp.PatientPay
		claim.InsurancePay = resp.InsurancePay
		if d := resp.GrossPrice - (resp.PatientPay + resp.InsurancePay); d != 0 {
			// The split must sum to gross. Keep the switch-reported
			// gross and patient share, rebalance the plan share, and
			// record the divergence for reconciliation.
			claim.PayDivergenceCents = d
			claim.InsurancePay = resp.GrossPrice - resp.PatientPay
		}
		claim.ResolvedAt = a.clock.Now()
	case ports.ClaimRespRejected:
		info := LookupReject(resp.RejectCode)
		claim.State = model.ClaimRejected
		claim.RejectCode = resp.RejectCode
		claim.RejectReason = resp.RejectMessage
		if claim.RejectReason == "" {
			claim.RejectReason = info.Description
		}
		claim.ResolvedAt = a.clock.Now()
	case ports.ClaimRespPending:
		// Stays pending; payer will be polled.
	}

	claim, err = a.store.PutClaim(ctx, claim)
	if err != nil {
		return model.Claim{}, err
	}

	outcome := model.OutcomeSuccess
	meta := map[string]any{"state": string(claim.State), "attempt": claim.AttemptNo}
	if claim.State == model.ClaimRejected {
		outcome = model.OutcomeDenied
		meta["reject_code"] = claim.RejectCode
	}
	if claim.PayDivergenceCents != 0 {
		meta["pay_divergence_cents"] = int64(claim.PayDivergenceCents)
	}
	a.record(ctx, "claim.submit", claim.ID, outcome, meta)
	return claim, nil
}

func (a *Adjudicator) buildRequest(claim model.Claim, sub Submission) ports.ClaimRequest {
	ndc := sub.Fill.DispensedNDC
	if ndc == "" {
		ndc = sub.Prescription.DrugNDC
	}
	qty := sub.Fill.QuantityDispensed
	if qty == 0 {
		qty = sub.Prescription.Quantity
	}
	days := sub.Fill.DaysSupply
	if days == 0 {
		days = sub.Prescription.DaysSupply
	}
	return ports.ClaimRequest{
		ClaimID:           claim.ID,
		BIN:               claim.BIN,
		PCN:               claim.PCN,
		GroupID:           claim.GroupID,
		MemberID:          claim.MemberID,
		NDC:               ndc,
		Quantity:          qty,
		DaysSupply:        days,
		DAW:               sub.Prescription.DAW,
		PrescriberDEA:     sub.Prescriber.DEA,
		PrescriberNPI:     sub.Prescriber.NPI,
		UsualAndCustomary: sub.UsualAndCustomary,
	}
}

// reload rebuilds the Submission for a stored claim from its
// prescription and fill.
func (a *Adjudicator) reload(ctx context.Context, claimID string) (model.Claim, Submission, error) {
	claim, err := a.store.GetClaim(ctx, claimID)
	if err != nil {
		return model.Claim{}, Submission{}, err
	}
	rx, err := a.store.GetPrescription(ctx, claim.PrescriptionID)
	if err != nil {
		return model.Claim{}, Submission{}, err
	}
	sub := Submission{
		Prescription: rx,
		Coverage:     Coverage{BIN: claim.BIN, PCN: claim.PCN, GroupID: claim.GroupID, MemberID: claim.MemberID},
	}
	if claim.FillID != "" {
		f, err := a.store.GetFill(ctx, claim.FillID)
		if err != nil {
			return model.Claim{}, Submission{}, err
		}
		sub.Fill = f
	}
	if a.dir != nil {
		if info, err := a.dir.Lookup(ctx, rx.PrescriberID); err == nil {
			sub.Prescriber = info
		}
	}
	return claim, sub, nil
}

func (a *Adjudicator) nextAttempt(ctx context.Context, fillID string) (int, error) {
	if fillID == "" {
		return 1, nil
	}
	prior, err := a.store.ListClaimsByFill(ctx, fillID)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, c := range prior {
		if c.AttemptNo > max {
			max = c.AttemptNo
		}
	}
	return max + 1, nil
}

func (a *Adjudicator) record(ctx context.Context, action, claimID string, outcome model.AuditOutcome, meta map[string]any) {
	if a.rec == nil {
		return
	}
	_, _ = a.rec.Record(ctx, action, "claim", claimID, outcome, false, meta)
}
