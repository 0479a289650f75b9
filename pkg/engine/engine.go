// Package engine assembles the dispensing pipeline: one constructor
// wires intake, data entry, adjudication, filling, verification,
// dispensing, PDMP review and the inventory ledger over shared ports,
// and a handful of orchestration calls move prescriptions between the
// stages the state machine gates.
package engine

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/openpharma/rxengine/pkg/audit"
	"github.com/openpharma/rxengine/pkg/auth"
	"github.com/openpharma/rxengine/pkg/claims"
	"github.com/openpharma/rxengine/pkg/dispense"
	"github.com/openpharma/rxengine/pkg/dur"
	"github.com/openpharma/rxengine/pkg/fill"
	"github.com/openpharma/rxengine/pkg/intake"
	"github.com/openpharma/rxengine/pkg/inventory"
	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/observability"
	"github.com/openpharma/rxengine/pkg/pdmp"
	"github.com/openpharma/rxengine/pkg/ports"
	"github.com/openpharma/rxengine/pkg/rbac"
	"github.com/openpharma/rxengine/pkg/registry"
	"github.com/openpharma/rxengine/pkg/rxerr"
	"github.com/openpharma/rxengine/pkg/store"
	"github.com/openpharma/rxengine/pkg/verify"
	"github.com/openpharma/rxengine/pkg/workflow"
)

// Config collects the ports and adapters an Engine runs on. Store and
// PharmacyID are required; everything else has a working default.
type Config struct {
	Store      ports.Store
	PharmacyID string

	// TxLog backs the inventory ledger; defaults to an in-memory log.
	TxLog inventory.TxLog
	// Cache is an optional shared snapshot cache for the ledger.
	Cache inventory.SnapshotCache

	Clock ports.Clock
	IDs   ports.IDGen
	// Audit defaults to a JSON-line log on stdout.
	Audit audit.Trail

	Switch      ports.ClaimSwitch
	PDMP        ports.PDMPProvider
	Suggestor   ports.Suggestor
	Registries  map[string]ports.RegistryClient
	Prescribers claims.PrescriberDirectory

	// DUR defaults to the compiled-in clinical dataset.
	DUR *dur.Engine
	// PDMPRate bounds outbound registry queries; nil disables
	// client-side limiting.
	PDMPRate *rate.Limiter
	// Meter, when set, registers workflow metrics on it.
	Meter metric.Meter

	// Authz gates every mutating stage operation; defaults to the
	// compiled role matrix with patient self-scoping.
	Authz rbac.Authorizer
}

// Engine is the assembled pipeline. Stage services are exported so
// transports can call them directly; the orchestration methods below
// cover the multi-stage moves.
type Engine struct {
	Store ports.Store
	Clock ports.Clock
	Audit audit.Trail

	Machine   *workflow.Machine
	Intake    *intake.Admitter
	DataEntry *intake.DataEntry
	DUR       *dur.Engine
	Claims    *claims.Adjudicator
	Fills     *fill.Filler
	Verify    *verify.Verifier
	Dispense  *dispense.Dispenser
	Inventory *inventory.Ledger
	PDMP      *pdmp.Querier
	Registry  *registry.Reporter

	pharmacyID  string
	prescribers claims.PrescriberDirectory
}

// New wires an Engine from the config.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, rxerr.ErrMissingRequired.WithField("store")
	}
	if cfg.PharmacyID == "" {
		return nil, rxerr.ErrMissingRequired.WithField("pharmacy_id")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = ports.SystemClock{}
	}
	ids := cfg.IDs
	if ids == nil {
		ids = ports.UUIDGen{}
	}
	trail := cfg.Audit
	if trail == nil {
		trail = audit.NewLog()
	}
	txlog := cfg.TxLog
	if txlog == nil {
		txlog = store.NewMemoryTxLog()
	}
	durEngine := cfg.DUR
	if durEngine == nil {
		durEngine = dur.NewEngine(nil)
	}

	authz := cfg.Authz
	if authz == nil {
		eng, err := rbac.NewEngine()
		if err != nil {
			return nil, rxerr.ErrSystemFailure.Wrap(err)
		}
		authz = eng
	}

	var obs workflow.Observer
	if cfg.Meter != nil {
		m, err := observability.NewWorkflowMetrics(cfg.Meter)
		if err != nil {
			return nil, rxerr.ErrSystemFailure.Wrap(err)
		}
		obs = m
	}

	ledger := inventory.NewLedger(txlog, cfg.Cache, clock, ids, trail).
		WithAuthorizer(authz)
	machine := workflow.NewMachine(cfg.Store, clock, trail, obs).
		WithAuthorizer(authz)

	e := &Engine{
		Store:   cfg.Store,
		Clock:   clock,
		Audit:   trail,
		Machine: machine,
		Intake: intake.NewAdmitter(cfg.Store, clock, ids, trail).
			WithAuthorizer(authz),
		DataEntry: intake.NewDataEntry(cfg.Store, cfg.Suggestor, clock, ids, trail).
			WithAuthorizer(authz),
		DUR: durEngine,
		Fills: fill.NewFiller(cfg.Store, ledger, clock, ids, trail, cfg.PharmacyID).
			WithAuthorizer(authz).
			WithReadmitter(machine),
		Verify: verify.NewVerifier(cfg.Store, clock, ids, trail, durEngine).
			WithAuthorizer(authz),
		Inventory:   ledger,
		Registry:    registry.NewReporter(cfg.Registries, clock, trail),
		pharmacyID:  cfg.PharmacyID,
		prescribers: cfg.Prescribers,
	}
	e.Dispense = dispense.NewDispenser(cfg.Store, clock, trail, machine).
		WithInventory(ledger, cfg.PharmacyID).
		WithAuthorizer(authz)
	if cfg.Switch != nil {
		e.Claims = claims.NewAdjudicator(cfg.Switch, cfg.Store, clock, ids, trail, cfg.Prescribers).
			WithAuthorizer(authz)
	}
	if cfg.PDMP != nil {
		e.PDMP = pdmp.NewQuerier(cfg.PDMP, cfg.Store, clock, ids, trail, pdmp.NewAnalyzer(durEngine), cfg.PDMPRate)
	}
	return e, nil
}

// CompleteDataEntry closes the data-entry session and advances the
// prescription to adjudication.
func (e *Engine) CompleteDataEntry(ctx context.Context, sessionID string) (model.Prescription, error) {
	rx, err := e.DataEntry.Complete(ctx, sessionID)
	if err != nil {
		return model.Prescription{}, err
	}
	return e.Machine.Transition(ctx, rx.ID, model.RxClaimPending, workflow.Payload{})
}

// SubmitClaim adjudicates the fill and moves the prescription along
// the claim edge: fill_pending on approval or cash conversion,
// claim_rejected otherwise. The claim itself is returned either way.
func (e *Engine) SubmitClaim(ctx context.Context, fillID string, cov claims.Coverage, uc model.Cents) (model.Claim, error) {
	sub, err := e.submission(ctx, fillID, cov, uc)
	if err != nil {
		return model.Claim{}, err
	}
	claim, err := e.Claims.Submit(ctx, sub)
	if err != nil {
		return model.Claim{}, err
	}
	return claim, e.settleClaim(ctx, sub.Prescription.ID, claim)
}

// ResubmitWithOverride retries a rejected claim with an override code
// and, on approval, releases the prescription to filling.
func (e *Engine) ResubmitWithOverride(ctx context.Context, claimID, code, reason string) (model.Claim, error) {
	claim, err := e.Claims.SubmitWithOverride(ctx, claimID, code, reason)
	if err != nil {
		return model.Claim{}, err
	}
	return claim, e.settleClaim(ctx, claim.PrescriptionID, claim)
}

// ConvertToCash terminates the claim and releases the prescription to
// filling at the cash price.
func (e *Engine) ConvertToCash(ctx context.Context, claimID string) (model.Claim, error) {
	claim, err := e.Claims.ConvertToCash(ctx, claimID)
	if err != nil {
		return model.Claim{}, err
	}
	return claim, e.settleClaim(ctx, claim.PrescriptionID, claim)
}

func (e *Engine) settleClaim(ctx context.Context, rxID string, claim model.Claim) error {
	var to model.RxState
	switch claim.State {
	case model.ClaimApproved, model.ClaimCash:
		to = model.RxFillPending
	case model.ClaimRejected:
		to = model.RxClaimRejected
	default:
		return nil
	}
	rx, err := e.Store.GetPrescription(ctx, rxID)
	if err != nil {
		return err
	}
	if rx.State == to {
		return nil
	}
	_, err = e.Machine.Transition(ctx, rxID, to, workflow.Payload{})
	return err
}

// FinalizeFill completes the count and advances the prescription into
// the verification queue.
func (e *Engine) FinalizeFill(ctx context.Context, fillID string, in fill.FinalizeInput) (model.Fill, error) {
	f, _, err := e.Fills.Finalize(ctx, fillID, in)
	if err != nil {
		return model.Fill{}, err
	}
	if _, err := e.Machine.Transition(ctx, f.PrescriptionID, model.RxFilled, workflow.Payload{}); err != nil {
		return model.Fill{}, err
	}
	if _, err := e.Machine.Transition(ctx, f.PrescriptionID, model.RxVerificationPending, workflow.Payload{}); err != nil {
		return model.Fill{}, err
	}
	return f, nil
}

// OpenVerification runs the DUR review for the fill and opens the
// pharmacist session with the alerts snapshotted onto it.
func (e *Engine) OpenVerification(ctx context.Context, fillID string, in dur.Input) (model.VerificationSession, dur.Result, error) {
	pharmacist, err := auth.GetPrincipal(ctx)
	if err != nil {
		return model.VerificationSession{}, dur.Result{}, rxerr.ErrNotAuthorized.Wrap(err)
	}
	f, err := e.Store.GetFill(ctx, fillID)
	if err != nil {
		return model.VerificationSession{}, dur.Result{}, err
	}
	rx, err := e.Store.GetPrescription(ctx, f.PrescriptionID)
	if err != nil {
		return model.VerificationSession{}, dur.Result{}, err
	}
	res := e.DUR.Check(in)
	s, err := e.Verify.Open(ctx, rx, f, res.Alerts, pharmacist)
	if err != nil {
		return model.VerificationSession{}, res, err
	}
	return s, res, nil
}

// CloseVerification records the decision and moves the prescription:
// approval lands on the will-call shelf, rework returns to data entry,
// rejection terminates.
func (e *Engine) CloseVerification(ctx context.Context, sessionID string, decision model.VerifyDecision, notes, rejectionReason string) (model.VerificationSession, error) {
	s, err := e.Verify.Decide(ctx, sessionID, decision, notes, rejectionReason)
	if err != nil {
		return model.VerificationSession{}, err
	}
	switch decision {
	case model.DecisionApproved:
		if _, err := e.Machine.Transition(ctx, s.PrescriptionID, model.RxVerified, workflow.Payload{}); err != nil {
			return s, err
		}
		if _, err := e.Machine.Transition(ctx, s.PrescriptionID, model.RxReadyForPickup, workflow.Payload{}); err != nil {
			return s, err
		}
	case model.DecisionRework:
		reason := notes
		if reason == "" {
			reason = "returned for rework"
		}
		if _, err := e.Machine.Transition(ctx, s.PrescriptionID, model.RxRework, workflow.Payload{Reason: reason}); err != nil {
			return s, err
		}
		if _, err := e.Machine.Transition(ctx, s.PrescriptionID, model.RxDataEntry, workflow.Payload{}); err != nil {
			return s, err
		}
	case model.DecisionRejected:
		if _, err := e.Machine.Transition(ctx, s.PrescriptionID, model.RxRejected, workflow.Payload{Reason: rejectionReason}); err != nil {
			return s, err
		}
	}
	return s, nil
}

// submission assembles the adjudication request for one fill.
func (e *Engine) submission(ctx context.Context, fillID string, cov claims.Coverage, uc model.Cents) (claims.Submission, error) {
	f, err := e.Store.GetFill(ctx, fillID)
	if err != nil {
		return claims.Submission{}, err
	}
	rx, err := e.Store.GetPrescription(ctx, f.PrescriptionID)
	if err != nil {
		return claims.Submission{}, err
	}
	sub := claims.Submission{
		Prescription:      rx,
		Fill:              f,
		Coverage:          cov,
		UsualAndCustomary: uc,
	}
	if e.prescribers != nil {
		if info, err := e.prescribers.Lookup(ctx, rx.PrescriberID); err == nil {
			sub.Prescriber = info
		}
	}
	return sub, nil
}
