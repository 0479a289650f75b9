// Package workflow drives the prescription lifecycle. Transitions are
// table-driven, serialized per prescription, and guarded by the
// downstream evidence each state requires.
package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/openpharma/rxengine/pkg/audit"
	"github.com/openpharma/rxengine/pkg/auth"
	"github.com/openpharma/rxengine/pkg/fill"
	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/ports"
	"github.com/openpharma/rxengine/pkg/rbac"
	"github.com/openpharma/rxengine/pkg/rxerr"
)

// transitions is the edge set of the lifecycle graph. Cancellation and
// expiry are handled separately: both are reachable from every
// non-terminal state.
var transitions = map[model.RxState][]model.RxState{
	model.RxIntake:              {model.RxDataEntry},
	model.RxDataEntry:           {model.RxClaimPending},
	model.RxClaimPending:        {model.RxClaimRejected, model.RxFillPending},
	model.RxClaimRejected:       {model.RxClaimPending, model.RxFillPending},
	model.RxFillPending:         {model.RxFilled},
	model.RxFilled:              {model.RxVerificationPending},
	model.RxVerificationPending: {model.RxVerified, model.RxRework, model.RxRejected},
	model.RxRework:              {model.RxDataEntry},
	model.RxVerified:            {model.RxReadyForPickup},
	model.RxReadyForPickup:      {model.RxPickedUp, model.RxDelivered},
}

func allowed(from, to model.RxState) bool {
	if to == model.RxCancelled || to == model.RxExpired {
		return !from.Terminal()
	}
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Observer receives each committed transition. Implementations must
// not block.
type Observer interface {
	Transition(from, to model.RxState, took time.Duration)
}

// Payload carries operation-specific transition evidence.
type Payload struct {
	// Reason documents rejection, cancellation, and rework.
	Reason string
	// EmergencyPartial authorizes fill_pending without an approved
	// claim: Schedule II emergency supply in a long-term-care context.
	EmergencyPartial bool
}

// Machine executes guarded transitions against the store.
type Machine struct {
	store ports.Store
	clock ports.Clock
	rec   audit.Recorder
	obs   Observer
	authz rbac.Authorizer

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	// terminalReasons backs terminal-transition idempotency within the
	// process: a repeat with the same payload returns the record, a
	// divergent payload fails.
	terminalReasons map[string]string
}

// NewMachine wires a Machine. rec and obs may be nil.
func NewMachine(store ports.Store, clock ports.Clock, rec audit.Recorder, obs Observer) *Machine {
	return &Machine{
		store: store, clock: clock, rec: rec, obs: obs,
		locks:           make(map[string]*sync.Mutex),
		terminalReasons: make(map[string]string),
	}
}

// WithAuthorizer gates every state change through authz.
func (m *Machine) WithAuthorizer(authz rbac.Authorizer) *Machine {
	m.authz = authz
	return m
}

func (m *Machine) lockRx(rxID string) func() {
	m.mu.Lock()
	l, ok := m.locks[rxID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[rxID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Transition moves the prescription to the target state after its
// guard passes. Terminal transitions are idempotent under an identical
// payload.
func (m *Machine) Transition(ctx context.Context, rxID string, to model.RxState, p Payload) (model.Prescription, error) {
	unlock := m.lockRx(rxID)
	defer unlock()

	rx, err := m.store.GetPrescription(ctx, rxID)
	if err != nil {
		return model.Prescription{}, err
	}
	if err := rbac.Allow(ctx, m.authz, rbac.Request{
		Resource: rbac.ResMedication, Action: rbac.ActUpdate, ResourcePatientID: rx.PatientID,
	}); err != nil {
		return model.Prescription{}, err
	}

	if rx.State.Terminal() {
		if rx.State != to {
			return model.Prescription{}, rxerr.ErrInvalidTransition.
				WithDetail("%s is terminal", rx.State)
		}
		if prior, ok := m.terminalReasons[rxID]; ok && prior != p.Reason {
			return model.Prescription{}, rxerr.ErrInvalidTransition.
				WithDetail("terminal repeat with divergent payload")
		}
		return rx, nil
	}

	if !allowed(rx.State, to) {
		return model.Prescription{}, rxerr.ErrInvalidTransition.
			WithDetail("%s -> %s", rx.State, to)
	}
	if err := m.guard(ctx, rx, to, p); err != nil {
		m.record(ctx, rx, to, model.OutcomeDenied, p)
		return model.Prescription{}, err
	}

	from := rx.State
	start := m.clock.Now()
	rx.State = to
	rx.UpdatedAt = start
	rx, err = m.store.PutPrescription(ctx, rx)
	if err != nil {
		return model.Prescription{}, err
	}
	if to.Terminal() {
		m.terminalReasons[rxID] = p.Reason
	}

	m.record(ctx, rx, to, model.OutcomeSuccess, p)
	if m.obs != nil {
		m.obs.Transition(from, to, m.clock.Now().Sub(start))
	}
	return rx, nil
}

// Readmit re-enters a dispensed prescription at adjudication for its
// next fill cycle. Pickup states are terminal for ordinary
// transitions, so re-admission is its own operation under the same
// lock, audit and observer path.
func (m *Machine) Readmit(ctx context.Context, rxID string) (model.Prescription, error) {
	unlock := m.lockRx(rxID)
	defer unlock()

	rx, err := m.store.GetPrescription(ctx, rxID)
	if err != nil {
		return model.Prescription{}, err
	}
	if err := rbac.Allow(ctx, m.authz, rbac.Request{
		Resource: rbac.ResMedication, Action: rbac.ActUpdate, ResourcePatientID: rx.PatientID,
	}); err != nil {
		return model.Prescription{}, err
	}

	switch rx.State {
	case model.RxPickedUp, model.RxDelivered:
	default:
		m.record(ctx, rx, model.RxClaimPending, model.OutcomeDenied, Payload{})
		return model.Prescription{}, rxerr.ErrInvalidTransition.
			WithDetail("%s cannot re-admit", rx.State)
	}

	from := rx.State
	start := m.clock.Now()
	rx.State = model.RxClaimPending
	rx.UpdatedAt = start
	rx, err = m.store.PutPrescription(ctx, rx)
	if err != nil {
		return model.Prescription{}, err
	}
	delete(m.terminalReasons, rxID)

	m.record(ctx, rx, model.RxClaimPending, model.OutcomeSuccess, Payload{})
	if m.obs != nil {
		m.obs.Transition(from, model.RxClaimPending, m.clock.Now().Sub(start))
	}
	return rx, nil
}

// guard enforces the entry requirement of the target state.
func (m *Machine) guard(ctx context.Context, rx model.Prescription, to model.RxState, p Payload) error {
	switch to {
	case model.RxFillPending:
		return m.guardFillPending(ctx, rx, p)
	case model.RxVerificationPending:
		return m.guardVerificationPending(ctx, rx)
	case model.RxVerified:
		return m.guardVerified(ctx, rx)
	case model.RxRejected, model.RxRework, model.RxCancelled:
		if p.Reason == "" {
			return rxerr.ErrMissingRequired.WithField("reason")
		}
	}
	return nil
}

// guardFillPending admits filling on an approved claim, a cash
// conversion, or a documented Schedule II emergency partial.
func (m *Machine) guardFillPending(ctx context.Context, rx model.Prescription, p Payload) error {
	if p.EmergencyPartial {
		if rx.Schedule != model.ScheduleII {
			return rxerr.ErrInvalidTransition.
				WithDetail("emergency partial applies to schedule II only")
		}
		if p.Reason == "" {
			return rxerr.ErrMissingRequired.WithField("reason")
		}
		return nil
	}

	f, err := m.latestFill(ctx, rx.ID)
	if err != nil {
		return err
	}
	claims, err := m.store.ListClaimsByFill(ctx, f.ID)
	if err != nil {
		return err
	}
	for _, c := range claims {
		if c.State == model.ClaimApproved || c.State == model.ClaimCash {
			return nil
		}
	}
	return rxerr.ErrInvalidTransition.
		WithDetail("no approved claim or cash conversion for the current fill")
}

func (m *Machine) guardVerificationPending(ctx context.Context, rx model.Prescription) error {
	f, err := m.latestFill(ctx, rx.ID)
	if err != nil {
		return err
	}
	if f.Status != model.FillFilled {
		return rxerr.ErrInvalidTransition.
			WithDetail("current fill is %s, not filled", f.Status)
	}
	drug, err := m.store.GetDrug(ctx, rx.DrugNDC)
	if err != nil {
		return err
	}
	res := fill.ValidateFillForVerification(f, rx, drug, m.clock.Now())
	if !res.Valid {
		return rxerr.ErrInvalidField.
			WithDetail("fill failed validation with %d error(s)", len(res.Errors))
	}
	return nil
}

func (m *Machine) guardVerified(ctx context.Context, rx model.Prescription) error {
	f, err := m.latestFill(ctx, rx.ID)
	if err != nil {
		return err
	}
	if f.Status != model.FillVerified {
		return rxerr.ErrInvalidTransition.
			WithDetail("no approved verification for the current fill")
	}
	return nil
}

func (m *Machine) latestFill(ctx context.Context, rxID string) (model.Fill, error) {
	fills, err := m.store.ListFillsByPrescription(ctx, rxID)
	if err != nil {
		return model.Fill{}, err
	}
	if len(fills) == 0 {
		return model.Fill{}, rxerr.ErrNotFound.WithDetail("fill")
	}
	return fills[len(fills)-1], nil
}

func (m *Machine) record(ctx context.Context, rx model.Prescription, to model.RxState, outcome model.AuditOutcome, p Payload) {
	if m.rec == nil {
		return
	}
	meta := map[string]any{"to": string(to)}
	if p.Reason != "" {
		meta["reason"] = p.Reason
	}
	if p.EmergencyPartial {
		meta["emergency_partial"] = true
	}
	if actor, err := auth.GetPrincipal(ctx); err == nil {
		meta["actor"] = actor.GetID()
	}
	_, _ = m.rec.Record(ctx, "rx.transition", "prescription", rx.ID, outcome, false, meta)
}
