// Package dispense records the final hand-off to the patient and
// watches the will-call shelf.
package dispense

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/openpharma/rxengine/pkg/audit"
	"github.com/openpharma/rxengine/pkg/auth"
	"github.com/openpharma/rxengine/pkg/inventory"
	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/ports"
	"github.com/openpharma/rxengine/pkg/rbac"
	"github.com/openpharma/rxengine/pkg/rxerr"
	"github.com/openpharma/rxengine/pkg/workflow"
)

// WillCallMaxAge is how long a filled prescription waits on the shelf
// before it is flagged for return to stock.
const WillCallMaxAge = 10 * 24 * time.Hour

// Dispenser commits hand-offs. The confirmation token makes a repeat
// of the same hand-off a no-op rather than a second dispense.
type Dispenser struct {
	store   ports.Store
	clock   ports.Clock
	rec     audit.Recorder
	machine *workflow.Machine

	ledger     *inventory.Ledger
	pharmacyID string
	authz      rbac.Authorizer
}

// NewDispenser wires a Dispenser. rec may be nil.
func NewDispenser(store ports.Store, clock ports.Clock, rec audit.Recorder, machine *workflow.Machine) *Dispenser {
	return &Dispenser{store: store, clock: clock, rec: rec, machine: machine}
}

// WithInventory attaches the stock ledger: a hand-off then consumes
// the fill's reservation with one dispense transaction.
func (d *Dispenser) WithInventory(l *inventory.Ledger, pharmacyID string) *Dispenser {
	d.ledger = l
	d.pharmacyID = pharmacyID
	return d
}

// WithAuthorizer gates hand-offs through authz.
func (d *Dispenser) WithAuthorizer(authz rbac.Authorizer) *Dispenser {
	d.authz = authz
	return d
}

// Hand releases a verified fill to the patient. Controlled substances
// require an ID check, and Schedule II additionally a signature.
// Re-invoking with the same fill, actor and confirmation inputs
// returns the already-dispensed fill and writes no second audit entry.
func (d *Dispenser) Hand(ctx context.Context, fillID string, patientIDConfirmed bool, signature []byte) (model.Fill, error) {
	actor, err := auth.GetPrincipal(ctx)
	if err != nil {
		return model.Fill{}, rxerr.ErrNotAuthorized.Wrap(err)
	}

	f, err := d.store.GetFill(ctx, fillID)
	if err != nil {
		return model.Fill{}, err
	}
	rx, err := d.store.GetPrescription(ctx, f.PrescriptionID)
	if err != nil {
		return model.Fill{}, err
	}
	if err := rbac.Allow(ctx, d.authz, rbac.Request{
		Resource:          rbac.ResMedication,
		Action:            rbac.ActUpdate,
		ResourcePatientID: rx.PatientID,
	}); err != nil {
		return model.Fill{}, err
	}

	token, err := confirmationToken(fillID, actor.GetID(), patientIDConfirmed, signature)
	if err != nil {
		return model.Fill{}, err
	}

	if f.Status == model.FillDispensed {
		if f.DispenseToken == token {
			return f, nil
		}
		return model.Fill{}, rxerr.ErrDuplicateFill.
			WithDetail("fill already dispensed under a different confirmation")
	}
	if f.Status != model.FillVerified {
		return model.Fill{}, rxerr.ErrInvalidTransition.
			WithDetail("fill is %s, not verified", f.Status)
	}
	if rx.State != model.RxReadyForPickup {
		return model.Fill{}, rxerr.ErrInvalidTransition.
			WithDetail("prescription is %s, not ready_for_pickup", rx.State)
	}

	if rx.Schedule.Controlled() && !patientIDConfirmed {
		return model.Fill{}, rxerr.ErrMissingRequired.WithField("patient_id_confirmed")
	}
	if rx.Schedule == model.ScheduleII && len(signature) == 0 {
		return model.Fill{}, rxerr.ErrMissingRequired.WithField("signature")
	}

	now := d.clock.Now()
	if d.ledger != nil && f.DispensedNDC != "" {
		if _, err := d.ledger.Dispense(ctx, d.pharmacyID, f.DispensedNDC, f.QuantityDispensed, f.ID); err != nil {
			return model.Fill{}, err
		}
	}

	f.Status = model.FillDispensed
	f.DispenseToken = token
	f.DispensedAt = now
	f, err = d.store.PutFill(ctx, f)
	if err != nil {
		return model.Fill{}, err
	}

	if _, err := d.machine.Transition(ctx, rx.ID, model.RxPickedUp, workflow.Payload{}); err != nil {
		return model.Fill{}, err
	}

	// Refill arithmetic settles on the hand-off: the completed fill
	// counts, and a refill consumes one authorization.
	rx, err = d.store.GetPrescription(ctx, rx.ID)
	if err != nil {
		return model.Fill{}, err
	}
	rx.FillCount++
	rx.LastFillDate = now
	if f.FillNumber > 0 && rx.RefillsRemaining > 0 {
		rx.RefillsRemaining--
	}
	rx.UpdatedAt = now
	if _, err := d.store.PutPrescription(ctx, rx); err != nil {
		return model.Fill{}, err
	}

	if d.rec != nil {
		meta := map[string]any{
			"prescription":         rx.ID,
			"patient_id_confirmed": patientIDConfirmed,
			"signature_captured":   len(signature) > 0,
		}
		_, _ = d.rec.Record(ctx, "fill.dispense", "fill", f.ID,
			model.OutcomeSuccess, true, meta)
	}
	return f, nil
}

// WillCallEntry is one shelf position awaiting pickup.
type WillCallEntry struct {
	Prescription model.Prescription
	Waiting      time.Duration
	// Stale marks entries past WillCallMaxAge, candidates for return
	// to stock and claim reversal.
	Stale bool
}

// WillCall returns the shelf, oldest first.
func (d *Dispenser) WillCall(ctx context.Context) ([]WillCallEntry, error) {
	waiting, err := d.store.ListPrescriptionsByState(ctx, model.RxReadyForPickup)
	if err != nil {
		return nil, err
	}
	now := d.clock.Now()
	out := make([]WillCallEntry, 0, len(waiting))
	for _, rx := range waiting {
		age := now.Sub(rx.UpdatedAt)
		out = append(out, WillCallEntry{
			Prescription: rx,
			Waiting:      age,
			Stale:        age >= WillCallMaxAge,
		})
	}
	return out, nil
}

// confirmationToken hashes the hand-off identity over its canonical
// JSON form. Signature bytes contribute a digest, not the raw image.
func confirmationToken(fillID, actorID string, patientIDConfirmed bool, signature []byte) (string, error) {
	sigHash := ""
	if len(signature) > 0 {
		sum := sha256.Sum256(signature)
		sigHash = hex.EncodeToString(sum[:])
	}
	raw, err := json.Marshal(map[string]any{
		"fill_id":              fillID,
		"actor_id":             actorID,
		"patient_id_confirmed": patientIDConfirmed,
		"signature_sha256":     sigHash,
	})
	if err != nil {
		return "", rxerr.ErrSystemFailure.Wrap(err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", rxerr.ErrSystemFailure.Wrap(err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
