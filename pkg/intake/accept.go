package intake

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openpharma/rxengine/pkg/audit"
	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/ports"
	"github.com/openpharma/rxengine/pkg/rbac"
	"github.com/openpharma/rxengine/pkg/rxerr"
)

// DuplicateWindow bounds the lookback for duplicate admissions: the
// same drug, quantity and prescriber within the window is a re-send,
// not a new order.
const DuplicateWindow = 24 * time.Hour

// Admitter turns inbound payloads into prescriptions ready for data
// entry.
type Admitter struct {
	store ports.Store
	clock ports.Clock
	ids   ports.IDGen
	rec   audit.Recorder
	authz rbac.Authorizer
}

// NewAdmitter wires an Admitter. rec may be nil.
func NewAdmitter(store ports.Store, clock ports.Clock, ids ports.IDGen, rec audit.Recorder) *Admitter {
	return &Admitter{store: store, clock: clock, ids: ids, rec: rec}
}

// WithAuthorizer gates Accept through authz.
func (a *Admitter) WithAuthorizer(authz rbac.Authorizer) *Admitter {
	a.authz = authz
	return a
}

// Accept admits one inbound prescription. eRx payloads are validated
// against the envelope schema; other sources are parsed loosely and
// completed during data entry. The patient is matched by MRN and DOB
// or created, and a duplicate admission inside DuplicateWindow is
// rejected.
func (a *Admitter) Accept(ctx context.Context, source model.IntakeSource, payload []byte) (model.Prescription, error) {
	if err := rbac.Allow(ctx, a.authz, rbac.Request{
		Resource: rbac.ResMedication, Action: rbac.ActCreate,
	}); err != nil {
		return model.Prescription{}, err
	}
	env, err := parseEnvelope(payload, source == model.SourceERx)
	if err != nil {
		return model.Prescription{}, err
	}
	dob, err := env.dob()
	if err != nil {
		return model.Prescription{}, err
	}

	patient, err := a.matchPatient(ctx, env, dob)
	if err != nil {
		return model.Prescription{}, err
	}

	now := a.clock.Now()
	if err := a.checkDuplicate(ctx, patient.ID, env, now); err != nil {
		a.record(ctx, "", source, model.OutcomeDenied)
		return model.Prescription{}, err
	}

	rx := a.buildPrescription(ctx, env, patient, source, now)
	if err := rx.Validate(); err != nil {
		return model.Prescription{}, err
	}
	rx, err = a.store.PutPrescription(ctx, rx)
	if err != nil {
		return model.Prescription{}, err
	}
	a.record(ctx, rx.ID, source, model.OutcomeSuccess)
	return rx, nil
}

// matchPatient resolves the envelope's demographics to a patient. An
// MRN hit with a divergent name is a hard stop rather than a silent
// relink.
func (a *Admitter) matchPatient(ctx context.Context, env Envelope, dob time.Time) (model.Patient, error) {
	p, err := a.store.FindPatientByMRN(ctx, env.Patient.MRN, dob)
	switch {
	case err == nil:
		if !sameName(p.FirstName, p.LastName, env.Patient.FirstName, env.Patient.LastName) {
			return model.Patient{}, rxerr.ErrInvalidField.WithField("patient").
				WithDetail("name does not match the record on file for this MRN")
		}
		return p, nil
	case errors.Is(err, rxerr.ErrNotFound):
		created := model.Patient{
			ID:        a.ids.New("pat"),
			MRN:       env.Patient.MRN,
			FirstName: env.Patient.FirstName,
			LastName:  env.Patient.LastName,
			DOB:       dob,
		}
		return a.store.PutPatient(ctx, created)
	default:
		return model.Patient{}, err
	}
}

func (a *Admitter) checkDuplicate(ctx context.Context, patientID string, env Envelope, now time.Time) error {
	existing, err := a.store.ListPrescriptionsByPatient(ctx, patientID)
	if err != nil {
		return err
	}
	for _, rx := range existing {
		if now.Sub(rx.CreatedAt) > DuplicateWindow {
			continue
		}
		if !sameDrug(rx, env) || rx.Quantity != env.Quantity || rx.PrescriberID != env.Prescriber.ID {
			continue
		}
		return rxerr.ErrDuplicateRx.
			WithDetail("matching order admitted within the last 24 hours")
	}
	return nil
}

func (a *Admitter) buildPrescription(ctx context.Context, env Envelope, patient model.Patient, source model.IntakeSource, now time.Time) model.Prescription {
	schedule := model.DEASchedule(env.Schedule)
	drugName := env.Drug.Name
	if env.Drug.NDC != "" {
		if drug, err := a.store.GetDrug(ctx, env.Drug.NDC); err == nil {
			if schedule == "" {
				schedule = drug.Schedule
			}
			if drugName == "" {
				drugName = drug.GenericName
			}
		}
	}
	if schedule == "" {
		schedule = model.ScheduleLegend
	}

	expiry := now.AddDate(1, 0, 0)
	if schedule.Controlled() {
		expiry = now.AddDate(0, 6, 0)
	}
	refills := env.Refills
	if schedule == model.ScheduleII {
		refills = 0
	}

	return model.Prescription{
		ID:                a.ids.New("rx"),
		RxNumber:          a.ids.New("rxn"),
		PatientID:         patient.ID,
		PrescriberID:      env.Prescriber.ID,
		DrugNDC:           env.Drug.NDC,
		DrugName:          drugName,
		Quantity:          env.Quantity,
		DaysSupply:        env.DaysSupply,
		Sig:               env.Sig,
		DAW:               env.DAW,
		RefillsAuthorized: refills,
		RefillsRemaining:  refills,
		WrittenDate:       now,
		ExpirationDate:    expiry,
		State:             model.RxDataEntry,
		Schedule:          schedule,
		Priority:          model.PriorityNormal,
		Source:            source,
		ICD10:             env.ICD10,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

func sameDrug(rx model.Prescription, env Envelope) bool {
	if rx.DrugNDC != "" && env.Drug.NDC != "" {
		return rx.DrugNDC == env.Drug.NDC
	}
	return strings.EqualFold(rx.DrugName, env.Drug.Name)
}

func (a *Admitter) record(ctx context.Context, rxID string, source model.IntakeSource, outcome model.AuditOutcome) {
	if a.rec == nil {
		return
	}
	_, _ = a.rec.Record(ctx, "rx.accept", "prescription", rxID, outcome, true,
		map[string]any{"source": string(source)})
}
