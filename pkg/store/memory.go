// Package store provides the Store port implementations: an in-memory
// store for tests and single-process use, and a SQL store for
// deployments. Both enforce optimistic versioning: a write whose
// aggregate version does not match the stored version fails with
// rxerr.ErrConcurrentMutation.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/rxerr"
)

// Memory is the in-memory Store. Safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	patients      map[string]model.Patient
	drugs         map[string]model.Drug
	prescriptions map[string]model.Prescription
	fills         map[string]model.Fill
	claims        map[string]model.Claim
	sessions      map[string]model.VerificationSession
	pdmpResults   map[string]model.PDMPResult
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		patients:      make(map[string]model.Patient),
		drugs:         make(map[string]model.Drug),
		prescriptions: make(map[string]model.Prescription),
		fills:         make(map[string]model.Fill),
		claims:        make(map[string]model.Claim),
		sessions:      make(map[string]model.VerificationSession),
		pdmpResults:   make(map[string]model.PDMPResult),
	}
}

// checkVersion applies the optimistic rule: a new aggregate (not yet
// stored) must carry version 0; an update must carry the stored
// version. The returned version is the one to persist.
func checkVersion(stored int64, exists bool, incoming int64) (int64, error) {
	if !exists {
		if incoming != 0 {
			return 0, rxerr.ErrConcurrentMutation.WithDetail("aggregate does not exist at version %d", incoming)
		}
		return 1, nil
	}
	if incoming != stored {
		return 0, rxerr.ErrConcurrentMutation.WithDetail("version %d is stale, stored is %d", incoming, stored)
	}
	return stored + 1, nil
}

func (m *Memory) GetPatient(_ context.Context, id string) (model.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return model.Patient{}, rxerr.ErrNotFound.WithDetail("patient")
	}
	return p, nil
}

func (m *Memory) FindPatientByMRN(_ context.Context, mrn string, dob time.Time) (model.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.patients {
		if p.MRN == mrn && sameDay(p.DOB, dob) {
			return p, nil
		}
	}
	return model.Patient{}, rxerr.ErrNotFound.WithDetail("patient")
}

func (m *Memory) PutPatient(_ context.Context, p model.Patient) (model.Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, exists := m.patients[p.ID]
	v, err := checkVersion(stored.Version, exists, p.Version)
	if err != nil {
		return model.Patient{}, err
	}
	p.Version = v
	m.patients[p.ID] = p
	return p, nil
}

func (m *Memory) GetDrug(_ context.Context, ndc string) (model.Drug, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drugs[ndc]
	if !ok {
		return model.Drug{}, rxerr.ErrNotFound.WithDetail("drug")
	}
	return d, nil
}

func (m *Memory) PutDrug(_ context.Context, d model.Drug) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drugs[d.NDC] = d
	return nil
}

func (m *Memory) GetPrescription(_ context.Context, id string) (model.Prescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rx, ok := m.prescriptions[id]
	if !ok {
		return model.Prescription{}, rxerr.ErrNotFound.WithDetail("prescription")
	}
	return rx, nil
}

func (m *Memory) PutPrescription(_ context.Context, rx model.Prescription) (model.Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, exists := m.prescriptions[rx.ID]
	v, err := checkVersion(stored.Version, exists, rx.Version)
	if err != nil {
		return model.Prescription{}, err
	}
	if !exists {
		// (patient_id, rx_number) is unique.
		for _, other := range m.prescriptions {
			if other.PatientID == rx.PatientID && other.RxNumber == rx.RxNumber {
				return model.Prescription{}, rxerr.ErrInvalidField.WithField("rx_number").
					WithDetail("duplicate rx number for patient")
			}
		}
	}
	rx.Version = v
	m.prescriptions[rx.ID] = rx
	return rx, nil
}

func (m *Memory) ListPrescriptionsByPatient(_ context.Context, patientID string) ([]model.Prescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Prescription
	for _, rx := range m.prescriptions {
		if rx.PatientID == patientID {
			out = append(out, rx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WrittenDate.After(out[j].WrittenDate) })
	return out, nil
}

func (m *Memory) ListPrescriptionsByState(_ context.Context, state model.RxState) ([]model.Prescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Prescription
	for _, rx := range m.prescriptions {
		if rx.State == state {
			out = append(out, rx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (m *Memory) GetFill(_ context.Context, id string) (model.Fill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fills[id]
	if !ok {
		return model.Fill{}, rxerr.ErrNotFound.WithDetail("fill")
	}
	return f, nil
}

func (m *Memory) PutFill(_ context.Context, f model.Fill) (model.Fill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, exists := m.fills[f.ID]
	v, err := checkVersion(stored.Version, exists, f.Version)
	if err != nil {
		return model.Fill{}, err
	}
	if !exists {
		// (rx_id, fill_number) is unique; fill numbers are dense.
		next := 0
		for _, other := range m.fills {
			if other.PrescriptionID != f.PrescriptionID {
				continue
			}
			if other.FillNumber == f.FillNumber {
				return model.Fill{}, rxerr.ErrDuplicateFill.
					WithDetail("fill number %d exists for prescription", f.FillNumber)
			}
			if other.FillNumber >= next {
				next = other.FillNumber + 1
			}
		}
		if f.FillNumber != next {
			return model.Fill{}, rxerr.ErrInvalidField.WithField("fill_number").
				WithDetail("expected %d, got %d", next, f.FillNumber)
		}
	}
	f.Version = v
	m.fills[f.ID] = f
	return f, nil
}

func (m *Memory) ListFillsByPrescription(_ context.Context, rxID string) ([]model.Fill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Fill
	for _, f := range m.fills {
		if f.PrescriptionID == rxID {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FillNumber < out[j].FillNumber })
	return out, nil
}

func (m *Memory) GetClaim(_ context.Context, id string) (model.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.claims[id]
	if !ok {
		return model.Claim{}, rxerr.ErrNotFound.WithDetail("claim")
	}
	return c, nil
}

func (m *Memory) PutClaim(_ context.Context, c model.Claim) (model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, exists := m.claims[c.ID]
	v, err := checkVersion(stored.Version, exists, c.Version)
	if err != nil {
		return model.Claim{}, err
	}
	c.Version = v
	m.claims[c.ID] = c
	return c, nil
}

func (m *Memory) ListClaimsByFill(_ context.Context, fillID string) ([]model.Claim, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Claim
	for _, c := range m.claims {
		if c.FillID == fillID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AttemptNo < out[j].AttemptNo })
	return out, nil
}

func (m *Memory) GetSession(_ context.Context, id string) (model.VerificationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.VerificationSession{}, rxerr.ErrNotFound.WithDetail("verification session")
	}
	return s, nil
}

func (m *Memory) PutSession(_ context.Context, s model.VerificationSession) (model.VerificationSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, exists := m.sessions[s.ID]
	v, err := checkVersion(stored.Version, exists, s.Version)
	if err != nil {
		return model.VerificationSession{}, err
	}
	if !exists && !s.State.Terminal() {
		// At most one open session per fill.
		for _, other := range m.sessions {
			if other.FillID == s.FillID && !other.State.Terminal() {
				return model.VerificationSession{}, rxerr.ErrInvalidField.WithField("fill_id").
					WithDetail("fill already has an open verification session")
			}
		}
	}
	s.Version = v
	m.sessions[s.ID] = s
	return s, nil
}

func (m *Memory) OpenSessionForFill(_ context.Context, fillID string) (model.VerificationSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sessions {
		if s.FillID == fillID && !s.State.Terminal() {
			return s, nil
		}
	}
	return model.VerificationSession{}, rxerr.ErrNotFound.WithDetail("verification session")
}

func (m *Memory) GetPDMPResult(_ context.Context, queryID string) (model.PDMPResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.pdmpResults[queryID]
	if !ok {
		return model.PDMPResult{}, rxerr.ErrNotFound.WithDetail("pdmp result")
	}
	return r, nil
}

func (m *Memory) PutPDMPResult(_ context.Context, r model.PDMPResult) (model.PDMPResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, exists := m.pdmpResults[r.QueryID]
	v, err := checkVersion(stored.Version, exists, r.Version)
	if err != nil {
		return model.PDMPResult{}, err
	}
	r.Version = v
	m.pdmpResults[r.QueryID] = r
	return r, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
