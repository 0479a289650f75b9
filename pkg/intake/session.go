package intake

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/openpharma/rxengine/pkg/audit"
	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/ports"
	"github.com/openpharma/rxengine/pkg/rbac"
	"github.com/openpharma/rxengine/pkg/rxerr"
)

// SuggestTimeout bounds one Suggestor call. A timed-out extraction
// returns no fields and is never retried.
const SuggestTimeout = 15 * time.Second

// Field names one data-entry slot.
type Field string

const (
	FieldPatientFirst Field = "patient.first_name"
	FieldPatientLast  Field = "patient.last_name"
	FieldPatientDOB   Field = "patient.dob"
	FieldDrug         Field = "drug"
	FieldQuantity     Field = "quantity"
	FieldDaysSupply   Field = "days_supply"
	FieldSig          Field = "sig"
	FieldPrescriber   Field = "prescriber"
)

// requiredFields must all be filled before the session completes.
var requiredFields = []Field{
	FieldPatientFirst, FieldPatientLast, FieldPatientDOB,
	FieldDrug, FieldQuantity, FieldSig, FieldPrescriber,
}

// ValueKind discriminates FieldValue.
type ValueKind string

const (
	KindText    ValueKind = "text"
	KindNumber  ValueKind = "number"
	KindInteger ValueKind = "integer"
	KindDate    ValueKind = "date"
)

// FieldValue is a typed data-entry value. Exactly the slot named by
// Kind is meaningful.
type FieldValue struct {
	Kind    ValueKind
	Text    string
	Number  float64
	Integer int
	Date    time.Time
}

// TextValue builds a text FieldValue.
func TextValue(s string) FieldValue { return FieldValue{Kind: KindText, Text: s} }

// NumberValue builds a numeric FieldValue.
func NumberValue(f float64) FieldValue { return FieldValue{Kind: KindNumber, Number: f} }

// DateValue builds a date FieldValue.
func DateValue(t time.Time) FieldValue { return FieldValue{Kind: KindDate, Date: t} }

// Acceptance records how a field value entered the session.
type Acceptance string

const (
	// AcceptanceAuto marks a suggestion admitted on confidence alone.
	AcceptanceAuto Acceptance = "auto"
	// AcceptanceConfirmed marks a mid-confidence suggestion a human
	// confirmed.
	AcceptanceConfirmed Acceptance = "confirmed"
	// AcceptanceManual marks a value keyed by hand.
	AcceptanceManual Acceptance = "manual"
	// AcceptanceOverride marks a hand-keyed value replacing a
	// low-confidence suggestion.
	AcceptanceOverride Acceptance = "override"
)

// Entry is one filled slot.
type Entry struct {
	Value      FieldValue
	Confidence int // 0 when keyed by hand
	Acceptance Acceptance
}

// Session is one data-entry workspace over a prescription. Sessions
// are process-local; the prescription is the durable record.
type Session struct {
	ID             string
	PrescriptionID string
	Fields         map[Field]Entry
	// suggestions holds the latest extraction, keyed by field, until
	// applied or replaced.
	suggestions map[Field]ports.SuggestedField
	Complete    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DataEntry runs data-entry sessions. The Suggestor is optional and
// never gates completion.
type DataEntry struct {
	store ports.Store
	sug   ports.Suggestor
	clock ports.Clock
	ids   ports.IDGen
	rec   audit.Recorder
	authz rbac.Authorizer

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewDataEntry wires a DataEntry service. sug and rec may be nil.
func NewDataEntry(store ports.Store, sug ports.Suggestor, clock ports.Clock, ids ports.IDGen, rec audit.Recorder) *DataEntry {
	return &DataEntry{
		store: store, sug: sug, clock: clock, ids: ids, rec: rec,
		sessions: make(map[string]*Session),
	}
}

// WithAuthorizer gates session opening and completion through authz.
func (d *DataEntry) WithAuthorizer(authz rbac.Authorizer) *DataEntry {
	d.authz = authz
	return d
}

// Start opens a session for a prescription in data entry, prefilled
// from whatever the admission already carried.
func (d *DataEntry) Start(ctx context.Context, rxID string) (Session, error) {
	rx, err := d.store.GetPrescription(ctx, rxID)
	if err != nil {
		return Session{}, err
	}
	if err := rbac.Allow(ctx, d.authz, rbac.Request{
		Resource: rbac.ResMedication, Action: rbac.ActUpdate, ResourcePatientID: rx.PatientID,
	}); err != nil {
		return Session{}, err
	}
	if rx.State != model.RxDataEntry {
		return Session{}, rxerr.ErrInvalidTransition.
			WithDetail("prescription is %s, not data_entry", rx.State)
	}

	now := d.clock.Now()
	s := &Session{
		ID:             d.ids.New("des"),
		PrescriptionID: rxID,
		Fields:         make(map[Field]Entry),
		suggestions:    make(map[Field]ports.SuggestedField),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	d.prefill(ctx, s, rx)

	d.mu.Lock()
	d.sessions[s.ID] = s
	d.mu.Unlock()
	return *s, nil
}

// prefill seeds slots the admission payload already resolved. An eRx
// session typically starts complete; fax and phone shells start near
// empty.
func (d *DataEntry) prefill(ctx context.Context, s *Session, rx model.Prescription) {
	set := func(f Field, v FieldValue) {
		s.Fields[f] = Entry{Value: v, Acceptance: AcceptanceManual}
	}
	if rx.DrugName != "" {
		set(FieldDrug, TextValue(rx.DrugName))
	}
	if rx.Quantity > 0 {
		set(FieldQuantity, NumberValue(rx.Quantity))
	}
	if rx.DaysSupply > 0 {
		set(FieldDaysSupply, FieldValue{Kind: KindInteger, Integer: rx.DaysSupply})
	}
	if rx.Sig != "" {
		set(FieldSig, TextValue(rx.Sig))
	}
	if rx.PrescriberID != "" {
		set(FieldPrescriber, TextValue(rx.PrescriberID))
	}
	if p, err := d.store.GetPatient(ctx, rx.PatientID); err == nil {
		set(FieldPatientFirst, TextValue(p.FirstName))
		set(FieldPatientLast, TextValue(p.LastName))
		set(FieldPatientDOB, DateValue(p.DOB))
	}
}

// Suggest runs the extractor over a scanned document and parks the
// results for per-field application. A timeout or provider error
// yields no suggestions, not a failure.
func (d *DataEntry) Suggest(ctx context.Context, sessionID string, document []byte) ([]ports.SuggestedField, error) {
	s, err := d.get(sessionID)
	if err != nil {
		return nil, err
	}
	if d.sug == nil {
		return nil, nil
	}

	sctx, cancel := context.WithTimeout(ctx, SuggestTimeout)
	defer cancel()
	fields, err := d.sug.Extract(sctx, document)
	if err != nil {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range fields {
		s.suggestions[Field(f.Field)] = f
	}
	s.UpdatedAt = d.clock.Now()
	return fields, nil
}

// ApplySuggestion admits a parked suggestion into the field. Admission
// is confidence-banded: 95 and above enters on its own, 85 to 94 needs
// the operator's confirmation, below 85 must be keyed by hand.
func (d *DataEntry) ApplySuggestion(ctx context.Context, sessionID string, field Field, confirmed bool) (Session, error) {
	s, err := d.get(sessionID)
	if err != nil {
		return Session{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if s.Complete {
		return Session{}, rxerr.ErrInvalidTransition.WithDetail("session is complete")
	}
	sf, ok := s.suggestions[field]
	if !ok {
		return Session{}, rxerr.ErrNotFound.WithField(string(field)).
			WithDetail("no suggestion for field")
	}

	var acceptance Acceptance
	switch {
	case sf.Confidence >= 95:
		acceptance = AcceptanceAuto
	case sf.Confidence >= 85:
		if !confirmed {
			return Session{}, rxerr.ErrInvalidField.WithField(string(field)).
				WithDetail("confidence %d requires confirmation", sf.Confidence)
		}
		acceptance = AcceptanceConfirmed
	default:
		return Session{}, rxerr.ErrInvalidField.WithField(string(field)).
			WithDetail("confidence %d requires manual entry", sf.Confidence)
	}

	v, err := parseFieldValue(field, sf.Value)
	if err != nil {
		return Session{}, err
	}
	s.Fields[field] = Entry{Value: v, Confidence: sf.Confidence, Acceptance: acceptance}
	delete(s.suggestions, field)
	s.UpdatedAt = d.clock.Now()
	return *s, nil
}

// SetField keys a value by hand. Replacing a below-threshold
// suggestion records the entry as an override.
func (d *DataEntry) SetField(ctx context.Context, sessionID string, field Field, v FieldValue) (Session, error) {
	s, err := d.get(sessionID)
	if err != nil {
		return Session{}, err
	}
	if v.Kind != fieldKind(field) {
		return Session{}, rxerr.ErrInvalidField.WithField(string(field)).
			WithDetail("expected %s value", fieldKind(field))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if s.Complete {
		return Session{}, rxerr.ErrInvalidTransition.WithDetail("session is complete")
	}
	acceptance := AcceptanceManual
	if sf, ok := s.suggestions[field]; ok && sf.Confidence < 85 {
		acceptance = AcceptanceOverride
	}
	delete(s.suggestions, field)
	s.Fields[field] = Entry{Value: v, Acceptance: acceptance}
	s.UpdatedAt = d.clock.Now()
	return *s, nil
}

// Complete closes the session once every required field is present and
// writes the entered values back to the prescription. The caller then
// advances the workflow.
func (d *DataEntry) Complete(ctx context.Context, sessionID string) (model.Prescription, error) {
	s, err := d.get(sessionID)
	if err != nil {
		return model.Prescription{}, err
	}
	if err := rbac.Allow(ctx, d.authz, rbac.Request{
		Resource: rbac.ResMedication, Action: rbac.ActUpdate,
	}); err != nil {
		return model.Prescription{}, err
	}

	d.mu.Lock()
	if s.Complete {
		d.mu.Unlock()
		return model.Prescription{}, rxerr.ErrInvalidTransition.WithDetail("session is complete")
	}
	for _, f := range requiredFields {
		if _, ok := s.Fields[f]; !ok {
			d.mu.Unlock()
			return model.Prescription{}, rxerr.ErrMissingRequired.WithField(string(f))
		}
	}
	fields := make(map[Field]Entry, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	s.Complete = true
	s.UpdatedAt = d.clock.Now()
	d.mu.Unlock()

	rx, err := d.store.GetPrescription(ctx, s.PrescriptionID)
	if err != nil {
		return model.Prescription{}, err
	}
	applyFields(&rx, fields)
	rx.UpdatedAt = d.clock.Now()
	rx, err = d.store.PutPrescription(ctx, rx)
	if err != nil {
		return model.Prescription{}, err
	}
	if d.rec != nil {
		_, _ = d.rec.Record(ctx, "rx.data_entry", "prescription", rx.ID,
			model.OutcomeSuccess, true, map[string]any{"session": s.ID})
	}
	return rx, nil
}

func (d *DataEntry) get(sessionID string) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[sessionID]
	if !ok {
		return nil, rxerr.ErrNotFound.WithDetail("session")
	}
	return s, nil
}

func applyFields(rx *model.Prescription, fields map[Field]Entry) {
	if e, ok := fields[FieldDrug]; ok {
		rx.DrugName = e.Value.Text
	}
	if e, ok := fields[FieldQuantity]; ok {
		rx.Quantity = e.Value.Number
	}
	if e, ok := fields[FieldDaysSupply]; ok {
		rx.DaysSupply = e.Value.Integer
	}
	if e, ok := fields[FieldSig]; ok {
		rx.Sig = e.Value.Text
	}
	if e, ok := fields[FieldPrescriber]; ok {
		rx.PrescriberID = e.Value.Text
	}
}

func fieldKind(f Field) ValueKind {
	switch f {
	case FieldPatientDOB:
		return KindDate
	case FieldQuantity:
		return KindNumber
	case FieldDaysSupply:
		return KindInteger
	default:
		return KindText
	}
}

// parseFieldValue converts a suggestion's raw string into the typed
// slot for the field.
func parseFieldValue(f Field, raw string) (FieldValue, error) {
	switch fieldKind(f) {
	case KindDate:
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return FieldValue{}, rxerr.ErrInvalidField.WithField(string(f)).Wrap(err)
		}
		return DateValue(t), nil
	case KindNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return FieldValue{}, rxerr.ErrInvalidField.WithField(string(f)).Wrap(err)
		}
		return NumberValue(n), nil
	case KindInteger:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return FieldValue{}, rxerr.ErrInvalidField.WithField(string(f)).Wrap(err)
		}
		return FieldValue{Kind: KindInteger, Integer: n}, nil
	default:
		return TextValue(raw), nil
	}
}
