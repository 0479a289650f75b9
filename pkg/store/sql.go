package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/rxerr"
)

// SQL is the database-backed Store. It works against PostgreSQL
// (lib/pq) and SQLite (modernc.org/sqlite); queries are written with ?
// placeholders and rebound for Postgres.
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQL wraps an open database handle. The schema must already be
// migrated.
func NewSQL(db *sql.DB, dialect Dialect) *SQL {
	return &SQL{db: db, dialect: dialect}
}

// rebind rewrites ? placeholders to $1..$n for Postgres.
func (s *SQL) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const dayFormat = "2006-01-02"

func isUniqueViolation(err error) bool {
	// lib/pq: "duplicate key value violates unique constraint";
	// modernc sqlite: "UNIQUE constraint failed".
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}

// upsertVersioned inserts at version 1 or updates guarded by the
// incoming version. Extra column values are passed through cols/vals.
func (s *SQL) upsertVersioned(ctx context.Context, table, idCol, id string, incoming int64, cols []string, vals []any, doc []byte) (int64, error) {
	if incoming == 0 {
		names := append(append([]string{idCol}, cols...), "version", "doc")
		args := append(append([]any{id}, vals...), int64(1), string(doc))
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(names, ", "), strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", "))
		if _, err := s.db.ExecContext(ctx, s.rebind(q), args...); err != nil {
			if isUniqueViolation(err) {
				return 0, rxerr.ErrConcurrentMutation.Wrap(err)
			}
			return 0, rxerr.ErrSystemFailure.Wrap(err)
		}
		return 1, nil
	}

	set := make([]string, 0, len(cols)+2)
	args := make([]any, 0, len(vals)+4)
	for i, c := range cols {
		set = append(set, c+" = ?")
		args = append(args, vals[i])
	}
	set = append(set, "version = ?", "doc = ?")
	args = append(args, incoming+1, string(doc), id, incoming)
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ? AND version = ?",
		table, strings.Join(set, ", "), idCol)
	res, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		return 0, rxerr.ErrSystemFailure.Wrap(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, rxerr.ErrSystemFailure.Wrap(err)
	}
	if n == 0 {
		return 0, rxerr.ErrConcurrentMutation.WithDetail("version %d is stale", incoming)
	}
	return incoming + 1, nil
}

func (s *SQL) getDoc(ctx context.Context, table, idCol, id string, out any) error {
	q := fmt.Sprintf("SELECT doc FROM %s WHERE %s = ?", table, idCol)
	var doc string
	err := s.db.QueryRowContext(ctx, s.rebind(q), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return rxerr.ErrNotFound.WithDetail("%s", table)
	}
	if err != nil {
		return rxerr.ErrSystemFailure.Wrap(err)
	}
	return json.Unmarshal([]byte(doc), out)
}

func (s *SQL) listDocs(ctx context.Context, query string, scan func(doc string) error, args ...any) error {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return rxerr.ErrSystemFailure.Wrap(err)
	}
	defer rows.Close()
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return rxerr.ErrSystemFailure.Wrap(err)
		}
		if err := scan(doc); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return rxerr.ErrSystemFailure.Wrap(err)
	}
	return nil
}

func (s *SQL) GetPatient(ctx context.Context, id string) (model.Patient, error) {
	var p model.Patient
	err := s.getDoc(ctx, "patients", "id", id, &p)
	return p, err
}

func (s *SQL) FindPatientByMRN(ctx context.Context, mrn string, dob time.Time) (model.Patient, error) {
	var p model.Patient
	q := "SELECT doc FROM patients WHERE mrn = ? AND dob = ?"
	var doc string
	err := s.db.QueryRowContext(ctx, s.rebind(q), mrn, dob.Format(dayFormat)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Patient{}, rxerr.ErrNotFound.WithDetail("patient")
	}
	if err != nil {
		return model.Patient{}, rxerr.ErrSystemFailure.Wrap(err)
	}
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return model.Patient{}, rxerr.ErrSystemFailure.Wrap(err)
	}
	return p, nil
}

func (s *SQL) PutPatient(ctx context.Context, p model.Patient) (model.Patient, error) {
	incoming := p.Version
	p.Version++
	doc, err := json.Marshal(p)
	if err != nil {
		return model.Patient{}, rxerr.ErrSystemFailure.Wrap(err)
	}
	v, err := s.upsertVersioned(ctx, "patients", "id", p.ID, incoming,
		[]string{"mrn", "dob"}, []any{p.MRN, p.DOB.Format(dayFormat)}, doc)
	if err != nil {
		return model.Patient{}, err
	}
	p.Version = v
	return p, nil
}

func (s *SQL) GetDrug(ctx context.Context, ndc string) (model.Drug, error) {
	var d model.Drug
	err := s.getDoc(ctx, "drugs", "ndc", ndc, &d)
	return d, err
}

func (s *SQL) PutDrug(ctx context.Context, d model.Drug) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return rxerr.ErrSystemFailure.Wrap(err)
	}
	var q string
	if s.dialect == DialectPostgres {
		q = "INSERT INTO drugs (ndc, doc) VALUES (?, ?) ON CONFLICT (ndc) DO UPDATE SET doc = EXCLUDED.doc"
	} else {
		q = "INSERT INTO drugs (ndc, doc) VALUES (?, ?) ON CONFLICT (ndc) DO UPDATE SET doc = excluded.doc"
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(q), d.NDC, string(doc)); err != nil {
		return rxerr.ErrSystemFailure.Wrap(err)
	}
	return nil
}

func (s *SQL) GetPrescription(ctx context.Context, id string) (model.Prescription, error) {
	var rx model.Prescription
	err := s.getDoc(ctx, "prescriptions", "id", id, &rx)
	return rx, err
}

func (s *SQL) PutPrescription(ctx context.Context, rx model.Prescription) (model.Prescription, error) {
	incoming := rx.Version
	rx.Version++
	doc, err := json.Marshal(rx)
	if err != nil {
		return model.Prescription{}, rxerr.ErrSystemFailure.Wrap(err)
	}
	cols := []string{"patient_id", "rx_number", "state", "written_date"}
	vals := []any{rx.PatientID, rx.RxNumber, string(rx.State), rx.WrittenDate.Format(dayFormat)}
	v, err := s.upsertVersioned(ctx, "prescriptions", "id", rx.ID, incoming, cols, vals, doc)
	if err != nil {
		return model.Prescription{}, err
	}
	rx.Version = v
	return rx, nil
}

func (s *SQL) ListPrescriptionsByPatient(ctx context.Context, patientID string) ([]model.Prescription, error) {
	var out []model.Prescription
	err := s.listDocs(ctx,
		"SELECT doc FROM prescriptions WHERE patient_id = ? ORDER BY written_date DESC",
		func(doc string) error {
			var rx model.Prescription
			if err := json.Unmarshal([]byte(doc), &rx); err != nil {
				return rxerr.ErrSystemFailure.Wrap(err)
			}
			out = append(out, rx)
			return nil
		}, patientID)
	return out, err
}

func (s *SQL) ListPrescriptionsByState(ctx context.Context, state model.RxState) ([]model.Prescription, error) {
	var out []model.Prescription
	err := s.listDocs(ctx,
		"SELECT doc FROM prescriptions WHERE state = ? ORDER BY written_date",
		func(doc string) error {
			var rx model.Prescription
			if err := json.Unmarshal([]byte(doc), &rx); err != nil {
				return rxerr.ErrSystemFailure.Wrap(err)
			}
			out = append(out, rx)
			return nil
		}, string(state))
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *SQL) GetFill(ctx context.Context, id string) (model.Fill, error) {
	var f model.Fill
	err := s.getDoc(ctx, "fills", "id", id, &f)
	return f, err
}

func (s *SQL) PutFill(ctx context.Context, f model.Fill) (model.Fill, error) {
	if f.Version == 0 {
		// Fill numbers are dense per prescription.
		var next sql.NullInt64
		q := "SELECT MAX(fill_number) + 1 FROM fills WHERE rx_id = ?"
		if err := s.db.QueryRowContext(ctx, s.rebind(q), f.PrescriptionID).Scan(&next); err != nil {
			return model.Fill{}, rxerr.ErrSystemFailure.Wrap(err)
		}
		want := int64(0)
		if next.Valid {
			want = next.Int64
		}
		if int64(f.FillNumber) != want {
			return model.Fill{}, rxerr.ErrInvalidField.WithField("fill_number").
				WithDetail("expected %d, got %d", want, f.FillNumber)
		}
	}
	incoming := f.Version
	f.Version++
	doc, err := json.Marshal(f)
	if err != nil {
		return model.Fill{}, rxerr.ErrSystemFailure.Wrap(err)
	}
	v, err := s.upsertVersioned(ctx, "fills", "id", f.ID, incoming,
		[]string{"rx_id", "fill_number"}, []any{f.PrescriptionID, f.FillNumber}, doc)
	if err != nil {
		if errors.Is(err, rxerr.ErrConcurrentMutation) && incoming == 0 {
			return model.Fill{}, rxerr.ErrDuplicateFill.
				WithDetail("fill number %d exists for prescription", f.FillNumber)
		}
		return model.Fill{}, err
	}
	f.Version = v
	return f, nil
}

func (s *SQL) ListFillsByPrescription(ctx context.Context, rxID string) ([]model.Fill, error) {
	var out []model.Fill
	err := s.listDocs(ctx,
		"SELECT doc FROM fills WHERE rx_id = ? ORDER BY fill_number",
		func(doc string) error {
			var f model.Fill
			if err := json.Unmarshal([]byte(doc), &f); err != nil {
				return rxerr.ErrSystemFailure.Wrap(err)
			}
			out = append(out, f)
			return nil
		}, rxID)
	return out, err
}

func (s *SQL) GetClaim(ctx context.Context, id string) (model.Claim, error) {
	var c model.Claim
	err := s.getDoc(ctx, "claims", "id", id, &c)
	return c, err
}

func (s *SQL) PutClaim(ctx context.Context, c model.Claim) (model.Claim, error) {
	incoming := c.Version
	c.Version++
	doc, err := json.Marshal(c)
	if err != nil {
		return model.Claim{}, rxerr.ErrSystemFailure.Wrap(err)
	}
	v, err := s.upsertVersioned(ctx, "claims", "id", c.ID, incoming,
		[]string{"fill_id", "state", "attempt_no"}, []any{c.FillID, string(c.State), c.AttemptNo}, doc)
	if err != nil {
		return model.Claim{}, err
	}
	c.Version = v
	return c, nil
}

func (s *SQL) ListClaimsByFill(ctx context.Context, fillID string) ([]model.Claim, error) {
	var out []model.Claim
	err := s.listDocs(ctx,
		"SELECT doc FROM claims WHERE fill_id = ? ORDER BY attempt_no",
		func(doc string) error {
			var c model.Claim
			if err := json.Unmarshal([]byte(doc), &c); err != nil {
				return rxerr.ErrSystemFailure.Wrap(err)
			}
			out = append(out, c)
			return nil
		}, fillID)
	return out, err
}

func (s *SQL) GetSession(ctx context.Context, id string) (model.VerificationSession, error) {
	var sess model.VerificationSession
	err := s.getDoc(ctx, "verification_sessions", "id", id, &sess)
	return sess, err
}

func (s *SQL) PutSession(ctx context.Context, sess model.VerificationSession) (model.VerificationSession, error) {
	terminal := 0
	if sess.State.Terminal() {
		terminal = 1
	}
	if sess.Version == 0 && terminal == 0 {
		var n int
		q := "SELECT COUNT(1) FROM verification_sessions WHERE fill_id = ? AND terminal = 0"
		if err := s.db.QueryRowContext(ctx, s.rebind(q), sess.FillID).Scan(&n); err != nil {
			return model.VerificationSession{}, rxerr.ErrSystemFailure.Wrap(err)
		}
		if n > 0 {
			return model.VerificationSession{}, rxerr.ErrInvalidField.WithField("fill_id").
				WithDetail("fill already has an open verification session")
		}
	}
	incoming := sess.Version
	sess.Version++
	doc, err := json.Marshal(sess)
	if err != nil {
		return model.VerificationSession{}, rxerr.ErrSystemFailure.Wrap(err)
	}
	v, err := s.upsertVersioned(ctx, "verification_sessions", "id", sess.ID, incoming,
		[]string{"fill_id", "terminal"}, []any{sess.FillID, terminal}, doc)
	if err != nil {
		return model.VerificationSession{}, err
	}
	sess.Version = v
	return sess, nil
}

func (s *SQL) OpenSessionForFill(ctx context.Context, fillID string) (model.VerificationSession, error) {
	var sess model.VerificationSession
	q := "SELECT doc FROM verification_sessions WHERE fill_id = ? AND terminal = 0"
	var doc string
	err := s.db.QueryRowContext(ctx, s.rebind(q), fillID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VerificationSession{}, rxerr.ErrNotFound.WithDetail("verification session")
	}
	if err != nil {
		return model.VerificationSession{}, rxerr.ErrSystemFailure.Wrap(err)
	}
	if err := json.Unmarshal([]byte(doc), &sess); err != nil {
		return model.VerificationSession{}, rxerr.ErrSystemFailure.Wrap(err)
	}
	return sess, nil
}

func (s *SQL) GetPDMPResult(ctx context.Context, queryID string) (model.PDMPResult, error) {
	var r model.PDMPResult
	err := s.getDoc(ctx, "pdmp_results", "query_id", queryID, &r)
	return r, err
}

func (s *SQL) PutPDMPResult(ctx context.Context, r model.PDMPResult) (model.PDMPResult, error) {
	incoming := r.Version
	r.Version++
	doc, err := json.Marshal(r)
	if err != nil {
		return model.PDMPResult{}, rxerr.ErrSystemFailure.Wrap(err)
	}
	v, err := s.upsertVersioned(ctx, "pdmp_results", "query_id", r.QueryID, incoming, nil, nil, doc)
	if err != nil {
		return model.PDMPResult{}, err
	}
	r.Version = v
	return r, nil
}
