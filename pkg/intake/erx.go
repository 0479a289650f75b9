// Package intake admits inbound prescriptions and runs data-entry
// sessions over them. eRx payloads are schema-validated; fax, phone
// and walk-in admissions arrive as shells that data entry completes.
package intake

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/openpharma/rxengine/pkg/rxerr"
)

// erxSchema is the NCPDP-script-shaped envelope accepted from eRx
// gateways. Non-eRx sources use the same envelope loosely parsed.
const erxSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["patient", "drug", "quantity", "days_supply", "sig", "prescriber"],
	"properties": {
		"patient": {
			"type": "object",
			"required": ["first_name", "last_name", "dob", "mrn"],
			"properties": {
				"first_name": {"type": "string", "minLength": 1},
				"last_name":  {"type": "string", "minLength": 1},
				"dob":        {"type": "string", "format": "date"},
				"mrn":        {"type": "string", "minLength": 1}
			}
		},
		"drug": {
			"type": "object",
			"required": ["name"],
			"properties": {
				"ndc":  {"type": "string", "pattern": "^[0-9]{10,11}$"},
				"name": {"type": "string", "minLength": 1}
			}
		},
		"quantity":    {"type": "number", "exclusiveMinimum": 0},
		"days_supply": {"type": "integer", "minimum": 1},
		"sig":         {"type": "string", "minLength": 1},
		"daw":         {"type": "integer", "minimum": 0, "maximum": 9},
		"refills":     {"type": "integer", "minimum": 0},
		"schedule":    {"type": "string", "enum": ["I", "II", "III", "IV", "V", "LEGEND", "OTC"]},
		"icd10":       {"type": "string"},
		"prescriber": {
			"type": "object",
			"required": ["id"],
			"properties": {
				"id":   {"type": "string", "minLength": 1},
				"name": {"type": "string"}
			}
		}
	}
}`

var compiledERxSchema = jsonschema.MustCompileString("erx.json", erxSchema)

// Envelope is the parsed admission payload.
type Envelope struct {
	Patient struct {
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		DOB       string `json:"dob"`
		MRN       string `json:"mrn"`
	} `json:"patient"`
	Drug struct {
		NDC  string `json:"ndc"`
		Name string `json:"name"`
	} `json:"drug"`
	Quantity   float64 `json:"quantity"`
	DaysSupply int     `json:"days_supply"`
	Sig        string  `json:"sig"`
	DAW        int     `json:"daw"`
	Refills    int     `json:"refills"`
	Schedule   string  `json:"schedule"`
	ICD10      string  `json:"icd10"`
	Prescriber struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"prescriber"`
}

// parseEnvelope decodes the payload; strict validates against the eRx
// schema first.
func parseEnvelope(payload []byte, strict bool) (Envelope, error) {
	if strict {
		var doc any
		if err := json.Unmarshal(payload, &doc); err != nil {
			return Envelope{}, rxerr.ErrInvalidField.WithField("payload").Wrap(err)
		}
		if err := compiledERxSchema.Validate(doc); err != nil {
			return Envelope{}, rxerr.ErrInvalidField.WithField("payload").Wrap(err)
		}
	}
	var env Envelope
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, rxerr.ErrInvalidField.WithField("payload").Wrap(err)
	}
	return env, nil
}

func (e Envelope) dob() (time.Time, error) {
	t, err := time.Parse("2006-01-02", e.Patient.DOB)
	if err != nil {
		return time.Time{}, rxerr.ErrInvalidField.WithField("patient.dob").Wrap(err)
	}
	return t, nil
}

// foldName lowercases, trims, and strips diacritics so that "García"
// and "garcia" compare equal.
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// sameName compares "first last" after folding.
func sameName(firstA, lastA, firstB, lastB string) bool {
	return foldName(firstA) == foldName(firstB) && foldName(lastA) == foldName(lastB)
}
