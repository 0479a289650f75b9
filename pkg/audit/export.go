package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/openpharma/rxengine/pkg/model"
)

var (
	// ErrInvalidTimeRange is returned when since is after until.
	ErrInvalidTimeRange = errors.New("audit: since must be before until")
	// ErrTrailNotConfigured is returned when export is invoked without a
	// backing trail (fail-closed).
	ErrTrailNotConfigured = errors.New("audit: trail not configured")
)

// ExportRequest defines the window to export.
type ExportRequest struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// Manifest describes an evidence pack.
type Manifest struct {
	GeneratedAt time.Time `json:"generated_at"`
	Since       time.Time `json:"since,omitempty"`
	Until       time.Time `json:"until,omitempty"`
	EntryCount  int       `json:"entry_count"`
	Checksum    string    `json:"checksum"`
}

// Exporter builds evidence packs from a Trail.
type Exporter struct {
	trail Trail
	now   func() time.Time
}

func NewExporter(t Trail) *Exporter {
	return &Exporter{trail: t, now: func() time.Time { return time.Now().UTC() }}
}

// GeneratePack zips the matching entries plus a manifest with a
// SHA-256 checksum over the entry payload. Returns the zip bytes and
// the checksum.
func (e *Exporter) GeneratePack(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	if e.trail == nil {
		return nil, "", ErrTrailNotConfigured
	}
	if !req.Since.IsZero() && !req.Until.IsZero() && req.Since.After(req.Until) {
		return nil, "", ErrInvalidTimeRange
	}

	entries, err := e.trail.Query(ctx, Filter{Since: req.Since, Until: req.Until})
	if err != nil {
		return nil, "", err
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}

	entriesJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(entriesJSON)
	checksum := hex.EncodeToString(sum[:])

	manifest := Manifest{
		GeneratedAt: e.now(),
		Since:       req.Since,
		Until:       req.Until,
		EntryCount:  len(entries),
		Checksum:    checksum,
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range []struct {
		name string
		data []byte
	}{
		{"audit_entries.json", entriesJSON},
		{"manifest.json", manifestJSON},
	} {
		w, err := zw.Create(f.name)
		if err != nil {
			return nil, "", err
		}
		if _, err := w.Write(f.data); err != nil {
			return nil, "", err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), checksum, nil
}
