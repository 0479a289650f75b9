// Package registry submits immunization reports to state IIS
// endpoints. A submission that times out is parked on a deferred queue
// and retried on the next flush rather than failed outright.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/openpharma/rxengine/pkg/audit"
	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/ports"
	"github.com/openpharma/rxengine/pkg/rxerr"
)

// SubmitTimeout bounds one IIS round trip.
const SubmitTimeout = 30 * time.Second

// Receipt is the outcome of a submission attempt.
type Receipt struct {
	AckID string
	// Deferred marks a report parked for retry after a timeout.
	Deferred bool
}

// Pending is one queued report awaiting retry.
type Pending struct {
	Report   ports.ImmunizationReport
	Attempts int
	QueuedAt time.Time
}

// Reporter routes reports to per-state registry clients.
type Reporter struct {
	clients map[string]ports.RegistryClient
	clock   ports.Clock
	rec     audit.Recorder

	mu       sync.Mutex
	deferred []Pending
}

// NewReporter wires a Reporter over per-state clients. rec may be nil.
func NewReporter(clients map[string]ports.RegistryClient, clock ports.Clock, rec audit.Recorder) *Reporter {
	return &Reporter{clients: clients, clock: clock, rec: rec}
}

// Submit sends one report to the state's registry. A timeout or
// transient transport failure defers the report; a registry rejection
// surfaces immediately.
func (r *Reporter) Submit(ctx context.Context, report ports.ImmunizationReport) (Receipt, error) {
	client, ok := r.clients[report.State]
	if !ok {
		return Receipt{}, rxerr.ErrInvalidField.WithField("state").
			WithDetail("no registry configured for %s", report.State)
	}

	ackID, err := r.send(ctx, client, report)
	switch {
	case err == nil:
		r.record(ctx, report, model.OutcomeSuccess, map[string]any{"ack_id": ackID})
		return Receipt{AckID: ackID}, nil
	case errors.Is(err, context.DeadlineExceeded) || rxerr.IsRetryable(err):
		r.mu.Lock()
		r.deferred = append(r.deferred, Pending{
			Report: report, Attempts: 1, QueuedAt: r.clock.Now(),
		})
		r.mu.Unlock()
		r.record(ctx, report, model.OutcomeSuccess, map[string]any{"deferred": true})
		return Receipt{Deferred: true}, nil
	default:
		r.record(ctx, report, model.OutcomeFailure, nil)
		return Receipt{}, err
	}
}

// Flush retries every deferred report once. Reports that fail again
// stay queued with their attempt count bumped. Returns the number
// delivered.
func (r *Reporter) Flush(ctx context.Context) (int, error) {
	r.mu.Lock()
	queue := r.deferred
	r.deferred = nil
	r.mu.Unlock()

	delivered := 0
	var remaining []Pending
	for _, p := range queue {
		client, ok := r.clients[p.Report.State]
		if !ok {
			continue
		}
		ackID, err := r.send(ctx, client, p.Report)
		if err != nil {
			p.Attempts++
			remaining = append(remaining, p)
			continue
		}
		delivered++
		r.record(ctx, p.Report, model.OutcomeSuccess,
			map[string]any{"ack_id": ackID, "attempts": p.Attempts + 1})
	}

	r.mu.Lock()
	r.deferred = append(remaining, r.deferred...)
	r.mu.Unlock()
	return delivered, nil
}

// Queue returns a snapshot of the deferred reports.
func (r *Reporter) Queue() []Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Pending, len(r.deferred))
	copy(out, r.deferred)
	return out
}

func (r *Reporter) send(ctx context.Context, client ports.RegistryClient, report ports.ImmunizationReport) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, SubmitTimeout)
	defer cancel()
	return client.Submit(sctx, report)
}

func (r *Reporter) record(ctx context.Context, report ports.ImmunizationReport, outcome model.AuditOutcome, meta map[string]any) {
	if r.rec == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["state"] = report.State
	meta["cvx"] = report.VaccineCVX
	_, _ = r.rec.Record(ctx, "iis.submit", "immunization", report.PatientID,
		outcome, true, meta)
}
