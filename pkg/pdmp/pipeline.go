package pdmp

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/openpharma/rxengine/pkg/audit"
	"github.com/openpharma/rxengine/pkg/auth"
	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/ports"
	"github.com/openpharma/rxengine/pkg/rxerr"
)

// ProviderTimeout bounds each per-state registry call. A state that
// times out is dropped from the result, which is then marked partial.
const ProviderTimeout = 10 * time.Second

// Querier runs registry queries, attaches the analysis, and persists
// the result for pharmacist review.
type Querier struct {
	provider ports.PDMPProvider
	store    ports.Store
	clock    ports.Clock
	ids      ports.IDGen
	rec      audit.Recorder
	analyzer *Analyzer
	limiter  *rate.Limiter
}

// NewQuerier wires a Querier. A nil limiter disables client-side rate
// limiting; a nil analyzer uses the default dataset.
func NewQuerier(provider ports.PDMPProvider, store ports.Store, clock ports.Clock, ids ports.IDGen, rec audit.Recorder, analyzer *Analyzer, limiter *rate.Limiter) *Querier {
	if analyzer == nil {
		analyzer = NewAnalyzer(nil)
	}
	return &Querier{
		provider: provider, store: store, clock: clock, ids: ids,
		rec: rec, analyzer: analyzer, limiter: limiter,
	}
}

// Query fans out to each requested state registry in order, analyzes
// the combined history, and stores the result. Per-state failures
// degrade to a partial result; the query fails only when every state
// fails.
func (q *Querier) Query(ctx context.Context, query ports.PDMPQuery) (model.PDMPResult, error) {
	if len(query.States) == 0 {
		return model.PDMPResult{}, rxerr.ErrMissingRequired.WithField("states")
	}

	var (
		records []model.PDMPRecord
		queried []string
		partial bool
		lastErr error
	)
	for _, state := range query.States {
		if q.limiter != nil {
			if err := q.limiter.Wait(ctx); err != nil {
				return model.PDMPResult{}, rxerr.ErrExternalUnavailable.Wrap(err)
			}
		}
		recs, err := q.queryState(ctx, state, query)
		if err != nil {
			if ctx.Err() != nil {
				return model.PDMPResult{}, rxerr.ErrExternalUnavailable.Wrap(ctx.Err())
			}
			partial = true
			lastErr = err
			continue
		}
		records = append(records, recs...)
		queried = append(queried, state)
	}
	if len(queried) == 0 {
		return model.PDMPResult{}, rxerr.ErrExternalUnavailable.Wrap(lastErr)
	}

	now := q.clock.Now()
	analysis := q.analyzer.Analyze(records, now)

	result := model.PDMPResult{
		QueryID:                  q.ids.New("pdmp"),
		PatientID:                query.PatientID,
		QueriedStates:            queried,
		Partial:                  partial,
		Records:                  records,
		Alerts:                   analysis.Alerts,
		RiskScore:                analysis.RiskScore,
		RiskLevel:                analysis.RiskLevel,
		RequiresPharmacistReview: analysis.RequiresPharmacistReview,
		QueriedAt:                now,
	}
	result, err := q.store.PutPDMPResult(ctx, result)
	if err != nil {
		return model.PDMPResult{}, err
	}
	q.record(ctx, "pdmp.query", result.QueryID, model.OutcomeSuccess, map[string]any{
		"states":     queried,
		"partial":    partial,
		"risk_score": result.RiskScore,
		"risk_level": string(result.RiskLevel),
	})
	return result, nil
}

func (q *Querier) queryState(ctx context.Context, state string, query ports.PDMPQuery) ([]model.PDMPRecord, error) {
	cctx, cancel := context.WithTimeout(ctx, ProviderTimeout)
	defer cancel()
	recs, err := q.provider.Query(cctx, state, query)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, rxerr.ErrExternalUnavailable.WithDetail("state %s timed out", state)
		}
		return nil, err
	}
	return recs, nil
}

// Acknowledge records a pharmacist's acknowledgement of one alert,
// clearing its action requirement.
func (q *Querier) Acknowledge(ctx context.Context, queryID string, alertType model.PDMPAlertType, notes string) (model.PDMPResult, error) {
	actor, err := q.pharmacist(ctx)
	if err != nil {
		return model.PDMPResult{}, err
	}

	result, err := q.store.GetPDMPResult(ctx, queryID)
	if err != nil {
		return model.PDMPResult{}, err
	}
	idx := -1
	for i := range result.Alerts {
		if result.Alerts[i].Type == alertType {
			idx = i
			break
		}
	}
	if idx < 0 {
		return model.PDMPResult{}, rxerr.ErrNotFound.WithDetail("alert")
	}

	result.Alerts[idx].RequiresAction = false
	result.Alerts[idx].AcknowledgedBy = actor.GetID()
	result.Alerts[idx].AcknowledgedAt = q.clock.Now()
	result.Alerts[idx].AckNotes = notes

	result, err = q.store.PutPDMPResult(ctx, result)
	if err != nil {
		return model.PDMPResult{}, err
	}
	q.record(ctx, "pdmp.acknowledge", result.QueryID, model.OutcomeSuccess,
		map[string]any{"alert": string(alertType)})
	return result, nil
}

// Review records the pharmacist's disposition of a completed query.
func (q *Querier) Review(ctx context.Context, queryID string, decision model.PDMPReviewDecision, notes string) (model.PDMPResult, error) {
	actor, err := q.pharmacist(ctx)
	if err != nil {
		return model.PDMPResult{}, err
	}
	switch decision {
	case model.PDMPApprove, model.PDMPDeny, model.PDMPInvestigate:
	default:
		return model.PDMPResult{}, rxerr.ErrInvalidField.WithField("decision")
	}

	result, err := q.store.GetPDMPResult(ctx, queryID)
	if err != nil {
		return model.PDMPResult{}, err
	}
	result.ReviewDecision = decision
	result.ReviewNotes = notes
	result.ReviewedBy = actor.GetID()

	result, err = q.store.PutPDMPResult(ctx, result)
	if err != nil {
		return model.PDMPResult{}, err
	}
	q.record(ctx, "pdmp.review", result.QueryID, model.OutcomeSuccess,
		map[string]any{"decision": string(decision)})
	return result, nil
}

func (q *Querier) pharmacist(ctx context.Context) (auth.Principal, error) {
	actor, err := auth.GetPrincipal(ctx)
	if err != nil {
		return nil, rxerr.ErrNotAuthorized.Wrap(err)
	}
	if !actor.HasRole(auth.RolePharmacist) {
		return nil, rxerr.ErrNotAuthorized.WithDetail("pharmacist role required")
	}
	return actor, nil
}

func (q *Querier) record(ctx context.Context, action, id string, outcome model.AuditOutcome, meta map[string]any) {
	if q.rec == nil {
		return
	}
	_, _ = q.rec.Record(ctx, action, "pdmp_result", id, outcome, true, meta)
}
