package claims_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpharma/rxengine/pkg/audit"
	"github.com/openpharma/rxengine/pkg/claims"
	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/ports"
	"github.com/openpharma/rxengine/pkg/rxerr"
	"github.com/openpharma/rxengine/pkg/store"
)

var ctx = context.Background()

// fakeSwitch scripts switch responses per call.
type fakeSwitch struct {
	responses []ports.ClaimResponse
	errs      []error
	calls     int
	reversed  []string
	lastReq   ports.ClaimRequest
}

func (f *fakeSwitch) Send(_ context.Context, req ports.ClaimRequest) (ports.ClaimResponse, error) {
	f.lastReq = req
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return ports.ClaimResponse{}, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return ports.ClaimResponse{Status: ports.ClaimRespApproved}, nil
}

func (f *fakeSwitch) Reverse(_ context.Context, claimID string) error {
	f.reversed = append(f.reversed, claimID)
	return nil
}

func approvedResp(gross, patient, insurance model.Cents) ports.ClaimResponse {
	return ports.ClaimResponse{
		Status:     ports.ClaimRespApproved,
		GrossPrice: gross, PatientPay: patient, InsurancePay: insurance,
	}
}

func newHarness(sw *fakeSwitch) (*claims.Adjudicator, *store.Memory, *audit.Log) {
	mem := store.NewMemory()
	trail := audit.NewLogWithWriter(discard{})
	clock := ports.FixedClock{T: time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)}
	ids := &ports.SeqGen{}
	return claims.NewAdjudicator(sw, mem, clock, ids, trail, nil), mem, trail
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func seedRxAndFill(t *testing.T, mem *store.Memory) claims.Submission {
	t.Helper()
	rx := model.Prescription{
		ID: "rx-1", RxNumber: "1000001", PatientID: "pat-1",
		DrugNDC: "00093505698", Quantity: 30, DaysSupply: 30, DAW: 0,
		WrittenDate:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		ExpirationDate: time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	rx, err := mem.PutPrescription(ctx, rx)
	require.NoError(t, err)

	f := model.Fill{
		ID: "fill-1", PrescriptionID: "rx-1", FillNumber: 0,
		DispensedNDC: "00093505698", QuantityDispensed: 30,
		QuantityPrescribed: 30, DaysSupply: 30,
		Status: model.FillInProgress,
	}
	f, err = mem.PutFill(ctx, f)
	require.NoError(t, err)

	return claims.Submission{
		Prescription: rx,
		Fill:         f,
		Coverage:     claims.Coverage{BIN: "004336", PCN: "ADV", GroupID: "RX1", MemberID: "M123"},
		Prescriber:   claims.PrescriberInfo{DEA: "AB1234567", NPI: "1234567890"},
	}
}

func TestSubmit_Approved(t *testing.T) {
	sw := &fakeSwitch{responses: []ports.ClaimResponse{approvedResp(1000, 1000, 0)}}
	adj, mem, _ := newHarness(sw)
	sub := seedRxAndFill(t, mem)

	claim, err := adj.Submit(ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimApproved, claim.State)
	assert.Equal(t, 1, claim.AttemptNo)
	assert.Equal(t, model.Cents(1000), claim.GrossPrice)
	assert.Equal(t, model.Cents(1000), claim.PatientPay)
	assert.Zero(t, claim.PayDivergenceCents)

	assert.Equal(t, "00093505698", sw.lastReq.NDC)
	assert.Equal(t, "004336", sw.lastReq.BIN)
	assert.Equal(t, "AB1234567", sw.lastReq.PrescriberDEA)
}

func TestSubmit_PaySumDivergenceNormalized(t *testing.T) {
	// Switch reports gross 1200 but splits 1000+100.
	sw := &fakeSwitch{responses: []ports.ClaimResponse{approvedResp(1200, 1000, 100)}}
	adj, mem, _ := newHarness(sw)

	claim, err := adj.Submit(ctx, seedRxAndFill(t, mem))
	require.NoError(t, err)
	assert.Equal(t, model.Cents(1200), claim.GrossPrice)
	assert.Equal(t, model.Cents(1000), claim.PatientPay)
	assert.Equal(t, model.Cents(200), claim.InsurancePay)
	assert.Equal(t, model.Cents(100), claim.PayDivergenceCents)
	assert.Equal(t, claim.GrossPrice, claim.PatientPay+claim.InsurancePay)
}

func TestSubmit_Rejected(t *testing.T) {
	sw := &fakeSwitch{responses: []ports.ClaimResponse{{
		Status: ports.ClaimRespRejected, RejectCode: "79",
	}}}
	adj, mem, _ := newHarness(sw)

	claim, err := adj.Submit(ctx, seedRxAndFill(t, mem))
	require.NoError(t, err)
	assert.Equal(t, model.ClaimRejected, claim.State)
	assert.Equal(t, "79", claim.RejectCode)
	// Empty switch message falls back to the reference description.
	assert.Equal(t, "Refill Too Soon", claim.RejectReason)
}

func TestSubmit_TransientRetriesThenSucceeds(t *testing.T) {
	sw := &fakeSwitch{
		errs:      []error{rxerr.ErrExternalUnavailable, rxerr.ErrExternalUnavailable},
		responses: []ports.ClaimResponse{{}, {}, approvedResp(500, 500, 0)},
	}
	adj, mem, _ := newHarness(sw)

	claim, err := adj.Submit(ctx, seedRxAndFill(t, mem))
	require.NoError(t, err)
	assert.Equal(t, model.ClaimApproved, claim.State)
	assert.Equal(t, 3, sw.calls)
}

func TestSubmit_PermanentFailureRejectsE0(t *testing.T) {
	sw := &fakeSwitch{errs: []error{rxerr.ErrExternalReject.WithDetail("malformed response")}}
	adj, mem, _ := newHarness(sw)

	claim, err := adj.Submit(ctx, seedRxAndFill(t, mem))
	require.Error(t, err)
	assert.Equal(t, model.ClaimRejected, claim.State)
	assert.Equal(t, claims.RejectCodeSystem, claim.RejectCode)
	assert.Equal(t, 1, sw.calls, "permanent errors are not retried")
}

func TestResubmit(t *testing.T) {
	sw := &fakeSwitch{responses: []ports.ClaimResponse{
		{Status: ports.ClaimRespRejected, RejectCode: "70"},
		approvedResp(800, 300, 500),
	}}
	adj, mem, _ := newHarness(sw)

	first, err := adj.Submit(ctx, seedRxAndFill(t, mem))
	require.NoError(t, err)
	require.Equal(t, model.ClaimRejected, first.State)

	second, err := adj.Resubmit(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimApproved, second.State)
	assert.Equal(t, 2, second.AttemptNo)
	assert.NotEqual(t, first.ID, second.ID)

	// Original attempt is retained.
	orig, err := mem.GetClaim(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimRejected, orig.State)
}

func TestResubmit_RequiresRejectedState(t *testing.T) {
	sw := &fakeSwitch{responses: []ports.ClaimResponse{approvedResp(500, 500, 0)}}
	adj, mem, _ := newHarness(sw)

	claim, err := adj.Submit(ctx, seedRxAndFill(t, mem))
	require.NoError(t, err)

	_, err = adj.Resubmit(ctx, claim.ID)
	assert.True(t, errors.Is(err, rxerr.ErrInvalidTransition))
}

func TestSubmitWithOverride(t *testing.T) {
	sw := &fakeSwitch{responses: []ports.ClaimResponse{
		{Status: ports.ClaimRespRejected, RejectCode: "79"},
		approvedResp(1000, 1000, 0),
	}}
	adj, mem, _ := newHarness(sw)

	first, err := adj.Submit(ctx, seedRxAndFill(t, mem))
	require.NoError(t, err)

	second, err := adj.SubmitWithOverride(ctx, first.ID, "4A", "Patient traveling 3 weeks")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimApproved, second.State)
	assert.Equal(t, "4A", second.OverrideCode)
	assert.Equal(t, "4A", sw.lastReq.OverrideCode)
}

func TestSubmitWithOverride_PolicyGate(t *testing.T) {
	sw := &fakeSwitch{responses: []ports.ClaimResponse{
		{Status: ports.ClaimRespRejected, RejectCode: "75"},
	}}
	adj, mem, _ := newHarness(sw)

	first, err := adj.Submit(ctx, seedRxAndFill(t, mem))
	require.NoError(t, err)

	// 75 (prior auth) does not accept overrides.
	_, err = adj.SubmitWithOverride(ctx, first.ID, "4A", "reason text here")
	assert.True(t, errors.Is(err, rxerr.ErrNonOverridable))

	_, err = adj.SubmitWithOverride(ctx, first.ID, "4A", "")
	require.Error(t, err)
}

func TestConvertToCash(t *testing.T) {
	sw := &fakeSwitch{responses: []ports.ClaimResponse{
		{Status: ports.ClaimRespRejected, RejectCode: "70"},
	}}
	adj, mem, _ := newHarness(sw)

	first, err := adj.Submit(ctx, seedRxAndFill(t, mem))
	require.NoError(t, err)

	cash, err := adj.ConvertToCash(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimCash, cash.State)

	// Terminal claims cannot convert again.
	_, err = adj.ConvertToCash(ctx, first.ID)
	assert.True(t, errors.Is(err, rxerr.ErrInvalidTransition))
}

func TestReverse(t *testing.T) {
	sw := &fakeSwitch{responses: []ports.ClaimResponse{approvedResp(500, 100, 400)}}
	adj, mem, _ := newHarness(sw)

	claim, err := adj.Submit(ctx, seedRxAndFill(t, mem))
	require.NoError(t, err)

	reversed, err := adj.Reverse(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimReversed, reversed.State)
	assert.Equal(t, []string{claim.ID}, sw.reversed)
}

func TestReverse_BlockedAfterDispense(t *testing.T) {
	sw := &fakeSwitch{responses: []ports.ClaimResponse{approvedResp(500, 100, 400)}}
	adj, mem, _ := newHarness(sw)
	sub := seedRxAndFill(t, mem)

	claim, err := adj.Submit(ctx, sub)
	require.NoError(t, err)

	f, err := mem.GetFill(ctx, "fill-1")
	require.NoError(t, err)
	f.Status = model.FillDispensed
	_, err = mem.PutFill(ctx, f)
	require.NoError(t, err)

	_, err = adj.Reverse(ctx, claim.ID)
	assert.True(t, errors.Is(err, rxerr.ErrInvalidTransition))
	assert.Empty(t, sw.reversed)
}

func TestLookupReject(t *testing.T) {
	info := claims.LookupReject("79")
	assert.True(t, info.Overridable)
	assert.Equal(t, claims.RejectError, info.Severity)
	assert.NotEmpty(t, info.Resolutions)

	unknown := claims.LookupReject("ZZ")
	assert.Equal(t, claims.RejectWarning, unknown.Severity)
	assert.False(t, unknown.Overridable)
	assert.Equal(t, []string{"Contact prescriber"}, unknown.Resolutions)
}

func TestSubmit_AuditTrail(t *testing.T) {
	sw := &fakeSwitch{responses: []ports.ClaimResponse{approvedResp(500, 500, 0)}}
	adj, mem, trail := newHarness(sw)

	claim, err := adj.Submit(ctx, seedRxAndFill(t, mem))
	require.NoError(t, err)

	entries, err := trail.Query(ctx, audit.Filter{Resource: "claim", ResourceID: claim.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "claim.submit", entries[0].Action)
	assert.Equal(t, model.OutcomeSuccess, entries[0].Outcome)
}
