package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpharma/rxengine/pkg/model"
	"github.com/openpharma/rxengine/pkg/ports"
	"github.com/openpharma/rxengine/pkg/rxerr"
	"github.com/openpharma/rxengine/pkg/store"
	"github.com/openpharma/rxengine/pkg/workflow"
)

var (
	ctx = context.Background()
	now = time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)
)

type harness struct {
	m   *workflow.Machine
	mem *store.Memory
	rx  model.Prescription
}

func newHarness(t *testing.T, state model.RxState) *harness {
	t.Helper()
	mem := store.NewMemory()
	m := workflow.NewMachine(mem, ports.FixedClock{T: now}, nil, nil)

	require.NoError(t, mem.PutDrug(ctx, model.Drug{
		NDC: "00093505698", GenericName: "Lisinopril", Strength: 10,
		StrengthUnit: "mg", Form: model.FormTablet,
	}))
	rx := model.Prescription{
		ID: "rx-1", RxNumber: "1000001", PatientID: "pat-1",
		DrugNDC: "00093505698", DrugName: "Lisinopril",
		Quantity: 30, DaysSupply: 30,
		RefillsAuthorized: 5, RefillsRemaining: 5,
		WrittenDate:    now.AddDate(0, 0, -1),
		ExpirationDate: now.AddDate(1, 0, 0),
		State:          state,
		Schedule:       model.ScheduleLegend,
	}
	rx, err := mem.PutPrescription(ctx, rx)
	require.NoError(t, err)
	return &harness{m: m, mem: mem, rx: rx}
}

func (h *harness) addFill(t *testing.T, status model.FillStatus) model.Fill {
	t.Helper()
	f := model.Fill{
		ID: "fill-1", PrescriptionID: h.rx.ID, FillNumber: 0,
		DispensedNDC: "00093505698", Lot: "L123",
		LotExpiry:          now.AddDate(2, 0, 0),
		QuantityPrescribed: 30, QuantityDispensed: 30, DaysSupply: 30,
		Status: status, FillDate: now,
	}
	f, err := h.mem.PutFill(ctx, f)
	require.NoError(t, err)
	return f
}

func (h *harness) addClaim(t *testing.T, fillID string, state model.ClaimState) {
	t.Helper()
	_, err := h.mem.PutClaim(ctx, model.Claim{
		ID: "claim-1", PrescriptionID: h.rx.ID, FillID: fillID,
		AttemptNo: 1, State: state,
	})
	require.NoError(t, err)
}

func TestTransition_AllowedEdge(t *testing.T) {
	h := newHarness(t, model.RxIntake)
	rx, err := h.m.Transition(ctx, h.rx.ID, model.RxDataEntry, workflow.Payload{})
	require.NoError(t, err)
	assert.Equal(t, model.RxDataEntry, rx.State)
	assert.Equal(t, now, rx.UpdatedAt)
}

func TestTransition_UnknownEdge(t *testing.T) {
	h := newHarness(t, model.RxIntake)
	_, err := h.m.Transition(ctx, h.rx.ID, model.RxFilled, workflow.Payload{})
	assert.True(t, errors.Is(err, rxerr.ErrInvalidTransition))
}

func TestTransition_TerminalIdempotent(t *testing.T) {
	h := newHarness(t, model.RxIntake)

	rx, err := h.m.Transition(ctx, h.rx.ID, model.RxCancelled, workflow.Payload{Reason: "patient request"})
	require.NoError(t, err)
	assert.Equal(t, model.RxCancelled, rx.State)

	// Same payload repeats cleanly.
	again, err := h.m.Transition(ctx, h.rx.ID, model.RxCancelled, workflow.Payload{Reason: "patient request"})
	require.NoError(t, err)
	assert.Equal(t, rx.Version, again.Version)

	// Divergent payload fails.
	_, err = h.m.Transition(ctx, h.rx.ID, model.RxCancelled, workflow.Payload{Reason: "prescriber recall"})
	assert.True(t, errors.Is(err, rxerr.ErrInvalidTransition))

	// Any other target from terminal fails.
	_, err = h.m.Transition(ctx, h.rx.ID, model.RxDataEntry, workflow.Payload{})
	assert.True(t, errors.Is(err, rxerr.ErrInvalidTransition))
}

func TestTransition_ReasonRequiredForRejection(t *testing.T) {
	h := newHarness(t, model.RxVerificationPending)
	_, err := h.m.Transition(ctx, h.rx.ID, model.RxRework, workflow.Payload{})
	assert.True(t, errors.Is(err, rxerr.ErrMissingRequired))

	rx, err := h.m.Transition(ctx, h.rx.ID, model.RxRework, workflow.Payload{Reason: "sig mismatch"})
	require.NoError(t, err)
	assert.Equal(t, model.RxRework, rx.State)
}

func TestFillPending_RequiresApprovedClaim(t *testing.T) {
	h := newHarness(t, model.RxClaimPending)
	f := h.addFill(t, model.FillInProgress)

	_, err := h.m.Transition(ctx, h.rx.ID, model.RxFillPending, workflow.Payload{})
	assert.True(t, errors.Is(err, rxerr.ErrInvalidTransition))

	h.addClaim(t, f.ID, model.ClaimApproved)
	rx, err := h.m.Transition(ctx, h.rx.ID, model.RxFillPending, workflow.Payload{})
	require.NoError(t, err)
	assert.Equal(t, model.RxFillPending, rx.State)
}

func TestFillPending_CashConversionAdmits(t *testing.T) {
	h := newHarness(t, model.RxClaimRejected)
	f := h.addFill(t, model.FillInProgress)
	h.addClaim(t, f.ID, model.ClaimCash)

	rx, err := h.m.Transition(ctx, h.rx.ID, model.RxFillPending, workflow.Payload{})
	require.NoError(t, err)
	assert.Equal(t, model.RxFillPending, rx.State)
}

func TestFillPending_EmergencyPartial(t *testing.T) {
	h := newHarness(t, model.RxClaimPending)
	h.addFill(t, model.FillInProgress)

	// Legend drugs do not qualify.
	_, err := h.m.Transition(ctx, h.rx.ID, model.RxFillPending,
		workflow.Payload{EmergencyPartial: true, Reason: "LTC 72h supply"})
	assert.True(t, errors.Is(err, rxerr.ErrInvalidTransition))

	h.rx.Schedule = model.ScheduleII
	h.rx.RefillsAuthorized = 0
	h.rx.RefillsRemaining = 0
	rx, err := h.mem.PutPrescription(ctx, h.rx)
	require.NoError(t, err)
	h.rx = rx

	// Documentation is mandatory.
	_, err = h.m.Transition(ctx, h.rx.ID, model.RxFillPending,
		workflow.Payload{EmergencyPartial: true})
	assert.True(t, errors.Is(err, rxerr.ErrMissingRequired))

	rx, err = h.m.Transition(ctx, h.rx.ID, model.RxFillPending,
		workflow.Payload{EmergencyPartial: true, Reason: "LTC 72h supply"})
	require.NoError(t, err)
	assert.Equal(t, model.RxFillPending, rx.State)
}

func TestVerificationPending_RequiresValidFilledFill(t *testing.T) {
	h := newHarness(t, model.RxFilled)
	h.addFill(t, model.FillInProgress)

	_, err := h.m.Transition(ctx, h.rx.ID, model.RxVerificationPending, workflow.Payload{})
	assert.True(t, errors.Is(err, rxerr.ErrInvalidTransition))
}

func TestVerificationPending_AdmitsFilledFill(t *testing.T) {
	h := newHarness(t, model.RxFilled)
	h.addFill(t, model.FillFilled)

	rx, err := h.m.Transition(ctx, h.rx.ID, model.RxVerificationPending, workflow.Payload{})
	require.NoError(t, err)
	assert.Equal(t, model.RxVerificationPending, rx.State)
}

func TestVerified_RequiresVerifiedFill(t *testing.T) {
	h := newHarness(t, model.RxVerificationPending)
	h.addFill(t, model.FillFilled)

	_, err := h.m.Transition(ctx, h.rx.ID, model.RxVerified, workflow.Payload{})
	assert.True(t, errors.Is(err, rxerr.ErrInvalidTransition))
}

func TestVerified_Admits(t *testing.T) {
	h := newHarness(t, model.RxVerificationPending)
	h.addFill(t, model.FillVerified)

	rx, err := h.m.Transition(ctx, h.rx.ID, model.RxVerified, workflow.Payload{})
	require.NoError(t, err)
	assert.Equal(t, model.RxVerified, rx.State)

	rx, err = h.m.Transition(ctx, h.rx.ID, model.RxReadyForPickup, workflow.Payload{})
	require.NoError(t, err)
	assert.Equal(t, model.RxReadyForPickup, rx.State)
}

func TestTransition_ReworkLoopsToDataEntry(t *testing.T) {
	h := newHarness(t, model.RxRework)
	rx, err := h.m.Transition(ctx, h.rx.ID, model.RxDataEntry, workflow.Payload{})
	require.NoError(t, err)
	assert.Equal(t, model.RxDataEntry, rx.State)
}

func TestReadmit_PickedUpReentersAdjudication(t *testing.T) {
	h := newHarness(t, model.RxPickedUp)
	rx, err := h.m.Readmit(ctx, h.rx.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RxClaimPending, rx.State)
	assert.Equal(t, now, rx.UpdatedAt)
}

func TestReadmit_RejectsNonPickupStates(t *testing.T) {
	for _, state := range []model.RxState{model.RxIntake, model.RxFilled, model.RxCancelled} {
		h := newHarness(t, state)
		_, err := h.m.Readmit(ctx, h.rx.ID)
		assert.True(t, errors.Is(err, rxerr.ErrInvalidTransition), "state %s", state)
	}
}
